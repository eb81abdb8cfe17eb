package queue

import (
	"sort"
	"sync"
	"testing"
	"time"

	"waitline/internal/models"
	"waitline/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo — in-memory реализация EntryRepo для юнит-тестов диспетчера.
type memRepo struct {
	mu      sync.Mutex
	nextID  uint
	entries map[uint]*models.QueueEntry
}

func newMemRepo() *memRepo {
	return &memRepo{entries: make(map[uint]*models.QueueEntry)}
}

func (r *memRepo) Create(e *models.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	cp := *e
	r.entries[e.ID] = &cp
	return nil
}

func (r *memRepo) Load(id uint) (*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memRepo) LoadWaiting(queueID uint) ([]models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.QueueEntry
	for _, e := range r.entries {
		if e.QueueID == queueID && e.Status == models.StatusWaiting {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *memRepo) LoadCalled(queueID uint) ([]models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.QueueEntry
	for _, e := range r.entries {
		if e.QueueID == queueID && e.Status == models.StatusCalled {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CalledAt != nil && out[j].CalledAt != nil && out[i].CalledAt.Before(*out[j].CalledAt)
	})
	return out, nil
}

func (r *memRepo) ActiveCodes(queueID uint) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[string]struct{})
	for _, e := range r.entries {
		if e.QueueID == queueID && e.Status == models.StatusCalled && e.VerificationCode != nil {
			set[*e.VerificationCode] = struct{}{}
		}
	}
	return set, nil
}

func (r *memRepo) FindActiveBySession(queueID uint, token string) (*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.QueueID == queueID && e.SessionToken != nil && *e.SessionToken == token &&
			(e.Status == models.StatusWaiting || e.Status == models.StatusCalled) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrEntryNotFound
}

func (r *memRepo) SavePositions(positions map[uint]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, pos := range positions {
		if e, ok := r.entries[id]; ok {
			e.Position = pos
		}
	}
	return nil
}

func (r *memRepo) UpdateIf(id uint, cond func(e *models.QueueEntry) bool, mutate func(e *models.QueueEntry)) (*models.QueueEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false, ErrEntryNotFound
	}
	if !cond(e) {
		cp := *e
		return &cp, false, nil
	}
	mutate(e)
	cp := *e
	return &cp, true, nil
}

// memPolicy — in-memory реализация Policy.
type memPolicy struct {
	mu     sync.Mutex
	queues map[uint]*models.Queue
}

func newMemPolicy() *memPolicy {
	return &memPolicy{queues: make(map[uint]*models.Queue)}
}

func (p *memPolicy) QueueInfo(queueID uint) (*models.Queue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[queueID]
	if !ok {
		return nil, ErrQueueNotFound
	}
	cp := *q
	return &cp, nil
}

func (p *memPolicy) add(q *models.Queue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[q.ID] = q
}

// recorder запоминает публикации для проверок; потокобезопасен, так как
// таймеры публикуют из своих горутин.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(ch notify.Channel, event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// on возвращает события данного типа на данном канале.
func (r *recorder) on(channel, eventType string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Channel == channel && ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) onChannel(channel string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Channel == channel {
			out = append(out, ev)
		}
	}
	return out
}

func slowConfig() Config {
	// Таймеры "не срабатывают" в рамках теста.
	return Config{WarnAfter: time.Hour, FinalAfter: 2 * time.Hour, ExpireAfter: 3 * time.Hour}
}

func newTestDispatcher(cfg Config) (*Dispatcher, *memRepo, *memPolicy, *recorder) {
	repo := newMemRepo()
	policy := newMemPolicy()
	rec := &recorder{}
	d := NewDispatcher(repo, policy, notify.NewRouter(rec), cfg)
	return d, repo, policy, rec
}

func openQueue(policy *memPolicy, id, merchantID uint, name string) *models.Queue {
	now := time.Now()
	q := &models.Queue{
		MerchantID: merchantID,
		Name:       name,
		OpensAt:    now.Add(-time.Hour),
		ClosesAt:   now.Add(time.Hour),
		IsActive:   true,
	}
	q.ID = id
	policy.add(q)
	return q
}

func entryChannel(id uint) string {
	return string(notify.EntryChannel(id))
}

func TestJoinAssignsContiguousPositions(t *testing.T) {
	d, _, policy, rec := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Основной зал")

	a, err := d.Join(1, "Анна", "", "", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Position)
	assert.Equal(t, models.StatusWaiting, a.Status)
	require.NotNil(t, a.SessionToken)
	assert.NotEmpty(t, *a.SessionToken)

	b, err := d.Join(1, "Борис", "+7 999 123-45-67", "", 4)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Position)

	// Дашборд заведения получает только счётчики.
	updates := rec.on(string(notify.MerchantChannel(100)), notify.EventQueueUpdated)
	require.Len(t, updates, 2)
	assert.Equal(t, 2, updates[1].Data["waiting_count"])
	assert.NotContains(t, updates[1].Data, "customer_name")
}

func TestJoinValidation(t *testing.T) {
	d, _, policy, _ := newTestDispatcher(slowConfig())
	q := openQueue(policy, 1, 100, "Зал")

	_, err := d.Join(1, "Анна", "", "", 0)
	assert.ErrorIs(t, err, ErrInvalidParty)

	_, err = d.Join(2, "Анна", "", "", 2)
	assert.ErrorIs(t, err, ErrQueueNotFound)

	q.IsActive = false
	policy.add(q)
	_, err = d.Join(1, "Анна", "", "", 2)
	assert.ErrorIs(t, err, ErrQueueNotAccepting)
}

func TestJoinMaxPartySize(t *testing.T) {
	d, _, policy, _ := newTestDispatcher(slowConfig())
	q := openQueue(policy, 1, 100, "Зал")
	q.MaxPartySize = 6
	policy.add(q)

	_, err := d.Join(1, "Компания", "", "", 8)
	assert.ErrorIs(t, err, ErrInvalidParty)

	_, err = d.Join(1, "Компания", "", "", 6)
	assert.NoError(t, err)
}

func TestJoinIdempotentBySession(t *testing.T) {
	d, _, policy, _ := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")

	a, err := d.Join(1, "Анна", "", "", 2)
	require.NoError(t, err)

	// Повторное вступление с тем же токеном не создаёт дубликата.
	again, err := d.Join(1, "Анна", "", *a.SessionToken, 2)
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)
	assert.Equal(t, 1, d.WaitingCount(1))
}

func TestCallNextFlow(t *testing.T) {
	d, repo, policy, rec := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Основной зал")

	a, _ := d.Join(1, "Анна", "", "", 2)
	b, _ := d.Join(1, "Борис", "", "", 3)

	called, err := d.CallNext(1)
	require.NoError(t, err)
	assert.Equal(t, a.ID, called.ID)
	assert.Equal(t, models.StatusCalled, called.Status)
	require.NotNil(t, called.VerificationCode)
	assert.Len(t, *called.VerificationCode, 4)
	require.NotNil(t, called.CalledAt)
	assert.False(t, called.CalledAt.Before(called.JoinedAt), "calledAt не может быть раньше joinedAt")

	// Борис стал первым, его позиция сохранена до уведомлений.
	saved, _ := repo.Load(b.ID)
	assert.Equal(t, 1, saved.Position)
	pos, ok := d.PositionOf(1, b.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, pos)

	// Приглашение ушло только в каналы Анны, с кодом и без позиции.
	callEvents := rec.on(entryChannel(a.ID), notify.EventCustomerCalled)
	require.Len(t, callEvents, 1)
	assert.Equal(t, *called.VerificationCode, callEvents[0].Data["verification_code"])
	assert.Equal(t, "Основной зал", callEvents[0].Data["queue_name"])
	assert.Nil(t, callEvents[0].Data["position"])
	assert.Empty(t, rec.on(entryChannel(b.ID), notify.EventCustomerCalled))

	// Борис узнал новую позицию.
	posEvents := rec.on(entryChannel(b.ID), notify.EventPositionUpdated)
	require.Len(t, posEvents, 1)
	assert.Equal(t, 1, posEvents[0].Data["position"])
}

func TestCallNextErrors(t *testing.T) {
	d, _, policy, _ := newTestDispatcher(slowConfig())
	q := openQueue(policy, 1, 100, "Зал")

	_, err := d.CallNext(1)
	assert.ErrorIs(t, err, ErrQueueEmpty)

	q.IsActive = false
	policy.add(q)
	_, err = d.CallNext(1)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCallSpecific(t *testing.T) {
	d, _, policy, _ := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")

	a, _ := d.Join(1, "Анна", "", "", 2)
	b, _ := d.Join(1, "Борис", "", "", 2)

	// Вызов вне порядка очереди.
	called, err := d.CallSpecific(1, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, called.ID)

	pos, ok := d.PositionOf(1, a.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, pos)

	// Повторный вызов той же записи — конфликт состояния.
	_, err = d.CallSpecific(1, b.ID)
	assert.ErrorIs(t, err, ErrEntryNotWaiting)

	_, err = d.CallSpecific(1, 9999)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestDoubleCallSingleWinner(t *testing.T) {
	d, _, policy, _ := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")
	a, _ := d.Join(1, "Анна", "", "", 2)

	// Два сотрудника вызывают одну запись одновременно — побеждает один.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.CallSpecific(1, a.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrEntryNotWaiting)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestAcknowledgeCaseInsensitive(t *testing.T) {
	d, repo, policy, rec := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")
	a, _ := d.Join(1, "Анна", "", "", 2)
	called, err := d.CallNext(1)
	require.NoError(t, err)

	_, err = d.Acknowledge(a.ID, "не тот код")
	assert.ErrorIs(t, err, ErrCodeMismatch)

	// Код принимается без учёта регистра.
	lower := make([]byte, 0, 4)
	for _, r := range *called.VerificationCode {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		lower = append(lower, byte(r))
	}
	acked, err := d.Acknowledge(a.ID, string(lower))
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, acked.Status)
	assert.NotNil(t, acked.AcknowledgedAt)

	saved, _ := repo.Load(a.ID)
	assert.Equal(t, models.StatusAcknowledged, saved.Status)
	assert.Len(t, rec.on(entryChannel(a.ID), notify.EventEntryAcknowledged), 1)
}

func TestAcknowledgeStateErrors(t *testing.T) {
	d, _, policy, _ := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")
	a, _ := d.Join(1, "Анна", "", "", 2)

	_, err := d.Acknowledge(a.ID, "XXXX")
	assert.ErrorIs(t, err, ErrNotCalled)

	_, err = d.Acknowledge(9999, "XXXX")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestCancelWaitingRenumbers(t *testing.T) {
	d, repo, policy, rec := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")
	a, _ := d.Join(1, "Анна", "", "", 2)
	b, _ := d.Join(1, "Борис", "", "", 2)
	c, _ := d.Join(1, "Вера", "", "", 2)

	cancelled, err := d.Cancel(b.ID, ActorCustomer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.ResolvedAt)

	savedA, _ := repo.Load(a.ID)
	savedC, _ := repo.Load(c.ID)
	assert.Equal(t, 1, savedA.Position)
	assert.Equal(t, 2, savedC.Position)

	events := rec.on(entryChannel(b.ID), notify.EventEntryCancelled)
	require.Len(t, events, 1)
	assert.Equal(t, ActorCustomer, events[0].Data["reason"])
}

func TestCancelCalledReleasesCode(t *testing.T) {
	d, repo, policy, rec := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")
	a, _ := d.Join(1, "Анна", "", "", 2)
	_, err := d.CallNext(1)
	require.NoError(t, err)

	_, err = d.Cancel(a.ID, ActorStaff)
	require.NoError(t, err)

	// Код вернулся в пул: среди приглашённых занятых кодов нет.
	codes, _ := repo.ActiveCodes(1)
	assert.Empty(t, codes)

	events := rec.on(entryChannel(a.ID), notify.EventEntryCancelled)
	require.Len(t, events, 1)
	assert.Equal(t, ActorStaff, events[0].Data["reason"])
}

func TestTerminalOpsIdempotent(t *testing.T) {
	d, _, policy, rec := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")
	a, _ := d.Join(1, "Анна", "", "", 2)
	_, err := d.Cancel(a.ID, ActorCustomer)
	require.NoError(t, err)

	before := len(rec.onChannel(entryChannel(a.ID)))

	// Повторные операции над терминальной записью — конфликт без эффектов.
	_, err = d.Cancel(a.ID, ActorCustomer)
	assert.ErrorIs(t, err, ErrEntryAlreadyFinal)
	_, err = d.Acknowledge(a.ID, "XXXX")
	assert.ErrorIs(t, err, ErrEntryAlreadyFinal)
	_, err = d.Seat(a.ID, false)
	assert.ErrorIs(t, err, ErrEntryAlreadyFinal)

	assert.Equal(t, before, len(rec.onChannel(entryChannel(a.ID))),
		"повторные операции не должны порождать уведомлений")
}

func TestSeat(t *testing.T) {
	d, repo, policy, rec := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")
	a, _ := d.Join(1, "Анна", "", "", 2)

	// Из ожидания посадка запрещена.
	_, err := d.Seat(a.ID, false)
	assert.ErrorIs(t, err, ErrNotAcknowledged)

	called, _ := d.CallNext(1)

	// Из окна подтверждения — только через override.
	_, err = d.Seat(a.ID, false)
	assert.ErrorIs(t, err, ErrNotAcknowledged)

	_, err = d.Acknowledge(a.ID, *called.VerificationCode)
	require.NoError(t, err)

	seated, err := d.Seat(a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSeated, seated.Status)
	assert.NotNil(t, seated.ResolvedAt)

	saved, _ := repo.Load(a.ID)
	assert.Equal(t, models.StatusSeated, saved.Status)
	assert.Len(t, rec.on(entryChannel(a.ID), notify.EventEntrySeated), 1)
}

func TestSeatOverrideFromCalled(t *testing.T) {
	d, _, policy, _ := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")
	a, _ := d.Join(1, "Анна", "", "", 2)
	_, err := d.CallNext(1)
	require.NoError(t, err)

	seated, err := d.Seat(a.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSeated, seated.Status)
}

func TestCodeUniqueAmongCalled(t *testing.T) {
	d, repo, policy, _ := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")
	for i := 0; i < 8; i++ {
		_, err := d.Join(1, "Гость", "", "", 2)
		require.NoError(t, err)
	}
	for i := 0; i < 8; i++ {
		_, err := d.CallNext(1)
		require.NoError(t, err)
	}

	codes, _ := repo.ActiveCodes(1)
	assert.Len(t, codes, 8, "коды одновременно приглашённых должны быть уникальны")
}

func TestConcurrentJoinsAndCancelsKeepContiguity(t *testing.T) {
	d, repo, policy, _ := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")

	var wg sync.WaitGroup
	ids := make(chan uint, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := d.Join(1, "Гость", "", "", 1)
			if err == nil {
				ids <- e.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	// Отменяем случайную часть конкурентно.
	i := 0
	for id := range ids {
		if i%3 == 0 {
			wg.Add(1)
			go func(id uint) {
				defer wg.Done()
				d.Cancel(id, ActorStaff)
			}(id)
		}
		i++
	}
	wg.Wait()

	waiting, err := repo.LoadWaiting(1)
	require.NoError(t, err)
	seen := make(map[int]bool)
	for _, e := range waiting {
		assert.False(t, seen[e.Position], "дубликат позиции %d", e.Position)
		seen[e.Position] = true
	}
	for p := 1; p <= len(waiting); p++ {
		assert.True(t, seen[p], "пропущена позиция %d", p)
	}
}

func TestEscalationAndAutoExpire(t *testing.T) {
	cfg := Config{WarnAfter: 20 * time.Millisecond, FinalAfter: 40 * time.Millisecond, ExpireAfter: 80 * time.Millisecond}
	d, repo, policy, rec := newTestDispatcher(cfg)
	openQueue(policy, 1, 100, "Зал")
	a, _ := d.Join(1, "Анна", "", "", 2)
	_, err := d.CallNext(1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		e, err := repo.Load(a.ID)
		return err == nil && e.Status == models.StatusExpired
	}, 2*time.Second, 5*time.Millisecond, "приглашение должно истечь автоматически")

	assert.NotEmpty(t, rec.on(entryChannel(a.ID), notify.EventAckWarning))
	assert.NotEmpty(t, rec.on(entryChannel(a.ID), notify.EventAckFinalWarning))

	expired := rec.on(entryChannel(a.ID), notify.EventEntryCancelled)
	require.Len(t, expired, 1)
	assert.Equal(t, ActorTimeout, expired[0].Data["reason"])

	// Код освобождён и доступен новым приглашениям той же очереди.
	codes, _ := repo.ActiveCodes(1)
	assert.Empty(t, codes)
	e, _ := repo.Load(a.ID)
	assert.Equal(t, models.EscalationFinal, e.EscalationStage)
}

func TestAcknowledgeVsExpireSingleWinner(t *testing.T) {
	d, repo, policy, rec := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")
	a, _ := d.Join(1, "Анна", "", "", 2)
	called, err := d.CallNext(1)
	require.NoError(t, err)
	code := *called.VerificationCode

	// Автоотмена и подтверждение соревнуются за один переход.
	var wg sync.WaitGroup
	var ackErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.Expire(a.ID)
	}()
	go func() {
		defer wg.Done()
		_, ackErr = d.Acknowledge(a.ID, code)
	}()
	wg.Wait()

	final, _ := repo.Load(a.ID)
	acked := rec.on(entryChannel(a.ID), notify.EventEntryAcknowledged)
	cancelled := rec.on(entryChannel(a.ID), notify.EventEntryCancelled)

	switch final.Status {
	case models.StatusAcknowledged:
		assert.NoError(t, ackErr)
		assert.Len(t, acked, 1)
		assert.Empty(t, cancelled)
	case models.StatusExpired:
		assert.Error(t, ackErr)
		assert.Empty(t, acked)
		assert.Len(t, cancelled, 1)
	default:
		t.Fatalf("неожиданный итоговый статус %q", final.Status)
	}
}

func TestCancelDuringCallRace(t *testing.T) {
	d, repo, policy, _ := newTestDispatcher(slowConfig())
	openQueue(policy, 1, 100, "Зал")
	a, _ := d.Join(1, "Анна", "", "", 2)

	// Гость отменяется одновременно с вызовом: оба исхода допустимы,
	// но итоговый статус ровно один и он терминален либо called.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.CallSpecific(1, a.ID)
	}()
	go func() {
		defer wg.Done()
		d.Cancel(a.ID, ActorCustomer)
	}()
	wg.Wait()

	final, _ := repo.Load(a.ID)
	assert.Contains(t, []string{models.StatusCalled, models.StatusCancelled}, final.Status)
}

func TestRestoreQueue(t *testing.T) {
	cfg := Config{WarnAfter: 10 * time.Millisecond, FinalAfter: 20 * time.Millisecond, ExpireAfter: 30 * time.Millisecond}
	repo := newMemRepo()
	policy := newMemPolicy()
	rec := &recorder{}
	openQueue(policy, 1, 100, "Зал")

	// Состояние "до рестарта": двое ожидают, один приглашён давно.
	now := time.Now()
	w1 := &models.QueueEntry{QueueID: 1, CustomerName: "Анна", PartySize: 2, Status: models.StatusWaiting, Position: 1, JoinedAt: now}
	w2 := &models.QueueEntry{QueueID: 1, CustomerName: "Борис", PartySize: 2, Status: models.StatusWaiting, Position: 2, JoinedAt: now}
	code := "K4J7"
	calledAt := now.Add(-time.Hour)
	stale := &models.QueueEntry{QueueID: 1, CustomerName: "Вера", PartySize: 2, Status: models.StatusCalled,
		VerificationCode: &code, EscalationStage: models.EscalationNone, JoinedAt: now.Add(-2 * time.Hour), CalledAt: &calledAt}
	require.NoError(t, repo.Create(w1))
	require.NoError(t, repo.Create(w2))
	require.NoError(t, repo.Create(stale))

	d := NewDispatcher(repo, policy, notify.NewRouter(rec), cfg)
	require.NoError(t, d.RestoreQueue(1))

	// Трекер восстановлен из базы.
	pos, ok := d.PositionOf(1, w2.ID)
	assert.True(t, ok)
	assert.Equal(t, 2, pos)

	// Просроченное приглашение истекает сразу после восстановления.
	assert.Eventually(t, func() bool {
		e, err := repo.Load(stale.ID)
		return err == nil && e.Status == models.StatusExpired
	}, 2*time.Second, 5*time.Millisecond)
}
