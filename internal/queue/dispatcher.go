// Package queue содержит ядро листа ожидания: трекер позиций, диспетчер
// жизненного цикла записей и таймеры окна подтверждения.
package queue

import (
	"log"
	"sync"
	"time"

	"waitline/internal/models"
	"waitline/internal/notify"
	"waitline/internal/vercode"

	"github.com/google/uuid"
)

// Dispatcher проводит записи по машине состояний
// waiting -> called -> acknowledged -> seated (с выходами cancelled/expired)
// и связывает трекер позиций, генератор кодов, таймеры и доставку уведомлений.
// Все операции над списком ожидания одной очереди сериализуются её замком;
// операции над разными очередями независимы. Переходы статуса записи
// выполняются через compare-and-set в репозитории, поэтому при гонках
// (подтверждение против автоотмены, двойной вызов) выигрывает ровно одна
// сторона, а проигравшая не производит побочных эффектов.
type Dispatcher struct {
	repo   EntryRepo
	policy Policy
	router *notify.Router
	cfg    Config

	mu     sync.Mutex
	queues map[uint]*queueState
	timers *timerSet
}

// queueState — состояние одной очереди: замок сериализации и трекер позиций.
// Замок держится на время "мутация + сохранение + уведомление", чтобы
// уведомления уходили в порядке фиксации переходов.
type queueState struct {
	mu      sync.Mutex
	tracker *Tracker
}

func NewDispatcher(repo EntryRepo, policy Policy, router *notify.Router, cfg Config) *Dispatcher {
	return &Dispatcher{
		repo:   repo,
		policy: policy,
		router: router,
		cfg:    cfg,
		queues: make(map[uint]*queueState),
		timers: newTimerSet(),
	}
}

// state возвращает состояние очереди, при первом обращении восстанавливая
// трекер из сохранённых ожидающих записей.
func (d *Dispatcher) state(queueID uint) (*queueState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if qs, ok := d.queues[queueID]; ok {
		return qs, nil
	}
	entries, err := d.repo.LoadWaiting(queueID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	qs := &queueState{tracker: NewTracker()}
	qs.tracker.Load(ids)
	d.queues[queueID] = qs
	return qs, nil
}

// Join добавляет гостя в хвост очереди и возвращает созданную запись.
// Повторное вступление с тем же токеном сессии при живой записи идемпотентно:
// возвращается существующая запись, дубликат не создаётся.
func (d *Dispatcher) Join(queueID uint, customerName, phone, sessionToken string, partySize int) (*models.QueueEntry, error) {
	if partySize <= 0 {
		return nil, ErrInvalidParty
	}
	q, err := d.policy.QueueInfo(queueID)
	if err != nil {
		return nil, err
	}
	if q.MaxPartySize > 0 && partySize > q.MaxPartySize {
		return nil, ErrInvalidParty
	}
	if !q.IsAccepting(time.Now()) {
		return nil, ErrQueueNotAccepting
	}

	qs, err := d.state(queueID)
	if err != nil {
		return nil, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	if sessionToken != "" {
		if existing, err := d.repo.FindActiveBySession(queueID, sessionToken); err == nil {
			return existing, nil
		}
	}

	token := sessionToken
	if token == "" {
		token = uuid.NewString()
	}

	now := time.Now()
	entry := &models.QueueEntry{
		QueueID:         queueID,
		CustomerName:    customerName,
		PartySize:       partySize,
		SessionToken:    &token,
		Status:          models.StatusWaiting,
		EscalationStage: models.EscalationNone,
		JoinedAt:        now,
		Position:        qs.tracker.Len() + 1,
	}
	if phone != "" {
		entry.Phone = &phone
	}

	if err := d.repo.Create(entry); err != nil {
		return nil, err
	}
	qs.tracker.Assign(entry.ID)

	d.notifyQueueUpdated(q, qs)
	return entry, nil
}

// CallNext приглашает ожидающего гостя с минимальной позицией.
func (d *Dispatcher) CallNext(queueID uint) (*models.QueueEntry, error) {
	q, err := d.policy.QueueInfo(queueID)
	if err != nil {
		return nil, err
	}
	if !q.IsAccepting(time.Now()) {
		return nil, ErrQueueClosed
	}

	qs, err := d.state(queueID)
	if err != nil {
		return nil, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	entryID, ok := qs.tracker.First()
	if !ok {
		return nil, ErrQueueEmpty
	}
	return d.callLocked(q, qs, entryID)
}

// CallSpecific приглашает конкретного ожидающего гостя.
func (d *Dispatcher) CallSpecific(queueID, entryID uint) (*models.QueueEntry, error) {
	q, err := d.policy.QueueInfo(queueID)
	if err != nil {
		return nil, err
	}
	if !q.IsAccepting(time.Now()) {
		return nil, ErrQueueClosed
	}

	qs, err := d.state(queueID)
	if err != nil {
		return nil, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	if _, ok := qs.tracker.PositionOf(entryID); !ok {
		e, err := d.repo.Load(entryID)
		if err != nil {
			return nil, err
		}
		if e.QueueID != queueID {
			return nil, ErrEntryNotFound
		}
		if e.IsFinal() {
			return nil, ErrEntryAlreadyFinal
		}
		return nil, ErrEntryNotWaiting
	}
	return d.callLocked(q, qs, entryID)
}

// callLocked выполняет переход waiting -> called под замком очереди:
// генерирует код, атомарно меняет статус, перенумеровывает оставшихся и
// только после сохранения позиций рассылает уведомления.
func (d *Dispatcher) callLocked(q *models.Queue, qs *queueState, entryID uint) (*models.QueueEntry, error) {
	active, err := d.repo.ActiveCodes(q.ID)
	if err != nil {
		return nil, err
	}
	code, err := vercode.Generate(active)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	e, won, err := d.repo.UpdateIf(entryID,
		func(e *models.QueueEntry) bool { return e.Status == models.StatusWaiting },
		func(e *models.QueueEntry) {
			e.Status = models.StatusCalled
			e.CalledAt = &now
			e.VerificationCode = &code
			e.EscalationStage = models.EscalationNone
			e.Position = 0
		})
	if err != nil {
		return nil, err
	}
	if !won {
		// Двойной вызов: вторая сторона гонки не производит эффектов.
		if e.IsFinal() {
			return nil, ErrEntryAlreadyFinal
		}
		return nil, ErrEntryNotWaiting
	}

	shifted, _ := qs.tracker.Remove(entryID)
	if err := d.savePositionsLocked(qs, shifted); err != nil {
		return nil, err
	}

	d.timers.start(entryID, d.cfg.WarnAfter, d.cfg.FinalAfter, d.cfg.ExpireAfter,
		func() { d.escalate(entryID, models.EscalationWarned) },
		func() { d.escalate(entryID, models.EscalationFinal) },
		func() { d.Expire(entryID) },
	)

	d.router.DeliverToEntry(notify.EventCustomerCalled, e, map[string]interface{}{
		"entry_id":          e.ID,
		"verification_code": code,
		"queue_name":        q.Name,
		"position":          nil,
	})
	d.notifyShifted(qs, shifted)
	d.notifyQueueUpdated(q, qs)
	return e, nil
}

// Acknowledge подтверждает приглашение кодом. Сравнение кода не зависит от
// регистра. Гонку с автоотменой разрешает compare-and-set: выигрывает ровно
// одна сторона.
func (d *Dispatcher) Acknowledge(entryID uint, providedCode string) (*models.QueueEntry, error) {
	e, err := d.repo.Load(entryID)
	if err != nil {
		return nil, err
	}
	if e.IsFinal() {
		return nil, ErrEntryAlreadyFinal
	}
	if e.Status != models.StatusCalled {
		return nil, ErrNotCalled
	}
	if e.VerificationCode == nil || !vercode.Matches(*e.VerificationCode, providedCode) {
		return nil, ErrCodeMismatch
	}

	now := time.Now()
	e, won, err := d.repo.UpdateIf(entryID,
		func(e *models.QueueEntry) bool {
			return e.Status == models.StatusCalled &&
				e.VerificationCode != nil && vercode.Matches(*e.VerificationCode, providedCode)
		},
		func(e *models.QueueEntry) {
			e.Status = models.StatusAcknowledged
			e.AcknowledgedAt = &now
		})
	if err != nil {
		return nil, err
	}
	if !won {
		if e.IsFinal() {
			return nil, ErrEntryAlreadyFinal
		}
		return nil, ErrNotCalled
	}

	d.timers.cancel(entryID)
	d.router.DeliverToEntry(notify.EventEntryAcknowledged, e, map[string]interface{}{
		"entry_id": e.ID,
	})
	d.notifyQueueUpdatedByID(e.QueueID)
	return e, nil
}

// Cancel отменяет запись по инициативе гостя или персонала. Разрешена отмена
// из ожидания (с перенумерацией оставшихся) и из окна подтверждения
// (с остановкой таймеров и освобождением кода).
func (d *Dispatcher) Cancel(entryID uint, actor string) (*models.QueueEntry, error) {
	e, err := d.repo.Load(entryID)
	if err != nil {
		return nil, err
	}

	// Статус может смениться между чтением и compare-and-set (например,
	// персонал пригласил гостя одновременно с его отменой) — тогда заходим
	// ещё раз уже от нового статуса.
	for attempt := 0; attempt < 2; attempt++ {
		if e.IsFinal() {
			return nil, ErrEntryAlreadyFinal
		}
		switch e.Status {
		case models.StatusWaiting:
			var won bool
			e, won, err = d.cancelWaiting(e, actor)
			if err != nil {
				return nil, err
			}
			if won {
				return e, nil
			}
		case models.StatusCalled:
			var won bool
			e, won, err = d.cancelCalled(e, actor)
			if err != nil {
				return nil, err
			}
			if won {
				return e, nil
			}
		default:
			return nil, ErrEntryNotWaiting
		}
	}
	if e.IsFinal() {
		return nil, ErrEntryAlreadyFinal
	}
	return nil, ErrEntryNotWaiting
}

func (d *Dispatcher) cancelWaiting(e *models.QueueEntry, actor string) (*models.QueueEntry, bool, error) {
	qs, err := d.state(e.QueueID)
	if err != nil {
		return nil, false, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	now := time.Now()
	e, won, err := d.repo.UpdateIf(e.ID,
		func(e *models.QueueEntry) bool { return e.Status == models.StatusWaiting },
		func(e *models.QueueEntry) {
			e.Status = models.StatusCancelled
			e.ResolvedAt = &now
			e.Position = 0
		})
	if err != nil || !won {
		return e, won, err
	}

	shifted, _ := qs.tracker.Remove(e.ID)
	if err := d.savePositionsLocked(qs, shifted); err != nil {
		return nil, false, err
	}

	d.router.DeliverToEntry(notify.EventEntryCancelled, e, map[string]interface{}{
		"entry_id": e.ID,
		"reason":   actor,
	})
	d.notifyShifted(qs, shifted)
	d.notifyQueueUpdatedByID(e.QueueID)
	return e, true, nil
}

func (d *Dispatcher) cancelCalled(e *models.QueueEntry, actor string) (*models.QueueEntry, bool, error) {
	now := time.Now()
	e, won, err := d.repo.UpdateIf(e.ID,
		func(e *models.QueueEntry) bool { return e.Status == models.StatusCalled },
		func(e *models.QueueEntry) {
			e.Status = models.StatusCancelled
			e.ResolvedAt = &now
		})
	if err != nil || !won {
		return e, won, err
	}

	// Код приглашения освобождается самим переходом: занятыми считаются
	// только коды записей в статусе called.
	d.timers.cancel(e.ID)
	d.router.DeliverToEntry(notify.EventEntryCancelled, e, map[string]interface{}{
		"entry_id": e.ID,
		"reason":   actor,
	})
	d.notifyQueueUpdatedByID(e.QueueID)
	return e, true, nil
}

// Seat сажает подтверждённого гостя за стол. С override персонал может
// посадить гостя сразу из окна подтверждения, минуя код.
func (d *Dispatcher) Seat(entryID uint, override bool) (*models.QueueEntry, error) {
	e, err := d.repo.Load(entryID)
	if err != nil {
		return nil, err
	}
	if e.IsFinal() {
		return nil, ErrEntryAlreadyFinal
	}
	fromCalled := e.Status == models.StatusCalled && override
	if e.Status != models.StatusAcknowledged && !fromCalled {
		return nil, ErrNotAcknowledged
	}

	from := models.StatusAcknowledged
	if fromCalled {
		from = models.StatusCalled
	}
	now := time.Now()
	e, won, err := d.repo.UpdateIf(entryID,
		func(e *models.QueueEntry) bool { return e.Status == from },
		func(e *models.QueueEntry) {
			e.Status = models.StatusSeated
			e.ResolvedAt = &now
		})
	if err != nil {
		return nil, err
	}
	if !won {
		if e.IsFinal() {
			return nil, ErrEntryAlreadyFinal
		}
		return nil, ErrNotAcknowledged
	}

	if fromCalled {
		d.timers.cancel(entryID)
	}
	d.router.DeliverToEntry(notify.EventEntrySeated, e, map[string]interface{}{
		"entry_id": e.ID,
	})
	d.notifyQueueUpdatedByID(e.QueueID)
	return e, nil
}

// escalate переводит приглашённую запись на следующую стадию предупреждений.
// Срабатывание по просроченному таймеру безвредно: условие compare-and-set
// не пройдёт, эффекта не будет.
func (d *Dispatcher) escalate(entryID uint, stage string) {
	e, won, err := d.repo.UpdateIf(entryID,
		func(e *models.QueueEntry) bool {
			if e.Status != models.StatusCalled || e.EscalationStage == stage {
				return false
			}
			// Стадии только растут: none -> warned -> final_warning.
			if stage == models.EscalationWarned && e.EscalationStage != models.EscalationNone {
				return false
			}
			return true
		},
		func(e *models.QueueEntry) {
			e.EscalationStage = stage
		})
	if err != nil {
		log.Println("Ошибка эскалации предупреждения:", err)
		return
	}
	if !won {
		return
	}

	eventType := notify.EventAckWarning
	if stage == models.EscalationFinal {
		eventType = notify.EventAckFinalWarning
	}
	data := map[string]interface{}{"entry_id": e.ID}
	if e.CalledAt != nil {
		data["expires_at"] = e.CalledAt.Add(d.cfg.ExpireAfter)
	}
	d.router.DeliverToEntry(eventType, e, data)
}

// Expire выполняет автоотмену приглашения по истечении окна подтверждения.
// Вызывается таймером записи и страховочной cron-задачей; обе стороны
// проходят через один и тот же compare-and-set, поэтому эффект одноразовый.
func (d *Dispatcher) Expire(entryID uint) {
	now := time.Now()
	e, won, err := d.repo.UpdateIf(entryID,
		func(e *models.QueueEntry) bool { return e.Status == models.StatusCalled },
		func(e *models.QueueEntry) {
			e.Status = models.StatusExpired
			e.ResolvedAt = &now
		})
	if err != nil {
		log.Println("Ошибка автоотмены приглашения:", err)
		return
	}
	if !won {
		return
	}

	d.timers.cancel(entryID)
	d.router.DeliverToEntry(notify.EventEntryCancelled, e, map[string]interface{}{
		"entry_id": e.ID,
		"reason":   ActorTimeout,
	})
	d.notifyQueueUpdatedByID(e.QueueID)
}

// RestoreQueue восстанавливает в памяти состояние очереди после рестарта:
// трекер ожидающих и таймеры приглашённых с поправкой на прошедшее время.
// Просроченные приглашения истекают сразу.
func (d *Dispatcher) RestoreQueue(queueID uint) error {
	if _, err := d.state(queueID); err != nil {
		return err
	}
	called, err := d.repo.LoadCalled(queueID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, e := range called {
		if e.CalledAt == nil {
			continue
		}
		since := now.Sub(*e.CalledAt)
		entryID := e.ID
		d.timers.start(entryID,
			d.cfg.WarnAfter-since, d.cfg.FinalAfter-since, d.cfg.ExpireAfter-since,
			func() { d.escalate(entryID, models.EscalationWarned) },
			func() { d.escalate(entryID, models.EscalationFinal) },
			func() { d.Expire(entryID) },
		)
	}
	return nil
}

// ExpireAfter возвращает настроенную длительность окна подтверждения.
func (d *Dispatcher) ExpireAfter() time.Duration {
	return d.cfg.ExpireAfter
}

// PositionOf возвращает текущую позицию ожидающей записи.
func (d *Dispatcher) PositionOf(queueID, entryID uint) (int, bool) {
	qs, err := d.state(queueID)
	if err != nil {
		return 0, false
	}
	return qs.tracker.PositionOf(entryID)
}

// WaitingCount возвращает число ожидающих в очереди.
func (d *Dispatcher) WaitingCount(queueID uint) int {
	qs, err := d.state(queueID)
	if err != nil {
		return 0
	}
	return qs.tracker.Len()
}

// savePositionsLocked сохраняет позиции сдвинутых записей. Вызывается под
// замком очереди до любых уведомлений, отражающих новые позиции.
func (d *Dispatcher) savePositionsLocked(qs *queueState, shifted []uint) error {
	if len(shifted) == 0 {
		return nil
	}
	positions := make(map[uint]int, len(shifted))
	for _, id := range shifted {
		if pos, ok := qs.tracker.PositionOf(id); ok {
			positions[id] = pos
		}
	}
	return d.repo.SavePositions(positions)
}

// notifyShifted доставляет каждому сдвинутому гостю его новую позицию.
func (d *Dispatcher) notifyShifted(qs *queueState, shifted []uint) {
	for _, id := range shifted {
		pos, ok := qs.tracker.PositionOf(id)
		if !ok {
			continue
		}
		e, err := d.repo.Load(id)
		if err != nil {
			continue
		}
		d.router.DeliverToEntry(notify.EventPositionUpdated, e, map[string]interface{}{
			"entry_id": e.ID,
			"position": pos,
		})
	}
}

// notifyQueueUpdated отправляет дашбордам заведения агрегаты очереди —
// только счётчики, без персональных данных гостей.
func (d *Dispatcher) notifyQueueUpdated(q *models.Queue, qs *queueState) {
	called, err := d.repo.LoadCalled(q.ID)
	if err != nil {
		log.Println("Ошибка подсчёта приглашённых:", err)
	}
	d.router.DeliverToMerchant(q.MerchantID, notify.EventQueueUpdated, map[string]interface{}{
		"queue_id":      q.ID,
		"waiting_count": qs.tracker.Len(),
		"called_count":  len(called),
	})
}

func (d *Dispatcher) notifyQueueUpdatedByID(queueID uint) {
	q, err := d.policy.QueueInfo(queueID)
	if err != nil {
		return
	}
	qs, err := d.state(queueID)
	if err != nil {
		return
	}
	d.notifyQueueUpdated(q, qs)
}
