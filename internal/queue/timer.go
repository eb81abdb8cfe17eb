package queue

import (
	"sync"
	"time"
)

// ackTimer — отсчёт окна подтверждения для одной приглашённой записи: два
// предупреждения и автоотмена. Таймеры записей независимы друг от друга и не
// держат замок очереди — блокировка берётся только в момент срабатывания,
// внутри переданных коллбеков.
type ackTimer struct {
	warn   *time.Timer
	final  *time.Timer
	expire *time.Timer
}

func (t *ackTimer) stop() {
	t.warn.Stop()
	t.final.Stop()
	t.expire.Stop()
}

// timerSet хранит активные таймеры подтверждения по ID записи.
type timerSet struct {
	mu     sync.Mutex
	timers map[uint]*ackTimer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[uint]*ackTimer)}
}

// start запускает отсчёт для записи. Неположительная задержка означает, что
// стадия уже просрочена (восстановление после рестарта) — таймер сработает
// сразу. Повторный запуск для той же записи заменяет прежний отсчёт.
func (s *timerSet) start(entryID uint, warnIn, finalIn, expireIn time.Duration, warnFn, finalFn, expireFn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[entryID]; ok {
		old.stop()
	}
	s.timers[entryID] = &ackTimer{
		warn:   time.AfterFunc(warnIn, warnFn),
		final:  time.AfterFunc(finalIn, finalFn),
		expire: time.AfterFunc(expireIn, expireFn),
	}
}

// cancel останавливает отсчёт записи (подтверждение, отмена или посадка).
// Остановка идемпотентна; гонку с уже сработавшей автоотменой разрешает не
// таймер, а compare-and-set на статусе записи.
func (s *timerSet) cancel(entryID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[entryID]; ok {
		t.stop()
		delete(s.timers, entryID)
	}
}
