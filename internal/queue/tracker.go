package queue

import "sync"

// Tracker хранит упорядоченный список ожидающих записей одной очереди и
// пересчитывает позиции при изменениях. Позиция = индекс в списке + 1, поэтому
// позиции ожидающих всегда образуют непрерывную последовательность 1..N.
// Все мутации защищены мьютексом; сериализацию "изменение + сохранение +
// уведомление" целиком обеспечивает диспетчер своим замком очереди.
type Tracker struct {
	mu    sync.Mutex
	order []uint       // ID записей в порядке позиций
	index map[uint]int // ID записи -> индекс в order
}

func NewTracker() *Tracker {
	return &Tracker{index: make(map[uint]int)}
}

// Load заполняет трекер списком ID ожидающих записей в порядке позиций
// (используется при восстановлении состояния из базы на старте).
func (t *Tracker) Load(ids []uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = append([]uint(nil), ids...)
	t.index = make(map[uint]int, len(ids))
	for i, id := range ids {
		t.index[id] = i
	}
}

// Assign добавляет запись в хвост и возвращает её позицию (прежний размер + 1).
func (t *Tracker) Assign(entryID uint) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = append(t.order, entryID)
	t.index[entryID] = len(t.order) - 1
	return len(t.order)
}

// Remove убирает запись из списка ожидания и перенумеровывает оставшихся,
// сохраняя относительный порядок. Возвращает ID записей, чья позиция
// сдвинулась (для сохранения и уведомлений), и признак наличия записи.
func (t *Tracker) Remove(entryID uint) (shifted []uint, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[entryID]
	if !ok {
		return nil, false
	}
	t.order = append(t.order[:i], t.order[i+1:]...)
	delete(t.index, entryID)
	for j := i; j < len(t.order); j++ {
		t.index[t.order[j]] = j
		shifted = append(shifted, t.order[j])
	}
	return shifted, true
}

// PositionOf возвращает позицию записи в очереди (1..N).
func (t *Tracker) PositionOf(entryID uint) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[entryID]
	if !ok {
		return 0, false
	}
	return i + 1, true
}

// First возвращает ID записи с минимальной позицией.
func (t *Tracker) First() (uint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.order) == 0 {
		return 0, false
	}
	return t.order[0], true
}

// Len возвращает число ожидающих.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// Snapshot возвращает копию списка ID в порядке позиций.
func (t *Tracker) Snapshot() []uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint(nil), t.order...)
}
