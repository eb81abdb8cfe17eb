package queue

import "errors"

// Ожидаемые ошибки операций диспетчера. Конфликты состояний и ошибки
// вместимости — нормальные исходы при конкурентной работе персонала и гостей,
// обработчики переводят их в коды ответа API.
var (
	ErrInvalidParty      = errors.New("queue: размер компании должен быть положительным")
	ErrQueueNotFound     = errors.New("queue: очередь не найдена")
	ErrEntryNotFound     = errors.New("queue: запись не найдена")
	ErrQueueNotAccepting = errors.New("queue: очередь не принимает новых гостей")
	ErrQueueClosed       = errors.New("queue: очередь закрыта")
	ErrQueueEmpty        = errors.New("queue: в очереди нет ожидающих")
	ErrEntryNotWaiting   = errors.New("queue: запись не в статусе ожидания")
	ErrNotCalled         = errors.New("queue: гость не был приглашён")
	ErrNotAcknowledged   = errors.New("queue: приглашение не подтверждено гостем")
	ErrCodeMismatch      = errors.New("queue: код подтверждения не совпадает")
	ErrEntryAlreadyFinal = errors.New("queue: запись уже в терминальном статусе")
)

// Инициаторы отмены записи, попадают в reason события entry_cancelled.
const (
	ActorCustomer = "customer"
	ActorStaff    = "staff"
	ActorTimeout  = "timeout"
)
