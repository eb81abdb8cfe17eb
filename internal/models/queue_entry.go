package models

import (
	"time"

	"gorm.io/gorm"
)

// Статусы записи в очереди.
const (
	StatusWaiting      = "waiting"      // Гость ожидает в очереди
	StatusCalled       = "called"       // Гость приглашён, идёт окно подтверждения
	StatusAcknowledged = "acknowledged" // Гость подтвердил приглашение кодом
	StatusSeated       = "seated"       // Гость посажен за стол (терминальный)
	StatusCancelled    = "cancelled"    // Запись отменена гостем или персоналом (терминальный)
	StatusExpired      = "expired"      // Гость не ответил на приглашение вовремя (терминальный)
)

// Стадии эскалации предупреждений в окне подтверждения.
const (
	EscalationNone    = "none"
	EscalationWarned  = "warned"
	EscalationFinal   = "final_warning"
)

// QueueEntry — запись гостя в очереди.
type QueueEntry struct {
	gorm.Model
	QueueID      uint    `gorm:"index;not null"`
	CustomerName string  `gorm:"not null"`
	Phone        *string `gorm:"index"`       // Телефон гостя (опционально)
	SessionToken *string `gorm:"uniqueIndex"` // Токен сессии гостя, выдаётся при вступлении
	PartySize    int     `gorm:"not null"`
	// Position — текущая позиция в очереди. Имеет смысл только при статусе
	// waiting; после вызова/отмены обнуляется.
	Position         int     `gorm:"index"`
	Status           string  `gorm:"index;not null;default:'waiting'"`
	VerificationCode *string // Код подтверждения, выдаётся при вызове (4 символа, верхний регистр)
	EscalationStage  string  `gorm:"not null;default:'none'"`
	JoinedAt         time.Time
	CalledAt         *time.Time // Время вызова гостя
	AcknowledgedAt   *time.Time // Время подтверждения кодом
	ResolvedAt       *time.Time // Время перехода в терминальный статус
}

// IsFinal сообщает, находится ли запись в терминальном статусе.
// Терминальные записи больше не меняются.
func (e *QueueEntry) IsFinal() bool {
	switch e.Status {
	case StatusSeated, StatusCancelled, StatusExpired:
		return true
	}
	return false
}
