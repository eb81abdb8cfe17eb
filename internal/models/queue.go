package models

import (
	"time"

	"gorm.io/gorm"
)

// Queue — живая очередь заведения (лист ожидания).
type Queue struct {
	gorm.Model
	MerchantID   uint      `gorm:"index;not null"` // Заведение-владелец очереди
	Name         string    `gorm:"not null"`       // Название очереди (например, "Основной зал")
	OpensAt      time.Time `gorm:"index"`          // Время открытия очереди для новых гостей
	ClosesAt     time.Time `gorm:"index"`          // Время закрытия очереди
	IsActive     bool      `gorm:"default:false"`  // Флаг активности очереди
	MaxPartySize int       // Опциональный лимит размера компании (0 — без лимита)
}

// IsAccepting проверяет, принимает ли очередь новых гостей в момент now:
// очередь активна и время попадает в окно [OpensAt, ClosesAt).
func (q *Queue) IsAccepting(now time.Time) bool {
	return q.IsActive && !now.Before(q.OpensAt) && now.Before(q.ClosesAt)
}
