package models

import (
	"gorm.io/gorm"
)

// Merchant — заведение (ресторан, кафе), которому принадлежат очереди.
type Merchant struct {
	gorm.Model
	Name     string `gorm:"not null"`      // Название заведения
	Timezone string `gorm:"default:'UTC'"` // Часовой пояс заведения
}

// User — сотрудник заведения (хостес, администратор).
type User struct {
	gorm.Model
	Name         string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	MerchantID   uint   `gorm:"index;not null"` // Заведение, в котором работает сотрудник
	Merchant     Merchant
}
