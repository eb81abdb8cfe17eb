package queue

import (
	"log"
	"os"
	"time"
)

// Config — смещения окна подтверждения относительно момента вызова гостя.
// Это бизнес-настройки заведения, а не константы кода.
type Config struct {
	WarnAfter   time.Duration // Первое предупреждение
	FinalAfter  time.Duration // Последнее предупреждение
	ExpireAfter time.Duration // Автоматическая отмена
}

// DefaultConfig — значения по умолчанию: предупреждение через 4 минуты,
// последнее предупреждение через 5, автоотмена через 7.
func DefaultConfig() Config {
	return Config{
		WarnAfter:   4 * time.Minute,
		FinalAfter:  5 * time.Minute,
		ExpireAfter: 7 * time.Minute,
	}
}

// LoadConfig читает смещения из переменных окружения ACK_WARN_AFTER,
// ACK_FINAL_AFTER и ACK_EXPIRE_AFTER (формат time.ParseDuration, например
// "4m"). Незаданные или некорректные значения заменяются умолчаниями.
func LoadConfig() Config {
	cfg := DefaultConfig()
	cfg.WarnAfter = durationEnv("ACK_WARN_AFTER", cfg.WarnAfter)
	cfg.FinalAfter = durationEnv("ACK_FINAL_AFTER", cfg.FinalAfter)
	cfg.ExpireAfter = durationEnv("ACK_EXPIRE_AFTER", cfg.ExpireAfter)
	return cfg
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("Некорректное значение %s=%q, используется %s", name, raw, fallback)
		return fallback
	}
	return d
}
