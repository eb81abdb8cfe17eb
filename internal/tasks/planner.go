package tasks

import (
	"log"
	"time"

	"waitline/internal/models"
	"waitline/internal/notify"
	"waitline/internal/queue"
	"waitline/internal/storage"
	"waitline/internal/ws"

	"github.com/robfig/cron/v3"
)

// Dispatcher устанавливается при старте приложения и используется страховочной
// задачей автоотмены просроченных приглашений.
var Dispatcher *queue.Dispatcher

// CloseExpiredQueues закрывает очереди, у которых истекло время работы,
// и уведомляет дашборды заведений.
func CloseExpiredQueues() {
	now := time.Now()

	var queues []models.Queue
	if err := storage.DB.Where("is_active = ? AND closes_at < ?", true, now).Find(&queues).Error; err != nil {
		log.Println("Ошибка при поиске очередей для закрытия:", err)
		return
	}

	for _, q := range queues {
		if err := storage.DB.Model(&models.Queue{}).Where("id = ?", q.ID).
			Update("is_active", false).Error; err != nil {
			log.Println("Ошибка закрытия очереди", q.Name, ":", err)
			continue
		}
		ws.HubInstance.Publish(notify.MerchantChannel(q.MerchantID), notify.Event{
			EventType: notify.EventQueueClosed,
			Channel:   string(notify.MerchantChannel(q.MerchantID)),
			Data:      map[string]interface{}{"queue_id": q.ID},
		})
		log.Printf("Очередь '%s' закрыта по расписанию.\n", q.Name)
	}
}

// ExpireOverdueCalls — страховка для приглашений, чей таймер не сработал
// (например, процесс был перезапущен): находит приглашённых гостей с истёкшим
// окном подтверждения и проводит их через обычную автоотмену диспетчера.
func ExpireOverdueCalls() {
	if Dispatcher == nil {
		return
	}
	deadline := time.Now().Add(-Dispatcher.ExpireAfter())

	var entries []models.QueueEntry
	if err := storage.DB.
		Where("status = ? AND called_at < ?", models.StatusCalled, deadline).
		Find(&entries).Error; err != nil {
		log.Println("Ошибка при поиске просроченных приглашений:", err)
		return
	}

	for _, e := range entries {
		Dispatcher.Expire(e.ID)
	}
	if len(entries) > 0 {
		log.Printf("Автоотменено просроченных приглашений: %d\n", len(entries))
	}
}

// InitScheduler инициализирует планировщик cron-задач.
func InitScheduler(d *queue.Dispatcher) *cron.Cron {
	Dispatcher = d
	c := cron.New(cron.WithSeconds())

	// Закрытие очередей по расписанию — каждую минуту.
	_, err := c.AddFunc("0 * * * * *", CloseExpiredQueues)
	if err != nil {
		log.Println("Ошибка запуска cron-задачи CloseExpiredQueues:", err)
	}

	// Страховочная автоотмена просроченных приглашений — каждую минуту.
	_, err = c.AddFunc("30 * * * * *", ExpireOverdueCalls)
	if err != nil {
		log.Println("Ошибка запуска cron-задачи ExpireOverdueCalls:", err)
	}

	c.Start()
	log.Println("Cron-планировщик запущен.")
	return c
}
