// Package notify отвечает за доставку событий очереди по именованным каналам.
// Канал — это адрес подписки: по записи, по сессии, по телефону или по
// заведению. Вычисление каналов и авторизация подписки живут здесь, доставка
// делегируется транспорту через интерфейс Publisher (реализация — ws.Hub).
package notify

import (
	"fmt"
	"strings"

	"waitline/internal/models"
)

// Типы событий, рассылаемых клиентам.
const (
	EventQueueUpdated      = "queue_updated"      // Изменение состояния очереди (каналу заведения)
	EventCustomerCalled    = "customer_called"    // Приглашение гостя с кодом подтверждения
	EventPositionUpdated   = "position_updated"   // Сдвиг позиции конкретного гостя
	EventAckWarning        = "ack_warning"        // Первое предупреждение в окне подтверждения
	EventAckFinalWarning   = "ack_final_warning"  // Последнее предупреждение
	EventEntryAcknowledged = "entry_acknowledged" // Гость подтвердил приглашение
	EventEntryCancelled    = "entry_cancelled"    // Запись отменена (reason: customer|staff|timeout)
	EventEntrySeated       = "entry_seated"       // Гость посажен
	EventQueueClosed       = "queue_closed"       // Очередь закрыта
)

// Channel — имя канала доставки.
type Channel string

func EntryChannel(entryID uint) Channel {
	return Channel(fmt.Sprintf("entry:%d", entryID))
}

func SessionChannel(token string) Channel {
	return Channel("session:" + token)
}

func PhoneChannel(phone string) Channel {
	return Channel("phone:" + NormalizePhone(phone))
}

func MerchantChannel(merchantID uint) Channel {
	return Channel(fmt.Sprintf("merchant:%d", merchantID))
}

// NormalizePhone приводит телефон к канонической форме: остаются только цифры
// и ведущий "+". Один и тот же номер в разных написаниях даёт один канал.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Event — сообщение, уходящее подписчикам канала.
type Event struct {
	EventType string                 `json:"event_type"`
	Channel   string                 `json:"channel"`
	Data      map[string]interface{} `json:"data"`
}

// Publisher — транспорт доставки. Публикация не блокирует вызывающего и не
// даёт гарантий доставки: отключившийся клиент просто пропустит событие.
type Publisher interface {
	Publish(channel Channel, event Event)
}

// Router раскладывает событие по всем каналам, на которые имеет право
// подписаться адресат.
type Router struct {
	pub Publisher
}

func NewRouter(pub Publisher) *Router {
	return &Router{pub: pub}
}

// EntryChannels возвращает полный набор каналов, по которым может слушать
// гость данной записи: всегда канал записи, плюс каналы сессии и телефона,
// если они заданы. Чужие записи сюда не попадают — это основа изоляции.
func EntryChannels(e *models.QueueEntry) []Channel {
	channels := []Channel{EntryChannel(e.ID)}
	if e.SessionToken != nil && *e.SessionToken != "" {
		channels = append(channels, SessionChannel(*e.SessionToken))
	}
	if e.Phone != nil && NormalizePhone(*e.Phone) != "" {
		channels = append(channels, PhoneChannel(*e.Phone))
	}
	return channels
}

// DeliverToEntry рассылает событие по всем каналам записи. Порядок публикаций
// для одной записи совпадает с порядком вызовов: вызывающий обязан сначала
// зафиксировать переход состояния, затем доставлять.
func (r *Router) DeliverToEntry(eventType string, e *models.QueueEntry, data map[string]interface{}) {
	event := Event{EventType: eventType, Data: data}
	for _, ch := range EntryChannels(e) {
		event.Channel = string(ch)
		r.pub.Publish(ch, event)
	}
}

// DeliverToMerchant отправляет событие на канал заведения (дашборды персонала).
// Персональные данные гостей сюда не кладут — только агрегаты и идентификаторы.
func (r *Router) DeliverToMerchant(merchantID uint, eventType string, data map[string]interface{}) {
	ch := MerchantChannel(merchantID)
	r.pub.Publish(ch, Event{EventType: eventType, Channel: string(ch), Data: data})
}
