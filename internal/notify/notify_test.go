package notify

import (
	"testing"

	"waitline/internal/models"

	"github.com/stretchr/testify/assert"
)

// recordingPublisher запоминает все публикации для проверки в тестах.
type recordingPublisher struct {
	events []Event
}

func (p *recordingPublisher) Publish(ch Channel, event Event) {
	p.events = append(p.events, event)
}

func strptr(s string) *string { return &s }

func TestEntryChannels(t *testing.T) {
	e := &models.QueueEntry{}
	e.ID = 7

	// Только канал записи, когда нет ни сессии, ни телефона.
	assert.Equal(t, []Channel{"entry:7"}, EntryChannels(e))

	e.SessionToken = strptr("tok-123")
	e.Phone = strptr("+7 (999) 123-45-67")
	channels := EntryChannels(e)
	assert.Equal(t, []Channel{"entry:7", "session:tok-123", "phone:+79991234567"}, channels)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+79991234567", NormalizePhone(" +7 (999) 123-45-67 "))
	assert.Equal(t, "89991234567", NormalizePhone("8 999 123 45 67"))
	assert.Equal(t, "", NormalizePhone("нет номера"))
}

func TestDeliverToEntryFanOut(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRouter(pub)

	e := &models.QueueEntry{SessionToken: strptr("tok")}
	e.ID = 1

	r.DeliverToEntry(EventCustomerCalled, e, map[string]interface{}{"verification_code": "K4J7"})

	assert.Len(t, pub.events, 2)
	assert.Equal(t, "entry:1", pub.events[0].Channel)
	assert.Equal(t, "session:tok", pub.events[1].Channel)
	for _, ev := range pub.events {
		assert.Equal(t, EventCustomerCalled, ev.EventType)
		assert.Equal(t, "K4J7", ev.Data["verification_code"])
	}
}

func TestChannelIsolation(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRouter(pub)

	a := &models.QueueEntry{}
	a.ID = 1
	b := &models.QueueEntry{}
	b.ID = 2

	r.DeliverToEntry(EventCustomerCalled, a, map[string]interface{}{"verification_code": "AAAA"})

	// Событие для записи A никогда не публикуется в каналы записи B.
	for _, ev := range pub.events {
		assert.NotEqual(t, string(EntryChannel(b.ID)), ev.Channel)
	}
}

func TestDeliverToMerchant(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRouter(pub)

	r.DeliverToMerchant(5, EventQueueUpdated, map[string]interface{}{"waiting_count": 3, "called_count": 1})

	assert.Len(t, pub.events, 1)
	assert.Equal(t, "merchant:5", pub.events[0].Channel)
	assert.Equal(t, EventQueueUpdated, pub.events[0].EventType)
	// На канал заведения не попадают персональные данные гостей.
	assert.NotContains(t, pub.events[0].Data, "phone")
	assert.NotContains(t, pub.events[0].Data, "customer_name")
}
