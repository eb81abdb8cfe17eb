package ws

import (
	"net/http"
	"strconv"

	"waitline/internal/models"
	"waitline/internal/notify"
	"waitline/internal/response"
	"waitline/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Настраиваем апгрейдер для WebSocket с разрешением всех источников.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// resolveCustomerChannels возвращает каналы, на которые клиент имеет право
// подписаться для данной записи. Право даёт только предъявленное
// доказательство владения: токен сессии записи или её номер телефона.
// Знание одного entry_id подписки не даёт — иначе каналы можно было бы
// перебирать.
func resolveCustomerChannels(entry *models.QueueEntry, sessionToken, phone string) []notify.Channel {
	if sessionToken != "" && entry.SessionToken != nil && *entry.SessionToken == sessionToken {
		return []notify.Channel{
			notify.EntryChannel(entry.ID),
			notify.SessionChannel(sessionToken),
		}
	}
	if phone != "" && entry.Phone != nil &&
		notify.NormalizePhone(phone) != "" &&
		notify.NormalizePhone(*entry.Phone) == notify.NormalizePhone(phone) {
		return []notify.Channel{
			notify.EntryChannel(entry.ID),
			notify.PhoneChannel(phone),
		}
	}
	return nil
}

// EntryWebSocketHandler обновляет соединение до WebSocket и подписывает гостя
// на каналы его записи. Доказательство владения — session_token или phone.
// URL-пример: /queues/{id}/ws?entry_id=5&session_token=...
func EntryWebSocketHandler(c *gin.Context) {
	queueID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_QUEUE_ID",
			Message: "Неверный идентификатор очереди",
		})
		return
	}
	entryID, err := strconv.Atoi(c.Query("entry_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_ENTRY_ID",
			Message: "Неверный идентификатор записи",
		})
		return
	}

	var entry models.QueueEntry
	if err := storage.DB.First(&entry, entryID).Error; err != nil || entry.QueueID != uint(queueID) {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "ENTRY_NOT_FOUND",
			Message: "Запись не найдена",
		})
		return
	}

	channels := resolveCustomerChannels(&entry, c.Query("session_token"), c.Query("phone"))
	if channels == nil {
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "SUBSCRIPTION_FORBIDDEN",
			Message: "Нет доказательства владения записью",
		})
		return
	}

	serveChannels(c, channels)
}

// MerchantWebSocketHandler подписывает сотрудника на канал заведения.
// Требует JWT: merchantID берётся из контекста и сверяется с очередью.
// URL-пример: /api/queues/{id}/ws
func MerchantWebSocketHandler(c *gin.Context) {
	queueID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_QUEUE_ID",
			Message: "Неверный идентификатор очереди",
		})
		return
	}

	var queue models.Queue
	if err := storage.DB.First(&queue, queueID).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "QUEUE_NOT_FOUND",
			Message: "Очередь не найдена",
		})
		return
	}

	if queue.MerchantID != c.GetUint("merchantID") {
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "SUBSCRIPTION_FORBIDDEN",
			Message: "Очередь принадлежит другому заведению",
		})
		return
	}

	serveChannels(c, []notify.Channel{notify.MerchantChannel(queue.MerchantID)})
}

func serveChannels(c *gin.Context, channels []notify.Channel) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		http.Error(c.Writer, "Ошибка обновления до WebSocket", http.StatusInternalServerError)
		return
	}
	client := &Client{
		Hub:      HubInstance,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Channels: channels,
	}
	HubInstance.register <- client

	go client.writePump()
	client.readPump()
}
