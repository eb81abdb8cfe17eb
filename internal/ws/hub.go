package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"waitline/internal/notify"

	"github.com/gorilla/websocket"
)

// Hub хранит подключения клиентов, сгруппированные по каналам уведомлений.
// Один клиент может слушать несколько каналов (канал записи + канал сессии).
type Hub struct {
	// Для каждого канала храним множество подключений.
	clients map[notify.Channel]map[*Client]bool
	// Канал для регистрации нового клиента.
	register chan *Client
	// Канал для удаления клиента.
	unregister chan *Client
	// Канал для трансляции сообщений подписчикам конкретного канала.
	broadcast chan BroadcastMessage
	// Mutex для защиты карты клиентов.
	mu sync.RWMutex
}

// BroadcastMessage представляет сообщение для рассылки в определённый канал.
type BroadcastMessage struct {
	Channel notify.Channel
	Message []byte
}

// Создаем глобальный экземпляр хаба.
var HubInstance = NewHub()

// NewHub создает новый Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[notify.Channel]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan BroadcastMessage, 64),
	}
}

// Run запускает цикл обработки каналов хаба. Единственная горутина цикла
// сохраняет порядок доставки сообщений внутри каждого канала.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			for _, ch := range client.Channels {
				if h.clients[ch] == nil {
					h.clients[ch] = make(map[*Client]bool)
				}
				h.clients[ch][client] = true
			}
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients[message.Channel] {
				select {
				case client.Send <- message.Message:
				default:
					// Медленный клиент не должен тормозить рассылку:
					// переполненный буфер означает разрыв.
					go func(c *Client) { h.unregister <- c }(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	removed := false
	for _, ch := range client.Channels {
		if clients, ok := h.clients[ch]; ok {
			if _, ok := clients[client]; ok {
				delete(clients, client)
				removed = true
				if len(clients) == 0 {
					delete(h.clients, ch)
				}
			}
		}
	}
	if removed {
		close(client.Send)
	}
}

// Publish реализует notify.Publisher: сериализует событие и отдаёт его в цикл
// рассылки. Доставка best-effort — отключившийся клиент пропустит событие и
// должен перечитать состояние запросом статуса.
func (h *Hub) Publish(channel notify.Channel, event notify.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Println("Ошибка сериализации события:", err)
		return
	}
	h.broadcast <- BroadcastMessage{Channel: channel, Message: payload}
}

// Client представляет одно подключение через WebSocket.
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	Channels []notify.Channel
}

// readPump читает сообщения из WebSocket-соединения.
// Входящие сообщения не обрабатываются, отслеживается только разрыв соединения.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump отправляет сообщения клиенту из канала Send.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Канал закрыт.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			// Отправка ping-сообщения для поддержания соединения.
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
