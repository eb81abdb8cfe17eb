package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"waitline/internal/models"
	"waitline/internal/response"
	"waitline/internal/storage"

	"github.com/gin-gonic/gin"
)

type Participant struct {
	EntryID      uint       `json:"entry_id"`
	CustomerName string     `json:"customer_name"`
	PartySize    int        `json:"party_size"`
	Position     int        `json:"position"`
	Status       string     `json:"status"`
	JoinedAt     time.Time  `json:"joined_at"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
}

// QueueStatusResponse содержит статус очереди и список участников.
type QueueStatusResponse struct {
	QueueID      uint          `json:"queue_id"`
	Name         string        `json:"name"`
	IsActive     bool          `json:"is_active"`
	OpensAt      time.Time     `json:"opens_at"`
	ClosesAt     time.Time     `json:"closes_at"`
	Participants []Participant `json:"participants"`
}

// GetQueueStatusHandler возвращает полное состояние очереди для персонала
// @Summary		Получение статуса очереди
// @Description	Возвращает состояние очереди и список ожидающих и приглашённых гостей
// @Tags			queue
// @Produce		json
// @Param			id	path	string	true	"ID очереди"
// @Security		BearerAuth
// @Success		200	{object}	QueueStatusResponse	"Статус очереди"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/queues/{id}/status [get]
func GetQueueStatusHandler(c *gin.Context) {
	queueID, ok := requireMerchantQueue(c)
	if !ok {
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

	// Ожидающие в порядке позиций, затем приглашённые в порядке вызова.
	var entries []models.QueueEntry
	if err := storage.DB.
		Where("queue_id = ? AND status IN ?", queueID,
			[]string{models.StatusWaiting, models.StatusCalled, models.StatusAcknowledged}).
		Order("status DESC, position ASC, called_at ASC").
		Find(&entries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки записей очереди",
			Details: err.Error(),
		})
		return
	}

	participants := make([]Participant, 0, len(entries))
	for _, entry := range entries {
		participants = append(participants, Participant{
			EntryID:      entry.ID,
			CustomerName: entry.CustomerName,
			PartySize:    entry.PartySize,
			Position:     entry.Position,
			Status:       entry.Status,
			JoinedAt:     entry.JoinedAt,
			CalledAt:     entry.CalledAt,
		})
	}

	c.JSON(http.StatusOK, QueueStatusResponse{
		QueueID:      queue.ID,
		Name:         queue.Name,
		IsActive:     queue.IsActive,
		OpensAt:      queue.OpensAt,
		ClosesAt:     queue.ClosesAt,
		Participants: participants,
	})
}

// BoardResponse — публичное табло очереди: только счётчики, без персональных
// данных гостей.
type BoardResponse struct {
	QueueID      uint   `json:"queue_id"`
	Name         string `json:"name"`
	IsActive     bool   `json:"is_active"`
	WaitingCount int    `json:"waiting_count"`
	CalledCount  int    `json:"called_count"`
}

// GetQueueBoardHandler возвращает публичное табло очереди
// @Summary		Публичное табло очереди
// @Description	Возвращает счётчики очереди, кэширует результат в Redis
// @Tags			queue
// @Produce		json
// @Param			id	path	string	true	"ID очереди"
// @Success		200	{object}	BoardResponse	"Счётчики очереди"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Router			/queues/{id}/board [get]
func GetQueueBoardHandler(c *gin.Context) {
	queueID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_QUEUE_ID",
			Message: "Неверный идентификатор очереди",
		})
		return
	}

	// Проверка кэша
	cacheKey := boardCacheKey(uint(queueID))
	if storage.RedisClient != nil {
		cached, err := storage.RedisClient.Get(ctx, cacheKey).Result()
		if err == nil && cached != "" {
			var board BoardResponse
			if err := json.Unmarshal([]byte(cached), &board); err == nil {
				c.JSON(http.StatusOK, board)
				return
			}
		}
	}

	var queue models.Queue
	if err := storage.DB.First(&queue, queueID).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "QUEUE_NOT_FOUND",
			Message: "Очередь не найдена",
		})
		return
	}

	var waiting, called int64
	storage.DB.Model(&models.QueueEntry{}).
		Where("queue_id = ? AND status = ?", queueID, models.StatusWaiting).Count(&waiting)
	storage.DB.Model(&models.QueueEntry{}).
		Where("queue_id = ? AND status = ?", queueID, models.StatusCalled).Count(&called)

	board := BoardResponse{
		QueueID:      queue.ID,
		Name:         queue.Name,
		IsActive:     queue.IsActive,
		WaitingCount: int(waiting),
		CalledCount:  int(called),
	}

	if storage.RedisClient != nil {
		if payload, err := json.Marshal(board); err == nil {
			storage.RedisClient.Set(ctx, cacheKey, payload, 5*time.Second)
		}
	}

	c.JSON(http.StatusOK, board)
}
