package handlers

import (
	"net/http"
	"time"

	"waitline/internal/models"
	"waitline/internal/notify"
	"waitline/internal/response"
	"waitline/internal/storage"
	"waitline/internal/ws"

	"github.com/gin-gonic/gin"
)

type CreateQueueRequest struct {
	Name         string    `json:"name" binding:"required"`
	OpensAt      time.Time `json:"opens_at" binding:"required"`
	ClosesAt     time.Time `json:"closes_at" binding:"required"`
	MaxPartySize int       `json:"max_party_size"`
}

// CreateQueueHandler создаёт очередь заведения
// @Summary		Создание очереди
// @Description	Создаёт лист ожидания заведения с окном работы
// @Tags			queue-admin
// @Accept			json
// @Produce		json
// @Param			queue	body	CreateQueueRequest	true	"Параметры очереди"
// @Security		BearerAuth
// @Success		201	{object}	map[string]interface{}	"Созданная очередь"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/queues [post]
func CreateQueueHandler(c *gin.Context) {
	var req CreateQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}
	if !req.ClosesAt.After(req.OpensAt) {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Время закрытия должно быть позже времени открытия",
		})
		return
	}

	q := models.Queue{
		MerchantID:   c.GetUint("merchantID"),
		Name:         req.Name,
		OpensAt:      req.OpensAt,
		ClosesAt:     req.ClosesAt,
		IsActive:     true,
		MaxPartySize: req.MaxPartySize,
	}
	if err := storage.DB.Create(&q).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при создании очереди",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"queue_id":  q.ID,
		"name":      q.Name,
		"opens_at":  q.OpensAt,
		"closes_at": q.ClosesAt,
		"is_active": q.IsActive,
	})
}

// OpenQueueHandler открывает очередь для новых гостей
// @Summary		Открытие очереди
// @Tags			queue-admin
// @Produce		json
// @Param			id	path	string	true	"ID очереди"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Очередь открыта"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Router			/api/queues/{id}/open [patch]
func OpenQueueHandler(c *gin.Context) {
	setQueueActive(c, true)
}

// CloseQueueHandler закрывает очередь для новых гостей
// @Summary		Закрытие очереди
// @Description	Закрывает очередь; уже ожидающие гости остаются в ней
// @Tags			queue-admin
// @Produce		json
// @Param			id	path	string	true	"ID очереди"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Очередь закрыта"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Router			/api/queues/{id}/close [patch]
func CloseQueueHandler(c *gin.Context) {
	setQueueActive(c, false)
}

func setQueueActive(c *gin.Context, active bool) {
	queueID, ok := requireMerchantQueue(c)
	if !ok {
		return
	}

	if err := storage.DB.Model(&models.Queue{}).Where("id = ?", queueID).
		Update("is_active", active).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при обновлении очереди",
			Details: err.Error(),
		})
		return
	}
	invalidateBoardCache(queueID)

	if !active {
		ws.HubInstance.Publish(notify.MerchantChannel(c.GetUint("merchantID")), notify.Event{
			EventType: notify.EventQueueClosed,
			Channel:   string(notify.MerchantChannel(c.GetUint("merchantID"))),
			Data:      map[string]interface{}{"queue_id": queueID},
		})
		c.JSON(http.StatusOK, response.SuccessResponse{Message: "Очередь закрыта"})
		return
	}
	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Очередь открыта"})
}
