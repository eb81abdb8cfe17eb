package handlers

import (
	"net/http"
	"strconv"

	"waitline/internal/models"
	"waitline/internal/queue"
	"waitline/internal/response"
	"waitline/internal/storage"

	"github.com/gin-gonic/gin"
)

type JoinRequest struct {
	Name      string `json:"name" binding:"required"`
	Phone     string `json:"phone"`
	PartySize int    `json:"party_size" binding:"required"`
	// SessionToken позволяет идемпотентно повторить вступление: при живой
	// записи с этим токеном вернётся она же, без дубликата.
	SessionToken string `json:"session_token"`
}

// JoinQueueHandler обрабатывает вступление гостя в очередь
// @Summary		Вступление в очередь
// @Description	Добавляет гостя в хвост очереди, возвращает позицию и токен сессии
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			id		path		string		true	"ID очереди"
// @Param			guest	body		JoinRequest	true	"Данные гостя"
// @Success		200	{object}	response.JoinResponse	"Успешное вступление в очередь"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_QUEUE_ID, INVALID_PARTY, QUEUE_NOT_ACCEPTING)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/queues/{id}/join [post]
func JoinQueueHandler(c *gin.Context) {
	queueID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_QUEUE_ID",
			Message: "Неверный идентификатор очереди",
		})
		return
	}

	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	entry, err := Dispatcher.Join(uint(queueID), req.Name, req.Phone, req.SessionToken, req.PartySize)
	if err != nil {
		respondQueueError(c, err)
		return
	}
	invalidateBoardCache(uint(queueID))

	token := ""
	if entry.SessionToken != nil {
		token = *entry.SessionToken
	}
	c.JSON(http.StatusOK, response.JoinResponse{
		EntryID:      entry.ID,
		Position:     entry.Position,
		SessionToken: token,
	})
}

// CallNextHandler приглашает следующего гостя очереди
// @Summary		Вызов следующего гостя
// @Description	Приглашает ожидающего гостя с минимальной позицией и выдаёт ему код подтверждения
// @Tags			queue
// @Produce		json
// @Param			id	path	string	true	"ID очереди"
// @Security		BearerAuth
// @Success		200	{object}	map[string]interface{}	"Приглашённая запись с кодом"
// @Failure		400	{object}	response.ErrorResponse	"Очередь закрыта (QUEUE_CLOSED)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Очередь пуста (QUEUE_EMPTY)"
// @Router			/api/queues/{id}/call-next [post]
func CallNextHandler(c *gin.Context) {
	queueID, ok := requireMerchantQueue(c)
	if !ok {
		return
	}

	entry, err := Dispatcher.CallNext(queueID)
	if err != nil {
		respondQueueError(c, err)
		return
	}
	invalidateBoardCache(queueID)

	c.JSON(http.StatusOK, gin.H{
		"entry_id":          entry.ID,
		"customer_name":     entry.CustomerName,
		"verification_code": entry.VerificationCode,
		"called_at":         entry.CalledAt,
	})
}

// CallEntryHandler приглашает конкретного гостя очереди
// @Summary		Вызов конкретного гостя
// @Description	Приглашает указанного ожидающего гостя вне общего порядка
// @Tags			queue
// @Produce		json
// @Param			id		path	string	true	"ID очереди"
// @Param			entryID	path	string	true	"ID записи"
// @Security		BearerAuth
// @Success		200	{object}	map[string]interface{}	"Приглашённая запись с кодом"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Запись не ожидает (ENTRY_NOT_WAITING)"
// @Router			/api/queues/{id}/entries/{entryID}/call [post]
func CallEntryHandler(c *gin.Context) {
	queueID, ok := requireMerchantQueue(c)
	if !ok {
		return
	}
	entryID, err := strconv.Atoi(c.Param("entryID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_ENTRY_ID",
			Message: "Неверный идентификатор записи",
		})
		return
	}

	entry, err := Dispatcher.CallSpecific(queueID, uint(entryID))
	if err != nil {
		respondQueueError(c, err)
		return
	}
	invalidateBoardCache(queueID)

	c.JSON(http.StatusOK, gin.H{
		"entry_id":          entry.ID,
		"customer_name":     entry.CustomerName,
		"verification_code": entry.VerificationCode,
		"called_at":         entry.CalledAt,
	})
}

type AcknowledgeRequest struct {
	Code string `json:"code" binding:"required"`
}

// AcknowledgeHandler обрабатывает подтверждение приглашения гостем
// @Summary		Подтверждение приглашения
// @Description	Гость подтверждает приглашение кодом; сравнение без учёта регистра
// @Tags			entry
// @Accept			json
// @Produce		json
// @Param			id		path	string				true	"ID записи"
// @Param			code	body	AcknowledgeRequest	true	"Код подтверждения"
// @Success		200	{object}	response.SuccessResponse	"Приглашение подтверждено"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Конфликт состояния (NOT_CALLED, CODE_MISMATCH, ENTRY_ALREADY_FINAL)"
// @Router			/entries/{id}/acknowledge [post]
func AcknowledgeHandler(c *gin.Context) {
	entryID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_ENTRY_ID",
			Message: "Неверный идентификатор записи",
		})
		return
	}

	var req AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	entry, err := Dispatcher.Acknowledge(uint(entryID), req.Code)
	if err != nil {
		respondQueueError(c, err)
		return
	}
	invalidateBoardCache(entry.QueueID)

	c.JSON(http.StatusOK, response.SuccessResponse{
		Message: "Приглашение подтверждено",
	})
}

type CustomerCancelRequest struct {
	SessionToken string `json:"session_token" binding:"required"`
}

// CancelOwnEntryHandler обрабатывает отмену записи самим гостем
// @Summary		Отмена записи гостем
// @Description	Гость покидает очередь; требуется токен сессии записи
// @Tags			entry
// @Accept			json
// @Produce		json
// @Param			id		path	string					true	"ID записи"
// @Param			token	body	CustomerCancelRequest	true	"Токен сессии"
// @Success		200	{object}	response.SuccessResponse	"Запись отменена"
// @Failure		403	{object}	response.ErrorResponse	"Чужой токен сессии (SESSION_MISMATCH)"
// @Failure		409	{object}	response.ErrorResponse	"Конфликт состояния (ENTRY_ALREADY_FINAL, ENTRY_NOT_WAITING)"
// @Router			/entries/{id}/cancel [post]
func CancelOwnEntryHandler(c *gin.Context) {
	entryID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_ENTRY_ID",
			Message: "Неверный идентификатор записи",
		})
		return
	}

	var req CustomerCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	var entry models.QueueEntry
	if err := storage.DB.First(&entry, entryID).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "ENTRY_NOT_FOUND",
			Message: "Запись не найдена",
		})
		return
	}
	if entry.SessionToken == nil || *entry.SessionToken != req.SessionToken {
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "SESSION_MISMATCH",
			Message: "Токен сессии не соответствует записи",
		})
		return
	}

	cancelled, err := Dispatcher.Cancel(uint(entryID), queue.ActorCustomer)
	if err != nil {
		respondQueueError(c, err)
		return
	}
	invalidateBoardCache(cancelled.QueueID)

	c.JSON(http.StatusOK, response.SuccessResponse{
		Message: "Вы успешно покинули очередь",
	})
}

// CancelEntryHandler обрабатывает отмену записи персоналом
// @Summary		Отмена записи персоналом
// @Description	Персонал снимает гостя с очереди или отменяет приглашение
// @Tags			entry
// @Produce		json
// @Param			id	path	string	true	"ID записи"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Запись отменена"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Конфликт состояния (ENTRY_ALREADY_FINAL, ENTRY_NOT_WAITING)"
// @Router			/api/entries/{id}/cancel [post]
func CancelEntryHandler(c *gin.Context) {
	entryID, ok := requireMerchantEntry(c)
	if !ok {
		return
	}

	cancelled, err := Dispatcher.Cancel(entryID, queue.ActorStaff)
	if err != nil {
		respondQueueError(c, err)
		return
	}
	invalidateBoardCache(cancelled.QueueID)

	c.JSON(http.StatusOK, response.SuccessResponse{
		Message: "Запись отменена",
	})
}

type SeatRequest struct {
	// Override позволяет посадить гостя сразу из окна подтверждения,
	// минуя код (решение персонала на месте).
	Override bool `json:"override"`
}

// SeatEntryHandler обрабатывает посадку гостя
// @Summary		Посадка гостя
// @Description	Сажает подтверждённого гостя за стол; с override — сразу из окна подтверждения
// @Tags			entry
// @Accept			json
// @Produce		json
// @Param			id		path	string		true	"ID записи"
// @Param			body	body	SeatRequest	false	"Параметры посадки"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Гость посажен"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Конфликт состояния (NOT_ACKNOWLEDGED, ENTRY_ALREADY_FINAL)"
// @Router			/api/entries/{id}/seat [post]
func SeatEntryHandler(c *gin.Context) {
	entryID, ok := requireMerchantEntry(c)
	if !ok {
		return
	}

	var req SeatRequest
	_ = c.ShouldBindJSON(&req)

	seated, err := Dispatcher.Seat(entryID, req.Override)
	if err != nil {
		respondQueueError(c, err)
		return
	}
	invalidateBoardCache(seated.QueueID)

	c.JSON(http.StatusOK, response.SuccessResponse{
		Message: "Гость посажен за стол",
	})
}

// requireMerchantQueue проверяет, что очередь из URL принадлежит заведению
// авторизованного сотрудника.
func requireMerchantQueue(c *gin.Context) (uint, bool) {
	queueID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_QUEUE_ID",
			Message: "Неверный идентификатор очереди",
		})
		return 0, false
	}

	var q models.Queue
	if err := storage.DB.First(&q, queueID).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "QUEUE_NOT_FOUND",
			Message: "Очередь не найдена",
		})
		return 0, false
	}
	if q.MerchantID != c.GetUint("merchantID") {
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "FORBIDDEN",
			Message: "Очередь принадлежит другому заведению",
		})
		return 0, false
	}
	return q.ID, true
}

// requireMerchantEntry проверяет, что запись из URL принадлежит очереди
// заведения авторизованного сотрудника.
func requireMerchantEntry(c *gin.Context) (uint, bool) {
	entryID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_ENTRY_ID",
			Message: "Неверный идентификатор записи",
		})
		return 0, false
	}

	var entry models.QueueEntry
	if err := storage.DB.First(&entry, entryID).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "ENTRY_NOT_FOUND",
			Message: "Запись не найдена",
		})
		return 0, false
	}
	var q models.Queue
	if err := storage.DB.First(&q, entry.QueueID).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "QUEUE_NOT_FOUND",
			Message: "Очередь не найдена",
		})
		return 0, false
	}
	if q.MerchantID != c.GetUint("merchantID") {
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "FORBIDDEN",
			Message: "Запись принадлежит другому заведению",
		})
		return 0, false
	}
	return entry.ID, true
}
