package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"waitline/internal/queue"
	"waitline/internal/response"
	"waitline/internal/storage"
	"waitline/internal/vercode"

	"github.com/gin-gonic/gin"
)

// Dispatcher — диспетчер очередей, устанавливается при старте приложения.
var Dispatcher *queue.Dispatcher

var ctx = context.Background()

// respondQueueError переводит ошибки ядра очереди в коды ответа API.
// Конфликты состояний (409) — нормальные исходы конкурентной работы, а не
// ошибки сервера.
func respondQueueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidParty):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_PARTY",
			Message: "Недопустимый размер компании",
		})
	case errors.Is(err, queue.ErrQueueNotFound):
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "QUEUE_NOT_FOUND",
			Message: "Очередь не найдена",
		})
	case errors.Is(err, queue.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "ENTRY_NOT_FOUND",
			Message: "Запись не найдена",
		})
	case errors.Is(err, queue.ErrQueueNotAccepting):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "QUEUE_NOT_ACCEPTING",
			Message: "Очередь не принимает новых гостей",
		})
	case errors.Is(err, queue.ErrQueueClosed):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "QUEUE_CLOSED",
			Message: "Очередь закрыта",
		})
	case errors.Is(err, queue.ErrQueueEmpty):
		c.JSON(http.StatusConflict, response.ErrorResponse{
			Code:    "QUEUE_EMPTY",
			Message: "В очереди нет ожидающих гостей",
		})
	case errors.Is(err, queue.ErrEntryNotWaiting):
		c.JSON(http.StatusConflict, response.ErrorResponse{
			Code:    "ENTRY_NOT_WAITING",
			Message: "Запись не в статусе ожидания",
		})
	case errors.Is(err, queue.ErrNotCalled):
		c.JSON(http.StatusConflict, response.ErrorResponse{
			Code:    "NOT_CALLED",
			Message: "Гость не был приглашён",
		})
	case errors.Is(err, queue.ErrNotAcknowledged):
		c.JSON(http.StatusConflict, response.ErrorResponse{
			Code:    "NOT_ACKNOWLEDGED",
			Message: "Приглашение не подтверждено гостем",
		})
	case errors.Is(err, queue.ErrCodeMismatch):
		c.JSON(http.StatusConflict, response.ErrorResponse{
			Code:    "CODE_MISMATCH",
			Message: "Код подтверждения не совпадает",
		})
	case errors.Is(err, queue.ErrEntryAlreadyFinal):
		c.JSON(http.StatusConflict, response.ErrorResponse{
			Code:    "ENTRY_ALREADY_FINAL",
			Message: "Запись уже в терминальном статусе",
		})
	case errors.Is(err, vercode.ErrExhaustedKeyspace):
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "KEYSPACE_EXHAUSTED",
			Message: "Свободные коды подтверждения закончились",
		})
	default:
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Внутренняя ошибка сервера",
			Details: err.Error(),
		})
	}
}

func boardCacheKey(queueID uint) string {
	return fmt.Sprintf("queue_board_%d", queueID)
}

// invalidateBoardCache сбрасывает кэш публичного табло очереди после мутации.
func invalidateBoardCache(queueID uint) {
	if storage.RedisClient == nil {
		return
	}
	storage.RedisClient.Del(ctx, boardCacheKey(queueID))
}
