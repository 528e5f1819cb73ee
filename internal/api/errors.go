package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/config"
)

// statusFor HTTP статус по тегу ошибки
func statusFor(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindValidation, apperr.KindInvalidQuantity, apperr.KindInsufficientStock:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindIntegrityConflict:
		return http.StatusConflict
	case apperr.KindLockTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError пишет структурированную ошибку. Unexpected логируется целиком,
// клиент получает только общий текст и correlation_id
func respondError(c *gin.Context, log *logrus.Logger, funcName string, err error) {
	respondErrorStatus(c, log, funcName, err, 0)
}

func respondErrorStatus(c *gin.Context, log *logrus.Logger, funcName string, err error, status int) {
	e := apperr.From(err)
	if status == 0 {
		status = statusFor(e)
	}

	body := gin.H{
		"error":   e.Message,
		"kind":    e.Kind,
		"details": e.Details,
	}
	if e.Details == nil {
		body["details"] = []string{}
	}
	if e.Code != "" {
		body["code"] = e.Code
	}
	if e.Shortage != nil {
		body["ingredient"] = e.Shortage
	}

	if e.Kind == apperr.KindUnexpected {
		body["correlation_id"] = e.CorrelationID
		config.LogError(log, "api", funcName, c.Request.Method+" "+c.FullPath(),
			map[string]string{"correlation_id": e.CorrelationID}, err)
	} else {
		log.WithFields(logrus.Fields{
			"path":   c.FullPath(),
			"kind":   e.Kind,
			"status": status,
		}).Debugf("Запрос отклонен: %s", e.Message)
	}
	c.JSON(status, body)
}

// bindJSON ошибка разбора тела - это ошибка валидации
func bindJSON(c *gin.Context, log *logrus.Logger, funcName string, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		respondError(c, log, funcName, apperr.Validation([]string{"Некорректное тело запроса: " + err.Error()}))
		return false
	}
	return true
}

// pathID :id из пути
func pathID(c *gin.Context, log *logrus.Logger, funcName string) (uint, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		respondError(c, log, funcName, apperr.Validation([]string{"Некорректный идентификатор: " + raw}))
		return 0, false
	}
	return uint(id), true
}
