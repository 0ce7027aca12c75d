package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/apperrors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// envelope is the body shape of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Code    string `json:"code,omitempty"`
}

func respondOK(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func statusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindForbidden:
		return http.StatusForbidden
	case apperrors.KindTableUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error envelope. data is attached when a partially
// completed operation still has a result worth returning.
func (h *httpHandler) respondError(c *gin.Context, err error, data any) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		h.logger.Error("unclassified request failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, envelope{Message: "internal error", Code: "internal", Data: data})
		return
	}
	status := statusForKind(appErr.Kind())
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", appErr.Code()), zap.Error(err))
	}
	c.JSON(status, envelope{Message: appErr.Message(), Code: appErr.Code(), Data: data})
}

func (h *httpHandler) respondInvalidBody(c *gin.Context, operation string, err error) {
	h.respondError(c, apperrors.Validation(operation, "invalid_body", "request body is invalid: "+err.Error()), nil)
}
