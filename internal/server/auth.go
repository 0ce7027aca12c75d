package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/apperrors"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/auth"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
			// Anonymous callers are routine; nothing to log.
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{Message: "unauthorized", Code: "auth.unauthorized"})
		return
	}
	identity, err := claims.Identity()
	if err != nil || identity.UserID == "" {
		h.logger.Warn("token carries an unusable identity", zap.String("role", claims.Role), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{Message: "unauthorized", Code: "auth.unauthorized"})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func identityFrom(c *gin.Context) users.Identity {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return users.Identity{}
	}
	identity, _ := value.(users.Identity)
	return identity
}

// requireRole rejects callers whose role is not listed.
func requireRole(identity users.Identity, operation string, roles ...users.Role) error {
	for _, role := range roles {
		if identity.Role == role {
			return nil
		}
	}
	return apperrors.Forbidden(operation, "role_not_allowed", "your role cannot perform this action")
}
