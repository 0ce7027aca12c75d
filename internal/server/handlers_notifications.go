package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/notifications"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
	"github.com/gin-gonic/gin"
)

const opHTTPSendNotification = "http.send_notification"

func (h *httpHandler) handleSendNotification(c *gin.Context) {
	if err := requireRole(identityFrom(c), opHTTPSendNotification, users.RoleAdmin); err != nil {
		h.respondError(c, err, nil)
		return
	}
	var request notifications.SendRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, opHTTPSendNotification, err)
		return
	}
	result, err := h.notifications.Send(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusCreated, "notification sent", result)
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	unread, err := h.notifications.GetUserNotifications(c.Request.Context(), identityFrom(c).UserID)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "", unread)
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	notification, err := h.notifications.MarkAsRead(c.Request.Context(), c.Param("id"), identityFrom(c).UserID)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "notification marked as read", notification)
}
