package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/realtime"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleEventStream streams the caller's channel as server-sent events until
// the client disconnects.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	identity := identityFrom(c)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, envelope{Message: "streaming unsupported", Code: "http.stream.unsupported"})
		return
	}

	ctx := c.Request.Context()
	channel := realtime.ChannelForUser(identity.UserID)
	messages, unsubscribe := h.dispatcher.Subscribe(ctx, channel)
	defer unsubscribe()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("event stream opened", zap.String("user_id", identity.UserID))
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("event stream closed", zap.String("user_id", identity.UserID))
			return
		case now := <-heartbeat.C:
			fmt.Fprintf(c.Writer, "event: %s\ndata: {\"timestamp\":%d}\n\n", realtime.EventHeartbeat, now.UTC().Unix())
			flusher.Flush()
		case message, open := <-messages:
			if !open {
				return
			}
			payload := message.Payload
			if len(payload) == 0 {
				payload = []byte("{}")
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", message.Event, payload)
			flusher.Flush()
		}
	}
}
