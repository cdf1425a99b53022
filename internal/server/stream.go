package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type realtimeEventPayload struct {
	Source    string `json:"source"`
	Level     int    `json:"level,omitempty"`
	XP        int64  `json:"xp,omitempty"`
	MediaID   string `json:"media_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

func newRealtimeEventPayload(message RealtimeMessage) realtimeEventPayload {
	return realtimeEventPayload{
		Source:    realtimeSourceBackend,
		Level:     message.Level,
		XP:        message.XP,
		MediaID:   message.MediaID,
		Timestamp: message.Timestamp.UTC().Format(time.RFC3339),
	}
}

// handleEvents streams the caller's realtime events as server-sent events.
// A heartbeat is written on connect and on every heartbeat interval.
func (h *httpHandler) handleEvents(c *gin.Context) {
	userID := currentUserID(c).String()
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	heartbeat := func() {
		c.SSEvent(realtimeEventHeartbeat, newRealtimeEventPayload(RealtimeMessage{Timestamp: h.clock()}))
	}
	heartbeat()
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, newRealtimeEventPayload(message))
			return true
		case <-ticker.C:
			heartbeat()
			return true
		}
	})
}
