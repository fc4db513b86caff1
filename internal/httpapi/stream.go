package httpapi

import (
	"fmt"
	"net/http"

	"omnidesk/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// StreamHandler serves the dashboard event stream: a long-lived
// text/event-stream connection fed by the broadcast hub. Clients reconnect on
// their own; no resume or replay token is issued.
type StreamHandler struct {
	Hub *events.Hub

	// Buffer bounds the per-connection backlog; a subscriber that stops
	// draining it gets pruned on the next broadcast.
	Buffer int
}

func (h StreamHandler) Stream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	id := uuid.NewString()
	sink := events.NewChanSink(h.Buffer)
	h.Hub.Subscribe(id, sink)
	defer h.Hub.Unsubscribe(id)

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sink.C:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", msg.Type, msg.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
