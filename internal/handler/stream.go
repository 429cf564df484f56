package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// Stream is the dashboard's server-sent event feed. It starts with a "ready"
// event once the subscription is live, then relays hub events by type.
func (h *Handler) Stream(c *gin.Context) {
	sub := h.hub.Subscribe()
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"at": time.Now().UTC()})
	c.Writer.Flush()

	ping := time.NewTicker(h.keepalive)
	defer ping.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Type), string(evt.Payload))
			return true
		case t := <-ping.C:
			c.SSEvent("ping", t.Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
