package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamEvents replays a job's events as server-sent events and ends after
// the terminal one.
func (h *Handler) streamEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.deps.Jobs.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	ch := h.deps.Hub.Subscribe(c.Request.Context(), id)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		e, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent(e.Type(), e)
		return true
	})
}

// websocketEvents sends the same events as JSON text frames.
func (h *Handler) websocketEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.deps.Jobs.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.deps.Logger.WithField("job_id", id).Warnf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for e := range h.deps.Hub.Subscribe(ctx, id) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(wsWriteTimeout))
}
