package realtime

import (
	"encoding/json"
	"net/http"
	"sync"

	"crosspost/domain/model"

	"github.com/gin-gonic/gin"
)

// Hub maintains per-user SSE subscribers listening for publish-job progress.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[chan model.JobSnapshot]struct{}
}

func NewProgressHub() *Hub {
	return &Hub{users: make(map[string]map[chan model.JobSnapshot]struct{})}
}

// Serve registers an SSE stream for the authenticated user (user_id set by middleware).
func (h *Hub) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // disable nginx buffering

	ch := make(chan model.JobSnapshot, 16)
	h.addSubscriber(userID, ch)
	defer h.removeSubscriber(userID, ch)

	// Initial comment to keep connection open
	_, _ = c.Writer.Write([]byte(":ok\n\n"))
	c.Writer.Flush()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(snap)
			_, _ = c.Writer.Write([]byte("event: job_progress\n"))
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write(data)
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Hub) addSubscriber(userID string, ch chan model.JobSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[chan model.JobSnapshot]struct{})
	}
	h.users[userID][ch] = struct{}{}
}

func (h *Hub) removeSubscriber(userID string, ch chan model.JobSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.users[userID]; subs != nil {
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.users, userID)
		}
	}
}

// Broadcast fans a job snapshot out to every subscriber of the owning user,
// dropping events for slow consumers rather than blocking the job.
func (h *Hub) Broadcast(userID string, snap model.JobSnapshot) {
	h.mu.RLock()
	subs := h.users[userID]
	for ch := range subs {
		select { // non-blocking
		case ch <- snap:
		default:
		}
	}
	h.mu.RUnlock()
}
