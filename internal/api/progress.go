package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bobarin/storyreel/internal/events"
	"github.com/bobarin/storyreel/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS middleware in front of the router.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// wireEvent is the observer-facing event shape.
type wireEvent struct {
	Type     string             `json:"type"`
	Stage    string             `json:"stage,omitempty"`
	Progress int                `json:"progress,omitempty"`
	Message  string             `json:"message,omitempty"`
	Result   *models.FinalVideo `json:"result,omitempty"`
	Kind     models.ErrorKind   `json:"kind,omitempty"`
	Detail   string             `json:"detail,omitempty"`
}

func toWire(e events.Event) wireEvent {
	return wireEvent{
		Type:     string(e.Type),
		Stage:    string(e.Stage),
		Progress: e.Progress,
		Message:  e.Message,
		Result:   e.Result,
		Kind:     e.Kind,
		Detail:   e.Detail,
	}
}

// JobProgress handles GET /v1/jobs/{id}/progress — upgrades to a WebSocket
// and relays the job's event stream. A late joiner gets the latest event
// first; the connection closes after the terminal event.
func (h *Handler) JobProgress(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	if _, ok := h.engine.Job(jobID); !ok {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] WebSocket upgrade failed for job %s: %v", jobID, err)
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(jobID)
	defer sub.Close()

	// Drain client frames so pings/close are processed; relay stops when the
	// client goes away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				// Terminal event delivered (or subscription closed) — say
				// goodbye cleanly.
				deadline := time.Now().Add(writeTimeout)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			payload, err := json.Marshal(toWire(event))
			if err != nil {
				log.Printf("[API] Failed to marshal event for job %s: %v", jobID, err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("[API] WebSocket write failed for job %s: %v", jobID, err)
				return
			}

		case <-sub.Dropped():
			// The bus dropped us as a slow consumer; tell the client why.
			deadline := time.Now().Add(writeTimeout)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "slow_consumer"), deadline)
			return

		case <-clientGone:
			return
		}
	}
}
