package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/proficienthub/mockexam-engine/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// watchPollInterval is how often the watcher re-reads attempt state.
const watchPollInterval = 2 * time.Second

// WatchMessage is a frame pushed to attempt watchers
type WatchMessage struct {
	Type    string              `json:"type"`
	Attempt *models.AttemptView `json:"attempt,omitempty"`
	Message string              `json:"message,omitempty"`
}

// handleWatchAttempt streams attempt progress over a websocket. The
// client receives the current view immediately and then an update
// whenever section states change; the stream ends when the attempt
// completes or the client disconnects.
func (s *Server) handleWatchAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "id")
	userID := r.URL.Query().Get("user_id")
	if attemptID == "" || userID == "" {
		http.Error(w, "attempt id and user_id required", http.StatusBadRequest)
		return
	}

	// Verify ownership before upgrading; errors map to plain HTTP here
	// because the websocket handshake has not happened yet.
	view, err := s.orchestrator.GetAttempt(r.Context(), attemptID, userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("attempt watch connected", "attempt_id", attemptID, "user_id", userID)

	if err := sendWatchMessage(conn, WatchMessage{Type: "snapshot", Attempt: view}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The reader only returns when the connection closes, so close it
	// as soon as either goroutine ends the stream.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var wg sync.WaitGroup

	// Reader: we accept no input on this stream, but reading is how
	// gorilla/websocket surfaces the client's close frame.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	// Poller: push a fresh view when the attempt changes.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()

		last := view
		ticker := time.NewTicker(watchPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fresh, err := s.orchestrator.GetAttempt(ctx, attemptID, userID)
				if err != nil {
					sendWatchMessage(conn, WatchMessage{Type: "error", Message: "attempt no longer available"})
					return
				}

				if attemptChanged(last, fresh) {
					if err := sendWatchMessage(conn, WatchMessage{Type: "update", Attempt: fresh}); err != nil {
						return
					}
					last = fresh
				}

				if fresh.Status == models.AttemptCompleted {
					sendWatchMessage(conn, WatchMessage{Type: "completed", Attempt: fresh})
					return
				}
			}
		}
	}()

	wg.Wait()
	slog.Info("attempt watch disconnected", "attempt_id", attemptID)
}

// attemptChanged reports whether anything a watcher cares about moved:
// attempt status, progress, or any section status.
func attemptChanged(prev, curr *models.AttemptView) bool {
	if prev.Status != curr.Status || prev.Progress != curr.Progress {
		return true
	}
	if len(prev.Sections) != len(curr.Sections) {
		return true
	}
	for i := range prev.Sections {
		if prev.Sections[i].Status != curr.Sections[i].Status {
			return true
		}
	}
	return false
}

func sendWatchMessage(conn *websocket.Conn, msg WatchMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal watch message", "error", err)
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("failed to send watch message", "error", err)
		return err
	}
	return nil
}
