package devserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// handleTimerWS streams the session countdown. The server owns the clock and
// the formatting; the client displays whatever it receives.
func (s *Server) handleTimerWS(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	session, err := s.store.GetSession(id)
	if err != nil {
		s.logger.Error("get session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("timer upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send := func(text string) error {
		return conn.WriteMessage(websocket.TextMessage, []byte(text))
	}
	closeNormal := func() {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}

	if session.Status == SessionFailed {
		_ = send("SETUP_FAILED")
		closeNormal()
		return
	}

	// Drain inbound frames so close handshakes are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.timerTick)
	defer ticker.Stop()

	for {
		remaining := time.Until(session.Deadline)
		if remaining <= 0 {
			_ = send("TIME_UP")
			closeNormal()
			return
		}
		if err := send(formatCountdown(remaining)); err != nil {
			return
		}

		select {
		case <-ticker.C:
		case <-clientGone:
			return
		}
	}
}

// formatCountdown renders a remaining duration as MM:SS, growing to
// H:MM:SS past an hour.
func formatCountdown(d time.Duration) string {
	total := int(d.Round(time.Second).Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
