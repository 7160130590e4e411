package devserver

import (
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
)

const (
	provisioningBanner = "Your lab environment is being created, please wait...\r\n"
	readyBanner        = "Lab environment connected successfully!\r\n"
	setupFailedReason  = "Lab setup failed"
)

// handleTerminalWS bridges a lab terminal socket to a real shell. Inbound
// messages are raw keystrokes, outbound messages are raw shell output.
func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
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
		s.logger.Warn("terminal upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeText := func(text string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, []byte(text))
	}
	closeWith := func(code int, reason string) {
		writeMu.Lock()
		defer writeMu.Unlock()
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	}

	if err := writeText(provisioningBanner); err != nil {
		return
	}
	if s.provisionDelay > 0 {
		time.Sleep(s.provisionDelay)
	}

	if session.Status == SessionFailed || s.failProvisioning {
		closeWith(websocket.CloseInternalServerErr, setupFailedReason)
		return
	}

	cmd := exec.Command(s.shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		s.logger.Error("start shell", "session", id, "error", err)
		closeWith(websocket.CloseInternalServerErr, setupFailedReason)
		return
	}
	defer func() {
		_ = ptmx.Close()
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}()

	if err := writeText(readyBanner); err != nil {
		return
	}

	// Shell output pump.
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if err != nil {
				closeWith(websocket.CloseGoingAway, "shell exited")
				return
			}
			if n > 0 {
				if err := writeText(string(buf[:n])); err != nil {
					return
				}
			}
		}
	}()

	// Keystroke pump.
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if _, err := ptmx.Write(message); err != nil {
			s.logger.Warn("shell write failed", "session", id, "error", err)
			break
		}
	}

	_ = ptmx.Close()
	<-done
}
