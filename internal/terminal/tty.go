package terminal

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/term"
)

// TTY adapts the local terminal for a lab session: stdout is the Surface and
// raw-mode stdin is the KeySource. One TTY is opened per attached session;
// Close restores the terminal state.
type TTY struct {
	in       *os.File
	out      *os.File
	oldState *term.State
	stopped  atomic.Bool
}

// OpenTTY puts stdin into raw mode so keystrokes (including control
// sequences) pass through unmodified.
func OpenTTY() (*TTY, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("set raw mode: %w", err)
	}
	return &TTY{in: os.Stdin, out: os.Stdout, oldState: oldState}, nil
}

// Close restores the terminal to its previous mode.
func (t *TTY) Close() error {
	t.stopped.Store(true)
	if t.oldState == nil {
		return nil
	}
	err := term.Restore(int(t.in.Fd()), t.oldState)
	t.oldState = nil
	return err
}

// NewSurface returns a fresh session surface over this tty. Creating one
// clears the screen, matching a fresh scrollback on reconnect.
func (t *TTY) NewSurface() Surface {
	s := &ttySurface{out: t.out}
	s.Clear()
	return s
}

// Subscribe pumps raw stdin bytes to the handler. The read on stdin cannot
// be interrupted portably, so cancel only silences the handler; the pump
// goroutine exits on the next read or at process exit.
func (t *TTY) Subscribe(handler func(data []byte)) (func(), error) {
	var cancelled atomic.Bool
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := t.in.Read(buf)
			if cancelled.Load() || t.stopped.Load() {
				return
			}
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				handler(data)
			}
			if err != nil {
				return
			}
		}
	}()
	return func() { cancelled.Store(true) }, nil
}

// ResizeEvents returns a channel that receives a value whenever the hosting
// window is resized, plus a stop function releasing the signal handler.
func ResizeEvents() (<-chan struct{}, func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)

	events := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				select {
				case events <- struct{}{}:
				default:
				}
			}
		}
	}()
	return events, func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// ttySurface writes the shell byte stream straight to stdout.
type ttySurface struct {
	out *os.File
}

func (s *ttySurface) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

// Clear wipes the screen and homes the cursor.
func (s *ttySurface) Clear() {
	_, _ = s.out.WriteString("\x1b[2J\x1b[H")
}

// Fit is a no-op locally; the remote side owns the pty dimensions.
func (s *ttySurface) Fit() {}

// Close detaches the surface. The tty itself is restored by TTY.Close.
func (s *ttySurface) Close() error { return nil }
