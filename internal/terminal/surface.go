// Package terminal maintains the interactive shell connection for a lab session:
// a terminal surface kept in sync with the remote shell over a raw WebSocket
// byte pipe, with bounded reconnection when the connection drops.
package terminal

// Surface is the rendering target for the remote shell byte stream. A fresh
// surface is created for every connection attempt; Close releases it.
type Surface interface {
	Write(p []byte) (int, error)
	// Clear wipes the scrollback before a reconnect.
	Clear()
	// Fit re-measures the surface after the window hosting it resized.
	Fit()
	Close() error
}

// KeySource delivers local keystrokes to a subscriber. Subscribe returns a
// cancel function that releases the subscription; after cancel returns the
// handler is never called again.
type KeySource interface {
	Subscribe(handler func(data []byte)) (cancel func(), err error)
}
