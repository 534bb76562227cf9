// Package transport provides the byte transports a link runs over.
//
// A Transport never blocks the caller for long: Read returns whatever is
// already buffered and Write either accepts the whole frame or reports false
// so the caller can retry later.
package transport

import "errors"

var (
	ErrClosed = errors.New("transport: closed")
)

type Transport interface {
	// Read copies up to len(p) buffered bytes into p. It returns 0 when
	// nothing is available.
	Read(p []byte) int
	// Write hands p to the transport. false means "busy, retry".
	Write(p []byte) bool
	// SetNotify registers the data-available callback. fn may be invoked from
	// any goroutine.
	SetNotify(fn func())
}
