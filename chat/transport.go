package chat

import "io"

// Transport is the byte pipe a Chat is attached to.
//
// Read is called from a single goroutine per transport, shared by every
// chat attached to it over time, and should block until data is available.
// The goroutine ends when Read returns an error. Write is called with one
// complete request, delimiter included. A Transport is not closed by the
// chat and must be comparable, typically a pointer.
type Transport interface {
	io.ReadWriter
}
