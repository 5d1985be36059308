package chat

import (
	"bytes"
	"fmt"
	"reflect"
	"sync"
)

// readChunkSize is the size of a single transport read.
const readChunkSize = 256

// readers holds the reader of every transport that was attached at least
// once and has not failed yet. A blocked Read cannot be interrupted, so a
// transport keeps its reader across Release and the next Attach adopts it.
var readers = struct {
	sync.Mutex
	m map[Transport]*reader
}{m: make(map[Transport]*reader)}

// sink receives the chunks of a reader on behalf of one attachment.
type sink struct {
	chunks chan []byte
	errs   chan error
	// detached is closed when the attachment ends. Chunks read afterwards
	// are dropped.
	detached chan struct{}
	once     sync.Once
}

func newSink() *sink {
	return &sink{
		chunks:   make(chan []byte, 16),
		errs:     make(chan error, 1),
		detached: make(chan struct{}),
	}
}

// reader is the single goroutine reading a transport.
type reader struct {
	transport Transport

	mu   sync.Mutex
	sink *sink
}

// attachReader connects s to the reader of transport, starting one if
// needed.
func attachReader(transport Transport, s *sink) error {
	if !reflect.TypeOf(transport).Comparable() {
		return fmt.Errorf("transport %T is not comparable: %w", transport, ErrInvalidArgument)
	}

	readers.Lock()
	defer readers.Unlock()

	r, ok := readers.m[transport]
	if !ok {
		r = &reader{transport: transport}
		readers.m[transport] = r
		go r.read()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sink != nil {
		return fmt.Errorf("transport in use: %w", ErrAlreadyAttached)
	}
	r.sink = s
	return nil
}

// detachReader disconnects s from the reader of transport. It may be
// called more than once.
func detachReader(transport Transport, s *sink) {
	s.once.Do(func() { close(s.detached) })

	readers.Lock()
	r, ok := readers.m[transport]
	readers.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	if r.sink == s {
		r.sink = nil
	}
	r.mu.Unlock()
}

func (r *reader) current() *sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink
}

func (r *reader) read() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.transport.Read(buf)
		if n > 0 {
			if s := r.current(); s != nil {
				select {
				case s.chunks <- bytes.Clone(buf[:n]):
				case <-s.detached:
				}
			}
		}
		if err != nil {
			r.fail(err)
			return
		}
	}
}

// fail retires the reader and reports err to the attached chat.
func (r *reader) fail(err error) {
	readers.Lock()
	if readers.m[r.transport] == r {
		delete(readers.m, r.transport)
	}
	readers.Unlock()

	if s := r.current(); s != nil {
		select {
		case s.errs <- err:
		case <-s.detached:
		}
	}
}
