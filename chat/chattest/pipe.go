// Package chattest provides an in-memory Transport for exercising chat
// scripts without a modem.
package chattest

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Transaction is one primed exchange. Once the bytes written to the pipe
// contain Get, Put is made available for reading.
type Transaction struct {
	Get string
	Put string
}

// Pipe simulates a modem byte stream. Reads block until data is put or the
// pipe is closed, like a serial port. Writes are recorded and matched
// against the primed transactions in order.
type Pipe struct {
	mu           sync.Mutex
	cond         *sync.Cond
	inbound      bytes.Buffer
	outbound     bytes.Buffer
	pending      bytes.Buffer
	transactions []Transaction
	closed       bool
}

// NewPipe creates an open, empty pipe.
func NewPipe() *Pipe {
	p := &Pipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Read reads data put into the pipe. It returns io.EOF once the pipe is
// closed and drained.
func (p *Pipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.inbound.Len() == 0 {
		if p.closed {
			return 0, io.EOF
		}
		p.cond.Wait()
	}
	return p.inbound.Read(b)
}

// Write records b and answers every primed transaction it completes.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}

	p.outbound.Write(b)
	p.pending.Write(b)

	for len(p.transactions) > 0 {
		t := p.transactions[0]
		i := strings.Index(p.pending.String(), t.Get)
		if i < 0 {
			break
		}
		p.pending.Next(i + len(t.Get))
		p.transactions = p.transactions[1:]
		p.putLocked(t.Put)
	}
	return len(b), nil
}

// Put makes data available for reading.
func (p *Pipe) Put(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.putLocked(data)
}

func (p *Pipe) putLocked(data string) {
	if p.closed || data == "" {
		return
	}
	p.inbound.WriteString(data)
	p.cond.Broadcast()
}

// Get returns the bytes written since the last call to Get or Reset.
func (p *Pipe) Get() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.outbound.String()
	p.outbound.Reset()
	return out
}

// Prime queues transactions behind the ones already primed. A transaction
// with an empty Get is answered at once.
func (p *Pipe) Prime(transactions ...Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range transactions {
		if t.Get == "" && len(p.transactions) == 0 {
			p.putLocked(t.Put)
			continue
		}
		p.transactions = append(p.transactions, t)
	}
}

// Pending returns the number of transactions not yet answered.
func (p *Pipe) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transactions)
}

// Reset drops buffered data and primed transactions.
func (p *Pipe) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inbound.Reset()
	p.outbound.Reset()
	p.pending.Reset()
	p.transactions = nil
}

// Close closes the pipe. Pending reads drain the buffered data and then
// return io.EOF.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	return nil
}
