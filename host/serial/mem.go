package serial

import (
	"bytes"
	"io"
	"sync"
)

// MemPort is an in-memory Port. Writes accumulate until taken with Written;
// reads return data queued with Inject.
type MemPort struct {
	mu      sync.Mutex
	written bytes.Buffer
	input   bytes.Buffer
	closed  bool
}

func NewMemPort() *MemPort {
	return &MemPort{}
}

func (p *MemPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if p.input.Len() == 0 {
		return 0, nil
	}
	return p.input.Read(b)
}

func (p *MemPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.written.Write(b)
}

func (p *MemPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *MemPort) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input.Reset()
	return nil
}

// Inject queues data to be returned by Read
func (p *MemPort) Inject(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input.Write(data)
}

// Written returns and clears everything written so far
func (p *MemPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := append([]byte(nil), p.written.Bytes()...)
	p.written.Reset()
	return out
}

// Closed reports whether Close was called
func (p *MemPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
