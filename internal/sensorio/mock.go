package sensorio

import (
	"bytes"
	"errors"
	"sync"

	"go.bug.st/serial"
)

// ErrPortClosed is returned by MockPort after Close.
var ErrPortClosed = errors.New("serial port closed")

// MockPort implements SerialPorter for tests. Reads drain ReadBuffer and
// return io.EOF once it is empty, unless BlockReads is set.
type MockPort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// ReadError is returned once by the next Read.
	ReadError error
	// BlockReads makes Read wait for data or Close instead of returning EOF.
	BlockReads bool

	closed   bool
	readCond *sync.Cond
}

// NewMockPort returns a port that will read data.
func NewMockPort(data []byte) *MockPort {
	p := &MockPort{}
	p.readCond = sync.NewCond(&p.mu)
	p.readBuf.Write(data)
	return p
}

func (p *MockPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrPortClosed
	}
	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}
	for p.BlockReads && !p.closed && p.readBuf.Len() == 0 {
		p.readCond.Wait()
	}
	if p.closed {
		return 0, ErrPortClosed
	}
	return p.readBuf.Read(b)
}

func (p *MockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrPortClosed
	}
	return p.writeBuf.Write(b)
}

// Close marks the port closed and wakes blocked readers.
func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.readCond.Broadcast()
	return nil
}

// Closed reports whether Close was called.
func (p *MockPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// AddReadData queues data for Read.
func (p *MockPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readBuf.Write(data)
	p.readCond.Signal()
}

// Written returns everything written to the port.
func (p *MockPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.writeBuf.Bytes()...)
}

// MockOpener records Open calls and hands out Port.
type MockOpener struct {
	Port  SerialPorter
	Error error

	Paths []string
	Modes []*serial.Mode
}

// Open satisfies PortOpener.
func (o *MockOpener) Open(path string, mode *serial.Mode) (SerialPorter, error) {
	o.Paths = append(o.Paths, path)
	o.Modes = append(o.Modes, mode)
	if o.Error != nil {
		return nil, o.Error
	}
	return o.Port, nil
}
