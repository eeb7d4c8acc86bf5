package serialport

import (
	"log"
	"sync"

	"github.com/lowaak/bike-bridge/internal/bike"
)

// MockPort records commands instead of writing to hardware. Used by
// tests and by --mock runs.
type MockPort struct {
	mu     sync.Mutex
	sent   []bike.SerialCommand
	fail   error
	closed bool
	logger *log.Logger
}

func NewMockPort(logger *log.Logger) *MockPort {
	if logger == nil {
		panic("MockPort: logger cannot be nil")
	}
	return &MockPort{logger: logger}
}

// FailWith makes every subsequent Send return err. Pass nil to recover.
func (m *MockPort) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MockPort) Send(cmd bike.SerialCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, cmd)
	m.logger.Printf("MockPort: sent %s", cmd)
	return nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Sent returns a copy of everything sent so far.
func (m *MockPort) Sent() []bike.SerialCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bike.SerialCommand, len(m.sent))
	copy(out, m.sent)
	return out
}
