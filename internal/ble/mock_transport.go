package ble

import (
	"log"
	"sync"
	"time"

	"github.com/lowaak/bike-bridge/internal/ftms"
)

// MockTransport stands in for the GATT server in tests and --mock runs.
// Test code injects writes with InjectWrite and inspects what the bridge
// pushed back.
type MockTransport struct {
	mu            sync.Mutex
	notifications [][]byte
	responses     [][]byte
	notifyErr     error

	writes chan ControlWrite
	logger *log.Logger
}

func NewMockTransport(logger *log.Logger) *MockTransport {
	if logger == nil {
		panic("MockTransport: logger cannot be nil")
	}
	return &MockTransport{
		writes: make(chan ControlWrite, 16),
		logger: logger,
	}
}

func (m *MockTransport) Start(deviceName string) error {
	m.logger.Printf("MockTransport: started as %q", deviceName)
	return nil
}

func (m *MockTransport) Writes() <-chan ControlWrite {
	return m.writes
}

// InjectWrite simulates a central writing raw to the Control Point.
func (m *MockTransport) InjectWrite(raw []byte, source ftms.MAC) {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	m.writes <- ControlWrite{Raw: buf, Source: source, At: time.Now()}
}

// FailNotifyWith makes NotifyIndoorBikeData return err. Pass nil to
// recover.
func (m *MockTransport) FailNotifyWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyErr = err
}

func (m *MockTransport) NotifyIndoorBikeData(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifyErr != nil {
		return m.notifyErr
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	m.notifications = append(m.notifications, buf)
	return nil
}

func (m *MockTransport) IndicateControlResponse(resp []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(resp))
	copy(buf, resp)
	m.responses = append(m.responses, buf)
	return nil
}

func (m *MockTransport) Stop() error {
	return nil
}

func (m *MockTransport) Notifications() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.notifications))
	copy(out, m.notifications)
	return out
}

func (m *MockTransport) Responses() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.responses))
	copy(out, m.responses)
	return out
}
