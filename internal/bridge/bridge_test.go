package bridge

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/bike-bridge/internal/bike"
	"github.com/lowaak/bike-bridge/internal/ble"
	"github.com/lowaak/bike-bridge/internal/ftms"
	"github.com/lowaak/bike-bridge/internal/security"
	"github.com/lowaak/bike-bridge/internal/serialport"
	"github.com/lowaak/bike-bridge/internal/telemetry"
)

// fakeSource is an ant.Source the test feeds by hand.
type fakeSource struct {
	ch chan telemetry.Frame
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan telemetry.Frame, 8)}
}

func (f *fakeSource) Start() error                   { return nil }
func (f *fakeSource) Frames() <-chan telemetry.Frame { return f.ch }
func (f *fakeSource) Stop()                          {}

type testHarness struct {
	bridge    *Bridge
	source    *fakeSource
	transport *ble.MockTransport
	port      *serialport.MockPort
	trusted   ftms.MAC
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	trusted, err := ftms.ParseMAC("00:11:22:33:44:55")
	require.NoError(t, err)

	gate := security.NewGate(logger, nil,
		[]ftms.MAC{trusted},
		[]byte{ftms.OpCodeSetTargetIncline, ftms.OpCodeSetResistanceLevel, ftms.OpCodeSetGear},
		time.Millisecond)
	translator := bike.NewTranslator(logger, bike.Limits{
		MinInclinePercent: -10,
		MaxInclinePercent: 20,
		MaxResistance:     32,
		ErgMinPowerWatts:  25,
		ErgMaxPowerWatts:  800,
	})

	h := &testHarness{
		source:    newFakeSource(),
		transport: ble.NewMockTransport(logger),
		port:      serialport.NewMockPort(logger),
		trusted:   trusted,
	}
	h.bridge = New(logger, Options{
		Gate:          gate,
		Translator:    translator,
		Aggregator:    telemetry.NewAggregator(logger),
		Source:        h.source,
		Transport:     h.transport,
		Port:          h.port,
		CycleInterval: 10 * time.Millisecond,
	})

	require.NoError(t, h.bridge.Start())
	t.Cleanup(h.bridge.Stop)
	return h
}

func TestBridge_AdmittedCommandReachesSerial(t *testing.T) {
	h := newHarness(t)

	h.transport.InjectWrite([]byte{ftms.OpCodeSetTargetIncline, 150, 0}, h.trusted)

	require.Eventually(t, func() bool {
		return len(h.port.Sent()) >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "G+15", h.port.Sent()[0].String())

	require.Eventually(t, func() bool {
		return len(h.transport.Responses()) >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{ftms.OpCodeResponse, ftms.OpCodeSetTargetIncline, ftms.ResultSuccess},
		h.transport.Responses()[0])
}

func TestBridge_UnauthorizedPeerGetsNotPermitted(t *testing.T) {
	h := newHarness(t)

	intruder, err := ftms.ParseMAC("DE:AD:BE:EF:00:01")
	require.NoError(t, err)
	h.transport.InjectWrite([]byte{ftms.OpCodeSetTargetIncline, 150, 0}, intruder)

	require.Eventually(t, func() bool {
		return len(h.transport.Responses()) >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{ftms.OpCodeResponse, ftms.OpCodeSetTargetIncline, ftms.ResultNotPermitted},
		h.transport.Responses()[0])

	// Nothing may reach the bike.
	assert.Empty(t, h.port.Sent())
}

func TestBridge_UnknownOpcodeGetsNotSupported(t *testing.T) {
	h := newHarness(t)

	h.transport.InjectWrite([]byte{0x7F}, h.trusted)

	require.Eventually(t, func() bool {
		return len(h.transport.Responses()) >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{ftms.OpCodeResponse, 0x7F, ftms.ResultOpCodeNotSupport},
		h.transport.Responses()[0])
	assert.Empty(t, h.port.Sent())
}

func TestBridge_MalformedWriteGetsInvalidParameter(t *testing.T) {
	h := newHarness(t)

	// Truncated incline write: dropped at the codec, before the gate.
	h.transport.InjectWrite([]byte{ftms.OpCodeSetTargetIncline, 150}, h.trusted)

	require.Eventually(t, func() bool {
		return len(h.transport.Responses()) >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{ftms.OpCodeResponse, ftms.OpCodeSetTargetIncline, ftms.ResultInvalidParameter},
		h.transport.Responses()[0])
	assert.Empty(t, h.port.Sent())
}

func TestBridge_RejectionIsNotFatal(t *testing.T) {
	h := newHarness(t)

	intruder, err := ftms.ParseMAC("DE:AD:BE:EF:00:01")
	require.NoError(t, err)

	// A rejected write, then a valid one: the pipeline keeps going.
	h.transport.InjectWrite([]byte{ftms.OpCodeSetTargetIncline, 150, 0}, intruder)
	h.transport.InjectWrite([]byte{ftms.OpCodeSetResistanceLevel, 14}, h.trusted)

	require.Eventually(t, func() bool {
		return len(h.port.Sent()) >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "R14", h.port.Sent()[0].String())
}

func TestBridge_SerialFailureIsSurfacedAndSkipped(t *testing.T) {
	h := newHarness(t)

	errCh := make(chan error, 4)
	unlisten := h.bridge.ListenToSerialErrors(errCh)
	defer unlisten()

	linkDown := errors.New("link down")
	h.port.FailWith(linkDown)
	h.transport.InjectWrite([]byte{ftms.OpCodeSetResistanceLevel, 14}, h.trusted)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, linkDown)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for serial error")
	}

	// The link recovers and later commands flow again.
	h.port.FailWith(nil)
	time.Sleep(5 * time.Millisecond) // let the rate limit window pass
	h.transport.InjectWrite([]byte{ftms.OpCodeSetResistanceLevel, 20}, h.trusted)

	require.Eventually(t, func() bool {
		return len(h.port.Sent()) >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "R20", h.port.Sent()[0].String())
}

func TestBridge_TelemetryFlowsToNotifications(t *testing.T) {
	h := newHarness(t)

	h.source.ch <- telemetry.Frame{
		PowerWatts:   180,
		CadenceRpm:   90,
		SpeedKmh:     30,
		GradePercent: 0,
		Timestamp:    time.Now(),
	}

	require.Eventually(t, func() bool {
		return len(h.transport.Notifications()) >= 1
	}, time.Second, 5*time.Millisecond)

	// Power sits at bytes 6..8 of the notification frame.
	var found bool
	for _, n := range h.transport.Notifications() {
		require.Len(t, n, 14)
		if n[6] == 180 && n[7] == 0 {
			found = true
		}
	}
	assert.True(t, found, "no notification carried the pushed power value")
}

func TestBridge_GradeDrivesInclineCommand(t *testing.T) {
	h := newHarness(t)

	h.source.ch <- telemetry.Frame{GradePercent: 8, Timestamp: time.Now()}

	require.Eventually(t, func() bool {
		return len(h.port.Sent()) >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "G+08", h.port.Sent()[0].String())
}

func TestBridge_SnapshotEvent(t *testing.T) {
	h := newHarness(t)

	snapCh := make(chan telemetry.Snapshot, 4)
	unlisten := h.bridge.ListenToSnapshots(snapCh)
	defer unlisten()

	select {
	case <-snapCh:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for snapshot event")
	}
}
