// Package ble exposes the bridge as an FTMS GATT peripheral. Training
// apps connect here; the package hands every Control Point write to the
// bridge core untouched and pushes Indoor Bike Data notifications back.
package ble

import (
	"time"

	"github.com/lowaak/bike-bridge/internal/ftms"
)

// ControlWrite is one raw Control Point write together with the peer it
// came from. No decoding happens at this layer.
type ControlWrite struct {
	Raw    []byte
	Source ftms.MAC
	At     time.Time
}

// Transport is the GATT surface the bridge core talks through. The real
// implementation is Peripheral; tests and --mock runs use MockTransport.
type Transport interface {
	Start(deviceName string) error
	Writes() <-chan ControlWrite
	NotifyIndoorBikeData(frame []byte) error
	IndicateControlResponse(resp []byte) error
	Stop() error
}
