// Package ant abstracts the ANT+ telemetry feed. The USB stick driver
// itself is an external collaborator; the bridge only needs a stream of
// decoded frames.
package ant

import "github.com/lowaak/bike-bridge/internal/telemetry"

// Source produces decoded telemetry frames at whatever cadence the
// underlying channel runs. Frames() stays open until Stop is called;
// after Stop no further frames are delivered.
type Source interface {
	Start() error
	Frames() <-chan telemetry.Frame
	Stop()
}
