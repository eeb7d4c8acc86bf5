package telemetry

import "time"

// Frame is a single ANT+ telemetry sample as decoded from the FE-C feed.
// Frames are immutable once constructed; the aggregator reads them, it
// never mutates them.
type Frame struct {
	PowerWatts   uint16
	CadenceRpm   uint8
	SpeedKmh     float32
	GradePercent float32 // signed, e.g. -20.0..20.0
	Timestamp    time.Time
}

// Snapshot is one coherent merge of the most recent ANT+ sample with the
// bike state committed by the translator. It is what the FTMS codec
// encodes and the ride logger writes, so both always agree.
type Snapshot struct {
	PowerWatts      uint16
	CadenceRpm      uint8
	SpeedKmh        float32
	GradePercent    float32
	InclinePercent  float32
	ResistanceLevel uint8
	FrontGear       uint8
	RearGear        uint8
	Timestamp       time.Time

	// Stale is set when no new frame arrived since the previous cycle and
	// the numeric telemetry is a repeat of the last known values.
	Stale bool
}
