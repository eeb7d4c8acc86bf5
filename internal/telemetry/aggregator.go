package telemetry

import (
	"log"
	"sync"
	"time"
)

// BikeView is the read-only slice of the translator's committed state
// that telemetry consumers need. The translator hands these out; nobody
// else can construct a meaningful one.
type BikeView struct {
	InclinePercent  float32
	ResistanceLevel uint8
	FrontGear       uint8
	RearGear        uint8

	// GearRatio is the drive ratio of the committed gear pair, for the
	// cadence-based speed estimate.
	GearRatio float64
}

// Aggregator merges the most recent ANT+ frame with the bike state into
// one snapshot per cycle. If no new frame arrived since the previous
// cycle, the previous numeric telemetry repeats (hold-last-value) while
// the bike state is always the latest committed one. Staleness is a
// degraded-but-defined condition, not an error.
type Aggregator struct {
	mu        sync.Mutex
	latest    Frame
	haveFrame bool
	consumed  bool
	logger    *log.Logger
}

func NewAggregator(logger *log.Logger) *Aggregator {
	if logger == nil {
		panic("Aggregator: logger cannot be nil")
	}
	return &Aggregator{logger: logger}
}

// Push stores a newly decoded ANT+ frame as the latest sample.
func (a *Aggregator) Push(frame Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latest = frame
	a.haveFrame = true
	a.consumed = false
}

// Latest returns the most recent frame and whether any frame has arrived.
func (a *Aggregator) Latest() (Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest, a.haveFrame
}

// Aggregate produces the snapshot for this cycle. The same snapshot goes
// to the FTMS codec and the ride logger so the two never disagree.
func (a *Aggregator) Aggregate(view BikeView) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		InclinePercent:  view.InclinePercent,
		ResistanceLevel: view.ResistanceLevel,
		FrontGear:       view.FrontGear,
		RearGear:        view.RearGear,
		Timestamp:       time.Now(),
	}

	if a.haveFrame {
		snap.PowerWatts = a.latest.PowerWatts
		snap.CadenceRpm = a.latest.CadenceRpm
		snap.SpeedKmh = a.latest.SpeedKmh
		snap.GradePercent = a.latest.GradePercent
		snap.Stale = a.consumed

		// FE-C trainer pages carry no wheel speed; fill it in from
		// cadence and the committed gear ratio.
		if snap.SpeedKmh == 0 && snap.CadenceRpm > 0 {
			snap.SpeedKmh = EstimateSpeedFromCadence(snap.CadenceRpm, view.GearRatio)
		}
	} else {
		// No telemetry yet at all: zero values, marked stale.
		snap.Stale = true
	}
	a.consumed = true

	return snap
}

// EstimateSpeedFromCadence derives a speed figure for feeds that carry no
// wheel speed: one crank revolution advances the bike by the gear ratio,
// scaled to km/h. Matches the bridge's historical estimate.
func EstimateSpeedFromCadence(cadenceRpm uint8, gearRatio float64) float32 {
	if gearRatio <= 0 {
		gearRatio = 2.5
	}
	return float32(float64(cadenceRpm) * gearRatio / 60.0 * 3.6)
}
