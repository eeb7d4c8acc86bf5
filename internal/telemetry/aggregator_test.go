package telemetry

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator() *Aggregator {
	return NewAggregator(log.New(io.Discard, "", 0))
}

func sampleFrame() Frame {
	return Frame{
		PowerWatts:   180,
		CadenceRpm:   90,
		SpeedKmh:     32.5,
		GradePercent: 4.5,
		Timestamp:    time.Now(),
	}
}

func sampleView() BikeView {
	return BikeView{
		InclinePercent:  5.0,
		ResistanceLevel: 12,
		FrontGear:       2,
		RearGear:        5,
		GearRatio:       2.5,
	}
}

func TestAggregator_FreshFrame(t *testing.T) {
	agg := newTestAggregator()
	agg.Push(sampleFrame())

	snap := agg.Aggregate(sampleView())
	assert.False(t, snap.Stale)
	assert.Equal(t, uint16(180), snap.PowerWatts)
	assert.Equal(t, uint8(90), snap.CadenceRpm)
	assert.Equal(t, float32(32.5), snap.SpeedKmh)
	assert.Equal(t, float32(4.5), snap.GradePercent)
}

func TestAggregator_BikeStateAlwaysCurrent(t *testing.T) {
	agg := newTestAggregator()
	agg.Push(sampleFrame())

	snap := agg.Aggregate(sampleView())
	assert.Equal(t, float32(5.0), snap.InclinePercent)
	assert.Equal(t, uint8(12), snap.ResistanceLevel)
	assert.Equal(t, uint8(2), snap.FrontGear)
	assert.Equal(t, uint8(5), snap.RearGear)
}

func TestAggregator_HoldLastValue(t *testing.T) {
	agg := newTestAggregator()
	agg.Push(sampleFrame())

	first := agg.Aggregate(sampleView())
	require.False(t, first.Stale)

	// No new frame before the next cycle: same numbers, marked stale.
	second := agg.Aggregate(sampleView())
	assert.True(t, second.Stale)
	assert.Equal(t, first.PowerWatts, second.PowerWatts)
	assert.Equal(t, first.CadenceRpm, second.CadenceRpm)
	assert.Equal(t, first.SpeedKmh, second.SpeedKmh)

	// A fresh frame clears the flag again.
	agg.Push(sampleFrame())
	third := agg.Aggregate(sampleView())
	assert.False(t, third.Stale)
}

func TestAggregator_NoFramesYet(t *testing.T) {
	agg := newTestAggregator()

	snap := agg.Aggregate(sampleView())
	assert.True(t, snap.Stale)
	assert.Equal(t, uint16(0), snap.PowerWatts)
	assert.Equal(t, uint8(0), snap.CadenceRpm)

	// Bike state still flows through even with no telemetry at all.
	assert.Equal(t, uint8(12), snap.ResistanceLevel)
}

func TestAggregator_EstimatesSpeedWhenFeedHasNone(t *testing.T) {
	agg := newTestAggregator()

	// Trainer pages carry power and cadence but no wheel speed.
	agg.Push(Frame{
		PowerWatts: 180,
		CadenceRpm: 90,
		Timestamp:  time.Now(),
	})

	snap := agg.Aggregate(sampleView())
	assert.InDelta(t, 13.5, snap.SpeedKmh, 1e-4) // 90 rpm at ratio 2.5
}

func TestAggregator_FeedSpeedWinsOverEstimate(t *testing.T) {
	agg := newTestAggregator()
	agg.Push(sampleFrame()) // carries 32.5 km/h

	snap := agg.Aggregate(sampleView())
	assert.Equal(t, float32(32.5), snap.SpeedKmh)
}

func TestAggregator_NoEstimateAtZeroCadence(t *testing.T) {
	agg := newTestAggregator()
	agg.Push(Frame{PowerWatts: 0, CadenceRpm: 0, Timestamp: time.Now()})

	snap := agg.Aggregate(sampleView())
	assert.Equal(t, float32(0), snap.SpeedKmh)
}

func TestAggregator_Latest(t *testing.T) {
	agg := newTestAggregator()

	_, ok := agg.Latest()
	assert.False(t, ok)

	frame := sampleFrame()
	agg.Push(frame)
	got, ok := agg.Latest()
	require.True(t, ok)
	assert.Equal(t, frame, got)
}

func TestEstimateSpeedFromCadence(t *testing.T) {
	// 90 rpm at a 2.5 ratio: 90 * 2.5 / 60 * 3.6 = 13.5 km/h.
	assert.InDelta(t, 13.5, EstimateSpeedFromCadence(90, 2.5), 1e-4)

	assert.Equal(t, float32(0), EstimateSpeedFromCadence(0, 2.5))

	// A non-positive ratio falls back to the default 2.5.
	assert.Equal(t, EstimateSpeedFromCadence(90, 2.5), EstimateSpeedFromCadence(90, 0))
}
