package ant

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/lowaak/bike-bridge/internal/go_func_utils"
	"github.com/lowaak/bike-bridge/internal/telemetry"
)

// SimulatedSource generates plausible riding telemetry on a ticker, for
// hardware-free runs and tests: power and cadence wander around a
// baseline, grade follows a slow sine so the incline path gets exercised.
type SimulatedSource struct {
	logger   *log.Logger
	interval time.Duration

	frames   chan telemetry.Frame
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSimulatedSource(logger *log.Logger, interval time.Duration) *SimulatedSource {
	if logger == nil {
		panic("SimulatedSource: logger cannot be nil")
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond // FE-C broadcasts at ~4 Hz
	}
	return &SimulatedSource{
		logger:   logger,
		interval: interval,
		frames:   make(chan telemetry.Frame, 8),
		stopChan: make(chan struct{}),
	}
}

func (s *SimulatedSource) Start() error {
	s.wg.Add(1)
	go_func_utils.SafeGo(s.logger, func() {
		defer s.wg.Done()
		s.run()
	})
	s.logger.Printf("SimulatedSource: started (interval %v)", s.interval)
	return nil
}

func (s *SimulatedSource) Frames() <-chan telemetry.Frame {
	return s.frames
}

func (s *SimulatedSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *SimulatedSource) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-s.stopChan:
			s.logger.Printf("SimulatedSource: stopped")
			return
		case now := <-ticker.C:
			elapsed := now.Sub(start).Seconds()

			// Baseline 180 W with a gentle swell, cadence tracking it
			// loosely, grade sweeping -6..+12 % over about two minutes.
			power := 180 + 25*math.Sin(elapsed/11)
			cadence := 85 + 5*math.Sin(elapsed/17)
			grade := 3 + 9*math.Sin(elapsed/19)

			frame := telemetry.Frame{
				PowerWatts:   uint16(power),
				CadenceRpm:   uint8(cadence),
				GradePercent: float32(grade),
				Timestamp:    now,
			}
			frame.SpeedKmh = telemetry.EstimateSpeedFromCadence(frame.CadenceRpm, 2.5)

			select {
			case s.frames <- frame:
			default:
				// Consumer is behind; drop rather than block the ticker.
			}
		}
	}
}
