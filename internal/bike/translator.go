package bike

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/lowaak/bike-bridge/internal/ftms"
	"github.com/lowaak/bike-bridge/internal/telemetry"
)

// Translator converts admitted control commands and live grade telemetry
// into the bike's serial protocol. It owns the process's single State
// instance; a state mutation and the serial command it produces are
// committed under one lock so the aggregator never observes them out of
// sync.
type Translator struct {
	mu     sync.Mutex
	state  State
	limits Limits
	logger *log.Logger

	// Incline smoothing: the bike ignores sub-percent changes anyway, so
	// repeats within 1 % of the last sent incline are suppressed on the
	// grade-driven path.
	lastSentIncline    float32
	hasLastSentIncline bool
}

func NewTranslator(logger *log.Logger, limits Limits) *Translator {
	if logger == nil {
		panic("Translator: logger cannot be nil")
	}
	if limits.MinInclinePercent > limits.MaxInclinePercent {
		panic("Translator: incline range is inverted")
	}
	if limits.ErgMaxPowerWatts <= limits.ErgMinPowerWatts {
		panic("Translator: ERG power range is inverted")
	}
	return &Translator{
		logger: logger,
		limits: limits,
		state: State{
			FrontGear: 1,
			RearGear:  1,
		},
	}
}

// State returns a copy of the committed bike state.
func (t *Translator) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// View returns the read-only slice of state the telemetry aggregator
// consumes.
func (t *Translator) View() telemetry.BikeView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return telemetry.BikeView{
		InclinePercent:  t.state.InclinePercent,
		ResistanceLevel: t.state.ResistanceLevel,
		FrontGear:       t.state.FrontGear,
		RearGear:        t.state.RearGear,
		GearRatio:       GearRatio(t.state.FrontGear, t.state.RearGear),
	}
}

// Apply converts one admitted control command into a serial command and
// commits the resulting state. Out-of-range parameters are clamped to
// the bike's declared bounds, never surfaced as errors; only a command
// the translator cannot interpret at all fails.
func (t *Translator) Apply(cmd ftms.ControlCommand) (SerialCommand, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch cmd.Opcode {
	case ftms.OpCodeSetTargetIncline:
		if len(cmd.Params) < 2 {
			return SerialCommand{}, fmt.Errorf("incline command needs 2 parameter bytes, got %d", len(cmd.Params))
		}
		tenths := int16(binary.LittleEndian.Uint16(cmd.Params[0:2]))
		return t.commitIncline(float32(tenths) / 10.0), nil

	case ftms.OpCodeSetResistanceLevel:
		switch len(cmd.Params) {
		case 1:
			// Direct resistance level.
			return t.commitResistance(t.clampLevel(int(cmd.Params[0]))), nil
		case 2:
			// ERG: target power in watts, mapped to a level.
			watts := int16(binary.LittleEndian.Uint16(cmd.Params[0:2]))
			return t.commitResistance(t.levelForPower(watts)), nil
		default:
			return SerialCommand{}, fmt.Errorf("resistance command with %d parameter bytes", len(cmd.Params))
		}

	case ftms.OpCodeSetGear:
		if len(cmd.Params) < 2 {
			return SerialCommand{}, fmt.Errorf("gear command needs 2 parameter bytes, got %d", len(cmd.Params))
		}
		front := clampGear(cmd.Params[0], MaxFrontGear)
		rear := clampGear(cmd.Params[1], MaxRearGear)
		t.state.FrontGear = front
		t.state.RearGear = rear
		// A gear change lands on the bike as a resistance change, folded
		// through the same path an ERG update takes.
		return t.commitResistance(t.levelForGear(front, rear)), nil

	default:
		return SerialCommand{}, fmt.Errorf("unhandled opcode 0x%02X", cmd.Opcode)
	}
}

// ApplyGrade feeds live grade telemetry through the same incline path as
// an explicit incline command, after the bridge's grade shaping: halve
// descents so downhills feel flatter, compress above 10 % so steep climbs
// stay rideable. Returns ok=false when the change was within the 1 %
// smoothing window and nothing needs to reach the bike.
func (t *Translator) ApplyGrade(gradePercent float32) (SerialCommand, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	shaped := shapeGrade(gradePercent)
	clamped := t.clampIncline(shaped)

	if t.hasLastSentIncline && math.Abs(float64(clamped-t.lastSentIncline)) < 1.0 {
		return SerialCommand{}, false
	}

	return t.commitIncline(clamped), true
}

// commitIncline clamps, updates state, remembers the smoothing anchor
// and renders the G±NN command. Caller holds the lock.
func (t *Translator) commitIncline(incline float32) SerialCommand {
	clamped := t.clampIncline(incline)
	if clamped != incline {
		t.logger.Printf("Translator: incline %.1f%% clamped to %.1f%%", incline, clamped)
	}
	t.state.InclinePercent = clamped
	t.lastSentIncline = clamped
	t.hasLastSentIncline = true

	rounded := int(math.Round(float64(clamped)))
	sign := byte('+')
	if rounded < 0 {
		sign = '-'
		rounded = -rounded
	}
	payload := []byte{sign, '0' + byte(rounded/10), '0' + byte(rounded%10)}
	return SerialCommand{Opcode: SerialOpIncline, Payload: payload}
}

// commitResistance updates state and renders the RNN command. Caller
// holds the lock.
func (t *Translator) commitResistance(level uint8) SerialCommand {
	t.state.ResistanceLevel = level
	payload := []byte{'0' + level/10, '0' + level%10}
	return SerialCommand{Opcode: SerialOpResistance, Payload: payload}
}

func (t *Translator) clampIncline(v float32) float32 {
	if v < t.limits.MinInclinePercent {
		return t.limits.MinInclinePercent
	}
	if v > t.limits.MaxInclinePercent {
		return t.limits.MaxInclinePercent
	}
	return v
}

func (t *Translator) clampLevel(level int) uint8 {
	if level < 0 {
		return 0
	}
	if level > int(t.limits.MaxResistance) {
		return t.limits.MaxResistance
	}
	return uint8(level)
}

// levelForPower maps an ERG target power onto a resistance level.
// Linear across the configured power range, so the mapping is monotonic:
// a strictly higher request never yields a lower level. Comparisons run
// in int so a power ceiling past the int16 range cannot wrap.
func (t *Translator) levelForPower(watts int16) uint8 {
	w := int(watts)
	if w <= int(t.limits.ErgMinPowerWatts) {
		return 0
	}
	if w >= int(t.limits.ErgMaxPowerWatts) {
		return t.limits.MaxResistance
	}
	span := float64(t.limits.ErgMaxPowerWatts) - float64(t.limits.ErgMinPowerWatts)
	frac := (float64(w) - float64(t.limits.ErgMinPowerWatts)) / span
	return t.clampLevel(int(math.Round(frac * float64(t.limits.MaxResistance))))
}

// levelForGear maps the (front, rear) drive ratio onto the resistance
// range: harder gear, higher level. Uses the same clamp the ERG path
// does.
func (t *Translator) levelForGear(front, rear uint8) uint8 {
	ratio := GearRatio(front, rear)
	minRatio, maxRatio := gearRatioBounds()
	frac := (ratio - minRatio) / (maxRatio - minRatio)
	return t.clampLevel(int(math.Round(frac * float64(t.limits.MaxResistance))))
}

// shapeGrade reproduces the bridge's grade shaping: descents at half
// strength, everything above 10 % compressed to 30 %.
func shapeGrade(grade float32) float32 {
	switch {
	case grade < 0:
		return grade * 0.5
	case grade > 10:
		return 10 + (grade-10)*0.3
	default:
		return grade
	}
}
