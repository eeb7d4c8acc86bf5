package bike

// State holds the bike's current simulated state. Exactly one instance
// exists per bridge process; it is owned by the Translator and all
// mutation flows through Apply/ApplyGrade. Everyone else sees copies.
type State struct {
	InclinePercent  float32
	ResistanceLevel uint8
	FrontGear       uint8
	RearGear        uint8
}

// Limits declares the ranges the physical bike accepts. Values outside
// these ranges are clamped at the translator boundary, never rejected.
type Limits struct {
	MinInclinePercent float32 // e.g. -10.0
	MaxInclinePercent float32 // e.g. 20.0
	MaxResistance     uint8   // resistance level ceiling, 0..MaxResistance
	ErgMinPowerWatts  uint16  // target power mapped to level 0
	ErgMaxPowerWatts  uint16  // target power mapped to MaxResistance
}

// SerialCommand is one command for the bike's serial link: a single ASCII
// opcode byte plus its parameter bytes. The serial transport appends the
// CRLF terminator; it does not interpret the semantics.
type SerialCommand struct {
	Opcode  byte
	Payload []byte
}

// Serial opcodes understood by the bike firmware.
const (
	SerialOpIncline    byte = 'G' // G±NN, whole percent with sign
	SerialOpResistance byte = 'R' // RNN, level 00..MaxResistance
)

// Bytes renders the command as it goes on the wire, minus the CRLF the
// transport adds.
func (c SerialCommand) Bytes() []byte {
	out := make([]byte, 0, 1+len(c.Payload))
	out = append(out, c.Opcode)
	out = append(out, c.Payload...)
	return out
}

func (c SerialCommand) String() string {
	return string(c.Bytes())
}
