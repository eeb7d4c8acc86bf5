package ftms

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/lowaak/bike-bridge/internal/telemetry"
)

// Decode failure categories. A malformed frame from an otherwise
// authorized peer is still dropped here, before the gate ever runs.
var (
	ErrTruncated          = errors.New("truncated control point frame")
	ErrMalformedParameter = errors.New("malformed control point parameter")
)

// minParamLen returns the minimum parameter byte count for an opcode.
// Unknown opcodes have no parameter requirement; they pass through so
// the security gate can reject them with its own reason.
func minParamLen(opcode byte) int {
	switch opcode {
	case OpCodeSetTargetIncline:
		return 2 // s16 LE, 0.1 % units
	case OpCodeSetResistanceLevel:
		return 1 // u8 level or s16 LE target power
	case OpCodeSetGear:
		return 2 // front, rear
	default:
		return 0
	}
}

// DecodeControlPoint validates a raw Control Point write and wraps it in
// a ControlCommand. Pure: no whitelist, no rate limiter, no side
// effects. A truncated frame never becomes a partial command.
func DecodeControlPoint(raw []byte, source MAC, receivedAt time.Time) (ControlCommand, error) {
	if len(raw) < 1 {
		return ControlCommand{}, fmt.Errorf("empty frame: %w", ErrTruncated)
	}

	opcode := raw[0]
	params := raw[1:]

	if len(params) < minParamLen(opcode) {
		return ControlCommand{}, fmt.Errorf("opcode 0x%02X needs %d parameter bytes, got %d: %w",
			opcode, minParamLen(opcode), len(params), ErrTruncated)
	}

	// The resistance opcode is width-sensitive: 1 byte is a direct level,
	// 2 bytes is an ERG target power. Anything longer is ambiguous.
	if opcode == OpCodeSetResistanceLevel && len(params) > 2 {
		return ControlCommand{}, fmt.Errorf("opcode 0x%02X with %d parameter bytes: %w",
			opcode, len(params), ErrMalformedParameter)
	}

	cmd := ControlCommand{
		Opcode:     opcode,
		Params:     append([]byte(nil), params...),
		SourceMAC:  source,
		ReceivedAt: receivedAt,
	}
	return cmd, nil
}

// EncodeIndoorBikeData packs a telemetry snapshot into the Indoor Bike
// Data notification frame. The field set never varies, so the flags word
// is constant; scales and byte order must match what consuming apps
// (Zwift, TrainerRoad) already decode, bit for bit.
func EncodeIndoorBikeData(snap telemetry.Snapshot) []byte {
	buf := make([]byte, 2+indoorBikeDataLen)

	binary.LittleEndian.PutUint16(buf[0:2], IndoorBikeDataFlags)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(snap.SpeedKmh*100))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(snap.CadenceRpm)*2)
	binary.LittleEndian.PutUint16(buf[6:8], snap.PowerWatts)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(int16(snap.InclinePercent*10)))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(snap.ResistanceLevel))
	buf[12] = snap.FrontGear
	buf[13] = snap.RearGear

	return buf
}

// BuildControlResponse builds the [0x80, opcode, result] ack frame the
// server indicates back after handling a Control Point write.
func BuildControlResponse(requestOpcode, result byte) []byte {
	return []byte{OpCodeResponse, requestOpcode, result}
}
