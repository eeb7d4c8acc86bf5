// Package fec decodes ANT+ FE-C (Fitness Equipment Control) broadcast
// frames into telemetry samples.
package fec

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/lowaak/bike-bridge/internal/telemetry"
)

// ANT+ channel parameters for an FE-C receive channel. The USB driver
// collaborator opens the channel; the bridge only decodes what arrives.
const (
	DeviceTypeFEC  = 17   // Fitness Equipment Control
	ChannelPeriod  = 8182 // ~4 Hz
	RFFrequency    = 57   // 2457 MHz
	NetworkKeyByte = 0xB9 // ANT+ public network
)

// ANT message framing constants
const (
	SyncByte       = 0xA4
	MsgIDBroadcast = 0x4E
	framedLen      = 13 // sync, len, msgID, chan, 8-byte payload, checksum
)

// Byte offsets within a broadcast buffer as the driver delivers it.
// Grade is a u16 in 0.01 % with a -200 % offset removed upstream; power
// and cadence sit in the trainer-specific page positions.
const (
	offGradeLo = 5
	offGradeHi = 6
	offPowerLo = 7
	offPowerHi = 8
	offCadence = 10
	minBufLen  = 11
)

// DecodeTelemetry decodes a raw FE-C broadcast buffer into a telemetry
// frame. Buffers of the full 13-byte framed form (sync..checksum) are
// checksum-validated first; shorter driver-stripped buffers are accepted
// as long as every referenced field is present.
func DecodeTelemetry(buf []byte, at time.Time) (telemetry.Frame, error) {
	if len(buf) == framedLen && buf[0] == SyncByte {
		if !checksumOK(buf) {
			return telemetry.Frame{}, fmt.Errorf("FE-C frame checksum mismatch")
		}
	}
	if len(buf) < minBufLen {
		return telemetry.Frame{}, fmt.Errorf("FE-C buffer too short: %d bytes", len(buf))
	}

	rawGrade := binary.LittleEndian.Uint16(buf[offGradeLo : offGradeHi+1])
	power := binary.LittleEndian.Uint16(buf[offPowerLo : offPowerHi+1])
	cadence := buf[offCadence]

	frame := telemetry.Frame{
		PowerWatts:   power,
		CadenceRpm:   cadence,
		GradePercent: float32(int16(rawGrade)) / 100.0,
		Timestamp:    at,
	}
	return frame, nil
}

// checksumOK verifies the XOR checksum over the first 12 bytes of a
// framed ANT message.
func checksumOK(msg []byte) bool {
	var sum byte
	for i := 0; i < framedLen-1; i++ {
		sum ^= msg[i]
	}
	return sum == msg[framedLen-1]
}
