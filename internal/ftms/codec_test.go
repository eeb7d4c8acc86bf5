package ftms

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/bike-bridge/internal/telemetry"
)

func testMAC(t *testing.T) MAC {
	t.Helper()
	mac, err := ParseMAC("00:11:22:33:44:55")
	require.NoError(t, err)
	return mac
}

func TestParseMAC(t *testing.T) {
	mac, err := ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", mac.String())

	dashed, err := ParseMAC("AA-BB-CC-DD-EE-FF")
	require.NoError(t, err)
	assert.Equal(t, mac, dashed)

	_, err = ParseMAC("aa:bb:cc:dd:ee")
	assert.Error(t, err)

	_, err = ParseMAC("aa:bb:cc:dd:ee:zz")
	assert.Error(t, err)
}

func TestDecodeControlPoint_Valid(t *testing.T) {
	mac := testMAC(t)
	now := time.Now()

	cmd, err := DecodeControlPoint([]byte{OpCodeSetTargetIncline, 0x96, 0x00}, mac, now)
	require.NoError(t, err)
	assert.Equal(t, OpCodeSetTargetIncline, cmd.Opcode)
	assert.Equal(t, []byte{0x96, 0x00}, cmd.Params)
	assert.Equal(t, mac, cmd.SourceMAC)
	assert.Equal(t, now, cmd.ReceivedAt)
}

func TestDecodeControlPoint_Truncated(t *testing.T) {
	mac := testMAC(t)
	now := time.Now()

	cases := []struct {
		name string
		raw  []byte
	}{
		{"empty frame", nil},
		{"incline with no params", []byte{OpCodeSetTargetIncline}},
		{"incline with one param byte", []byte{OpCodeSetTargetIncline, 0x96}},
		{"resistance with no params", []byte{OpCodeSetResistanceLevel}},
		{"gear with one param byte", []byte{OpCodeSetGear, 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeControlPoint(tc.raw, mac, now)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTruncated)
		})
	}
}

func TestDecodeControlPoint_ResistanceWidths(t *testing.T) {
	mac := testMAC(t)
	now := time.Now()

	// 1 byte: direct level.
	cmd, err := DecodeControlPoint([]byte{OpCodeSetResistanceLevel, 12}, mac, now)
	require.NoError(t, err)
	assert.Equal(t, []byte{12}, cmd.Params)

	// 2 bytes: ERG target power.
	cmd, err = DecodeControlPoint([]byte{OpCodeSetResistanceLevel, 0x2C, 0x01}, mac, now)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2C, 0x01}, cmd.Params)

	// Anything longer is ambiguous.
	_, err = DecodeControlPoint([]byte{OpCodeSetResistanceLevel, 1, 2, 3}, mac, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedParameter)
}

func TestDecodeControlPoint_UnknownOpcodePassesThrough(t *testing.T) {
	// The gate owns unknown-opcode rejection; the codec must not eat it.
	cmd, err := DecodeControlPoint([]byte{0x7F, 1, 2, 3}, testMAC(t), time.Now())
	require.NoError(t, err)
	assert.Equal(t, byte(0x7F), cmd.Opcode)
	assert.Equal(t, []byte{1, 2, 3}, cmd.Params)
}

func TestDecodeControlPoint_CopiesParams(t *testing.T) {
	raw := []byte{OpCodeSetGear, 2, 5}
	cmd, err := DecodeControlPoint(raw, testMAC(t), time.Now())
	require.NoError(t, err)

	raw[1] = 99
	assert.Equal(t, []byte{2, 5}, cmd.Params)
}

func TestEncodeIndoorBikeData_Layout(t *testing.T) {
	snap := telemetry.Snapshot{
		PowerWatts:      180,
		CadenceRpm:      90,
		SpeedKmh:        32.5,
		InclinePercent:  7.5,
		ResistanceLevel: 14,
		FrontGear:       2,
		RearGear:        5,
	}

	frame := EncodeIndoorBikeData(snap)
	require.Len(t, frame, 14)

	assert.Equal(t, IndoorBikeDataFlags, binary.LittleEndian.Uint16(frame[0:2]))
	assert.Equal(t, uint16(3250), binary.LittleEndian.Uint16(frame[2:4]))  // 0.01 km/h
	assert.Equal(t, uint16(180), binary.LittleEndian.Uint16(frame[4:6]))   // 0.5 rpm
	assert.Equal(t, uint16(180), binary.LittleEndian.Uint16(frame[6:8]))   // watts
	assert.Equal(t, int16(75), int16(binary.LittleEndian.Uint16(frame[8:10]))) // 0.1 %
	assert.Equal(t, uint16(14), binary.LittleEndian.Uint16(frame[10:12]))
	assert.Equal(t, byte(2), frame[12])
	assert.Equal(t, byte(5), frame[13])
}

func TestEncodeIndoorBikeData_NegativeIncline(t *testing.T) {
	snap := telemetry.Snapshot{InclinePercent: -4.0}
	frame := EncodeIndoorBikeData(snap)
	assert.Equal(t, int16(-40), int16(binary.LittleEndian.Uint16(frame[8:10])))
}

func TestEncodeIndoorBikeData_FlagsNeverVary(t *testing.T) {
	empty := EncodeIndoorBikeData(telemetry.Snapshot{})
	full := EncodeIndoorBikeData(telemetry.Snapshot{PowerWatts: 400, CadenceRpm: 110})
	assert.Equal(t, empty[0:2], full[0:2])
}

func TestBuildControlResponse(t *testing.T) {
	resp := BuildControlResponse(OpCodeSetTargetIncline, ResultSuccess)
	assert.Equal(t, []byte{OpCodeResponse, OpCodeSetTargetIncline, ResultSuccess}, resp)

	resp = BuildControlResponse(0x7F, ResultOpCodeNotSupport)
	assert.Equal(t, []byte{OpCodeResponse, 0x7F, ResultOpCodeNotSupport}, resp)
}
