package ftms

// Bluetooth Service and Characteristic UUIDs for the FTMS GATT server
// See: https://www.bluetooth.com/specifications/specs/fitness-machine-service-1-0/
const (
	ServiceUUIDFTMS          = "00001826-0000-1000-8000-00805f9b34fb"
	CharUUIDIndoorBikeData   = "00002ad2-0000-1000-8000-00805f9b34fb"
	CharUUIDFTMSControlPoint = "00002ad9-0000-1000-8000-00805f9b34fb"
	CharUUIDFTMSFeature      = "00002acc-0000-1000-8000-00805f9b34fb"
)

// Control Point op codes the bridge recognizes. This is the bike's
// control set, not the full FTMS table; anything else is rejected by the
// security gate as an unknown opcode.
const (
	OpCodeSetTargetIncline   byte = 0x05 // s16 LE, 0.1 % resolution
	OpCodeSetResistanceLevel byte = 0x30 // u8 level, or s16 LE target power (ERG)
	OpCodeSetGear            byte = 0x40 // u8 front, u8 rear
	OpCodeResponse           byte = 0x80 // server->client ack frame
)

// Control Point result codes
const (
	ResultSuccess          byte = 0x01
	ResultOpCodeNotSupport byte = 0x02
	ResultInvalidParameter byte = 0x03
	ResultOperationFailed  byte = 0x04
	ResultNotPermitted     byte = 0x05
)

// IndoorBikeDataFlags is the constant flags word of every notification
// the bridge emits. The bridge always includes the same field set
// (speed, cadence, power, incline, resistance, gears), so the flags
// never vary. This is the value deployed consumers already parse;
// changing it is a wire-compat break.
const IndoorBikeDataFlags uint16 = 0x03FF

// Notification frame layout after the 2-byte flags word, all
// little-endian:
//
//	speed    u16  0.01 km/h
//	cadence  u16  0.5 rpm
//	power    s16  watts
//	incline  s16  0.1 %
//	resist.  u16  level
//	gears    u8   front, u8 rear
const indoorBikeDataLen = 12
