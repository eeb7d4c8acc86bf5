package ftms

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MAC is a 6-byte Bluetooth device address.
type MAC [6]byte

// ParseMAC parses "AA:BB:CC:DD:EE:FF" (case-insensitive, ':' or '-'
// separated) into a MAC. Anything else is an error.
func ParseMAC(s string) (MAC, error) {
	var mac MAC
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != 6 {
		return mac, fmt.Errorf("invalid MAC address %q", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return mac, fmt.Errorf("invalid MAC address %q", s)
		}
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return mac, fmt.Errorf("invalid MAC address %q: %w", s, err)
		}
		mac[i] = byte(v)
	}
	return mac, nil
}

// String renders the canonical uppercase colon-separated form.
func (m MAC) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// ControlCommand is one decoded Control Point write. It is created per
// inbound write, consumed once by the security gate and (if admitted) by
// the translator, then discarded. Params holds the raw parameter bytes
// after the opcode; interpretation is the translator's job.
type ControlCommand struct {
	Opcode     byte
	Params     []byte
	SourceMAC  MAC
	ReceivedAt time.Time
}
