package ant

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/lowaak/bike-bridge/internal/fec"
	"github.com/lowaak/bike-bridge/internal/go_func_utils"
	"github.com/lowaak/bike-bridge/internal/telemetry"
)

// ANT control message IDs for channel setup on the stick.
const (
	msgIDAssignChannel   = 0x42
	msgIDSetDeviceID     = 0x51
	msgIDSetNetworkKey   = 0x46
	msgIDSetChannelRF    = 0x45
	msgIDSetChannelPerio = 0x43
	msgIDOpenChannel     = 0x4B
	msgIDCloseChannel    = 0x4C
)

const stickChannel = 0

// StickSource reads FE-C broadcasts from an ANT+ USB stick in its serial
// CDC mode. It configures a slave channel on the ANT+ network and then
// scans the byte stream for framed broadcast messages.
type StickSource struct {
	logger *log.Logger
	port   serial.Port
	name   string

	frames   chan telemetry.Frame
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// OpenStick opens the stick's serial device. ANT sticks enumerate as a
// USB CDC port at 115200.
func OpenStick(logger *log.Logger, name string) (*StickSource, error) {
	if logger == nil {
		panic("StickSource: logger cannot be nil")
	}
	mode := &serial.Mode{BaudRate: 115200}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open ANT stick %s: %w", name, err)
	}
	return &StickSource{
		logger:   logger,
		port:     port,
		name:     name,
		frames:   make(chan telemetry.Frame, 8),
		stopChan: make(chan struct{}),
	}, nil
}

// Start configures the FE-C receive channel and launches the reader.
func (s *StickSource) Start() error {
	setup := [][]byte{
		controlMessage(msgIDSetNetworkKey, append([]byte{0}, antPlusNetworkKey()...)),
		controlMessage(msgIDAssignChannel, []byte{stickChannel, 0x00, 0}), // slave, network 0
		controlMessage(msgIDSetDeviceID, []byte{stickChannel, 0, 0, fec.DeviceTypeFEC, 0}),
		controlMessage(msgIDSetChannelPerio, []byte{stickChannel, byte(fec.ChannelPeriod & 0xFF), byte(fec.ChannelPeriod >> 8)}),
		controlMessage(msgIDSetChannelRF, []byte{stickChannel, fec.RFFrequency}),
		controlMessage(msgIDOpenChannel, []byte{stickChannel}),
	}
	for _, msg := range setup {
		if _, err := s.port.Write(msg); err != nil {
			return fmt.Errorf("ANT channel setup write failed: %w", err)
		}
	}

	s.wg.Add(1)
	go_func_utils.SafeGo(s.logger, func() {
		defer s.wg.Done()
		s.readLoop()
	})
	s.logger.Printf("StickSource: FE-C channel open on %s", s.name)
	return nil
}

func (s *StickSource) Frames() <-chan telemetry.Frame {
	return s.frames
}

func (s *StickSource) Stop() {
	s.stopOnce.Do(func() {
		if _, err := s.port.Write(controlMessage(msgIDCloseChannel, []byte{stickChannel})); err != nil {
			s.logger.Printf("StickSource: channel close write failed: %v", err)
		}
		close(s.stopChan)
		// Unblocks the reader's pending Read.
		s.port.Close()
	})
	s.wg.Wait()
}

// readLoop scans the serial stream for sync bytes, reassembles framed
// messages and forwards decodable broadcasts.
func (s *StickSource) readLoop() {
	var pending []byte
	buf := make([]byte, 64)

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			select {
			case <-s.stopChan:
				// Closed under us during Stop.
			default:
				s.logger.Printf("StickSource: read failed, stopping: %v", err)
			}
			return
		}
		pending = append(pending, buf[:n]...)

		for {
			msg, rest, ok := nextFramedMessage(pending)
			if !ok {
				pending = rest
				break
			}
			pending = rest

			// Channel responses and RF events share the stream with
			// broadcasts; only broadcasts carry telemetry.
			if msg[2] != fec.MsgIDBroadcast {
				continue
			}
			frame, err := fec.DecodeTelemetry(msg, time.Now())
			if err != nil {
				s.logger.Printf("StickSource: dropped frame: %v", err)
				continue
			}
			select {
			case s.frames <- frame:
			default:
			}
		}
	}
}

// maxStickPayload bounds the length byte of a stick message. Anything
// larger means the sync byte was payload data, not a frame start.
const maxStickPayload = 41

// nextFramedMessage extracts the first complete framed message from
// data. Messages are length-prefixed: sync, payload length, message ID,
// payload, checksum, so a 7-byte channel response and a 13-byte
// broadcast come out as separate messages. Returns ok=false with the
// trimmed remainder when no complete message is available yet.
func nextFramedMessage(data []byte) (msg, rest []byte, ok bool) {
	for {
		start := 0
		for start < len(data) && data[start] != fec.SyncByte {
			start++
		}
		data = data[start:]
		if len(data) < 2 {
			return nil, data, false
		}
		if data[1] > maxStickPayload {
			// False sync inside some other message's payload; resync.
			data = data[1:]
			continue
		}
		msgLen := int(data[1]) + 4
		if len(data) < msgLen {
			return nil, data, false
		}
		return data[:msgLen], data[msgLen:], true
	}
}

// controlMessage frames a stick control message: sync, payload length,
// message ID, payload, XOR checksum.
func controlMessage(msgID byte, payload []byte) []byte {
	msg := make([]byte, 0, 4+len(payload))
	msg = append(msg, fec.SyncByte, byte(len(payload)), msgID)
	msg = append(msg, payload...)
	var sum byte
	for _, b := range msg {
		sum ^= b
	}
	return append(msg, sum)
}

// antPlusNetworkKey is the published ANT+ network key.
func antPlusNetworkKey() []byte {
	return []byte{fec.NetworkKeyByte, 0xA5, 0x21, 0xFB, 0xBD, 0x72, 0xC3, 0x45}
}
