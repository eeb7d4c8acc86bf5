package ble

import (
	"fmt"
	"log"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/bike-bridge/internal/ftms"
)

// Peripheral is the real FTMS GATT server on the default adapter. It
// assumes a single connected central at a time, which is how training
// apps use a trainer; the last connected peer is attributed as the
// source of Control Point writes.
type Peripheral struct {
	adapter *bluetooth.Adapter
	logger  *log.Logger

	charBikeData     bluetooth.Characteristic
	charControlPoint bluetooth.Characteristic

	mu      sync.Mutex
	peerMAC ftms.MAC
	hasPeer bool

	writes  chan ControlWrite
	started bool
}

func NewPeripheral(logger *log.Logger) *Peripheral {
	if logger == nil {
		panic("Peripheral: logger cannot be nil")
	}
	return &Peripheral{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
		writes:  make(chan ControlWrite, 16),
	}
}

// Start enables the adapter, registers the FTMS service and begins
// advertising under deviceName.
func (p *Peripheral) Start(deviceName string) error {
	if err := p.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}

	p.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		p.onConnect(device, connected)
	})

	serviceUuid, err := bluetooth.ParseUUID(ftms.ServiceUUIDFTMS)
	if err != nil {
		return fmt.Errorf("failed to parse FTMS service UUID: %w", err)
	}
	bikeDataUuid, err := bluetooth.ParseUUID(ftms.CharUUIDIndoorBikeData)
	if err != nil {
		return fmt.Errorf("failed to parse indoor bike data UUID: %w", err)
	}
	controlPointUuid, err := bluetooth.ParseUUID(ftms.CharUUIDFTMSControlPoint)
	if err != nil {
		return fmt.Errorf("failed to parse control point UUID: %w", err)
	}
	featureUuid, err := bluetooth.ParseUUID(ftms.CharUUIDFTMSFeature)
	if err != nil {
		return fmt.Errorf("failed to parse machine feature UUID: %w", err)
	}

	err = p.adapter.AddService(&bluetooth.Service{
		UUID: serviceUuid,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &p.charBikeData,
				UUID:   bikeDataUuid,
				Flags:  bluetooth.CharacteristicNotifyPermission,
			},
			{
				Handle: &p.charControlPoint,
				UUID:   controlPointUuid,
				Flags:  bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicIndicatePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					p.onControlWrite(value)
				},
			},
			{
				UUID:  featureUuid,
				Flags: bluetooth.CharacteristicReadPermission,
				// Bits 1,2,7,14: cadence, incline, resistance, power target.
				Value: []byte{0x86, 0x40, 0x00, 0x00, 0x0C, 0x20, 0x00, 0x00},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to register FTMS service: %w", err)
	}

	adv := p.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    deviceName,
		ServiceUUIDs: []bluetooth.UUID{serviceUuid},
	}); err != nil {
		return fmt.Errorf("failed to configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("failed to start advertising: %w", err)
	}

	p.started = true
	p.logger.Printf("BLE: advertising as %q", deviceName)
	return nil
}

func (p *Peripheral) onConnect(device bluetooth.Device, connected bool) {
	mac, err := ftms.ParseMAC(device.Address.String())
	if err != nil {
		p.logger.Printf("BLE: peer with unparseable address %q", device.Address.String())
		return
	}

	p.mu.Lock()
	if connected {
		p.peerMAC = mac
		p.hasPeer = true
	} else if p.hasPeer && p.peerMAC == mac {
		p.hasPeer = false
	}
	p.mu.Unlock()

	if connected {
		p.logger.Printf("BLE: central %s connected", mac)
	} else {
		p.logger.Printf("BLE: central %s disconnected", mac)
	}
}

func (p *Peripheral) onControlWrite(value []byte) {
	p.mu.Lock()
	mac := p.peerMAC
	hasPeer := p.hasPeer
	p.mu.Unlock()

	if !hasPeer {
		p.logger.Printf("BLE: control write with no connected central, dropping")
		return
	}

	raw := make([]byte, len(value))
	copy(raw, value)

	select {
	case p.writes <- ControlWrite{Raw: raw, Source: mac, At: time.Now()}:
	default:
		p.logger.Printf("BLE: control write queue full, dropping write from %s", mac)
	}
}

func (p *Peripheral) Writes() <-chan ControlWrite {
	return p.writes
}

func (p *Peripheral) NotifyIndoorBikeData(frame []byte) error {
	if _, err := p.charBikeData.Write(frame); err != nil {
		return fmt.Errorf("failed to notify indoor bike data: %w", err)
	}
	return nil
}

func (p *Peripheral) IndicateControlResponse(resp []byte) error {
	if _, err := p.charControlPoint.Write(resp); err != nil {
		return fmt.Errorf("failed to indicate control response: %w", err)
	}
	return nil
}

func (p *Peripheral) Stop() error {
	if !p.started {
		return nil
	}
	p.started = false
	return p.adapter.DefaultAdvertisement().Stop()
}
