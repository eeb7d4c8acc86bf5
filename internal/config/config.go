// Package config loads the bridge configuration from a YAML file,
// environment variables and command-line flags, in that order of
// increasing precedence. Configuration is read once at startup; there is
// no hot reload.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lowaak/bike-bridge/internal/bike"
	"github.com/lowaak/bike-bridge/internal/ftms"
)

// Config is the validated, typed configuration the rest of the bridge
// consumes. The security section is what the gate is built from.
type Config struct {
	// Security gate
	Whitelist         []ftms.MAC
	AllowedOpcodes    []byte
	RateLimitInterval time.Duration

	// Bike limits
	BikeLimits bike.Limits

	// Serial link
	SerialPort string // empty means auto-detect
	SerialBaud int

	// ANT+ stick, empty means simulated telemetry
	AntStickPort string

	// BLE
	DeviceName string

	// Telemetry cycle
	CycleInterval time.Duration

	// Files
	LogFile    string
	RideLogDir string
}

const envPrefix = "BIKEBRIDGE"

// RegisterFlags declares the command-line flags that can override file
// and environment settings.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to config.yaml")
	fs.String("serial-port", "", "serial port for bike control (default: auto-detect)")
	fs.String("ant-port", "", "serial port of the ANT+ USB stick (default: simulated telemetry)")
	fs.String("device-name", "", "BLE advertised device name")
	fs.String("log-file", "", "application log file")
	fs.String("ride-log-dir", "", "directory for ride CSV logs")
	fs.Bool("mock", false, "run with simulated ANT+, BLE and serial collaborators")
	fs.Bool("ui", false, "show the live terminal dashboard")
	fs.Bool("debug", false, "verbose logging")
}

// Load reads the configuration. A missing config file is fine - defaults
// cover everything - but a present-and-broken one is an error.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		if err := v.BindPFlag("serial.port", fs.Lookup("serial-port")); err != nil {
			return nil, err
		}
		if err := v.BindPFlag("ant.port", fs.Lookup("ant-port")); err != nil {
			return nil, err
		}
		if err := v.BindPFlag("ble.device_name", fs.Lookup("device-name")); err != nil {
			return nil, err
		}
		if err := v.BindPFlag("log.file", fs.Lookup("log-file")); err != nil {
			return nil, err
		}
		if err := v.BindPFlag("log.ride_dir", fs.Lookup("ride-log-dir")); err != nil {
			return nil, err
		}

		if path, err := fs.GetString("config"); err == nil && path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("security.whitelist", []string{"00:11:22:33:44:55", "AA:BB:CC:DD:EE:FF"})
	v.SetDefault("security.allowed_opcodes", []int{0x05, 0x30, 0x40})
	v.SetDefault("security.rate_limit_ms", 1500)

	v.SetDefault("bike.min_incline_percent", -10.0)
	v.SetDefault("bike.max_incline_percent", 20.0)
	v.SetDefault("bike.max_resistance", 32)
	v.SetDefault("bike.erg_min_power_watts", 25)
	v.SetDefault("bike.erg_max_power_watts", 800)

	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 115200)

	v.SetDefault("ant.port", "")

	v.SetDefault("ble.device_name", "Bike Bridge")

	v.SetDefault("telemetry.cycle_ms", 1000)

	v.SetDefault("log.file", "bike-bridge.log")
	v.SetDefault("log.ride_dir", ".")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		RateLimitInterval: time.Duration(v.GetInt("security.rate_limit_ms")) * time.Millisecond,
		BikeLimits: bike.Limits{
			MinInclinePercent: float32(v.GetFloat64("bike.min_incline_percent")),
			MaxInclinePercent: float32(v.GetFloat64("bike.max_incline_percent")),
			MaxResistance:     uint8(v.GetInt("bike.max_resistance")),
			ErgMinPowerWatts:  uint16(v.GetInt("bike.erg_min_power_watts")),
			ErgMaxPowerWatts:  uint16(v.GetInt("bike.erg_max_power_watts")),
		},
		SerialPort:    v.GetString("serial.port"),
		SerialBaud:    v.GetInt("serial.baud"),
		AntStickPort:  v.GetString("ant.port"),
		DeviceName:    v.GetString("ble.device_name"),
		CycleInterval: time.Duration(v.GetInt("telemetry.cycle_ms")) * time.Millisecond,
		LogFile:       v.GetString("log.file"),
		RideLogDir:    v.GetString("log.ride_dir"),
	}

	for _, s := range v.GetStringSlice("security.whitelist") {
		mac, err := ftms.ParseMAC(s)
		if err != nil {
			return nil, fmt.Errorf("whitelist entry: %w", err)
		}
		cfg.Whitelist = append(cfg.Whitelist, mac)
	}
	if len(cfg.Whitelist) == 0 {
		return nil, fmt.Errorf("whitelist is empty: no peer could ever control the bike")
	}

	for _, op := range v.GetIntSlice("security.allowed_opcodes") {
		if op < 0 || op > 0xFF {
			return nil, fmt.Errorf("allowed opcode %d out of byte range", op)
		}
		cfg.AllowedOpcodes = append(cfg.AllowedOpcodes, byte(op))
	}
	if len(cfg.AllowedOpcodes) == 0 {
		return nil, fmt.Errorf("allowed opcode list is empty")
	}

	if cfg.RateLimitInterval <= 0 {
		return nil, fmt.Errorf("rate limit interval must be positive")
	}
	if cfg.BikeLimits.MinInclinePercent > cfg.BikeLimits.MaxInclinePercent {
		return nil, fmt.Errorf("incline range is inverted")
	}
	if cfg.BikeLimits.ErgMaxPowerWatts <= cfg.BikeLimits.ErgMinPowerWatts {
		return nil, fmt.Errorf("ERG power range is inverted")
	}
	if cfg.CycleInterval <= 0 {
		return nil, fmt.Errorf("telemetry cycle interval must be positive")
	}

	return cfg, nil
}
