// cmd/pzemctl/commands.go
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tamzrod/pzem-poller/internal/config"
	"github.com/tamzrod/pzem-poller/internal/logging"
	"github.com/tamzrod/pzem-poller/internal/poller"
	"github.com/tamzrod/pzem-poller/internal/pzem"
	"github.com/tamzrod/pzem-poller/internal/session"
	"github.com/tamzrod/pzem-poller/internal/transport"
)

// openBus is replaced in tests.
var openBus poller.BusOpener = poller.OpenBus

// broadcastSettle is how long units get to apply a broadcast address
// before it is verified.
var broadcastSettle = 200 * time.Millisecond

// commonOptions are shared by every command.
type commonOptions struct {
	Config string
	Device string
	Format string
}

func newFlagSet(name string, stderr io.Writer, opts *commonOptions) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.Config, "config", "pzem.yaml", "configuration file")
	fs.StringVar(&opts.Device, "device", "", "device id from the configuration")
	fs.StringVar(&opts.Format, "format", "text", "output format: text, json, yaml")
	return fs
}

// loadConfig reads the configuration, checking only what talking to the
// hardware needs. Sinks may be left unconfigured on a bench machine.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateDevices(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

func findBus(cfg *config.Config, id string) (config.BusConfig, bool) {
	for _, b := range cfg.Buses {
		if b.ID == id {
			return b, true
		}
	}
	return config.BusConfig{}, false
}

func newLogger(stderr io.Writer) *logging.Logger {
	return logging.NewWithWriter(logging.Config{Level: "warn", Format: "text"}, version, stderr)
}

// openDevice builds a session for one configured device. The caller closes
// the returned closer. Shunt application is never automatic here.
func openDevice(opts commonOptions, stderr io.Writer) (*session.Session, func() error, error) {
	if opts.Device == "" {
		return nil, nil, errors.New("-device is required")
	}

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return nil, nil, err
	}

	var dev *config.DeviceConfig
	for i := range cfg.Devices {
		if cfg.Devices[i].ID == opts.Device {
			dev = &cfg.Devices[i]
			break
		}
	}
	if dev == nil {
		return nil, nil, fmt.Errorf("device %q not in %s", opts.Device, opts.Config)
	}

	bus, _ := findBus(cfg, dev.Bus)
	client, err := openBus(bus)
	if err != nil {
		return nil, nil, fmt.Errorf("open bus %q: %w", bus.ID, err)
	}

	s, err := poller.NewSession(*dev, false, client, nil, newLogger(stderr))
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return s, client.Close, nil
}

// ---- read ----

type readingOutput struct {
	Device           string  `json:"device" yaml:"device"`
	Time             string  `json:"time" yaml:"time"`
	Voltage          float64 `json:"voltage" yaml:"voltage"`
	Current          float64 `json:"current" yaml:"current"`
	Power            float64 `json:"power" yaml:"power"`
	EnergyWh         float64 `json:"energy_wh" yaml:"energy_wh"`
	HighVoltageAlarm bool    `json:"high_voltage_alarm" yaml:"high_voltage_alarm"`
	LowVoltageAlarm  bool    `json:"low_voltage_alarm" yaml:"low_voltage_alarm"`
	Error            string  `json:"error,omitempty" yaml:"error,omitempty"`
}

func toReadingOutput(m pzem.Measurement) readingOutput {
	return readingOutput{
		Device:           m.Device.ID,
		Time:             m.At.Format(time.RFC3339),
		Voltage:          m.Voltage,
		Current:          m.Current,
		Power:            m.Power,
		EnergyWh:         m.EnergyWh,
		HighVoltageAlarm: m.HighVoltageAlarm,
		LowVoltageAlarm:  m.LowVoltageAlarm,
	}
}

func runRead(args []string, stdout, stderr io.Writer) int {
	var opts commonOptions
	var all bool
	fs := newFlagSet("read", stderr, &opts)
	fs.BoolVar(&all, "all", false, "read every configured device once")
	if err := fs.Parse(args); err != nil {
		return exitCommandError
	}
	if all {
		return readAll(opts, stdout, stderr)
	}

	s, closeBus, err := openDevice(opts, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCommandError
	}
	defer closeBus()

	m, err := s.ReadMeasurement()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitDeviceError
	}

	return render(stdout, stderr, opts.Format, toReadingOutput(m), func(w io.Writer) {
		fmt.Fprintf(w, "device:   %s (address %d)\n", m.Device.ID, m.Device.Address)
		fmt.Fprintf(w, "voltage:  %.2f V\n", m.Voltage)
		fmt.Fprintf(w, "current:  %.2f A\n", m.Current)
		fmt.Fprintf(w, "power:    %.1f W\n", m.Power)
		fmt.Fprintf(w, "energy:   %.0f Wh\n", m.EnergyWh)
		fmt.Fprintf(w, "alarms:   high=%t low=%t\n", m.HighVoltageAlarm, m.LowVoltageAlarm)
	})
}

// readAll sweeps every configured device once, bus by bus, and reports
// each result. Any unreachable device makes the exit code a device error.
func readAll(opts commonOptions, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCommandError
	}

	clients := make(map[string]transport.Client, len(cfg.Buses))
	defer func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}()

	logger := newLogger(stderr)
	out := make([]readingOutput, 0, len(cfg.Devices))
	failed := 0

	for _, d := range cfg.Devices {
		client, ok := clients[d.Bus]
		if !ok {
			bus, _ := findBus(cfg, d.Bus)
			client, err = openBus(bus)
			if err != nil {
				fmt.Fprintf(stderr, "Error: open bus %q: %v\n", d.Bus, err)
				return exitCommandError
			}
			clients[d.Bus] = client
		}

		s, err := poller.NewSession(d, false, client, nil, logger)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitCommandError
		}

		m, err := s.ReadMeasurement()
		if err != nil {
			failed++
			out = append(out, readingOutput{Device: d.ID, Error: err.Error()})
			continue
		}
		out = append(out, toReadingOutput(m))
	}

	if code := render(stdout, stderr, opts.Format, out, func(w io.Writer) {
		for _, r := range out {
			if r.Error != "" {
				fmt.Fprintf(w, "%-16s FAIL %s\n", r.Device, r.Error)
				continue
			}
			fmt.Fprintf(w, "%-16s OK   %.2f V  %.2f A  %.1f W  %.0f Wh\n",
				r.Device, r.Voltage, r.Current, r.Power, r.EnergyWh)
		}
	}); code != exitSuccess {
		return code
	}

	if failed > 0 {
		fmt.Fprintf(stderr, "%d of %d devices did not answer\n", failed, len(out))
		return exitDeviceError
	}
	return exitSuccess
}

// ---- params ----

type paramsOutput struct {
	Device               string  `json:"device" yaml:"device"`
	HighVoltageThreshold float64 `json:"high_voltage_threshold" yaml:"high_voltage_threshold"`
	LowVoltageThreshold  float64 `json:"low_voltage_threshold" yaml:"low_voltage_threshold"`
	Address              uint8   `json:"address" yaml:"address"`
	Shunt                string  `json:"shunt" yaml:"shunt"`
}

func runParams(args []string, stdout, stderr io.Writer) int {
	var opts commonOptions
	if err := newFlagSet("params", stderr, &opts).Parse(args); err != nil {
		return exitCommandError
	}

	s, closeBus, err := openDevice(opts, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCommandError
	}
	defer closeBus()

	p, err := s.ReadParams()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitDeviceError
	}

	out := paramsOutput{
		Device:               opts.Device,
		HighVoltageThreshold: p.HighVoltageThreshold,
		LowVoltageThreshold:  p.LowVoltageThreshold,
		Address:              p.Address,
		Shunt:                p.Shunt.String(),
	}
	return render(stdout, stderr, opts.Format, out, func(w io.Writer) {
		fmt.Fprintf(w, "device:         %s\n", opts.Device)
		fmt.Fprintf(w, "high threshold: %.2f V\n", p.HighVoltageThreshold)
		fmt.Fprintf(w, "low threshold:  %.2f V\n", p.LowVoltageThreshold)
		fmt.Fprintf(w, "address:        %d\n", p.Address)
		fmt.Fprintf(w, "shunt:          %s (code %d)\n", p.Shunt, uint16(p.Shunt))
	})
}

// ---- writes ----

func runSetShunt(args []string, stdout, stderr io.Writer) int {
	var opts commonOptions
	var rating string
	fs := newFlagSet("set-shunt", stderr, &opts)
	fs.StringVar(&rating, "shunt", "", "shunt rating: 50A, 100A, 200A or 300A")
	if err := fs.Parse(args); err != nil {
		return exitCommandError
	}

	code, err := pzem.ParseShuntRating(rating)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCommandError
	}

	return withDevice(opts, stdout, stderr, func(s *session.Session) (string, error) {
		if err := s.SetShunt(code); err != nil {
			return "", err
		}
		return fmt.Sprintf("shunt set to %s", code), nil
	})
}

func runSetAddress(args []string, stdout, stderr io.Writer) int {
	var opts commonOptions
	var addr int
	var broadcast bool
	var busID string
	fs := newFlagSet("set-address", stderr, &opts)
	fs.IntVar(&addr, "address", 0, "new slave address (1-247)")
	fs.BoolVar(&broadcast, "broadcast", false, "program every unit on the bus; use with exactly one unit attached")
	fs.StringVar(&busID, "bus", "", "bus id for -broadcast (default: the only configured bus)")
	if err := fs.Parse(args); err != nil {
		return exitCommandError
	}

	if !pzem.ValidAddress(addr) {
		fmt.Fprintf(stderr, "Error: -address must be %d-%d\n", pzem.MinAddress, pzem.MaxAddress)
		return exitCommandError
	}
	if broadcast {
		return broadcastAddress(opts, busID, addr, stdout, stderr)
	}

	return withDevice(opts, stdout, stderr, func(s *session.Session) (string, error) {
		if err := s.SetAddress(addr); err != nil {
			return "", err
		}
		return fmt.Sprintf("address set to %d; update the configuration before restarting pzem-poller", addr), nil
	})
}

// broadcastAddress writes the slave address register on slave 0, which every
// unit accepts whatever its current address. Nothing replies, so the new
// address is verified with a read afterwards.
func broadcastAddress(opts commonOptions, busID string, addr int, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCommandError
	}

	if busID == "" {
		if len(cfg.Buses) != 1 {
			ids := make([]string, 0, len(cfg.Buses))
			for _, b := range cfg.Buses {
				ids = append(ids, b.ID)
			}
			sort.Strings(ids)
			fmt.Fprintf(stderr, "Error: -bus is required, one of %v\n", ids)
			return exitCommandError
		}
		busID = cfg.Buses[0].ID
	}
	bus, ok := findBus(cfg, busID)
	if !ok {
		fmt.Fprintf(stderr, "Error: bus %q not in %s\n", busID, opts.Config)
		return exitCommandError
	}

	client, err := openBus(bus)
	if err != nil {
		fmt.Fprintf(stderr, "Error: open bus %q: %v\n", bus.ID, err)
		return exitCommandError
	}
	defer client.Close()

	b, ok := client.(transport.Broadcaster)
	if !ok {
		fmt.Fprintf(stderr, "Error: bus %q cannot broadcast (serial buses only)\n", bus.ID)
		return exitCommandError
	}
	if err := b.BroadcastWriteRegister(pzem.RegSlaveAddress, uint16(addr)); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitDeviceError
	}

	time.Sleep(broadcastSettle)

	words, err := client.ReadHoldingRegisters(uint8(addr), pzem.RegSlaveAddress, 1)
	if err != nil {
		fmt.Fprintf(stderr, "Error: no unit answers at address %d after broadcast: %v\n", addr, err)
		return exitDeviceError
	}
	if int(words[0]) != addr {
		fmt.Fprintf(stderr, "Error: unit at %d reports address %d\n", addr, words[0])
		return exitDeviceError
	}

	fmt.Fprintf(stdout, "%s: address set to %d by broadcast\n", bus.ID, addr)
	return exitSuccess
}

func runSetThresholds(args []string, stdout, stderr io.Writer) int {
	var opts commonOptions
	var high, low float64
	fs := newFlagSet("set-thresholds", stderr, &opts)
	fs.Float64Var(&high, "high", 0, "high voltage alarm threshold (V)")
	fs.Float64Var(&low, "low", 0, "low voltage alarm threshold (V)")
	if err := fs.Parse(args); err != nil {
		return exitCommandError
	}

	return withDevice(opts, stdout, stderr, func(s *session.Session) (string, error) {
		if err := s.SetThresholds(high, low); err != nil {
			return "", err
		}
		return fmt.Sprintf("thresholds set to high=%.2f V low=%.2f V", high, low), nil
	})
}

func runResetEnergy(args []string, stdout, stderr io.Writer) int {
	var opts commonOptions
	if err := newFlagSet("reset-energy", stderr, &opts).Parse(args); err != nil {
		return exitCommandError
	}

	return withDevice(opts, stdout, stderr, func(s *session.Session) (string, error) {
		if err := s.ResetEnergy(); err != nil {
			return "", err
		}
		return "energy counter reset", nil
	})
}

func withDevice(opts commonOptions, stdout, stderr io.Writer, fn func(*session.Session) (string, error)) int {
	s, closeBus, err := openDevice(opts, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCommandError
	}
	defer closeBus()

	msg, err := fn(s)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitDeviceError
	}
	fmt.Fprintf(stdout, "%s: %s\n", opts.Device, msg)
	return exitSuccess
}

// ---- output ----

func render(stdout, stderr io.Writer, format string, v any, text func(io.Writer)) int {
	switch format {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitCommandError
		}
	case "yaml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitCommandError
		}
		enc.Close()
	case "text", "":
		text(stdout)
	default:
		fmt.Fprintf(stderr, "Error: unknown format %q\n", format)
		return exitCommandError
	}
	return exitSuccess
}
