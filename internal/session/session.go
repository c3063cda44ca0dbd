// internal/session/session.go
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/tamzrod/pzem-poller/internal/events"
	"github.com/tamzrod/pzem-poller/internal/logging"
	"github.com/tamzrod/pzem-poller/internal/pzem"
	"github.com/tamzrod/pzem-poller/internal/transport"
)

// regressionTolerance is how many consecutive lower energy readings are
// rejected before the lower value is accepted as a counter reset done
// outside this process.
const regressionTolerance = 3

// Config is the immutable per-device input.
type Config struct {
	Tag        pzem.Tag
	Shunt      pzem.ShuntCode
	ApplyShunt bool
}

// Session owns one physical sensor on one transport.
// All device IO of a session is serialized by its mutex; the transport
// serializes IO of all sessions sharing a bus.
type Session struct {
	cfg    Config
	client transport.Client
	emit   events.Emitter
	log    *logging.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	calibration CalibrationState

	haveEnergy  bool
	lastEnergy  float64
	regressions int
}

// New creates a session in StateIdle with CalibrationUnapplied.
func New(cfg Config, client transport.Client, emit events.Emitter, log *logging.Logger) *Session {
	if emit == nil {
		emit = events.Nop{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Session{
		cfg:    cfg,
		client: client,
		emit:   emit,
		log:    log.With("device", cfg.Tag.ID, "bus", cfg.Tag.Bus, "address", cfg.Tag.Address),
		now:    time.Now,
	}
}

// Tag returns the device identity.
func (s *Session) Tag() pzem.Tag { return s.cfg.Tag }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Calibration returns the calibration state.
func (s *Session) Calibration() CalibrationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibration
}

// ---- INITIALIZE ----

// Initialize moves the session from Idle to Ready, applying the shunt code
// on the way when configured. Only the first call does anything.
//
// The shunt register is read back first; a device that already holds the
// configured code is marked Applied without a write. Otherwise exactly one
// write is issued. A failed write leaves the device on its last programmed
// value and the session still becomes Ready.
func (s *Session) Initialize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return
	}
	s.state = StateCalibrating

	if s.cfg.ApplyShunt && s.calibration == CalibrationUnapplied {
		s.calibrate()
	}

	s.state = StateReady
}

// calibrate runs with s.mu held.
func (s *Session) calibrate() {
	tag := s.cfg.Tag

	current, err := s.readShunt()
	if err == nil && current == s.cfg.Shunt {
		s.calibration = CalibrationApplied
		s.log.Info().Stringer("shunt", s.cfg.Shunt).Msg("shunt code already applied")
		s.emitDevice(events.CalibrationApplied, nil)
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("shunt code read-back failed, writing anyway")
	}

	words := pzem.EncodeShuntCode(s.cfg.Shunt)
	if err := s.client.WriteSingleRegister(tag.Address, pzem.RegShuntCode, words[0]); err != nil {
		s.calibration = CalibrationFailed
		s.state = StateCalibrationFailed
		s.log.Error().Stringer("shunt", s.cfg.Shunt).Err(err).Msg("shunt code write failed, using last programmed value")
		s.emitDevice(events.CalibrationFailed, err)
		return
	}

	s.calibration = CalibrationApplied
	s.log.Info().Stringer("shunt", s.cfg.Shunt).Msg("shunt code applied")
	s.emitDevice(events.CalibrationApplied, nil)
}

func (s *Session) readShunt() (pzem.ShuntCode, error) {
	words, err := s.client.ReadHoldingRegisters(s.cfg.Tag.Address, pzem.RegShuntCode, 1)
	if err != nil {
		return 0, err
	}
	return pzem.DecodeShuntCode(words)
}

// ---- READ ----

// ReadMeasurement issues one input register read and decodes it.
// It never retries.
func (s *Session) ReadMeasurement() (pzem.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag := s.cfg.Tag
	words, err := s.client.ReadInputRegisters(tag.Address, pzem.RegVoltage, pzem.MeasurementWords)
	if err != nil {
		return pzem.Measurement{}, s.fail(KindUnreachable, err)
	}
	at := s.now()

	m, err := pzem.DecodeMeasurement(words)
	if err != nil {
		return pzem.Measurement{}, s.fail(KindMalformed, err)
	}

	if s.haveEnergy && m.EnergyWh < s.lastEnergy {
		s.regressions++
		if s.regressions < regressionTolerance {
			return pzem.Measurement{}, s.fail(KindMalformed,
				fmt.Errorf("%w: %.0f Wh after %.0f Wh", ErrEnergyRegression, m.EnergyWh, s.lastEnergy))
		}
		s.log.Warn().Float64("previous_wh", s.lastEnergy).Float64("current_wh", m.EnergyWh).Msg("energy counter reset detected")
	}
	s.regressions = 0
	s.haveEnergy = true
	s.lastEnergy = m.EnergyWh

	return m.Stamp(tag, at), nil
}

// ReadParams reads the holding register block.
func (s *Session) ReadParams() (pzem.Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	words, err := s.client.ReadHoldingRegisters(s.cfg.Tag.Address, pzem.RegHighVoltageThreshold, pzem.ParamWords)
	if err != nil {
		return pzem.Params{}, s.fail(KindUnreachable, err)
	}
	p, err := pzem.DecodeParams(words)
	if err != nil {
		return pzem.Params{}, s.fail(KindMalformed, err)
	}
	return p, nil
}

// ---- MAINTENANCE ----

// ResetEnergy clears the device energy counter and the regression baseline.
func (s *Session) ResetEnergy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.client.(transport.RawCommander)
	if !ok {
		return s.fail(KindUnreachable, ErrNoRawCommand)
	}
	if err := raw.SendRaw(s.cfg.Tag.Address, pzem.FuncResetEnergy); err != nil {
		return s.fail(KindUnreachable, err)
	}

	s.haveEnergy = false
	s.lastEnergy = 0
	s.regressions = 0
	s.log.Info().Msg("energy counter reset")
	return nil
}

// SetShunt writes a shunt code unconditionally. Operator path only: the
// poller uses Initialize.
func (s *Session) SetShunt(code pzem.ShuntCode) error {
	if !code.Valid() {
		return fmt.Errorf("invalid shunt code %d", code)
	}
	return s.writeHolding(pzem.RegShuntCode, uint16(code))
}

// SetAddress programs a new slave address. The session keeps talking to
// the old address; build a new session to reach the device afterwards.
func (s *Session) SetAddress(addr int) error {
	if !pzem.ValidAddress(addr) {
		return fmt.Errorf("slave address %d outside %d-%d", addr, pzem.MinAddress, pzem.MaxAddress)
	}
	return s.writeHolding(pzem.RegSlaveAddress, uint16(addr))
}

// SetThresholds programs the high and low voltage alarm thresholds.
func (s *Session) SetThresholds(high, low float64) error {
	hw, err := pzem.EncodeHighVoltageThreshold(high)
	if err != nil {
		return err
	}
	lw, err := pzem.EncodeLowVoltageThreshold(low)
	if err != nil {
		return err
	}
	if low >= high {
		return fmt.Errorf("low threshold %.2f V must be below high threshold %.2f V", low, high)
	}
	if err := s.writeHolding(pzem.RegHighVoltageThreshold, hw); err != nil {
		return err
	}
	return s.writeHolding(pzem.RegLowVoltageThreshold, lw)
}

func (s *Session) writeHolding(reg, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.WriteSingleRegister(s.cfg.Tag.Address, reg, value); err != nil {
		return s.fail(KindUnreachable, err)
	}
	return nil
}

// ---- helpers ----

func (s *Session) fail(kind Kind, err error) error {
	return &Error{Kind: kind, Device: s.cfg.Tag.ID, Err: err}
}

func (s *Session) emitDevice(kind events.Kind, err error) {
	s.emit.Emit(events.Event{
		Kind:    kind,
		At:      s.now(),
		Device:  s.cfg.Tag.ID,
		Bus:     s.cfg.Tag.Bus,
		Address: s.cfg.Tag.Address,
		Err:     err,
	})
}
