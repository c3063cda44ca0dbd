// internal/session/session_test.go
package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/pzem-poller/internal/events"
	"github.com/tamzrod/pzem-poller/internal/logging"
	"github.com/tamzrod/pzem-poller/internal/pzem"
	"github.com/tamzrod/pzem-poller/internal/transport"
)

var testTag = pzem.Tag{ID: "battery", Bus: "bus0", Address: 1, Name: "Battery", Location: "shed"}

func newTestSession(c *fakeClient, shunt pzem.ShuntCode, apply bool) (*Session, *events.Recorder) {
	rec := &events.Recorder{}
	s := New(Config{Tag: testTag, Shunt: shunt, ApplyShunt: apply}, c, rec, logging.Discard())
	return s, rec
}

// ---- calibration ----

func TestInitializeWritesShuntOnce(t *testing.T) {
	c := newFakeClient()
	s, rec := newTestSession(c, pzem.Shunt300A, true)

	s.Initialize()
	s.Initialize()

	require.Len(t, c.writes, 1)
	assert.Equal(t, write{1, pzem.RegShuntCode, uint16(pzem.Shunt300A)}, c.writes[0])
	assert.Equal(t, CalibrationApplied, s.Calibration())
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, 1, rec.Count(events.CalibrationApplied))

	// The device read-back reproduces what was written.
	p, err := s.ReadParams()
	require.NoError(t, err)
	assert.Equal(t, pzem.Shunt300A, p.Shunt)
}

func TestInitializeSkipsWriteWhenAlreadyApplied(t *testing.T) {
	c := newFakeClient()
	c.holding[pzem.RegShuntCode] = uint16(pzem.Shunt50A)
	s, rec := newTestSession(c, pzem.Shunt50A, true)

	s.Initialize()

	assert.Empty(t, c.writes)
	assert.Equal(t, CalibrationApplied, s.Calibration())
	assert.Equal(t, 1, rec.Count(events.CalibrationApplied))
}

func TestInitializeWriteFailureStillReady(t *testing.T) {
	c := newFakeClient()
	c.writeErr = []error{timeoutErr()}
	s, rec := newTestSession(c, pzem.Shunt200A, true)

	s.Initialize()
	s.Initialize()

	assert.Len(t, c.writes, 1)
	assert.Equal(t, CalibrationFailed, s.Calibration())
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, 1, rec.Count(events.CalibrationFailed))

	_, err := s.ReadMeasurement()
	assert.NoError(t, err)
}

func TestInitializeReadBackFailureWritesOnce(t *testing.T) {
	c := newFakeClient()
	c.readErr = []error{timeoutErr()}
	s, _ := newTestSession(c, pzem.Shunt200A, true)

	s.Initialize()

	assert.Len(t, c.writes, 1)
	assert.Equal(t, CalibrationApplied, s.Calibration())
}

func TestInitializeWithoutApply(t *testing.T) {
	c := newFakeClient()
	s, rec := newTestSession(c, pzem.Shunt300A, false)

	s.Initialize()

	assert.Empty(t, c.writes)
	assert.Equal(t, CalibrationUnapplied, s.Calibration())
	assert.Equal(t, StateReady, s.State())
	assert.Empty(t, rec.Events())
}

// ---- reads ----

func TestReadMeasurement(t *testing.T) {
	c := newFakeClient()
	s, _ := newTestSession(c, pzem.Shunt100A, false)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	m, err := s.ReadMeasurement()
	require.NoError(t, err)
	assert.Equal(t, testTag, m.Device)
	assert.Equal(t, at, m.At)
	assert.InDelta(t, 12.34, m.Voltage, 1e-9)
	assert.InDelta(t, -1.50, m.Current, 1e-9)
	assert.InDelta(t, 18.5, m.Power, 1e-9)
	assert.InDelta(t, 1000, m.EnergyWh, 1e-9)
}

func TestReadMeasurementUnreachable(t *testing.T) {
	c := newFakeClient()
	c.inputErr = []error{timeoutErr()}
	s, _ := newTestSession(c, pzem.Shunt100A, false)

	_, err := s.ReadMeasurement()
	require.Error(t, err)
	assert.Equal(t, KindUnreachable, KindOf(err))
	assert.Equal(t, transport.KindTimeout, transport.KindOf(err))

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "battery", se.Device)
}

func TestReadMeasurementMalformed(t *testing.T) {
	c := newFakeClient()
	c.input[pzem.RegHighVoltageAlarm] = 0x1234
	s, _ := newTestSession(c, pzem.Shunt100A, false)

	_, err := s.ReadMeasurement()
	assert.Equal(t, KindMalformed, KindOf(err))

	var de *pzem.DecodeError
	assert.True(t, errors.As(err, &de))
}

func TestEnergyRegressionRejectedThenAccepted(t *testing.T) {
	c := newFakeClient()
	s, _ := newTestSession(c, pzem.Shunt100A, false)

	_, err := s.ReadMeasurement()
	require.NoError(t, err)

	c.setEnergy(10)
	for i := 1; i < regressionTolerance; i++ {
		_, err = s.ReadMeasurement()
		assert.ErrorIs(t, err, ErrEnergyRegression)
		assert.Equal(t, KindMalformed, KindOf(err))
	}

	m, err := s.ReadMeasurement()
	require.NoError(t, err)
	assert.InDelta(t, 10, m.EnergyWh, 1e-9)
}

func TestEnergyRegressionStreakResetsOnGoodRead(t *testing.T) {
	c := newFakeClient()
	s, _ := newTestSession(c, pzem.Shunt100A, false)

	_, err := s.ReadMeasurement()
	require.NoError(t, err)

	c.setEnergy(10)
	_, err = s.ReadMeasurement()
	require.ErrorIs(t, err, ErrEnergyRegression)

	c.setEnergy(1001)
	_, err = s.ReadMeasurement()
	require.NoError(t, err)

	c.setEnergy(10)
	_, err = s.ReadMeasurement()
	assert.ErrorIs(t, err, ErrEnergyRegression)
}

func TestReadParams(t *testing.T) {
	c := newFakeClient()
	s, _ := newTestSession(c, pzem.Shunt100A, false)

	p, err := s.ReadParams()
	require.NoError(t, err)
	assert.InDelta(t, 300, p.HighVoltageThreshold, 1e-9)
	assert.InDelta(t, 7, p.LowVoltageThreshold, 1e-9)
	assert.Equal(t, uint8(1), p.Address)
	assert.Equal(t, pzem.Shunt100A, p.Shunt)
}

// ---- maintenance ----

func TestResetEnergyClearsBaseline(t *testing.T) {
	c := newFakeClient()
	s, _ := newTestSession(c, pzem.Shunt100A, false)

	_, err := s.ReadMeasurement()
	require.NoError(t, err)

	require.NoError(t, s.ResetEnergy())
	assert.Equal(t, []byte{pzem.FuncResetEnergy}, c.raws)

	c.setEnergy(0)
	m, err := s.ReadMeasurement()
	require.NoError(t, err)
	assert.Zero(t, m.EnergyWh)
}

func TestResetEnergyWithoutRawCommand(t *testing.T) {
	var c transport.Client = struct {
		transport.Client
	}{newFakeClient()}
	s := New(Config{Tag: testTag}, c, nil, nil)

	err := s.ResetEnergy()
	assert.ErrorIs(t, err, ErrNoRawCommand)
}

func TestSetters(t *testing.T) {
	c := newFakeClient()
	s, _ := newTestSession(c, pzem.Shunt100A, false)

	require.NoError(t, s.SetShunt(pzem.Shunt50A))
	require.NoError(t, s.SetAddress(17))
	require.NoError(t, s.SetThresholds(60, 40))

	assert.Equal(t, []write{
		{1, pzem.RegShuntCode, uint16(pzem.Shunt50A)},
		{1, pzem.RegSlaveAddress, 17},
		{1, pzem.RegHighVoltageThreshold, 6000},
		{1, pzem.RegLowVoltageThreshold, 4000},
	}, c.writes)

	assert.Error(t, s.SetAddress(0))
	assert.Error(t, s.SetAddress(248))
	assert.Error(t, s.SetThresholds(40, 60))
	assert.Error(t, s.SetThresholds(400, 60))
	assert.Error(t, s.SetShunt(pzem.ShuntCode(9)))
	assert.Len(t, c.writes, 4)
}
