package sim

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestModeFactorBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	factorsInBounds := func(m ModeParameters) bool {
		eff := m.EfficiencyFactor()
		vib := m.VibrationFactor()
		temp := m.TemperatureOffset()
		flow := m.FlowReductionFactor()
		return eff >= 0.3 && eff <= 1.0 &&
			vib >= 1.0 &&
			temp >= 0.0 &&
			flow >= 0.5 && flow <= 1.0
	}

	properties.Property("aged factors stay in bounds", prop.ForAll(
		func(years float64) bool {
			m := DefaultModeParameters()
			m.Mode = ModeAged
			m.Aged.YearsOfOperation = years
			return factorsInBounds(m)
		},
		gen.Float64Range(0, 50),
	))

	properties.Property("degraded factors stay in bounds", prop.ForAll(
		func(impeller, bearing, seal float64) bool {
			m := DefaultModeParameters()
			m.Mode = ModeDegraded
			m.Degraded = DegradedConfig{ImpellerWear: impeller, BearingWear: bearing, SealWear: seal}
			return factorsInBounds(m)
		},
		gen.Float64Range(0, 50),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
	))

	properties.Property("failure factors stay in bounds", prop.ForAll(
		func(failureType int, progression float64) bool {
			m := DefaultModeParameters()
			m.Mode = ModeFailure
			ft, _ := ParseFailureType(failureType)
			m.Failure = FailureConfig{Type: ft, Progression: progression, TimeToFailure: 1}
			return factorsInBounds(m)
		},
		gen.IntRange(0, 5),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}

func TestOptimalFactors(t *testing.T) {
	m := DefaultModeParameters()
	assert.Equal(t, 1.0, m.EfficiencyFactor())
	assert.Equal(t, 1.0, m.VibrationFactor())
	assert.Equal(t, 0.0, m.TemperatureOffset())
	assert.Equal(t, 1.0, m.FlowReductionFactor())
}

func TestAgedFactors(t *testing.T) {
	m := DefaultModeParameters()
	m.Mode = ModeAged
	m.Aged.YearsOfOperation = 10

	assert.InDelta(t, 0.94, m.EfficiencyFactor(), 1e-9)
	assert.InDelta(t, 2.0, m.VibrationFactor(), 1e-9)
	assert.Equal(t, 5.0, m.TemperatureOffset())
	assert.Equal(t, 0.97, m.FlowReductionFactor())
}

func TestBearingFailureFactors(t *testing.T) {
	m := DefaultModeParameters()
	m.Mode = ModeFailure
	m.Failure = FailureConfig{Type: FailureBearing, Progression: 100, TimeToFailure: 1}

	assert.InDelta(t, 0.3, m.EfficiencyFactor(), 1e-9)
	assert.InDelta(t, 6.0, m.VibrationFactor(), 1e-9)
	assert.Equal(t, 50.0, m.TemperatureOffset())
	// Bearing failure does not choke flow.
	assert.Equal(t, 1.0, m.FlowReductionFactor())
}

func TestImpellerFailureReducesFlow(t *testing.T) {
	m := DefaultModeParameters()
	m.Mode = ModeFailure
	m.Failure = FailureConfig{Type: FailureImpeller, Progression: 75, TimeToFailure: 1}
	assert.InDelta(t, 0.5, m.FlowReductionFactor(), 1e-9)

	m.Failure.Type = FailureCavitation
	assert.InDelta(t, 0.625, m.FlowReductionFactor(), 1e-9)
}

func TestDiurnalMultiplier(t *testing.T) {
	// Morning and evening peaks, overnight trough.
	assert.Equal(t, 1.40, DiurnalMultiplier(8))
	assert.Equal(t, 1.30, DiurnalMultiplier(19))
	assert.Equal(t, 0.50, DiurnalMultiplier(3))

	// Hour wraps around the clock.
	assert.Equal(t, DiurnalMultiplier(1), DiurnalMultiplier(25))
	assert.Equal(t, DiurnalMultiplier(23), DiurnalMultiplier(-1))
}

func TestParseEnumerations(t *testing.T) {
	mode, ok := ParseMode(3)
	assert.True(t, ok)
	assert.Equal(t, ModeFailure, mode)

	_, ok = ParseMode(7)
	assert.False(t, ok)

	ft, ok := ParseFailureType(1)
	assert.True(t, ok)
	assert.Equal(t, FailureBearing, ft)

	_, ok = ParseFailureType(-1)
	assert.False(t, ok)
}
