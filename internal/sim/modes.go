package sim

import "math"

// Mode is the simulation operating mode for the whole station.
type Mode int

const (
	// ModeOptimal simulates new pumps at manufacturer specifications
	ModeOptimal Mode = iota
	// ModeAged simulates cumulative wear from years of service
	ModeAged
	// ModeDegraded simulates configurable component wear
	ModeDegraded
	// ModeFailure simulates a progressive failure
	ModeFailure
)

// String returns the mode name used in logs and status payloads.
func (m Mode) String() string {
	switch m {
	case ModeOptimal:
		return "OPTIMAL"
	case ModeAged:
		return "AGED"
	case ModeDegraded:
		return "DEGRADED"
	case ModeFailure:
		return "FAILURE"
	}
	return "UNKNOWN"
}

// ParseMode converts an enumeration value into a Mode.
func ParseMode(v int) (Mode, bool) {
	if v < int(ModeOptimal) || v > int(ModeFailure) {
		return ModeOptimal, false
	}
	return Mode(v), true
}

// FailureType identifies the simulated failure mechanism.
type FailureType int

const (
	FailureNone FailureType = iota
	FailureBearing
	FailureSeal
	FailureCavitation
	FailureImpeller
	FailureMotor
)

// String returns the failure type name.
func (f FailureType) String() string {
	switch f {
	case FailureNone:
		return "NONE"
	case FailureBearing:
		return "BEARING"
	case FailureSeal:
		return "SEAL"
	case FailureCavitation:
		return "CAVITATION"
	case FailureImpeller:
		return "IMPELLER"
	case FailureMotor:
		return "MOTOR"
	}
	return "UNKNOWN"
}

// ParseFailureType converts an enumeration value into a FailureType.
func ParseFailureType(v int) (FailureType, bool) {
	if v < int(FailureNone) || v > int(FailureMotor) {
		return FailureNone, false
	}
	return FailureType(v), true
}

// AgedConfig parameterizes the AGED mode.
type AgedConfig struct {
	YearsOfOperation  float64 `json:"years"`
	RunHoursPerYear   float64 `json:"hours_per_year"`
	StartCyclesPerYear int    `json:"starts_per_year"`
}

// TotalRuntimeHours is the simulated accumulated runtime.
func (c AgedConfig) TotalRuntimeHours() float64 {
	return c.YearsOfOperation * c.RunHoursPerYear
}

// TotalStartCycles is the simulated accumulated start count.
func (c AgedConfig) TotalStartCycles() int {
	return int(c.YearsOfOperation * float64(c.StartCyclesPerYear))
}

// DegradedConfig parameterizes the DEGRADED mode.
type DegradedConfig struct {
	ImpellerWear float64 `json:"impeller_wear"` // % clearance increase (0-50)
	BearingWear  float64 `json:"bearing_wear"`  // % damage (0-100)
	SealWear     float64 `json:"seal_wear"`     // % degradation (0-100)
}

// FailureConfig parameterizes the FAILURE mode.
type FailureConfig struct {
	Type          FailureType `json:"type"`
	Progression   float64     `json:"progression"` // % (0-100)
	TimeToFailure float64     `json:"time_to_failure"` // hours
}

// FlowProfile is the diurnal demand configuration.
type FlowProfile struct {
	DiurnalEnabled bool    `json:"diurnal_enabled"`
	BaseFlow       float64 `json:"base"`
	PeakFlow       float64 `json:"peak"`
	PeakHour1      int     `json:"peak_hour_1"`
	PeakHour2      int     `json:"peak_hour_2"`
}

// ModeParameters is the complete mode state owned by the kernel.
// Mutation goes through the kernel's control operations only.
type ModeParameters struct {
	Mode               Mode           `json:"mode"`
	Aged               AgedConfig     `json:"aged_config"`
	Degraded           DegradedConfig `json:"degraded_config"`
	Failure            FailureConfig  `json:"failure_config"`
	Profile            FlowProfile    `json:"flow_profile"`
	SimulationInterval float64        `json:"simulation_interval_ms"`
	TimeAcceleration   float64        `json:"time_acceleration"`
}

// DefaultModeParameters returns the OPTIMAL-mode defaults.
func DefaultModeParameters() ModeParameters {
	return ModeParameters{
		Mode: ModeOptimal,
		Aged: AgedConfig{
			YearsOfOperation:   5.0,
			RunHoursPerYear:    6000.0,
			StartCyclesPerYear: 500,
		},
		Degraded: DegradedConfig{
			ImpellerWear: 15.0,
			BearingWear:  20.0,
			SealWear:     25.0,
		},
		Failure: FailureConfig{
			Type:          FailureNone,
			Progression:   0.0,
			TimeToFailure: 100.0,
		},
		Profile: FlowProfile{
			DiurnalEnabled: true,
			BaseFlow:       1600.0,
			PeakFlow:       4000.0,
			PeakHour1:      7,
			PeakHour2:      19,
		},
		SimulationInterval: 1000.0,
		TimeAcceleration:   1.0,
	}
}

// EfficiencyFactor is the mode-dependent multiplier on pump efficiency.
func (m ModeParameters) EfficiencyFactor() float64 {
	switch m.Mode {
	case ModeAged:
		return math.Max(0.85, 1.0-m.Aged.YearsOfOperation*0.006)
	case ModeDegraded:
		return math.Max(0.60, 1.0-m.Degraded.ImpellerWear/100.0)
	case ModeFailure:
		return math.Max(0.30, 1.0-0.7*m.Failure.Progression/100.0)
	}
	return 1.0
}

// VibrationFactor is the mode-dependent multiplier on vibration.
func (m ModeParameters) VibrationFactor() float64 {
	switch m.Mode {
	case ModeAged:
		return 1.0 + m.Aged.YearsOfOperation*0.1
	case ModeDegraded:
		return 1.0 + m.Degraded.BearingWear/50.0
	case ModeFailure:
		p := m.Failure.Progression / 100.0
		switch m.Failure.Type {
		case FailureBearing:
			return 1.0 + p*5.0
		case FailureImpeller:
			return 1.0 + p*3.0
		default:
			return 1.0 + p
		}
	}
	return 1.0
}

// TemperatureOffset is the mode-dependent temperature rise in °C.
func (m ModeParameters) TemperatureOffset() float64 {
	switch m.Mode {
	case ModeAged:
		return 5.0
	case ModeDegraded:
		return m.Degraded.BearingWear * 0.3
	case ModeFailure:
		switch m.Failure.Type {
		case FailureBearing:
			return m.Failure.Progression * 0.5
		case FailureMotor:
			return m.Failure.Progression * 0.8
		default:
			return m.Failure.Progression * 0.2
		}
	}
	return 0.0
}

// FlowReductionFactor is the mode-dependent multiplier on flow capacity.
func (m ModeParameters) FlowReductionFactor() float64 {
	switch m.Mode {
	case ModeAged:
		return 0.97
	case ModeDegraded:
		return 1.0 - m.Degraded.ImpellerWear/200.0
	case ModeFailure:
		switch m.Failure.Type {
		case FailureImpeller:
			return math.Max(0.5, 1.0-m.Failure.Progression/150.0)
		case FailureCavitation:
			return math.Max(0.5, 1.0-m.Failure.Progression/200.0)
		}
	}
	return 1.0
}

// hourlyFlowMultipliers is the diurnal demand table for a municipal
// wastewater catchment: morning and evening peaks, overnight trough.
var hourlyFlowMultipliers = [24]float64{
	0.60, 0.55, 0.50, 0.50, 0.55, 0.70,
	1.00, 1.30, 1.40, 1.20, 1.00, 0.95,
	1.10, 1.15, 1.00, 0.90, 0.95, 1.00,
	1.20, 1.30, 1.20, 1.00, 0.85, 0.70,
}

// DiurnalMultiplier returns the flow multiplier for an hour of day.
func DiurnalMultiplier(hour int) float64 {
	return hourlyFlowMultipliers[((hour%24)+24)%24]
}
