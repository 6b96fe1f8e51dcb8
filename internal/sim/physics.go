package sim

import (
	"math"
	"math/rand"
)

// Physical constants for pumped wastewater.
const (
	waterDensity = 998.0 // kg/m³
	gravity      = 9.81  // m/s²
)

// DesignPoint is the manufacturer (BEP) specification of a pump. Values
// are fixed after construction; physics coefficients derive from them.
type DesignPoint struct {
	Flow             float64 // m³/h at BEP
	Head             float64 // m TDH at BEP
	Power            float64 // kW rated motor power
	Efficiency       float64 // % pump efficiency at BEP
	MotorEfficiency  float64 // %
	MaxRPM           float64
	MinRPM           float64
	ImpellerDiameter float64 // mm
	NPSHRequired     float64 // m
	FullLoadAmps     float64
	RatedVoltage     float64
}

// DesignPointFromSpecs builds a design point from catalog design specs,
// falling back to the reference influent pump where a value is absent.
func DesignPointFromSpecs(specs map[string]float64) DesignPoint {
	get := func(key string, fallback float64) float64 {
		if v, ok := specs[key]; ok {
			return v
		}
		return fallback
	}
	return DesignPoint{
		Flow:             get("DesignFlow", 2500.0),
		Head:             get("DesignHead", 15.0),
		Power:            get("DesignPower", 150.0),
		Efficiency:       get("ManufacturerBEP_Efficiency", 84.0),
		MotorEfficiency:  get("MotorEfficiency", 95.4),
		MaxRPM:           get("MaxRPM", 1180),
		MinRPM:           get("MinRPM", 600),
		ImpellerDiameter: get("ImpellerDiameter", 450.0),
		NPSHRequired:     get("NPSHRequired", 4.5),
		FullLoadAmps:     get("FullLoadAmps", 225),
		RatedVoltage:     get("RatedVoltage", 480),
	}
}

// Physics evaluates the affinity-law pump model for one design point.
// Noise draws come from the kernel's seedable stream.
type Physics struct {
	design      DesignPoint
	shutoffHead float64
	curveK      float64
	rng         *rand.Rand
}

// NewPhysics derives the curve coefficients once and caches them.
func NewPhysics(design DesignPoint, rng *rand.Rand) *Physics {
	shutoff := design.Head * 1.2
	var k float64
	if design.Flow > 0 {
		k = (shutoff - design.Head) / (design.Flow * design.Flow)
	}
	return &Physics{
		design:      design,
		shutoffHead: shutoff,
		curveK:      k,
		rng:         rng,
	}
}

// Design returns the pump's design point.
func (p *Physics) Design() DesignPoint { return p.design }

func (p *Physics) uniform(low, high float64) float64 {
	return low + p.rng.Float64()*(high-low)
}

func (p *Physics) speedRatio(rpm float64) float64 {
	if p.design.MaxRPM == 0 {
		return 0
	}
	return rpm / p.design.MaxRPM
}

// FlowAtSpeed applies the first affinity law: Q is proportional to N.
func (p *Physics) FlowAtSpeed(rpm float64) float64 {
	return p.design.Flow * p.speedRatio(rpm)
}

// HeadAtFlow evaluates the pump curve at a flow and speed:
// H = H_shutoff·r² − k·Q², never negative.
func (p *Physics) HeadAtFlow(flow, rpm float64) float64 {
	r := p.speedRatio(rpm)
	head := p.shutoffHead*r*r - p.curveK*flow*flow
	return math.Max(0, head)
}

// HydraulicPower is the water power in kW at a flow (m³/h) and head (m).
func (p *Physics) HydraulicPower(flow, head float64) float64 {
	return waterDensity * gravity * (flow / 3600.0) * head / 1000.0
}

// ShaftPower is hydraulic power divided by pump efficiency.
func (p *Physics) ShaftPower(flow, head, pumpEfficiency float64) float64 {
	if pumpEfficiency <= 0 {
		return 0
	}
	return p.HydraulicPower(flow, head) / (pumpEfficiency / 100.0)
}

// ElectricalPower is shaft power divided by motor efficiency.
func (p *Physics) ElectricalPower(flow, head, pumpEfficiency, motorEfficiency float64) float64 {
	if motorEfficiency <= 0 {
		return 0
	}
	return p.ShaftPower(flow, head, pumpEfficiency) / (motorEfficiency / 100.0)
}

// EstimateEfficiency evaluates the efficiency curve, peaking at the BEP
// flow for the current speed and clamped to [20, design efficiency]. At
// zero speed it returns 0.
func (p *Physics) EstimateEfficiency(flow, rpm float64) float64 {
	r := p.speedRatio(rpm)
	bepFlow := p.design.Flow * r
	if bepFlow == 0 {
		return 0
	}
	deviation := (flow - bepFlow) / bepFlow
	eff := p.design.Efficiency * (1.0 - 0.5*deviation*deviation)
	return math.Max(20.0, math.Min(p.design.Efficiency, eff))
}

// MotorCurrent is the 3-phase current for a power draw in kW.
func (p *Physics) MotorCurrent(powerKW, voltage, powerFactor float64) float64 {
	if voltage == 0 || powerFactor == 0 {
		return 0
	}
	return (powerKW * 1000.0) / (math.Sqrt(3) * voltage * powerFactor)
}

// PowerFactor estimates the motor power factor from load fraction.
func (p *Physics) PowerFactor(loadFraction float64) float64 {
	switch {
	case loadFraction < 0.25:
		return 0.65 + loadFraction*0.4
	case loadFraction < 1.0:
		return 0.75 + loadFraction*0.15
	default:
		return 0.90
	}
}

// VFDFrequency converts RPM to drive output frequency, clamped to 65 Hz.
func (p *Physics) VFDFrequency(rpm float64) float64 {
	poles := 6.0
	if p.design.MaxRPM > 1500 {
		poles = 4.0
	} else if p.design.MaxRPM > 1000 {
		poles = 6.0
	}
	f := rpm * poles / 120.0
	return math.Min(65.0, math.Max(0.0, f))
}

// SuctionPressure in bar from wet-well static head and flow friction.
func (p *Physics) SuctionPressure(staticHead, flow float64) float64 {
	staticP := staticHead / 10.2
	var friction float64
	if p.design.Flow > 0 {
		ratio := flow / p.design.Flow
		friction = 0.1 * ratio * ratio
	}
	pressure := staticP - friction + p.uniform(-0.02, 0.02)
	return math.Max(-0.5, math.Min(2.0, pressure))
}

// DischargePressure in bar from suction pressure and developed head.
func (p *Physics) DischargePressure(suction, head float64) float64 {
	return suction + head/10.2 + p.uniform(-0.02, 0.02)
}

// Vibration is the overall velocity in mm/s RMS from speed, imbalance,
// bearing condition, and off-BEP operation, clamped to [0.3, 30]. At
// zero speed it returns 0.1.
func (p *Physics) Vibration(rpm, imbalanceFactor, bearingCondition, flowDeviation float64) float64 {
	if rpm == 0 {
		return 0.1
	}
	r := p.speedRatio(rpm)
	base := 2.0 * r
	imbalance := 0.5 * imbalanceFactor * r
	bearing := 0.3 * (bearingCondition - 1.0) * r
	flowVib := math.Abs(flowDeviation) * 1.5
	noise := p.uniform(-0.1, 0.1) * base

	total := base + imbalance + bearing + flowVib + noise
	return math.Max(0.3, math.Min(30.0, total))
}

// BearingTemp in °C from ambient, power draw, vibration and wear.
func (p *Physics) BearingTemp(ambient, powerKW, vibration, wearFactor float64) float64 {
	temp := ambient + powerKW*0.15 + vibration*2.0 + wearFactor*15.0 + p.uniform(-1.0, 1.0)
	return math.Max(ambient, math.Min(150.0, temp))
}

// MotorWindingTemp in °C; rise follows I² copper losses against an 80 °C
// rise at full-load amps.
func (p *Physics) MotorWindingTemp(ambient, current, fullLoadAmps float64) float64 {
	if fullLoadAmps == 0 {
		return ambient
	}
	load := current / fullLoadAmps
	temp := ambient + 80.0*load*load + p.uniform(-2.0, 2.0)
	return math.Max(ambient, math.Min(180.0, temp))
}

// SealTemp in °C; low flow and seal wear both heat the seal chamber.
func (p *Physics) SealTemp(ambient, flow, wearFactor float64) float64 {
	base := ambient + 5.0
	var lowFlowRise float64
	if p.design.Flow > 0 && flow < p.design.Flow*0.5 {
		lowFlowRise = (1.0 - flow/(p.design.Flow*0.5)) * 20.0
	}
	temp := base + lowFlowRise + wearFactor*10.0 + p.uniform(-1.0, 1.0)
	return math.Max(ambient, math.Min(120.0, temp))
}
