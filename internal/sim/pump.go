package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ps-ux/ipsim/internal/model"
)

// rpmRampRate bounds acceleration and deceleration in RPM per second.
const rpmRampRate = 150.0

// analogVariables is the write order of the analog sample vector.
var analogVariables = []string{
	"FlowRate", "SuctionPressure", "DischargePressure",
	"RPM", "MotorCurrent", "Voltage", "PowerConsumption", "PowerFactor", "VFDFrequency",
	"MotorWindingTemp", "BearingTemp_DE", "BearingTemp_NDE", "SealChamberTemp", "AmbientTemp",
	"Vibration_DE_H", "Vibration_DE_V", "Vibration_DE_A",
	"Vibration_NDE_H", "Vibration_NDE_V", "Vibration_NDE_A",
	"RuntimeHours", "StartCount", "WetWellLevel",
}

// discreteVariables is the write order of the discrete status vector.
var discreteVariables = []string{
	"RunCommand", "RunFeedback", "FaultStatus", "ReadyStatus", "LocalRemote",
}

// PumpSnapshot is the per-tick state published to the fan-out plane.
type PumpSnapshot struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	IsRunning         bool    `json:"is_running"`
	IsFaulted         bool    `json:"is_faulted"`
	Mode              string  `json:"mode"`
	FlowRate          float64 `json:"flow_rate"`
	SuctionPressure   float64 `json:"suction_pressure"`
	DischargePressure float64 `json:"discharge_pressure"`
	RPM               float64 `json:"rpm"`
	MotorCurrent      float64 `json:"motor_current"`
	Voltage           float64 `json:"voltage"`
	PowerConsumption  float64 `json:"power_consumption"`
	PowerFactor       float64 `json:"power_factor"`
	VFDFrequency      float64 `json:"vfd_frequency"`
	Efficiency        float64 `json:"efficiency"`
	MotorWindingTemp  float64 `json:"motor_winding_temp"`
	BearingTempDE     float64 `json:"bearing_temp_de"`
	BearingTempNDE    float64 `json:"bearing_temp_nde"`
	SealChamberTemp   float64 `json:"seal_chamber_temp"`
	AmbientTemp       float64 `json:"ambient_temp"`
	VibrationDEH      float64 `json:"vibration_de_h"`
	VibrationDEV      float64 `json:"vibration_de_v"`
	VibrationDEA      float64 `json:"vibration_de_a"`
	VibrationNDEH     float64 `json:"vibration_nde_h"`
	VibrationNDEV     float64 `json:"vibration_nde_v"`
	VibrationNDEA     float64 `json:"vibration_nde_a"`
	RuntimeHours      float64 `json:"runtime_hours"`
	StartCount        uint32  `json:"start_count"`
	WetWellLevel      float64 `json:"wet_well_level"`
	Timestamp         string  `json:"timestamp"`
}

// Pump simulates one centrifugal pump with full instrumentation. State
// is mutated only by the kernel tick and the bound control verbs.
type Pump struct {
	id   string
	name string
	node *model.Node

	physics *Physics
	design  DesignPoint

	mu sync.Mutex

	isRunning   bool
	isFaulted   bool
	isLocalMode bool
	targetRPM   float64
	currentRPM  float64
	runtime     float64
	startCount  uint32
	ambientTemp float64
	wetWell     float64

	targetFlowRatio float64

	nodes map[string]*model.Node

	lastSnapshot PumpSnapshot
}

// NewPump binds a pump actor to its instance node. Design specs already
// written into the DesignSpecs child override the physics design point.
func NewPump(id, name string, node *model.Node, physics *Physics) *Pump {
	p := &Pump{
		id:              id,
		name:            name,
		node:            node,
		physics:         physics,
		design:          physics.Design(),
		ambientTemp:     25.0,
		wetWell:         4.0,
		targetFlowRatio: 1.0,
		nodes:           make(map[string]*model.Node),
	}
	p.bind(node, "")
	p.readDesignSpecs()
	log.WithFields(log.Fields{
		"pump":  p.name,
		"nodes": len(p.nodes),
	}).Info("Bound pump simulation")
	return p
}

// ID returns the pump's asset identifier.
func (p *Pump) ID() string { return p.id }

// Name returns the pump's display name.
func (p *Pump) Name() string { return p.name }

// Node returns the pump's instance root node.
func (p *Pump) Node() *model.Node { return p.node }

func (p *Pump) bind(node *model.Node, prefix string) {
	for _, child := range node.Children() {
		key := child.BrowseName()
		if prefix != "" {
			key = prefix + "." + key
		}
		p.nodes[key] = child
		if child.Class() == model.ClassObject || child.Class() == model.ClassVariable {
			p.bind(child, key)
		}
	}
}

// readDesignSpecs refreshes the design point from the DesignSpecs child
// and rebuilds the physics coefficients once.
func (p *Pump) readDesignSpecs() {
	specs := map[string]float64{
		"DesignFlow":                 p.design.Flow,
		"DesignHead":                 p.design.Head,
		"DesignPower":                p.design.Power,
		"ManufacturerBEP_Efficiency": p.design.Efficiency,
		"MotorEfficiency":            p.design.MotorEfficiency,
		"MaxRPM":                     p.design.MaxRPM,
		"MinRPM":                     p.design.MinRPM,
		"ImpellerDiameter":           p.design.ImpellerDiameter,
		"NPSHRequired":               p.design.NPSHRequired,
		"FullLoadAmps":               p.design.FullLoadAmps,
		"RatedVoltage":               p.design.RatedVoltage,
	}
	for key := range specs {
		node, ok := p.nodes["DesignSpecs."+key]
		if !ok {
			continue
		}
		switch v := node.Value().Value.(type) {
		case float64:
			specs[key] = v
		case uint32:
			specs[key] = float64(v)
		}
	}
	p.design = DesignPointFromSpecs(specs)
	p.physics = NewPhysics(p.design, p.physics.rng)
}

// Start starts the pump at 95% of maximum speed. The discrete status
// nodes are written before the verb returns.
func (p *Pump) Start() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isFaulted {
		return false, "Cannot start: pump is faulted"
	}
	if p.isLocalMode {
		return false, "Cannot start: pump is in local mode"
	}

	if !p.isRunning {
		p.startCount++
	}
	p.isRunning = true
	p.targetRPM = p.design.MaxRPM * 0.95
	p.writeStatus(time.Now().UTC())

	log.WithFields(log.Fields{
		"pump":       p.name,
		"target_rpm": p.targetRPM,
	}).Info("Pump started")
	return true, "Pump started successfully"
}

// Stop stops the pump; the speed ramps down over subsequent ticks.
func (p *Pump) Stop() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.isRunning = false
	p.targetRPM = 0.0
	p.writeStatus(time.Now().UTC())

	log.WithField("pump", p.name).Info("Pump stopped")
	return true, "Pump stopped successfully"
}

// SetSpeed sets the target speed of a running pump.
func (p *Pump) SetSpeed(rpm float64) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rpm < p.design.MinRPM || rpm > p.design.MaxRPM {
		return false, fmt.Sprintf("Speed must be between %.0f and %.0f RPM", p.design.MinRPM, p.design.MaxRPM)
	}
	if !p.isRunning {
		return false, "Pump must be running to set speed"
	}

	p.targetRPM = rpm
	log.WithFields(log.Fields{
		"pump": p.name,
		"rpm":  rpm,
	}).Info("Pump speed set")
	return true, fmt.Sprintf("Speed set to %.0f RPM", rpm)
}

// ResetFault clears the fault latch.
func (p *Pump) ResetFault() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.isFaulted = false
	p.writeStatus(time.Now().UTC())
	log.WithField("pump", p.name).Info("Pump fault reset")
	return true, "Fault reset"
}

// TriggerFault latches a fault and stops the pump.
func (p *Pump) TriggerFault() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.isFaulted = true
	p.isRunning = false
	p.targetRPM = 0.0
	p.writeStatus(time.Now().UTC())
}

// SetWetWellLevel sets the suction-side wet well level in meters.
func (p *Pump) SetWetWellLevel(level float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wetWell = math.Max(0.0, math.Min(10.0, level))
}

// IsRunning reports the pump run state.
func (p *Pump) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRunning
}

// IsFaulted reports the pump fault latch.
func (p *Pump) IsFaulted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isFaulted
}

// CurrentRPM returns the current shaft speed.
func (p *Pump) CurrentRPM() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentRPM
}

// RuntimeHours returns the accumulated runtime.
func (p *Pump) RuntimeHours() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runtime
}

// StartCount returns the number of start cycles.
func (p *Pump) StartCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startCount
}

// ResetCounters clears runtime, start count, and the fault latch.
func (p *Pump) ResetCounters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runtime = 0
	p.startCount = 0
	p.isFaulted = false
}

// Tick advances the pump by dt seconds under the given mode parameters
// and writes the full sample vector into the pump's nodes. The returned
// sample feeds the alarm engine.
func (p *Pump) Tick(dt float64, params ModeParameters, now time.Time) map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.targetFlowRatio = 1.0
	if params.Profile.DiurnalEnabled {
		p.targetFlowRatio = DiurnalMultiplier(now.Hour())
	}

	p.updateRPM(dt)

	if p.isRunning {
		p.runtime += (dt / 3600.0) * params.TimeAcceleration
	}

	values := p.calculateValues(params)
	p.writeValues(values, now)

	p.lastSnapshot = p.snapshotFromValues(values, params, now)

	analog := make(map[string]float64, len(values))
	for name, value := range values {
		if f, ok := value.(float64); ok {
			analog[name] = f
		}
	}
	return analog
}

func (p *Pump) updateRPM(dt float64) {
	if p.targetRPM > p.currentRPM {
		p.currentRPM = math.Min(p.targetRPM, p.currentRPM+rpmRampRate*dt)
	} else if p.targetRPM < p.currentRPM {
		p.currentRPM = math.Max(p.targetRPM, p.currentRPM-rpmRampRate*dt)
	}
}

func (p *Pump) calculateValues(params ModeParameters) map[string]interface{} {
	efficiencyFactor := params.EfficiencyFactor()
	vibrationFactor := params.VibrationFactor()
	tempOffset := params.TemperatureOffset()
	flowReduction := params.FlowReductionFactor()

	flow := p.physics.FlowAtSpeed(p.currentRPM) * flowReduction * p.targetFlowRatio
	head := p.physics.HeadAtFlow(flow, p.currentRPM)
	suction := p.physics.SuctionPressure(p.wetWell, flow)
	discharge := p.physics.DischargePressure(suction, head)

	pumpEfficiency := p.physics.EstimateEfficiency(flow, p.currentRPM) * efficiencyFactor

	power := p.physics.ElectricalPower(flow, head, pumpEfficiency, p.design.MotorEfficiency)
	if p.isRunning && power < 5.0 {
		power = 5.0 // minimum VFD idle draw
	}

	var loadFraction float64
	if p.isRunning && p.design.Power > 0 {
		loadFraction = power / p.design.Power
	}
	powerFactor := p.physics.PowerFactor(loadFraction)
	voltage := p.design.RatedVoltage * (0.98 + p.physics.uniform(-0.02, 0.02))
	current := p.physics.MotorCurrent(power, voltage, powerFactor)
	frequency := p.physics.VFDFrequency(p.currentRPM)

	motorWindingTemp := p.physics.MotorWindingTemp(p.ambientTemp+tempOffset, current, p.design.FullLoadAmps)

	var flowDeviation float64
	if p.design.Flow > 0 {
		flowDeviation = (flow - p.design.Flow*0.8) / p.design.Flow
	}
	baseVibration := p.physics.Vibration(p.currentRPM, vibrationFactor, vibrationFactor, flowDeviation)

	bearingTempDE := p.physics.BearingTemp(p.ambientTemp+tempOffset, power, baseVibration, vibrationFactor-1.0)
	bearingTempNDE := bearingTempDE - p.physics.uniform(2, 5)

	var sealWearFactor float64
	if params.Mode == ModeDegraded {
		sealWearFactor = params.Degraded.SealWear / 100.0
	}
	sealTemp := p.physics.SealTemp(p.ambientTemp+tempOffset, flow, sealWearFactor)

	axis := func(base, factor float64) float64 {
		return base * factor * (1.0 + p.physics.uniform(-0.1, 0.1))
	}

	return map[string]interface{}{
		"FlowRate":          flow,
		"SuctionPressure":   suction,
		"DischargePressure": discharge,

		"RPM":              p.currentRPM,
		"MotorCurrent":     current,
		"Voltage":          voltage,
		"PowerConsumption": power,
		"PowerFactor":      powerFactor,
		"VFDFrequency":     frequency,

		"MotorWindingTemp": motorWindingTemp,
		"BearingTemp_DE":   bearingTempDE,
		"BearingTemp_NDE":  bearingTempNDE,
		"SealChamberTemp":  sealTemp,
		"AmbientTemp":      p.ambientTemp + p.physics.uniform(-0.5, 0.5),

		"Vibration_DE_H":  axis(baseVibration, 1.0),
		"Vibration_DE_V":  axis(baseVibration, 0.9),
		"Vibration_DE_A":  axis(baseVibration, 0.7),
		"Vibration_NDE_H": axis(baseVibration*0.85, 1.0),
		"Vibration_NDE_V": axis(baseVibration*0.85, 0.9),
		"Vibration_NDE_A": axis(baseVibration*0.85, 0.7),

		"RuntimeHours": p.runtime,
		"StartCount":   p.startCount,
		"WetWellLevel": p.wetWell + math.Sin(p.runtime*0.1)*0.5,

		"RunCommand":  p.isRunning,
		"RunFeedback": p.isRunning && p.currentRPM > 100,
		"FaultStatus": p.isFaulted,
		"ReadyStatus": !p.isFaulted && !p.isLocalMode,
		"LocalRemote": !p.isLocalMode,

		"PumpEfficiency": pumpEfficiency,
	}
}

func (p *Pump) writeValues(values map[string]interface{}, now time.Time) {
	write := func(name string) {
		node, ok := p.nodes[name]
		if !ok {
			return
		}
		if err := node.WriteValue(values[name], now); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"pump":     p.name,
				"variable": name,
			}).Debug("Could not write value")
		}
	}
	for _, name := range analogVariables {
		write(name)
	}
	for _, name := range discreteVariables {
		write(name)
	}
}

// writeStatus writes the discrete status nodes immediately. Callers
// hold p.mu.
func (p *Pump) writeStatus(now time.Time) {
	status := map[string]bool{
		"RunCommand":  p.isRunning,
		"RunFeedback": p.isRunning && p.currentRPM > 100,
		"FaultStatus": p.isFaulted,
		"ReadyStatus": !p.isFaulted && !p.isLocalMode,
		"LocalRemote": !p.isLocalMode,
	}
	for _, name := range discreteVariables {
		node, ok := p.nodes[name]
		if !ok {
			continue
		}
		if err := node.WriteValue(status[name], now); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"pump":     p.name,
				"variable": name,
			}).Debug("Could not write status")
		}
	}
}

func (p *Pump) snapshotFromValues(values map[string]interface{}, params ModeParameters, now time.Time) PumpSnapshot {
	f := func(name string) float64 {
		v, _ := values[name].(float64)
		return v
	}
	return PumpSnapshot{
		ID:                p.id,
		Name:              p.name,
		IsRunning:         p.isRunning,
		IsFaulted:         p.isFaulted,
		Mode:              params.Mode.String(),
		FlowRate:          f("FlowRate"),
		SuctionPressure:   f("SuctionPressure"),
		DischargePressure: f("DischargePressure"),
		RPM:               f("RPM"),
		MotorCurrent:      f("MotorCurrent"),
		Voltage:           f("Voltage"),
		PowerConsumption:  f("PowerConsumption"),
		PowerFactor:       f("PowerFactor"),
		VFDFrequency:      f("VFDFrequency"),
		Efficiency:        f("PumpEfficiency"),
		MotorWindingTemp:  f("MotorWindingTemp"),
		BearingTempDE:     f("BearingTemp_DE"),
		BearingTempNDE:    f("BearingTemp_NDE"),
		SealChamberTemp:   f("SealChamberTemp"),
		AmbientTemp:       f("AmbientTemp"),
		VibrationDEH:      f("Vibration_DE_H"),
		VibrationDEV:      f("Vibration_DE_V"),
		VibrationDEA:      f("Vibration_DE_A"),
		VibrationNDEH:     f("Vibration_NDE_H"),
		VibrationNDEV:     f("Vibration_NDE_V"),
		VibrationNDEA:     f("Vibration_NDE_A"),
		RuntimeHours:      p.runtime,
		StartCount:        p.startCount,
		WetWellLevel:      f("WetWellLevel"),
		Timestamp:         now.Format(time.RFC3339Nano),
	}
}

// Snapshot returns the state computed by the most recent tick.
func (p *Pump) Snapshot() PumpSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSnapshot
}
