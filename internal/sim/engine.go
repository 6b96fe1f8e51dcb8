package sim

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ps-ux/ipsim/internal/alarms"
)

// Broadcaster receives the pump-snapshot map once per tick, after every
// actor has committed its node writes.
type Broadcaster func(snapshots map[string]PumpSnapshot)

// EventSink receives alarm events raised during a tick.
type EventSink func(event alarms.Event)

// Engine coordinates all simulation actors: it owns the mode
// parameters, drives the tick loop, advances failure progression, and
// fans results out to the registered sinks.
type Engine struct {
	logger *logrus.Logger
	rng    *rand.Rand

	mu         sync.Mutex
	pumps      map[string]*Pump
	chambers   map[string]*Chamber
	monitors   map[string]*alarms.Monitor
	params     ModeParameters
	intervalMs float64
	running    bool
	lastTick   time.Time

	broadcaster Broadcaster
	eventSink   EventSink

	stop chan struct{}
}

// NewEngine creates a kernel with the given mode parameters and a
// seedable pseudo-random stream shared by all actors.
func NewEngine(params ModeParameters, seed int64, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	interval := params.SimulationInterval
	if interval == 0 {
		interval = 1000.0
	}
	e := &Engine{
		logger:     logger,
		rng:        rand.New(rand.NewSource(seed)),
		pumps:      make(map[string]*Pump),
		chambers:   make(map[string]*Chamber),
		monitors:   make(map[string]*alarms.Monitor),
		params:     params,
		stop:       make(chan struct{}),
	}
	e.setIntervalLocked(interval)
	return e
}

// RNG returns the kernel's pseudo-random stream for actor construction.
func (e *Engine) RNG() *rand.Rand { return e.rng }

// AddPump registers a pump actor.
func (e *Engine) AddPump(p *Pump) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pumps[p.ID()] = p
	e.logger.WithField("pump", p.Name()).Debug("Added pump simulation")
}

// AddChamber registers a chamber actor.
func (e *Engine) AddChamber(c *Chamber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chambers[c.ID()] = c
	e.logger.WithField("chamber", c.Name()).Debug("Added chamber simulation")
}

// AttachMonitor routes a pump's tick samples to an alarm monitor.
func (e *Engine) AttachMonitor(pumpID string, m *alarms.Monitor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.monitors[pumpID] = m
}

// Pump returns a pump actor by asset id.
func (e *Engine) Pump(id string) (*Pump, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pumps[id]
	return p, ok
}

// Chamber returns a chamber actor by asset id.
func (e *Engine) Chamber(id string) (*Chamber, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.chambers[id]
	return c, ok
}

// Pumps returns all pump actors ordered by id.
func (e *Engine) Pumps() []*Pump {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedPumpsLocked()
}

func (e *Engine) sortedPumpsLocked() []*Pump {
	ids := make([]string, 0, len(e.pumps))
	for id := range e.pumps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Pump, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.pumps[id])
	}
	return out
}

// SetBroadcaster registers the fan-out hook. Bootstrap wiring only.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcaster = b
	e.logger.Info("Fan-out broadcaster registered")
}

// SetEventSink registers the alarm event hook. Bootstrap wiring only.
func (e *Engine) SetEventSink(s EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventSink = s
}

// SetInterval sets the tick interval, clamped to [10, 10000] ms.
func (e *Engine) SetInterval(intervalMs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setIntervalLocked(intervalMs)
	e.logger.WithField("interval_ms", e.intervalMs).Info("Simulation interval set")
}

func (e *Engine) setIntervalLocked(intervalMs float64) {
	e.intervalMs = math.Max(10.0, math.Min(10000.0, intervalMs))
	e.params.SimulationInterval = e.intervalMs
}

// SetTimeAcceleration sets the acceleration factor, clamped to [0.1, 100].
func (e *Engine) SetTimeAcceleration(factor float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.TimeAcceleration = math.Max(0.1, math.Min(100.0, factor))
	e.logger.WithField("time_acceleration", e.params.TimeAcceleration).Info("Time acceleration set")
}

// SetMode switches the station-wide simulation mode.
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.Mode = mode
	e.logger.WithField("mode", mode.String()).Info("Simulation mode changed")
}

// TriggerFailure switches to FAILURE mode with the given failure type
// and a fresh progression. Returns false for an unknown pump.
func (e *Engine) TriggerFailure(assetID string, failureType FailureType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	pump, ok := e.pumps[assetID]
	if !ok {
		return false
	}
	e.params.Mode = ModeFailure
	e.params.Failure.Type = failureType
	e.params.Failure.Progression = 0.0
	e.logger.WithFields(logrus.Fields{
		"pump":         pump.Name(),
		"failure_type": failureType.String(),
	}).Info("Triggered failure")
	return true
}

// ResetSimulation restores default mode parameters and clears every
// pump's counters and fault latch.
func (e *Engine) ResetSimulation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	defaults := DefaultModeParameters()
	defaults.SimulationInterval = e.intervalMs
	e.params = defaults
	for _, pump := range e.pumps {
		pump.ResetCounters()
	}
	e.logger.Info("Simulation reset to OPTIMAL state")
}

// ApplyAging switches to AGED mode with the given years of operation.
func (e *Engine) ApplyAging(years float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.Mode = ModeAged
	e.params.Aged.YearsOfOperation = years
	e.logger.WithField("years", years).Info("Applied aging")
}

// ModeParameters returns a copy of the current mode parameters.
func (e *Engine) ModeParameters() ModeParameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// ModeUpdate is a partial mode-parameter update; nil fields are left
// unchanged. This is the persisted-state collaborator contract.
type ModeUpdate struct {
	Mode               *Mode
	Aged               *AgedConfig
	Degraded           *DegradedConfig
	Failure            *FailureConfig
	Profile            *FlowProfile
	SimulationInterval *float64
	TimeAcceleration   *float64
}

// ApplyModeUpdate merges a partial update into the mode parameters,
// applying the interval and acceleration clamps.
func (e *Engine) ApplyModeUpdate(update ModeUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if update.Mode != nil {
		e.params.Mode = *update.Mode
	}
	if update.Aged != nil {
		e.params.Aged = *update.Aged
	}
	if update.Degraded != nil {
		e.params.Degraded = *update.Degraded
	}
	if update.Failure != nil {
		e.params.Failure = *update.Failure
	}
	if update.Profile != nil {
		e.params.Profile = *update.Profile
	}
	if update.SimulationInterval != nil {
		e.setIntervalLocked(*update.SimulationInterval)
	}
	if update.TimeAcceleration != nil {
		e.params.TimeAcceleration = math.Max(0.1, math.Min(100.0, *update.TimeAcceleration))
	}
}

// StartAllPumps starts every registered pump.
func (e *Engine) StartAllPumps() {
	for _, pump := range e.Pumps() {
		pump.Start()
	}
	e.logger.Info("Started all pumps")
}

// StopAllPumps stops every registered pump.
func (e *Engine) StopAllPumps() {
	for _, pump := range e.Pumps() {
		pump.Stop()
	}
	e.logger.Info("Stopped all pumps")
}

// EngineStatus is the kernel status snapshot.
type EngineStatus struct {
	IsRunning          bool    `json:"is_running"`
	Mode               string  `json:"mode"`
	IntervalMs         float64 `json:"interval_ms"`
	TimeAcceleration   float64 `json:"time_acceleration"`
	PumpCount          int     `json:"pump_count"`
	ChamberCount       int     `json:"chamber_count"`
	PumpsRunning       int     `json:"pumps_running"`
	FailureProgression float64 `json:"failure_progression"`
}

// Status returns the current kernel status.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	running := 0
	for _, pump := range e.pumps {
		if pump.IsRunning() {
			running++
		}
	}
	return EngineStatus{
		IsRunning:          e.running,
		Mode:               e.params.Mode.String(),
		IntervalMs:         e.intervalMs,
		TimeAcceleration:   e.params.TimeAcceleration,
		PumpCount:          len(e.pumps),
		ChamberCount:       len(e.chambers),
		PumpsRunning:       running,
		FailureProgression: e.params.Failure.Progression,
	}
}

// Snapshots returns the last tick's snapshot for every pump, keyed by id.
func (e *Engine) Snapshots() map[string]PumpSnapshot {
	e.mu.Lock()
	pumps := make([]*Pump, 0, len(e.pumps))
	for _, p := range e.pumps {
		pumps = append(pumps, p)
	}
	e.mu.Unlock()

	out := make(map[string]PumpSnapshot, len(pumps))
	for _, p := range pumps {
		out[p.ID()] = p.Snapshot()
	}
	return out
}

// Run drives the tick loop until Stop is called or the context is
// cancelled. A failing actor is isolated for the tick; a kernel error
// ends the run.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.lastTick = time.Now()
	pumpCount := len(e.pumps)
	chamberCount := len(e.chambers)
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"pumps":    pumpCount,
		"chambers": chamberCount,
	}).Info("Simulation engine started")

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case <-e.stop:
			e.shutdown()
			return nil
		default:
		}

		now := time.Now()

		e.mu.Lock()
		dt := now.Sub(e.lastTick).Seconds()
		e.lastTick = now
		if e.params.Mode == ModeFailure {
			e.advanceFailureLocked(dt)
		}
		params := e.params
		pumps := e.sortedPumpsLocked()
		chambers := make([]*Chamber, 0, len(e.chambers))
		for _, c := range e.chambers {
			chambers = append(chambers, c)
		}
		sort.Slice(chambers, func(i, j int) bool { return chambers[i].ID() < chambers[j].ID() })
		broadcaster := e.broadcaster
		interval := time.Duration(e.intervalMs) * time.Millisecond
		e.mu.Unlock()

		tickTime := now.UTC()
		snapshots := make(map[string]PumpSnapshot, len(pumps))
		for _, pump := range pumps {
			samples, err := e.tickPump(pump, dt, params, tickTime)
			if err != nil {
				continue
			}
			snapshots[pump.ID()] = pump.Snapshot()
			e.checkAlarms(pump.ID(), samples)
		}
		for _, chamber := range chambers {
			e.tickChamber(chamber, dt, tickTime)
		}

		if broadcaster != nil {
			broadcaster(snapshots)
		}

		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case <-e.stop:
			e.shutdown()
			return nil
		case <-time.After(interval):
		}
	}
}

// Stop ends the run after the current tick completes.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.logger.Info("Simulation engine stopped")
}

// tickPump isolates one pump's tick; a panic is logged at warn and the
// pump's state is preserved for the next tick.
func (e *Engine) tickPump(pump *Pump, dt float64, params ModeParameters, now time.Time) (samples map[string]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"pump":  pump.Name(),
				"panic": r,
			}).Warn("Error ticking pump")
			err = errTickFailed
		}
	}()
	return pump.Tick(dt, params, now), nil
}

func (e *Engine) tickChamber(chamber *Chamber, dt float64, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"chamber": chamber.Name(),
				"panic":   r,
			}).Warn("Error ticking chamber")
		}
	}()
	chamber.Tick(dt, now)
}

func (e *Engine) checkAlarms(pumpID string, samples map[string]float64) {
	e.mu.Lock()
	monitor := e.monitors[pumpID]
	sink := e.eventSink
	e.mu.Unlock()
	if monitor == nil {
		return
	}
	for _, event := range monitor.Check(samples) {
		e.logger.WithFields(logrus.Fields{
			"alarm":    event.AlarmKey,
			"state":    event.State,
			"value":    event.Value,
			"severity": event.Severity,
		}).Info("Alarm state changed")
		if sink != nil {
			sink(event)
		}
	}
}

// advanceFailureLocked advances progression by
// (100 / time_to_failure) · (dt/3600) · time_acceleration · 3600 percent,
// clamped to 100. Because of the trailing 3600 factor, progression
// completes after time_to_failure seconds of accelerated time.
func (e *Engine) advanceFailureLocked(dt float64) {
	cfg := &e.params.Failure
	if cfg.TimeToFailure <= 0 {
		return
	}
	hoursElapsed := (dt / 3600.0) * e.params.TimeAcceleration
	rate := 100.0 / cfg.TimeToFailure
	next := cfg.Progression + rate*hoursElapsed*3600.0
	cfg.Progression = math.Min(100.0, next)
	if cfg.Progression >= 100.0 {
		e.logger.Warn("Failure simulation complete - pump has failed")
	}
}
