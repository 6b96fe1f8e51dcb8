package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ps-ux/ipsim/internal/alarms"
	"github.com/ps-ux/ipsim/internal/schema"
)

func schemaAlarmDef(name, inputNode string, high *float64) schema.AlarmDef {
	return schema.AlarmDef{
		Name:      name,
		Severity:  700,
		InputNode: inputNode,
		HighLimit: high,
		Message:   "test alarm",
	}
}

func newTestEngine(t *testing.T) (*Engine, *Pump) {
	t.Helper()
	engine := NewEngine(DefaultModeParameters(), 42, nil)
	result := buildTestModel(t)
	target := result.Targets[0]
	physics := NewPhysics(DesignPointFromSpecs(target.DesignSpecs), engine.RNG())
	pump := NewPump(target.ID, target.Name, target.Node, physics)
	engine.AddPump(pump)
	return engine, pump
}

func TestIntervalClamp(t *testing.T) {
	engine, _ := newTestEngine(t)

	engine.SetInterval(5)
	assert.Equal(t, 10.0, engine.Status().IntervalMs)

	engine.SetInterval(50000)
	assert.Equal(t, 10000.0, engine.Status().IntervalMs)

	engine.SetInterval(250)
	assert.Equal(t, 250.0, engine.Status().IntervalMs)
}

func TestTimeAccelerationClamp(t *testing.T) {
	engine, _ := newTestEngine(t)

	engine.SetTimeAcceleration(0.01)
	assert.Equal(t, 0.1, engine.ModeParameters().TimeAcceleration)

	engine.SetTimeAcceleration(500)
	assert.Equal(t, 100.0, engine.ModeParameters().TimeAcceleration)
}

func TestTriggerFailureResetsProgression(t *testing.T) {
	engine, pump := newTestEngine(t)

	ok := engine.TriggerFailure(pump.ID(), FailureBearing)
	require.True(t, ok)

	params := engine.ModeParameters()
	assert.Equal(t, ModeFailure, params.Mode)
	assert.Equal(t, FailureBearing, params.Failure.Type)
	assert.Equal(t, 0.0, params.Failure.Progression)

	assert.False(t, engine.TriggerFailure("NO_SUCH_PUMP", FailureSeal))
}

func TestFailureProgressionReachesFullScale(t *testing.T) {
	engine, pump := newTestEngine(t)

	engine.SetTimeAcceleration(100)
	require.True(t, engine.TriggerFailure(pump.ID(), FailureBearing))
	engine.ApplyModeUpdate(ModeUpdate{
		Failure: &FailureConfig{Type: FailureBearing, Progression: 0, TimeToFailure: 1},
	})

	// One simulated wall-clock second at 100x against a one-hour
	// time-to-failure saturates progression.
	engine.mu.Lock()
	engine.advanceFailureLocked(1.0)
	progression := engine.params.Failure.Progression
	engine.mu.Unlock()

	assert.GreaterOrEqual(t, progression, 99.0)
}

func TestFailureRaisesVibration(t *testing.T) {
	pump, _ := newTestPump(t, 21)

	pump.Start()
	baseline := optimalParams()
	pump.Tick(60.0, baseline, time.Now().UTC())
	optimalVibration := pump.Snapshot().VibrationDEH

	failed := optimalParams()
	failed.Mode = ModeFailure
	failed.Failure = FailureConfig{Type: FailureBearing, Progression: 100, TimeToFailure: 1}
	pump.Tick(1.0, failed, time.Now().UTC())
	failedVibration := pump.Snapshot().VibrationDEH

	assert.GreaterOrEqual(t, failedVibration, optimalVibration*2.0)
}

func TestResetSimulation(t *testing.T) {
	engine, pump := newTestEngine(t)

	pump.Start()
	pump.Tick(3600.0, engine.ModeParameters(), time.Now().UTC())
	pump.TriggerFault()
	engine.ApplyAging(12)

	engine.ResetSimulation()

	params := engine.ModeParameters()
	assert.Equal(t, ModeOptimal, params.Mode)
	assert.Equal(t, 0.0, pump.RuntimeHours())
	assert.Equal(t, uint32(0), pump.StartCount())
	assert.False(t, pump.IsFaulted())
}

func TestApplyAging(t *testing.T) {
	engine, _ := newTestEngine(t)

	engine.ApplyAging(10)
	params := engine.ModeParameters()
	assert.Equal(t, ModeAged, params.Mode)
	assert.Equal(t, 10.0, params.Aged.YearsOfOperation)
}

func TestApplyModeUpdatePartial(t *testing.T) {
	engine, _ := newTestEngine(t)

	interval := 20000.0
	accel := 250.0
	engine.ApplyModeUpdate(ModeUpdate{
		SimulationInterval: &interval,
		TimeAcceleration:   &accel,
	})

	params := engine.ModeParameters()
	// Both values pass through their clamps.
	assert.Equal(t, 10000.0, params.SimulationInterval)
	assert.Equal(t, 100.0, params.TimeAcceleration)
	// Untouched fields keep their values.
	assert.Equal(t, ModeOptimal, params.Mode)
}

func TestEngineRunBroadcastsSnapshots(t *testing.T) {
	engine, pump := newTestEngine(t)
	engine.SetInterval(10)

	broadcasts := make(chan map[string]PumpSnapshot, 16)
	engine.SetBroadcaster(func(snapshots map[string]PumpSnapshot) {
		select {
		case broadcasts <- snapshots:
		default:
		}
	})

	pump.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	select {
	case snapshots := <-broadcasts:
		require.Contains(t, snapshots, pump.ID())
		assert.True(t, snapshots[pump.ID()].IsRunning)
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast within deadline")
	}

	engine.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.False(t, engine.Status().IsRunning)
}

func TestEngineRoutesAlarmEventsToSink(t *testing.T) {
	engine, pump := newTestEngine(t)

	alarmEngine := alarms.NewEngine()
	monitor := alarms.NewMonitor(alarmEngine, pump.ID())
	high := 0.5
	monitor.RegisterFromDef(schemaAlarmDef("HighVibration", "Vibration_DE_H", &high))
	engine.AttachMonitor(pump.ID(), monitor)

	var events []alarms.Event
	engine.SetEventSink(func(event alarms.Event) { events = append(events, event) })

	pump.Start()
	engine.checkAlarms(pump.ID(), pump.Tick(60.0, optimalParams(), time.Now().UTC()))

	require.NotEmpty(t, events)
	assert.Equal(t, "HIGH", events[0].State)
}

func TestStartStopAllPumps(t *testing.T) {
	engine, pump := newTestEngine(t)

	engine.StartAllPumps()
	assert.True(t, pump.IsRunning())
	assert.Equal(t, 1, engine.Status().PumpsRunning)

	engine.StopAllPumps()
	assert.False(t, pump.IsRunning())
	assert.Equal(t, 0, engine.Status().PumpsRunning)
}
