package alarms

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ps-ux/ipsim/internal/schema"
)

func limit(v float64) *float64 { return &v }

func vibrationConfig() Config {
	return Config{
		Name:          "HighVibration",
		Severity:      700,
		InputNodePath: "Vibration_DE_H",
		HighLimit:     limit(7.1),
		HighHighLimit: limit(11.2),
		Hysteresis:    0.5,
		Message:       "Pump vibration high",
	}
}

func TestCheckRaisesAndClearsExactlyOnce(t *testing.T) {
	engine := NewEngine()
	engine.Register("vib", vibrationConfig())

	// 6.9 → 7.2 → 7.0 (held by hysteresis) → 6.5 (below 7.1 - 0.5):
	// exactly two events.
	var events []*Event
	for _, v := range []float64{6.9, 7.2, 7.0, 6.5} {
		if e := engine.Check("vib", v); e != nil {
			events = append(events, e)
		}
	}

	require.Len(t, events, 2)
	assert.Equal(t, "HIGH", events[0].State)
	assert.Equal(t, 7.2, events[0].Value)
	assert.Equal(t, 7.1, events[0].CrossedLimit)
	assert.Equal(t, "NORMAL", events[1].State)
	assert.Equal(t, 6.5, events[1].Value)
}

func TestHysteresisHoldsInsideDeadband(t *testing.T) {
	engine := NewEngine()
	engine.Register("vib", vibrationConfig())

	require.NotNil(t, engine.Check("vib", 7.2))

	// 6.7 is above 7.1 - 0.5, so the alarm stays active.
	assert.Nil(t, engine.Check("vib", 6.7))
	active := engine.ActiveAlarms()
	require.Len(t, active, 1)
	assert.Equal(t, "HIGH", active[0].State)

	// Exactly at the deadband edge clears: strict inequality holds the
	// state only above limit - hysteresis.
	event := engine.Check("vib", 6.6)
	require.NotNil(t, event)
	assert.Equal(t, "NORMAL", event.State)
	assert.Empty(t, engine.ActiveAlarms())
}

func TestSameValueTwiceIsIdempotent(t *testing.T) {
	engine := NewEngine()
	engine.Register("vib", vibrationConfig())

	assert.NotNil(t, engine.Check("vib", 7.5))
	assert.Nil(t, engine.Check("vib", 7.5))
	assert.Nil(t, engine.Check("vib", 7.6))
	assert.Len(t, engine.History(0), 1)
}

func TestHighHighBoostsSeverity(t *testing.T) {
	engine := NewEngine()
	engine.Register("vib", vibrationConfig())

	event := engine.Check("vib", 12.0)
	require.NotNil(t, event)
	assert.Equal(t, "HIGH_HIGH", event.State)
	assert.Equal(t, 800, event.Severity)
	assert.Equal(t, 11.2, event.CrossedLimit)

	// Severity caps at 1000.
	engine.Register("critical", Config{
		Name:          "Critical",
		Severity:      950,
		HighHighLimit: limit(1.0),
	})
	event = engine.Check("critical", 2.0)
	require.NotNil(t, event)
	assert.Equal(t, 1000, event.Severity)
}

func TestLowLimits(t *testing.T) {
	engine := NewEngine()
	engine.Register("suction", Config{
		Name:        "Cavitation",
		Severity:    900,
		LowLimit:    limit(0.05),
		LowLowLimit: limit(-0.1),
		Hysteresis:  0.02,
		Message:     "Suction pressure low",
	})

	event := engine.Check("suction", 0.04)
	require.NotNil(t, event)
	assert.Equal(t, "LOW", event.State)

	event = engine.Check("suction", -0.2)
	require.NotNil(t, event)
	assert.Equal(t, "LOW_LOW", event.State)
	assert.Equal(t, 1000, event.Severity)

	// Inside the low deadband the alarm holds.
	assert.Nil(t, engine.Check("suction", 0.06))

	event = engine.Check("suction", 0.08)
	require.NotNil(t, event)
	assert.Equal(t, "NORMAL", event.State)
}

func TestMessageFormat(t *testing.T) {
	engine := NewEngine()
	engine.Register("vib", vibrationConfig())

	event := engine.Check("vib", 7.25)
	require.NotNil(t, event)
	assert.Equal(t, "Pump vibration high - high limit exceeded (value: 7.25)", event.Message)
}

func TestAcknowledgeOnlySetsBit(t *testing.T) {
	engine := NewEngine()
	engine.Register("vib", vibrationConfig())
	engine.Check("vib", 8.0)

	active := engine.ActiveAlarms()
	require.Len(t, active, 1)
	assert.False(t, active[0].Acknowledged)

	assert.True(t, engine.Acknowledge("vib"))
	active = engine.ActiveAlarms()
	require.Len(t, active, 1)
	assert.True(t, active[0].Acknowledged)
	assert.Equal(t, "HIGH", active[0].State)

	assert.False(t, engine.Acknowledge("missing"))
}

func TestHistoryRingDropsOldest(t *testing.T) {
	engine := NewEngine()
	for i := 0; i < 600; i++ {
		key := fmt.Sprintf("a%d", i)
		engine.Register(key, Config{Name: key, Severity: 500, HighLimit: limit(1.0)})
		engine.Check(key, 2.0) // raise
		engine.Check(key, 0.0) // clear
	}

	history := engine.History(0)
	assert.Len(t, history, maxHistory)

	// Newest first.
	assert.Equal(t, "a599", history[0].AlarmKey)
}

func TestMonitorRoutesSampleVector(t *testing.T) {
	engine := NewEngine()
	monitor := NewMonitor(engine, "IPS_PMP_001")

	key := monitor.RegisterFromDef(schema.AlarmDef{
		Name:       "HighVibrationAlarm",
		Severity:   700,
		InputNode:  "Vibration_DE_H",
		HighLimit:  limit(7.1),
		Hysteresis: 0.5,
		Message:    "Pump vibration high",
	})
	assert.Equal(t, "IPS_PMP_001_Vibration_DE_H_HighVibrationAlarm", key)

	events := monitor.Check(map[string]float64{
		"Vibration_DE_H": 8.0,
		"FlowRate":       2500.0,
	})
	require.Len(t, events, 1)
	assert.Equal(t, key, events[0].AlarmKey)
	assert.Equal(t, "Vibration_DE_H", events[0].SourceNode)

	// A vector without the mapped variable raises nothing.
	assert.Empty(t, monitor.Check(map[string]float64{"FlowRate": 2500.0}))

	active := monitor.ActiveAlarms()
	require.Len(t, active, 1)
	assert.Equal(t, key, active[0].Name)
}
