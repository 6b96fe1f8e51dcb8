package fanout

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ps-ux/ipsim/internal/alarms"
	"github.com/ps-ux/ipsim/internal/sim"
)

// telemetryPayload is the per-pump message published every tick.
type telemetryPayload struct {
	Timestamp string           `json:"timestamp"`
	PumpID    string           `json:"pump_id"`
	Metrics   telemetryMetrics `json:"metrics"`
	State     telemetryState   `json:"state"`
}

type telemetryMetrics struct {
	FlowRate          float64 `json:"flow_rate"`
	DischargePressure float64 `json:"discharge_pressure"`
	SuctionPressure   float64 `json:"suction_pressure"`
	RPM               float64 `json:"rpm"`
	PowerConsumption  float64 `json:"power_consumption"`
	Efficiency        float64 `json:"efficiency"`
	MotorTemp         float64 `json:"motor_temp"`
	VibrationLevel    float64 `json:"vibration_level"`
}

type telemetryState struct {
	IsRunning bool   `json:"is_running"`
	IsFaulted bool   `json:"is_faulted"`
	Mode      string `json:"mode"`
}

// maintenancePayload is published when a pump crosses a ten-hour
// runtime boundary.
type maintenancePayload struct {
	RuntimeHours float64 `json:"runtime_hours"`
	StartCount   uint32  `json:"start_count"`
	LastStart    string  `json:"last_start"`
}

// analyticsPayload is the once-per-tick station aggregate.
type analyticsPayload struct {
	SystemEfficiency float64 `json:"system_efficiency"`
	ActivePumps      int     `json:"active_pumps"`
	TotalFlow        float64 `json:"total_flow"`
}

// Publisher is the broker-side sink of the plane.
type Publisher interface {
	Publish(topic string, payload interface{})
}

// StateSink is the WebSocket-side sink of the plane.
type StateSink interface {
	BroadcastBulk(data interface{})
	BroadcastPubSub(topic string, payload interface{})
}

// Plane composes the broker publisher and the WebSocket hub into the
// tick broadcaster handed to the simulation kernel.
type Plane struct {
	broker Publisher
	hub    StateSink
	logger *logrus.Logger

	mu         sync.Mutex
	maintMarks map[string]int64
}

// NewPlane wires the two sinks together. Either may be nil.
func NewPlane(broker Publisher, hub StateSink, logger *logrus.Logger) *Plane {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Plane{
		broker:     broker,
		hub:        hub,
		logger:     logger,
		maintMarks: make(map[string]int64),
	}
}

// Broadcast publishes one tick's snapshot map to both sinks. Pumps are
// processed in id order so topic sequences are deterministic.
func (p *Plane) Broadcast(snapshots map[string]sim.PumpSnapshot) {
	if p.hub != nil {
		p.hub.BroadcastBulk(snapshots)
	}

	ids := make([]string, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		snapshot := snapshots[id]

		topic := fmt.Sprintf("plant/pumps/%s/telemetry", id)
		payload := telemetryPayload{
			Timestamp: snapshot.Timestamp,
			PumpID:    id,
			Metrics: telemetryMetrics{
				FlowRate:          snapshot.FlowRate,
				DischargePressure: snapshot.DischargePressure,
				SuctionPressure:   snapshot.SuctionPressure,
				RPM:               snapshot.RPM,
				PowerConsumption:  snapshot.PowerConsumption,
				Efficiency:        snapshot.Efficiency,
				MotorTemp:         snapshot.MotorWindingTemp,
				VibrationLevel:    snapshot.VibrationDEH,
			},
			State: telemetryState{
				IsRunning: snapshot.IsRunning,
				IsFaulted: snapshot.IsFaulted,
				Mode:      snapshot.Mode,
			},
		}
		p.publish(topic, payload)

		p.maybePublishMaintenance(id, snapshot)
	}

	p.publish("plant/system/analytics", p.analytics(snapshots))
}

// maybePublishMaintenance publishes on each crossing of a ten-hour
// runtime boundary, tracked as an integer floor so the cadence is not
// sensitive to float drift.
func (p *Plane) maybePublishMaintenance(id string, snapshot sim.PumpSnapshot) {
	mark := int64(math.Floor(snapshot.RuntimeHours / 10.0))

	p.mu.Lock()
	previous, seen := p.maintMarks[id]
	p.maintMarks[id] = mark
	p.mu.Unlock()

	if !seen || mark <= previous {
		return
	}

	topic := fmt.Sprintf("plant/pumps/%s/maintenance", id)
	p.publish(topic, maintenancePayload{
		RuntimeHours: snapshot.RuntimeHours,
		StartCount:   snapshot.StartCount,
		LastStart:    snapshot.Timestamp,
	})
}

func (p *Plane) analytics(snapshots map[string]sim.PumpSnapshot) analyticsPayload {
	var payload analyticsPayload
	if len(snapshots) == 0 {
		return payload
	}
	var effSum float64
	for _, snapshot := range snapshots {
		effSum += snapshot.Efficiency
		payload.TotalFlow += snapshot.FlowRate
		if snapshot.IsRunning {
			payload.ActivePumps++
		}
	}
	payload.SystemEfficiency = effSum / float64(len(snapshots))
	return payload
}

// PublishEvent publishes an alarm event onto the events topic and
// mirrors it to WebSocket clients.
func (p *Plane) PublishEvent(event alarms.Event) {
	p.publish("plant/events/alarm", event)
}

func (p *Plane) publish(topic string, payload interface{}) {
	if p.broker != nil {
		p.broker.Publish(topic, payload)
	}
	if p.hub != nil {
		p.hub.BroadcastPubSub(topic, payload)
	}
}
