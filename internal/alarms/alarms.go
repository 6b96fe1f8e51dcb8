// Package alarms implements limit alarms with hysteresis for simulated
// pump telemetry: state evaluation, event generation, and a bounded
// event history.
package alarms

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ps-ux/ipsim/internal/schema"
)

// State is the limit-alarm state.
type State int

const (
	StateNormal State = iota
	StateLow
	StateLowLow
	StateHigh
	StateHighHigh
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateLow:
		return "LOW"
	case StateLowLow:
		return "LOW_LOW"
	case StateHigh:
		return "HIGH"
	case StateHighHigh:
		return "HIGH_HIGH"
	}
	return "UNKNOWN"
}

// Severity bands on the OPC-UA 0-1000 scale.
const (
	SeverityInfo     = 100
	SeverityLow      = 300
	SeverityMedium   = 500
	SeverityHigh     = 700
	SeverityUrgent   = 900
	SeverityCritical = 1000
)

// Config is one limit alarm instance. Limits left nil are not checked.
type Config struct {
	Name          string
	Description   string
	Severity      int
	InputNodePath string

	HighHighLimit *float64
	HighLimit     *float64
	LowLimit      *float64
	LowLowLimit   *float64

	Hysteresis float64
	Message    string

	state        State
	isActive     bool
	acknowledged bool
	lastValue    float64
	activatedAt  time.Time
}

// Event is one alarm state change, appended to the bounded history.
type Event struct {
	ID           string    `json:"id"`
	AlarmKey     string    `json:"alarm_key"`
	State        string    `json:"state"`
	Value        float64   `json:"value"`
	CrossedLimit float64   `json:"limit"`
	Severity     int       `json:"severity"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	SourceNode   string    `json:"source_node"`
	Acknowledged bool      `json:"acknowledged"`
}

// maxHistory bounds the event ring; the oldest events are dropped.
const maxHistory = 1000

// Engine owns all alarm configurations and the event history. Checks,
// acknowledgements, and reads are serialized on one mutex.
type Engine struct {
	mu      sync.Mutex
	alarms  map[string]*Config
	history []Event
}

// NewEngine creates an empty alarm engine.
func NewEngine() *Engine {
	return &Engine{alarms: make(map[string]*Config)}
}

// Register adds an alarm under the given key. A fresh alarm starts
// normal and acknowledged.
func (e *Engine) Register(key string, cfg Config) {
	cfg.state = StateNormal
	cfg.acknowledged = true
	e.mu.Lock()
	e.alarms[key] = &cfg
	e.mu.Unlock()
	log.WithField("alarm", key).Debug("Registered alarm")
}

// Check evaluates a value against the keyed alarm and returns an event
// when, and only when, the state changed.
func (e *Engine) Check(key string, value float64) *Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, ok := e.alarms[key]
	if !ok {
		return nil
	}

	oldState := cfg.state
	newState := StateNormal
	switch {
	case cfg.HighHighLimit != nil && value >= *cfg.HighHighLimit:
		newState = StateHighHigh
	case cfg.HighLimit != nil && value >= *cfg.HighLimit:
		newState = StateHigh
	case cfg.LowLowLimit != nil && value <= *cfg.LowLowLimit:
		newState = StateLowLow
	case cfg.LowLimit != nil && value <= *cfg.LowLimit:
		newState = StateLow
	}

	// Hysteresis holds the alarmed state until the value clears the
	// deadband strictly.
	if oldState != StateNormal && newState == StateNormal && cfg.Hysteresis > 0 {
		switch oldState {
		case StateHigh, StateHighHigh:
			limit := firstLimit(cfg.HighLimit, cfg.HighHighLimit)
			if limit != nil && value > *limit-cfg.Hysteresis {
				newState = oldState
			}
		case StateLow, StateLowLow:
			limit := firstLimit(cfg.LowLimit, cfg.LowLowLimit)
			if limit != nil && value < *limit+cfg.Hysteresis {
				newState = oldState
			}
		}
	}

	cfg.lastValue = value
	cfg.state = newState

	if newState == oldState {
		return nil
	}

	cfg.isActive = newState != StateNormal
	cfg.acknowledged = newState == StateNormal
	now := time.Now().UTC()
	if cfg.isActive {
		cfg.activatedAt = now
	}

	event := Event{
		ID:           uuid.New().String(),
		AlarmKey:     key,
		State:        newState.String(),
		Value:        value,
		CrossedLimit: cfg.activeLimit(newState),
		Severity:     cfg.severityFor(newState),
		Message:      cfg.formatMessage(newState, value),
		Timestamp:    now,
		SourceNode:   cfg.InputNodePath,
	}
	e.appendHistory(event)
	return &event
}

// Acknowledge sets the acknowledged bit on an alarm. Nothing else
// changes.
func (e *Engine) Acknowledge(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, ok := e.alarms[key]
	if !ok {
		return false
	}
	cfg.acknowledged = true
	return true
}

// Status describes one alarm's current condition.
type Status struct {
	Name         string     `json:"name"`
	State        string     `json:"state"`
	IsActive     bool       `json:"is_active"`
	Acknowledged bool       `json:"acknowledged"`
	LastValue    float64    `json:"last_value"`
	Severity     int        `json:"severity"`
	Message      string     `json:"message"`
	ActivatedAt  *time.Time `json:"activated_at,omitempty"`
}

// ActiveAlarms returns the status of every alarm currently in a
// non-normal state.
func (e *Engine) ActiveAlarms() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	var active []Status
	for key, cfg := range e.alarms {
		if !cfg.isActive {
			continue
		}
		status := Status{
			Name:         key,
			State:        cfg.state.String(),
			IsActive:     true,
			Acknowledged: cfg.acknowledged,
			LastValue:    cfg.lastValue,
			Severity:     cfg.severityFor(cfg.state),
			Message:      cfg.formatMessage(cfg.state, cfg.lastValue),
		}
		if !cfg.activatedAt.IsZero() {
			t := cfg.activatedAt
			status.ActivatedAt = &t
		}
		active = append(active, status)
	}
	return active
}

// History returns up to limit most recent events, newest first.
func (e *Engine) History(limit int) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]Event, 0, limit)
	for i := len(e.history) - 1; i >= len(e.history)-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

func (e *Engine) appendHistory(event Event) {
	e.history = append(e.history, event)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
}

func (c *Config) activeLimit(state State) float64 {
	var limit *float64
	switch state {
	case StateHighHigh:
		limit = c.HighHighLimit
	case StateHigh:
		limit = c.HighLimit
	case StateLow:
		limit = c.LowLimit
	case StateLowLow:
		limit = c.LowLowLimit
	}
	if limit == nil {
		return 0
	}
	return *limit
}

func (c *Config) severityFor(state State) int {
	switch state {
	case StateHighHigh, StateLowLow:
		severity := c.Severity + 100
		if severity > 1000 {
			severity = 1000
		}
		return severity
	case StateHigh, StateLow:
		return c.Severity
	}
	return 0
}

func (c *Config) formatMessage(state State, value float64) string {
	var stateText string
	switch state {
	case StateNormal:
		stateText = "returned to normal"
	case StateHigh:
		stateText = "high limit exceeded"
	case StateHighHigh:
		stateText = "high-high limit exceeded"
	case StateLow:
		stateText = "low limit exceeded"
	case StateLowLow:
		stateText = "low-low limit exceeded"
	}
	if c.Message != "" {
		return fmt.Sprintf("%s - %s (value: %.2f)", c.Message, stateText, value)
	}
	return fmt.Sprintf("%s: %s (value: %.2f)", c.Name, stateText, value)
}

func firstLimit(limits ...*float64) *float64 {
	for _, l := range limits {
		if l != nil {
			return l
		}
	}
	return nil
}

// Monitor routes one pump's sample vector to its registered alarms.
type Monitor struct {
	engine   *Engine
	pumpID   string
	mappings map[string]string // variable name -> alarm key
}

// NewMonitor creates a monitor for one pump.
func NewMonitor(engine *Engine, pumpID string) *Monitor {
	return &Monitor{
		engine:   engine,
		pumpID:   pumpID,
		mappings: make(map[string]string),
	}
}

// RegisterFromDef instantiates a catalog alarm template against one of
// the pump's variables and returns the alarm key.
func (m *Monitor) RegisterFromDef(def schema.AlarmDef) string {
	key := fmt.Sprintf("%s_%s_%s", m.pumpID, def.InputNode, def.Name)
	m.engine.Register(key, Config{
		Name:          def.Name,
		Description:   def.Description,
		Severity:      def.Severity,
		InputNodePath: def.InputNode,
		HighHighLimit: def.HighHighLimit,
		HighLimit:     def.HighLimit,
		LowLimit:      def.LowLimit,
		LowLowLimit:   def.LowLowLimit,
		Hysteresis:    def.Hysteresis,
		Message:       def.Message,
	})
	m.mappings[def.InputNode] = key
	return key
}

// Check evaluates a full sample vector and returns the events raised.
func (m *Monitor) Check(values map[string]float64) []Event {
	var events []Event
	for variable, key := range m.mappings {
		value, ok := values[variable]
		if !ok {
			continue
		}
		if event := m.engine.Check(key, value); event != nil {
			events = append(events, *event)
		}
	}
	return events
}

// ActiveAlarms returns active alarms registered by this monitor.
func (m *Monitor) ActiveAlarms() []Status {
	var active []Status
	for _, status := range m.engine.ActiveAlarms() {
		for _, key := range m.mappings {
			if status.Name == key {
				active = append(active, status)
			}
		}
	}
	return active
}
