// Package methods binds control verbs on address-space nodes to
// simulation kernel operations through an explicit dispatch table.
package methods

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ps-ux/ipsim/internal/model"
	"github.com/ps-ux/ipsim/internal/sim"
)

// Result is the (ok, message) tuple every control verb returns.
type Result struct {
	OK      bool
	Message string
}

// Handler executes one verb against the kernel on behalf of an asset.
type Handler func(engine *sim.Engine, assetID string, args []interface{}) Result

// key addresses one bound verb: the owning node plus the verb name.
type key struct {
	NodeID string
	Verb   string
}

// Binding pairs a method node with its dispatch information, for the
// endpoint layer to expose.
type Binding struct {
	Node    *model.Node
	OwnerID string
	Verb    string
}

// Binder wires method nodes to kernel operations. There is no hidden
// capture: dispatch goes through the (node, verb) table.
type Binder struct {
	engine   *sim.Engine
	logger   *logrus.Logger
	handlers map[key]Handler
	owners   map[key]string
	bindings []Binding
}

// NewBinder creates an empty binder over the kernel.
func NewBinder(engine *sim.Engine, logger *logrus.Logger) *Binder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Binder{
		engine:   engine,
		logger:   logger,
		handlers: make(map[key]Handler),
		owners:   make(map[key]string),
	}
}

// Bindings returns every bound method in bind order.
func (b *Binder) Bindings() []Binding { return b.bindings }

// Invoke dispatches a verb bound on the given node. The second return
// is false when no handler is bound.
func (b *Binder) Invoke(nodeID, verb string, args []interface{}) (Result, bool) {
	k := key{NodeID: nodeID, Verb: verb}
	handler, ok := b.handlers[k]
	if !ok {
		return Result{}, false
	}
	return handler(b.engine, b.owners[k], args), true
}

func (b *Binder) bind(owner *model.Node, ownerID, verb string, handler Handler) {
	methodNode, ok := owner.Child(verb)
	if !ok {
		b.logger.WithFields(logrus.Fields{
			"node": owner.BrowsePath(),
			"verb": verb,
		}).Warn("Method node not found, verb not bound")
		return
	}
	k := key{NodeID: owner.BrowsePath(), Verb: verb}
	b.handlers[k] = handler
	b.owners[k] = ownerID
	b.bindings = append(b.bindings, Binding{Node: methodNode, OwnerID: ownerID, Verb: verb})
	b.logger.WithFields(logrus.Fields{
		"node": owner.BrowsePath(),
		"verb": verb,
	}).Debug("Bound method")
}

// BindPump binds the pump control verbs on a pump instance node.
func (b *Binder) BindPump(node *model.Node, pumpID string) {
	b.bind(node, pumpID, "StartPump", startPump)
	b.bind(node, pumpID, "StopPump", stopPump)
	b.bind(node, pumpID, "SetSpeed", setSpeed)
	b.bind(node, pumpID, "ResetFault", resetFault)
}

// BindSimConfig binds the kernel verbs on the SimConfig instance node.
func (b *Binder) BindSimConfig(node *model.Node) {
	b.bind(node, "", "SetMode", setMode)
	b.bind(node, "", "TriggerFailure", triggerFailure)
	b.bind(node, "", "ResetSimulation", resetSimulation)
	b.bind(node, "", "ApplyAging", applyAging)
}

// WatchConfig observes client writes to the writable SimConfig
// variables and applies them to the kernel with their clamps.
func (b *Binder) WatchConfig(space *model.AddressSpace, simConfig *model.Node) {
	intervalNode, _ := simConfig.Child("SimulationInterval")
	accelNode, _ := simConfig.Child("TimeAcceleration")
	modeNode, _ := simConfig.Child("Mode")

	space.Subscribe(func(node *model.Node, value model.DataValue) {
		switch node {
		case intervalNode:
			if f, ok := numeric(value.Value); ok {
				b.engine.SetInterval(f)
			}
		case accelNode:
			if f, ok := numeric(value.Value); ok {
				b.engine.SetTimeAcceleration(f)
			}
		case modeNode:
			if f, ok := numeric(value.Value); ok {
				if mode, valid := sim.ParseMode(int(f)); valid {
					b.engine.SetMode(mode)
				} else {
					b.logger.WithField("value", value.Value).Warn("Invalid mode value written")
				}
			}
		}
	})
}

func startPump(engine *sim.Engine, pumpID string, _ []interface{}) Result {
	pump, ok := engine.Pump(pumpID)
	if !ok {
		return Result{OK: false, Message: fmt.Sprintf("Unknown pump %s", pumpID)}
	}
	ok, msg := pump.Start()
	return Result{OK: ok, Message: msg}
}

func stopPump(engine *sim.Engine, pumpID string, _ []interface{}) Result {
	pump, ok := engine.Pump(pumpID)
	if !ok {
		return Result{OK: false, Message: fmt.Sprintf("Unknown pump %s", pumpID)}
	}
	ok, msg := pump.Stop()
	return Result{OK: ok, Message: msg}
}

func setSpeed(engine *sim.Engine, pumpID string, args []interface{}) Result {
	pump, ok := engine.Pump(pumpID)
	if !ok {
		return Result{OK: false, Message: fmt.Sprintf("Unknown pump %s", pumpID)}
	}
	if len(args) < 1 {
		return Result{OK: false, Message: "SetSpeed requires a target RPM argument"}
	}
	rpm, ok := numeric(args[0])
	if !ok {
		return Result{OK: false, Message: "Target RPM must be numeric"}
	}
	ok, msg := pump.SetSpeed(rpm)
	return Result{OK: ok, Message: msg}
}

func resetFault(engine *sim.Engine, pumpID string, _ []interface{}) Result {
	pump, ok := engine.Pump(pumpID)
	if !ok {
		return Result{OK: false, Message: fmt.Sprintf("Unknown pump %s", pumpID)}
	}
	ok, msg := pump.ResetFault()
	return Result{OK: ok, Message: msg}
}

func setMode(engine *sim.Engine, _ string, args []interface{}) Result {
	if len(args) < 1 {
		return Result{OK: false, Message: "SetMode requires a mode argument"}
	}
	v, ok := numeric(args[0])
	if !ok {
		return Result{OK: false, Message: "Mode must be an enumeration value"}
	}
	mode, valid := sim.ParseMode(int(v))
	if !valid {
		return Result{OK: false, Message: fmt.Sprintf("Invalid simulation mode: %d", int(v))}
	}
	engine.SetMode(mode)
	return Result{OK: true, Message: fmt.Sprintf("Mode set to %s", mode)}
}

// triggerFailure targets the first running pump, falling back to the
// first registered pump when none is running.
func triggerFailure(engine *sim.Engine, _ string, args []interface{}) Result {
	if len(args) < 1 {
		return Result{OK: false, Message: "TriggerFailure requires a failure type argument"}
	}
	v, ok := numeric(args[0])
	if !ok {
		return Result{OK: false, Message: "Failure type must be an enumeration value"}
	}
	failureType, valid := sim.ParseFailureType(int(v))
	if !valid {
		return Result{OK: false, Message: fmt.Sprintf("Invalid failure type: %d", int(v))}
	}

	pumps := engine.Pumps()
	if len(pumps) == 0 {
		return Result{OK: false, Message: "No pumps registered"}
	}
	target := pumps[0]
	for _, pump := range pumps {
		if pump.IsRunning() {
			target = pump
			break
		}
	}
	if !engine.TriggerFailure(target.ID(), failureType) {
		return Result{OK: false, Message: fmt.Sprintf("Unknown pump %s", target.ID())}
	}
	return Result{OK: true, Message: fmt.Sprintf("Triggered %s failure on %s", failureType, target.Name())}
}

func resetSimulation(engine *sim.Engine, _ string, _ []interface{}) Result {
	engine.ResetSimulation()
	return Result{OK: true, Message: "Simulation reset to OPTIMAL"}
}

func applyAging(engine *sim.Engine, _ string, args []interface{}) Result {
	if len(args) < 1 {
		return Result{OK: false, Message: "ApplyAging requires a years argument"}
	}
	years, ok := numeric(args[0])
	if !ok {
		return Result{OK: false, Message: "Years must be numeric"}
	}
	if years < 0 || years > 50 {
		return Result{OK: false, Message: fmt.Sprintf("Invalid aging years: %.1f", years)}
	}
	engine.ApplyAging(years)
	return Result{OK: true, Message: fmt.Sprintf("Applied %.1f years of aging", years)}
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint16:
		return float64(n), true
	}
	return 0, false
}
