package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ps-ux/ipsim/internal/model"
)

// Chamber simulates a tank, wet well, channel, or clarifier with level
// and temperature measurements driven by simple stochastic dynamics.
type Chamber struct {
	id   string
	name string

	levelNode *model.Node
	tempNode  *model.Node

	rng *rand.Rand

	mu          sync.Mutex
	level       float64
	temperature float64
	tickCount   int64
	setpoint    float64
	minLevel    float64
	maxLevel    float64
	ambient     float64
}

// NewChamber binds a chamber actor to its instance node.
func NewChamber(id, name string, node *model.Node, rng *rand.Rand) *Chamber {
	c := &Chamber{
		id:          id,
		name:        name,
		rng:         rng,
		level:       4.0,
		temperature: 20.0,
		setpoint:    4.0,
		minLevel:    1.0,
		maxLevel:    7.0,
		ambient:     18.0,
	}
	c.levelNode, _ = node.Child("Level")
	c.tempNode, _ = node.Child("Temperature")
	log.WithField("chamber", name).Info("Bound chamber simulation")
	return c
}

// ID returns the chamber's asset identifier.
func (c *Chamber) ID() string { return c.id }

// Name returns the chamber's display name.
func (c *Chamber) Name() string { return c.name }

// Level returns the current level in meters.
func (c *Chamber) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// SetLevel sets the level directly, clamped to the chamber bounds.
func (c *Chamber) SetLevel(level float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = math.Max(c.minLevel, math.Min(c.maxLevel, level))
}

// SetSetpoint sets the level control setpoint.
func (c *Chamber) SetSetpoint(setpoint float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setpoint = math.Max(c.minLevel, math.Min(c.maxLevel, setpoint))
}

func (c *Chamber) uniform(low, high float64) float64 {
	return low + c.rng.Float64()*(high-low)
}

// Tick advances the chamber by dt seconds and writes Level and
// Temperature with the current timestamp. Phase accumulates on
// tick_count·dt rather than wall time.
func (c *Chamber) Tick(dt float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tickCount++

	// Fill/drain cycle of roughly ten minutes with a perturbed period.
	period := 600.0 + c.uniform(-60, 60)
	c.level = c.setpoint + 1.5*math.Sin(2*math.Pi*float64(c.tickCount)*dt/period)
	c.level += c.uniform(-0.05, 0.05)
	c.level = math.Max(c.minLevel, math.Min(c.maxLevel, c.level))

	c.temperature = c.ambient + 3.0*math.Sin(2*math.Pi*float64(c.tickCount)*dt/86400.0)
	c.temperature += c.uniform(-0.2, 0.2)

	if c.levelNode != nil {
		if err := c.levelNode.WriteValue(c.level, now); err != nil {
			log.WithError(err).WithField("chamber", c.name).Debug("Could not write Level")
		}
	}
	if c.tempNode != nil {
		if err := c.tempNode.WriteValue(c.temperature, now); err != nil {
			log.WithError(err).WithField("chamber", c.name).Debug("Could not write Temperature")
		}
	}
}
