package sim

import (
	"math"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func testPhysics(seed int64) *Physics {
	return NewPhysics(DesignPointFromSpecs(nil), rand.New(rand.NewSource(seed)))
}

func TestAffinityLaws(t *testing.T) {
	physics := testPhysics(1)
	design := physics.Design()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("flow is proportional to speed", prop.ForAll(
		func(r1, r2 float64) bool {
			q1 := physics.FlowAtSpeed(r1 * design.MaxRPM)
			q2 := physics.FlowAtSpeed(r2 * design.MaxRPM)
			return math.Abs(q1/r1-q2/r2) < 1e-6
		},
		gen.Float64Range(0.1, 1.0),
		gen.Float64Range(0.1, 1.0),
	))

	properties.Property("shutoff head scales with speed squared", prop.ForAll(
		func(r1, r2 float64) bool {
			h1 := physics.HeadAtFlow(0, r1*design.MaxRPM)
			h2 := physics.HeadAtFlow(0, r2*design.MaxRPM)
			return math.Abs(h1/(r1*r1)-h2/(r2*r2)) < 1e-6
		},
		gen.Float64Range(0.1, 1.0),
		gen.Float64Range(0.1, 1.0),
	))

	properties.Property("hydraulic power scales with speed cubed", prop.ForAll(
		func(r1, r2 float64) bool {
			power := func(r float64) float64 {
				rpm := r * design.MaxRPM
				flow := physics.FlowAtSpeed(rpm)
				head := physics.HeadAtFlow(flow, rpm)
				return physics.HydraulicPower(flow, head)
			}
			p1 := power(r1)
			p2 := power(r2)
			return math.Abs(p1/(r1*r1*r1)-p2/(r2*r2*r2)) < 1e-6
		},
		gen.Float64Range(0.1, 1.0),
		gen.Float64Range(0.1, 1.0),
	))

	properties.TestingRun(t)
}

func TestHeadNeverNegative(t *testing.T) {
	physics := testPhysics(2)
	design := physics.Design()

	// Far beyond design flow the curve would go negative; it clamps.
	head := physics.HeadAtFlow(design.Flow*3, design.MaxRPM)
	assert.Equal(t, 0.0, head)
}

func TestEstimateEfficiencyClamps(t *testing.T) {
	physics := testPhysics(3)
	design := physics.Design()

	// At BEP the efficiency equals the design value.
	atBEP := physics.EstimateEfficiency(design.Flow, design.MaxRPM)
	assert.InDelta(t, design.Efficiency, atBEP, 1e-9)

	// Far off BEP the efficiency floors at 20%.
	farOff := physics.EstimateEfficiency(design.Flow*5, design.MaxRPM)
	assert.Equal(t, 20.0, farOff)

	// Never above design efficiency.
	for flow := 0.0; flow <= design.Flow*2; flow += 100 {
		eff := physics.EstimateEfficiency(flow, design.MaxRPM)
		assert.LessOrEqual(t, eff, design.Efficiency)
	}
}

func TestPowerFactorBands(t *testing.T) {
	physics := testPhysics(4)

	assert.InDelta(t, 0.65+0.1*0.4, physics.PowerFactor(0.1), 1e-9)
	assert.InDelta(t, 0.75+0.5*0.15, physics.PowerFactor(0.5), 1e-9)
	assert.Equal(t, 0.90, physics.PowerFactor(1.2))
}

func TestVFDFrequencyClamps(t *testing.T) {
	// 1180 RPM design: six poles, 59 Hz at full speed.
	physics := testPhysics(5)
	assert.InDelta(t, 59.0, physics.VFDFrequency(1180), 1e-9)
	assert.Equal(t, 65.0, physics.VFDFrequency(5000))
	assert.Equal(t, 0.0, physics.VFDFrequency(0))

	// Above 1500 RPM the model assumes a four-pole motor.
	fast := NewPhysics(DesignPointFromSpecs(map[string]float64{"MaxRPM": 1750}), rand.New(rand.NewSource(5)))
	assert.InDelta(t, 58.33, fast.VFDFrequency(1750), 0.01)
}

func TestVibrationBounds(t *testing.T) {
	physics := testPhysics(6)
	design := physics.Design()

	assert.Equal(t, 0.1, physics.Vibration(0, 1, 1, 0))

	for i := 0; i < 1000; i++ {
		v := physics.Vibration(design.MaxRPM, 6.0, 6.0, 1.5)
		assert.GreaterOrEqual(t, v, 0.3)
		assert.LessOrEqual(t, v, 30.0)
	}
}

func TestTemperatureCeilings(t *testing.T) {
	physics := testPhysics(7)

	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, physics.MotorWindingTemp(25, 900, 225), 180.0)
		assert.LessOrEqual(t, physics.BearingTemp(25, 500, 30, 5), 150.0)
		assert.LessOrEqual(t, physics.SealTemp(25, 0, 1), 120.0)
	}
}

func TestElectricalPowerChain(t *testing.T) {
	physics := testPhysics(8)
	design := physics.Design()

	flow := physics.FlowAtSpeed(design.MaxRPM)
	head := physics.HeadAtFlow(flow, design.MaxRPM)
	hydraulic := physics.HydraulicPower(flow, head)
	shaft := physics.ShaftPower(flow, head, design.Efficiency)
	electrical := physics.ElectricalPower(flow, head, design.Efficiency, design.MotorEfficiency)

	assert.Greater(t, shaft, hydraulic)
	assert.Greater(t, electrical, shaft)

	// Zero efficiency yields zero power rather than a division blow-up.
	assert.Equal(t, 0.0, physics.ShaftPower(flow, head, 0))
	assert.Equal(t, 0.0, physics.ElectricalPower(flow, head, design.Efficiency, 0))
}
