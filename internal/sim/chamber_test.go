package sim

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ps-ux/ipsim/internal/model"
	"github.com/ps-ux/ipsim/internal/schema"
)

const chamberTypesYAML = `
types:
  ChamberType:
    base: BaseObjectType
    components:
      Level:
        type: AnalogItemType
        dataType: Double
        euRange: {low: 0.0, high: 10.0}
      Temperature:
        type: AnalogItemType
        dataType: Double
        euRange: {low: -10.0, high: 50.0}
`

const chamberAssetsJSON = `{
  "assets": [
    {"id": "IPS_WW_001", "name": "IPS_WW_001", "type": "ChamberType", "parent": "ObjectsFolder", "simulate": true}
  ]
}`

func newTestChamber(t *testing.T) (*Chamber, *model.Node) {
	t.Helper()
	types, err := schema.ParseTypesYAML([]byte(chamberTypesYAML))
	require.NoError(t, err)
	assets, err := schema.ParseAssetsJSON([]byte(chamberAssetsJSON))
	require.NoError(t, err)
	result, err := model.NewBuilder(types, assets, nil).Build()
	require.NoError(t, err)

	target := result.Targets[0]
	return NewChamber(target.ID, target.Name, target.Node, rand.New(rand.NewSource(99))), target.Node
}

func TestChamberTickWritesLevelAndTemperature(t *testing.T) {
	chamber, node := newTestChamber(t)

	now := time.Now().UTC()
	chamber.Tick(1.0, now)

	level, _ := node.Child("Level")
	require.NotNil(t, level.Value().Value)
	assert.Equal(t, now, level.Value().SourceTimestamp)

	temperature, _ := node.Child("Temperature")
	require.NotNil(t, temperature.Value().Value)
	assert.Equal(t, now, temperature.Value().SourceTimestamp)
}

func TestChamberLevelStaysInBounds(t *testing.T) {
	chamber, _ := newTestChamber(t)

	for i := 0; i < 2000; i++ {
		chamber.Tick(1.0, time.Now().UTC())
		level := chamber.Level()
		assert.GreaterOrEqual(t, level, 1.0)
		assert.LessOrEqual(t, level, 7.0)
	}
}

func TestChamberTemperatureTracksAmbient(t *testing.T) {
	chamber, node := newTestChamber(t)
	temperature, _ := node.Child("Temperature")

	for i := 0; i < 200; i++ {
		chamber.Tick(1.0, time.Now().UTC())
		v := temperature.Value().Value.(float64)
		// 18 °C ambient with a ±3 °C daily swing and small noise.
		assert.InDelta(t, 18.0, v, 3.5)
	}
}

func TestChamberSetpointControl(t *testing.T) {
	chamber, _ := newTestChamber(t)

	chamber.SetSetpoint(6.0)
	chamber.Tick(1.0, time.Now().UTC())
	assert.InDelta(t, 6.0, chamber.Level(), 1.7)

	// Setpoint clamps to the chamber bounds.
	chamber.SetSetpoint(20.0)
	chamber.Tick(1.0, time.Now().UTC())
	assert.LessOrEqual(t, chamber.Level(), 7.0)

	chamber.SetLevel(0.2)
	assert.Equal(t, 1.0, chamber.Level())
}
