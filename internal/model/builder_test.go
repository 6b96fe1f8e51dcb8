package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ps-ux/ipsim/internal/schema"
)

const builderTypesYAML = `
namespaceUri: "http://test.example.org/pumps"
engineeringUnits:
  cubic_metres_per_hour:
    displayName: "m³/h"
    description: "cubic metres per hour"
    unitId: 4666673
types:
  AssetType:
    base: BaseObjectType
    isAbstract: true
    properties:
      AssetID:
        type: Property
        dataType: String
  PumpType:
    base: AssetType
    components:
      FlowRate:
        type: AnalogItemType
        dataType: Double
        engineeringUnits: cubic_metres_per_hour
        euRange: {low: 0.0, high: 6000.0}
      RunCommand:
        type: TwoStateDiscreteType
        accessLevel: ReadWrite
        trueState: "Running"
        falseState: "Stopped"
      DesignSpecs:
        type: Object
        components:
          MaxRPM:
            type: Property
            dataType: Double
          DesignFlow:
            type: Property
            dataType: Double
    methods:
      SetSpeed:
        inputArguments:
          - {name: TargetRPM, dataType: Double}
        outputArguments:
          - {name: Success, dataType: Boolean}
  ChamberType:
    base: AssetType
    components:
      Level:
        type: AnalogItemType
        dataType: Double
        euRange: {low: 0.0, high: 10.0}
`

const builderAssetsJSON = `{
  "assets": [
    {
      "id": "IPS_PMP_001", "name": "IPS_PMP_001", "type": "PumpType", "parent": "ObjectsFolder",
      "simulate": true,
      "properties": {"AssetID": "IPS_PMP_001"},
      "designSpecs": {"MaxRPM": 1180, "DesignFlow": 2500}
    }
  ]
}`

func buildCatalogs(t *testing.T, typesDoc, assetsDoc string) (*schema.TypeCatalog, *schema.AssetCatalog) {
	t.Helper()
	types, err := schema.ParseTypesYAML([]byte(typesDoc))
	require.NoError(t, err)
	assets, err := schema.ParseAssetsJSON([]byte(assetsDoc))
	require.NoError(t, err)
	return types, assets
}

func TestBuildPumpInstance(t *testing.T) {
	types, assets := buildCatalogs(t, builderTypesYAML, builderAssetsJSON)

	result, err := NewBuilder(types, assets, nil).Build()
	require.NoError(t, err)

	pump, ok := result.Nodes["IPS_PMP_001"]
	require.True(t, ok)
	assert.Equal(t, "1:IPS_PMP_001", pump.BrowsePath())
	assert.Equal(t, "PumpType", pump.TypeDefinition())

	// All merged members are present on the instance.
	for _, name := range []string{"FlowRate", "RunCommand", "DesignSpecs", "SetSpeed", "AssetID"} {
		_, ok := pump.Child(name)
		assert.True(t, ok, "missing child %s", name)
	}

	flow, _ := pump.Child("FlowRate")
	assert.Equal(t, ClassVariable, flow.Class())
	assert.Equal(t, RoleAnalogItem, flow.Role())
	require.NotNil(t, flow.EURange())
	assert.Equal(t, 6000.0, flow.EURange().High)
	require.NotNil(t, flow.Units())
	assert.Equal(t, "m³/h", flow.Units().DisplayName)

	run, _ := pump.Child("RunCommand")
	trueState, falseState := run.States()
	assert.Equal(t, "Running", trueState)
	assert.Equal(t, "Stopped", falseState)
	assert.True(t, run.Writable())

	method, _ := pump.Child("SetSpeed")
	assert.Equal(t, ClassMethod, method.Class())
	in, _ := method.Arguments()
	require.Len(t, in, 1)
	assert.Equal(t, "TargetRPM", in[0].Name)

	// Design-spec overrides land in the DesignSpecs child.
	specs, _ := pump.Child("DesignSpecs")
	maxRPM, ok := specs.Child("MaxRPM")
	require.True(t, ok)
	assert.Equal(t, 1180.0, maxRPM.Value().Value)

	// Property overrides are applied.
	assetID, _ := pump.Child("AssetID")
	assert.Equal(t, "IPS_PMP_001", assetID.Value().Value)
}

func TestBuildEmitsSimulationTargets(t *testing.T) {
	types, assets := buildCatalogs(t, builderTypesYAML, builderAssetsJSON)

	result, err := NewBuilder(types, assets, nil).Build()
	require.NoError(t, err)

	require.Len(t, result.Targets, 1)
	target := result.Targets[0]
	assert.Equal(t, "IPS_PMP_001", target.ID)
	assert.Equal(t, "PumpType", target.Type)
	assert.Equal(t, 2500.0, target.DesignSpecs["DesignFlow"])
	assert.Same(t, result.Nodes["IPS_PMP_001"], target.Node)
}

func TestBuildSkipsNonSimulatableType(t *testing.T) {
	assetsDoc := `{"assets": [
      {"id": "MISC", "name": "Misc", "type": "AssetType", "parent": "ObjectsFolder", "simulate": true}
    ]}`
	types, assets := buildCatalogs(t, builderTypesYAML, assetsDoc)

	result, err := NewBuilder(types, assets, nil).Build()
	require.NoError(t, err)
	assert.Empty(t, result.Targets)
}

func TestBuildDefersOutOfOrderParents(t *testing.T) {
	assetsDoc := `{"assets": [
      {"id": "PMP", "name": "PMP", "type": "PumpType", "parent": "SYS"},
      {"id": "SYS", "name": "System", "type": "Folder", "parent": "PLANT"},
      {"id": "PLANT", "name": "Plant", "type": "Folder", "parent": "ObjectsFolder"}
    ]}`
	types, assets := buildCatalogs(t, builderTypesYAML, assetsDoc)

	result, err := NewBuilder(types, assets, nil).Build()
	require.NoError(t, err)

	pump := result.Nodes["PMP"]
	require.NotNil(t, pump)
	assert.Equal(t, "1:Plant/1:System/1:PMP", pump.BrowsePath())
}

func TestBuildFailsOnUnresolvedParent(t *testing.T) {
	assetsDoc := `{"assets": [
      {"id": "PMP", "name": "PMP", "type": "PumpType", "parent": "NOWHERE"}
    ]}`
	types, assets := buildCatalogs(t, builderTypesYAML, assetsDoc)

	_, err := NewBuilder(types, assets, nil).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved asset parents")
	assert.Contains(t, err.Error(), "NOWHERE")
}

func TestBuildFailsOnInheritanceCycle(t *testing.T) {
	cyclic := `
types:
  A:
    base: B
  B:
    base: A
`
	types, assets := buildCatalogs(t, cyclic, `{"assets": []}`)

	_, err := NewBuilder(types, assets, nil).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestWriteValueClampsToEURange(t *testing.T) {
	types, assets := buildCatalogs(t, builderTypesYAML, builderAssetsJSON)
	result, err := NewBuilder(types, assets, nil).Build()
	require.NoError(t, err)

	pump := result.Nodes["IPS_PMP_001"]
	flow, _ := pump.Child("FlowRate")

	now := time.Now().UTC()
	require.NoError(t, flow.WriteValue(9000.0, now))
	assert.Equal(t, 6000.0, flow.Value().Value)
	assert.Equal(t, now, flow.Value().SourceTimestamp)

	require.NoError(t, flow.WriteValue(-5.0, now))
	assert.Equal(t, 0.0, flow.Value().Value)
}

func TestSubscribeObservesWrites(t *testing.T) {
	types, assets := buildCatalogs(t, builderTypesYAML, builderAssetsJSON)
	result, err := NewBuilder(types, assets, nil).Build()
	require.NoError(t, err)

	var observed []DataValue
	result.Space.Subscribe(func(n *Node, dv DataValue) {
		if n.BrowseName() == "FlowRate" {
			observed = append(observed, dv)
		}
	})

	pump := result.Nodes["IPS_PMP_001"]
	flow, _ := pump.Child("FlowRate")
	require.NoError(t, flow.WriteValue(123.4, time.Now().UTC()))

	require.Len(t, observed, 1)
	assert.Equal(t, 123.4, observed[0].Value)
}
