package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const typesYAML = `
namespaceUri: "http://test.example.org/pumps"
engineeringUnits:
  cubic_metres_per_hour:
    displayName: "m³/h"
    description: "cubic metres per hour"
    unitId: 4666673
dataTypes:
  SimulationModeEnumeration:
    type: Enumeration
    values:
      - {name: OPTIMAL, value: 0}
      - {name: AGED, value: 1}
alarmTypes:
  HighVibrationAlarm:
    type: LimitAlarmType
    severity: 700
    inputNode: Vibration_DE_H
    highLimit: 7.1
    highHighLimit: 11.2
    hysteresis: 0.5
    message: "Pump vibration high"
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
    methods:
      SetSpeed:
        inputArguments:
          - {name: TargetRPM, dataType: Double, description: "Requested speed"}
        outputArguments:
          - {name: Success, dataType: Boolean}
          - {name: Message, dataType: String}
`

const assetsJSON = `{
  "assets": [
    {"id": "PLANT", "name": "Plant", "type": "Folder", "parent": "ObjectsFolder"},
    {
      "id": "IPS_PMP_001", "name": "IPS_PMP_001", "type": "PumpType", "parent": "PLANT",
      "hierarchyLevel": "Asset", "simulate": true,
      "designSpecs": {"MaxRPM": 1180},
      "alarms": ["HighVibrationAlarm"]
    }
  ]
}`

func TestParseTypesYAML(t *testing.T) {
	cat, err := ParseTypesYAML([]byte(typesYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://test.example.org/pumps", cat.NamespaceURI)

	eu, ok := cat.Unit("cubic_metres_per_hour")
	require.True(t, ok)
	assert.Equal(t, int32(4666673), eu.UnitID)

	pump, ok := cat.Type("PumpType")
	require.True(t, ok)
	assert.Equal(t, "AssetType", pump.Base)

	flow := pump.Components["FlowRate"]
	require.NotNil(t, flow)
	assert.Equal(t, KindAnalogItem, flow.Kind)
	assert.Equal(t, TypeDouble, flow.DataType)
	require.NotNil(t, flow.EURange)
	assert.Equal(t, 6000.0, flow.EURange.High)
	assert.Equal(t, RuleMandatory, flow.ModellingRule)

	run := pump.Components["RunCommand"]
	require.NotNil(t, run)
	assert.Equal(t, KindTwoStateDiscrete, run.Kind)
	assert.Equal(t, "Running", run.TrueState)
	assert.Equal(t, AccessReadWrite, run.AccessLevel)

	specs := pump.Components["DesignSpecs"]
	require.NotNil(t, specs)
	assert.Equal(t, KindObject, specs.Kind)
	assert.Contains(t, specs.Components, "MaxRPM")

	setSpeed := pump.Methods["SetSpeed"]
	require.NotNil(t, setSpeed)
	assert.Equal(t, KindMethod, setSpeed.Kind)
	require.Len(t, setSpeed.InputArguments, 1)
	assert.Equal(t, TypeDouble, setSpeed.InputArguments[0].DataType)
	assert.Len(t, setSpeed.OutputArguments, 2)

	alarm, ok := cat.AlarmTypes["HighVibrationAlarm"]
	require.True(t, ok)
	assert.Equal(t, 700, alarm.Severity)
	require.NotNil(t, alarm.HighLimit)
	assert.Equal(t, 7.1, *alarm.HighLimit)
	assert.Equal(t, 0.5, alarm.Hysteresis)
}

func TestParseTypesRejectsUnknownKind(t *testing.T) {
	doc := `
types:
  BadType:
    base: BaseObjectType
    components:
      Mystery:
        type: HolographicItemType
`
	_, err := ParseTypesYAML([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestParseTypesRejectsUnknownDataType(t *testing.T) {
	doc := `
types:
  BadType:
    base: BaseObjectType
    components:
      Odd:
        type: Property
        dataType: Quaternion
`
	_, err := ParseTypesYAML([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown data type")
}

func TestParseTypesRejectsUnknownUnit(t *testing.T) {
	doc := `
types:
  BadType:
    base: BaseObjectType
    components:
      Flow:
        type: AnalogItemType
        dataType: Double
        engineeringUnits: furlongs_per_fortnight
`
	_, err := ParseTypesYAML([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown engineering unit")
}

func TestParseTypesRejectsUnknownBase(t *testing.T) {
	doc := `
types:
  Orphan:
    base: MissingType
`
	_, err := ParseTypesYAML([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown base")
}

func TestParseAssetsJSON(t *testing.T) {
	cat, err := ParseAssetsJSON([]byte(assetsJSON))
	require.NoError(t, err)
	require.Len(t, cat.Assets, 2)

	pump := cat.Assets[1]
	assert.Equal(t, "IPS_PMP_001", pump.ID)
	assert.Equal(t, "PumpType", pump.Type)
	assert.True(t, pump.Simulate)
	assert.Equal(t, 1180.0, pump.DesignSpecs["MaxRPM"])
	assert.Equal(t, []string{"HighVibrationAlarm"}, pump.Alarms)

	// Display name falls back to the asset name.
	assert.Equal(t, "IPS_PMP_001", pump.DisplayName)
}

func TestParseAssetsRejectsDuplicateID(t *testing.T) {
	doc := `{"assets": [
      {"id": "A", "name": "A", "type": "Folder", "parent": "ObjectsFolder"},
      {"id": "A", "name": "A2", "type": "Folder", "parent": "ObjectsFolder"}
    ]}`
	_, err := ParseAssetsJSON([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate asset id")
}
