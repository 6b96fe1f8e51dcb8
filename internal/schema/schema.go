package schema

// ComponentKind identifies the meta-model shape of a component node
type ComponentKind string

const (
	// KindProperty is a plain OPC-UA Property variable
	KindProperty ComponentKind = "Property"
	// KindObject is a nested object that groups further components
	KindObject ComponentKind = "Object"
	// KindAnalogItem is an AnalogItemType variable with EURange and units
	KindAnalogItem ComponentKind = "AnalogItemType"
	// KindTwoStateDiscrete is a TwoStateDiscreteType boolean variable
	KindTwoStateDiscrete ComponentKind = "TwoStateDiscreteType"
	// KindDataItem is a DataItemType variable without analog semantics
	KindDataItem ComponentKind = "DataItemType"
	// KindMethod is a callable method with typed arguments
	KindMethod ComponentKind = "Method"
)

// DataType names a scalar value type carried by a variable or argument.
// Custom enumerations declared under dataTypes are also valid DataType names.
type DataType string

const (
	TypeDouble   DataType = "Double"
	TypeFloat    DataType = "Float"
	TypeInt32    DataType = "Int32"
	TypeInt16    DataType = "Int16"
	TypeUInt32   DataType = "UInt32"
	TypeUInt16   DataType = "UInt16"
	TypeBoolean  DataType = "Boolean"
	TypeDateTime DataType = "DateTime"
	TypeString   DataType = "String"
)

// Modelling rules for type members.
const (
	RuleMandatory = "Mandatory"
	RuleOptional  = "Optional"
)

// Access levels for variables.
const (
	AccessRead      = "Read"
	AccessReadWrite = "ReadWrite"
)

// FolderType is the asset type literal that creates a plain folder
// instead of a typed object.
const FolderType = "Folder"

// ObjectsFolderID is the parent identifier assets use to attach at the
// address-space root.
const ObjectsFolderID = "ObjectsFolder"

// BaseObjectType is the universal base of the type inheritance graph.
const BaseObjectType = "BaseObjectType"

// EngineeringUnit is a UNECE engineering unit definition.
type EngineeringUnit struct {
	DisplayName string `yaml:"displayName" json:"displayName"`
	Description string `yaml:"description" json:"description"`
	UnitID      int32  `yaml:"unitId" json:"unitId"`
}

// Range is an inclusive numeric interval, used for EURange and
// InstrumentRange.
type Range struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// Argument describes one method input or output argument.
type Argument struct {
	Name        string   `yaml:"name" json:"name"`
	DataType    DataType `yaml:"dataType" json:"dataType"`
	Description string   `yaml:"description" json:"description"`
}

// ComponentDef describes one node inside a type or instance. Components
// nest recursively through the Components map.
type ComponentDef struct {
	Name             string
	Kind             ComponentKind
	DataType         DataType
	ModellingRule    string
	Description      string
	AccessLevel      string
	EngineeringUnits string
	EURange          *Range
	InstrumentRange  *Range
	TrueState        string
	FalseState       string
	Value            interface{}
	Components       map[string]*ComponentDef
	InputArguments   []Argument
	OutputArguments  []Argument
}

// TypeDef is an ObjectType definition.
type TypeDef struct {
	Name        string
	Base        string
	IsAbstract  bool
	Description string
	Properties  map[string]*ComponentDef
	Components  map[string]*ComponentDef
	Methods     map[string]*ComponentDef
}

// EnumValue is one member of a custom enumeration data type.
type EnumValue struct {
	Name  string `yaml:"name" json:"name"`
	Value int32  `yaml:"value" json:"value"`
}

// DataTypeDef is a custom data type declaration (currently enumerations).
type DataTypeDef struct {
	Kind   string      `yaml:"type" json:"type"`
	Values []EnumValue `yaml:"values" json:"values"`
}

// AlarmDef is a limit-alarm template declared in the type catalog. The
// InputNode path is relative to a pump instance.
type AlarmDef struct {
	Name          string
	AlarmType     string
	Description   string
	Severity      int
	InputNode     string
	HighHighLimit *float64
	HighLimit     *float64
	LowLimit      *float64
	LowLowLimit   *float64
	Hysteresis    float64
	Message       string
}

// TypeCatalog is the parsed type document: namespace, units, data types,
// alarm templates and ObjectType definitions.
type TypeCatalog struct {
	NamespaceURI     string
	EngineeringUnits map[string]EngineeringUnit
	DataTypes        map[string]DataTypeDef
	AlarmTypes       map[string]AlarmDef
	Types            map[string]*TypeDef
}

// AssetDef is one asset instance declaration.
type AssetDef struct {
	ID             string
	Name           string
	DisplayName    string
	Type           string
	Parent         string
	Description    string
	HierarchyLevel string
	Simulate       bool
	Properties     map[string]interface{}
	DesignSpecs    map[string]float64
	Alarms         []string
}

// AssetCatalog is the parsed asset document.
type AssetCatalog struct {
	Assets []AssetDef
}

// IsNumeric reports whether the data type carries a numeric scalar.
func (d DataType) IsNumeric() bool {
	switch d {
	case TypeDouble, TypeFloat, TypeInt32, TypeInt16, TypeUInt32, TypeUInt16:
		return true
	}
	return false
}

// Unit returns the named engineering unit, if declared.
func (c *TypeCatalog) Unit(name string) (EngineeringUnit, bool) {
	eu, ok := c.EngineeringUnits[name]
	return eu, ok
}

// Type returns the named type definition, if declared.
func (c *TypeCatalog) Type(name string) (*TypeDef, bool) {
	td, ok := c.Types[name]
	return td, ok
}
