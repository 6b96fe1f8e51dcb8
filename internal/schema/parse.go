package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Wire forms of the two catalog documents. Both YAML and JSON decode into
// these; the exported Parse functions convert them to validated catalogs.

type componentDoc struct {
	Type             string                   `yaml:"type" json:"type"`
	DataType         string                   `yaml:"dataType" json:"dataType"`
	ModellingRule    string                   `yaml:"modellingRule" json:"modellingRule"`
	Description      string                   `yaml:"description" json:"description"`
	AccessLevel      string                   `yaml:"accessLevel" json:"accessLevel"`
	EngineeringUnits string                   `yaml:"engineeringUnits" json:"engineeringUnits"`
	EURange          *Range                   `yaml:"euRange" json:"euRange"`
	InstrumentRange  *Range                   `yaml:"instrumentRange" json:"instrumentRange"`
	TrueState        string                   `yaml:"trueState" json:"trueState"`
	FalseState       string                   `yaml:"falseState" json:"falseState"`
	Value            interface{}              `yaml:"value" json:"value"`
	Components       map[string]componentDoc  `yaml:"components" json:"components"`
	InputArguments   []Argument               `yaml:"inputArguments" json:"inputArguments"`
	OutputArguments  []Argument               `yaml:"outputArguments" json:"outputArguments"`
}

type typeDoc struct {
	Base        string                  `yaml:"base" json:"base"`
	IsAbstract  bool                    `yaml:"isAbstract" json:"isAbstract"`
	Description string                  `yaml:"description" json:"description"`
	Properties  map[string]componentDoc `yaml:"properties" json:"properties"`
	Components  map[string]componentDoc `yaml:"components" json:"components"`
	Methods     map[string]componentDoc `yaml:"methods" json:"methods"`
}

type alarmTypeDoc struct {
	Type          string   `yaml:"type" json:"type"`
	Description   string   `yaml:"description" json:"description"`
	Severity      int      `yaml:"severity" json:"severity"`
	InputNode     string   `yaml:"inputNode" json:"inputNode"`
	HighHighLimit *float64 `yaml:"highHighLimit" json:"highHighLimit"`
	HighLimit     *float64 `yaml:"highLimit" json:"highLimit"`
	LowLimit      *float64 `yaml:"lowLimit" json:"lowLimit"`
	LowLowLimit   *float64 `yaml:"lowLowLimit" json:"lowLowLimit"`
	Hysteresis    float64  `yaml:"hysteresis" json:"hysteresis"`
	Message       string   `yaml:"message" json:"message"`
}

type typesDocument struct {
	NamespaceURI     string                     `yaml:"namespaceUri" json:"namespaceUri"`
	EngineeringUnits map[string]EngineeringUnit `yaml:"engineeringUnits" json:"engineeringUnits"`
	DataTypes        map[string]DataTypeDef     `yaml:"dataTypes" json:"dataTypes"`
	AlarmTypes       map[string]alarmTypeDoc    `yaml:"alarmTypes" json:"alarmTypes"`
	Types            map[string]typeDoc         `yaml:"types" json:"types"`
}

type assetDoc struct {
	ID             string                 `json:"id" yaml:"id"`
	Name           string                 `json:"name" yaml:"name"`
	DisplayName    string                 `json:"displayName" yaml:"displayName"`
	Type           string                 `json:"type" yaml:"type"`
	Parent         string                 `json:"parent" yaml:"parent"`
	Description    string                 `json:"description" yaml:"description"`
	HierarchyLevel string                 `json:"hierarchyLevel" yaml:"hierarchyLevel"`
	Simulate       bool                   `json:"simulate" yaml:"simulate"`
	Properties     map[string]interface{} `json:"properties" yaml:"properties"`
	DesignSpecs    map[string]float64     `json:"designSpecs" yaml:"designSpecs"`
	Alarms         []string               `json:"alarms" yaml:"alarms"`
}

type assetsDocument struct {
	Assets []assetDoc `json:"assets" yaml:"assets"`
}

// assetDocumentSchema structurally validates the asset document before
// parsing so malformed catalogs fail at bootstrap with a usable message.
const assetDocumentSchema = `{
  "type": "object",
  "required": ["assets"],
  "properties": {
    "assets": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "type", "parent"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "parent": {"type": "string", "minLength": 1},
          "hierarchyLevel": {"enum": ["Plant", "Process", "System", "Asset", "Other", ""]},
          "simulate": {"type": "boolean"},
          "designSpecs": {"type": "object"},
          "alarms": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var knownKinds = map[ComponentKind]bool{
	KindProperty:         true,
	KindObject:           true,
	KindAnalogItem:       true,
	KindTwoStateDiscrete: true,
	KindDataItem:         true,
	KindMethod:           true,
}

var builtinDataTypes = map[DataType]bool{
	TypeDouble: true, TypeFloat: true,
	TypeInt32: true, TypeInt16: true,
	TypeUInt32: true, TypeUInt16: true,
	TypeBoolean: true, TypeDateTime: true, TypeString: true,
}

// LoadTypesFile reads and parses the YAML type catalog.
func LoadTypesFile(path string) (*TypeCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read type catalog: %w", err)
	}
	cat, err := ParseTypesYAML(data)
	if err != nil {
		return nil, fmt.Errorf("type catalog %s: %w", path, err)
	}
	return cat, nil
}

// ParseTypesYAML parses a type catalog from its YAML document form.
func ParseTypesYAML(data []byte) (*TypeCatalog, error) {
	var doc typesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode type document: %w", err)
	}
	return parseTypes(&doc)
}

// ParseAssetsJSON parses an asset catalog from its JSON document form.
func ParseAssetsJSON(data []byte) (*AssetCatalog, error) {
	var doc assetsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode asset document: %w", err)
	}
	return parseAssets(&doc)
}

// LoadAssetsFile reads, validates, and parses the JSON asset catalog.
func LoadAssetsFile(path string) (*AssetCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset catalog: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(assetDocumentSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate asset catalog %s: %w", path, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("asset catalog %s is invalid: %v", path, result.Errors())
	}

	cat, err := ParseAssetsJSON(data)
	if err != nil {
		return nil, fmt.Errorf("asset catalog %s: %w", path, err)
	}
	return cat, nil
}

// parseTypes converts a decoded type document into a validated catalog.
func parseTypes(doc *typesDocument) (*TypeCatalog, error) {
	cat := &TypeCatalog{
		NamespaceURI:     doc.NamespaceURI,
		EngineeringUnits: doc.EngineeringUnits,
		DataTypes:        doc.DataTypes,
		AlarmTypes:       make(map[string]AlarmDef, len(doc.AlarmTypes)),
		Types:            make(map[string]*TypeDef, len(doc.Types)),
	}
	if cat.NamespaceURI == "" {
		cat.NamespaceURI = "http://opcua.example.org"
	}
	if cat.EngineeringUnits == nil {
		cat.EngineeringUnits = map[string]EngineeringUnit{}
	}
	if cat.DataTypes == nil {
		cat.DataTypes = map[string]DataTypeDef{}
	}

	for name, ad := range doc.AlarmTypes {
		alarmType := ad.Type
		if alarmType == "" {
			alarmType = "LimitAlarmType"
		}
		severity := ad.Severity
		if severity == 0 {
			severity = 500
		}
		cat.AlarmTypes[name] = AlarmDef{
			Name:          name,
			AlarmType:     alarmType,
			Description:   ad.Description,
			Severity:      severity,
			InputNode:     ad.InputNode,
			HighHighLimit: ad.HighHighLimit,
			HighLimit:     ad.HighLimit,
			LowLimit:      ad.LowLimit,
			LowLowLimit:   ad.LowLowLimit,
			Hysteresis:    ad.Hysteresis,
			Message:       ad.Message,
		}
	}

	for name, td := range doc.Types {
		parsed, err := parseType(name, td, cat)
		if err != nil {
			return nil, err
		}
		cat.Types[name] = parsed
	}

	// Bases must resolve to a declared type or the universal base.
	for name, td := range cat.Types {
		if td.Base == BaseObjectType {
			continue
		}
		if _, ok := cat.Types[td.Base]; !ok {
			return nil, fmt.Errorf("type %s references unknown base %s", name, td.Base)
		}
	}

	return cat, nil
}

func parseType(name string, doc typeDoc, cat *TypeCatalog) (*TypeDef, error) {
	td := &TypeDef{
		Name:        name,
		Base:        doc.Base,
		IsAbstract:  doc.IsAbstract,
		Description: doc.Description,
		Properties:  make(map[string]*ComponentDef, len(doc.Properties)),
		Components:  make(map[string]*ComponentDef, len(doc.Components)),
		Methods:     make(map[string]*ComponentDef, len(doc.Methods)),
	}
	if td.Base == "" {
		td.Base = BaseObjectType
	}

	for compName, compDoc := range doc.Properties {
		comp, err := parseComponent(compName, compDoc, cat)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", name, err)
		}
		td.Properties[compName] = comp
	}
	for compName, compDoc := range doc.Components {
		comp, err := parseComponent(compName, compDoc, cat)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", name, err)
		}
		td.Components[compName] = comp
	}
	for methodName, methodDoc := range doc.Methods {
		methodDoc.Type = string(KindMethod)
		comp, err := parseComponent(methodName, methodDoc, cat)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", name, err)
		}
		td.Methods[methodName] = comp
	}
	return td, nil
}

func parseComponent(name string, doc componentDoc, cat *TypeCatalog) (*ComponentDef, error) {
	kind := ComponentKind(doc.Type)
	if kind == "" {
		kind = KindProperty
	}
	if !knownKinds[kind] {
		return nil, fmt.Errorf("component %s has unknown kind %q", name, doc.Type)
	}

	dataType := DataType(doc.DataType)
	if dataType != "" && !builtinDataTypes[dataType] {
		if _, ok := cat.DataTypes[string(dataType)]; !ok {
			return nil, fmt.Errorf("component %s references unknown data type %q", name, doc.DataType)
		}
	}

	if doc.EngineeringUnits != "" {
		if _, ok := cat.EngineeringUnits[doc.EngineeringUnits]; !ok {
			return nil, fmt.Errorf("component %s references unknown engineering unit %q", name, doc.EngineeringUnits)
		}
	}

	comp := &ComponentDef{
		Name:             name,
		Kind:             kind,
		DataType:         dataType,
		ModellingRule:    doc.ModellingRule,
		Description:      doc.Description,
		AccessLevel:      doc.AccessLevel,
		EngineeringUnits: doc.EngineeringUnits,
		EURange:          doc.EURange,
		InstrumentRange:  doc.InstrumentRange,
		TrueState:        doc.TrueState,
		FalseState:       doc.FalseState,
		Value:            doc.Value,
		Components:       make(map[string]*ComponentDef, len(doc.Components)),
		InputArguments:   doc.InputArguments,
		OutputArguments:  doc.OutputArguments,
	}
	if comp.ModellingRule == "" {
		comp.ModellingRule = RuleMandatory
	}
	if comp.AccessLevel == "" {
		comp.AccessLevel = AccessRead
	}

	for nestedName, nestedDoc := range doc.Components {
		nested, err := parseComponent(nestedName, nestedDoc, cat)
		if err != nil {
			return nil, err
		}
		comp.Components[nestedName] = nested
	}
	return comp, nil
}

func parseAssets(doc *assetsDocument) (*AssetCatalog, error) {
	cat := &AssetCatalog{Assets: make([]AssetDef, 0, len(doc.Assets))}
	seen := make(map[string]bool, len(doc.Assets))

	for _, a := range doc.Assets {
		if seen[a.ID] {
			return nil, fmt.Errorf("duplicate asset id %s", a.ID)
		}
		seen[a.ID] = true

		displayName := a.DisplayName
		if displayName == "" {
			displayName = a.Name
		}
		cat.Assets = append(cat.Assets, AssetDef{
			ID:             a.ID,
			Name:           a.Name,
			DisplayName:    displayName,
			Type:           a.Type,
			Parent:         a.Parent,
			Description:    a.Description,
			HierarchyLevel: a.HierarchyLevel,
			Simulate:       a.Simulate,
			Properties:     a.Properties,
			DesignSpecs:    a.DesignSpecs,
			Alarms:         a.Alarms,
		})
	}
	return cat, nil
}
