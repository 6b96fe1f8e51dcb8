package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ps-ux/ipsim/internal/schema"
)

// preferredTypeOrder keeps the build log deterministic: the well-known
// hierarchy heads build first, remaining types follow topologically.
var preferredTypeOrder = []string{
	"AssetType", "PumpType", "InfluentPumpType", "ChamberType", "SimulationConfigType",
}

// Target describes one simulated asset handed to the simulation kernel.
type Target struct {
	ID          string
	Name        string
	Type        string
	Node        *Node
	DesignSpecs map[string]float64
	Alarms      []string
}

// Result is the builder output: the populated address space, the asset
// id to root node map, and the simulation target list.
type Result struct {
	Space   *AddressSpace
	Nodes   map[string]*Node
	Targets []Target
}

// Builder materializes the declarative type and asset catalogs as an
// address-space node graph.
type Builder struct {
	types  *schema.TypeCatalog
	assets *schema.AssetCatalog
	logger *logrus.Logger

	space *AddressSpace
	built map[string]bool
}

// NewBuilder creates a builder over the two catalogs.
func NewBuilder(types *schema.TypeCatalog, assets *schema.AssetCatalog, logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Builder{
		types:  types,
		assets: assets,
		logger: logger,
		built:  make(map[string]bool),
	}
}

// Build constructs all ObjectTypes and asset instances. Any catalog
// inconsistency (cyclic base, unresolved parent, unknown type) is fatal.
func (b *Builder) Build() (*Result, error) {
	b.space = NewAddressSpace(b.types.NamespaceURI)

	if err := b.buildTypes(); err != nil {
		return nil, err
	}

	nodes, targets, err := b.buildAssets()
	if err != nil {
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"types":   len(b.space.ObjectTypes()),
		"assets":  len(nodes) - 1,
		"targets": len(targets),
	}).Info("Information model built")

	return &Result{Space: b.space, Nodes: nodes, Targets: targets}, nil
}

func (b *Builder) buildTypes() error {
	order := make([]string, 0, len(b.types.Types))
	seen := make(map[string]bool, len(b.types.Types))
	for _, name := range preferredTypeOrder {
		if _, ok := b.types.Types[name]; ok && !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(b.types.Types))
	for name := range b.types.Types {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)

	building := make(map[string]bool)
	for _, name := range order {
		if err := b.buildType(name, building); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) buildType(name string, building map[string]bool) error {
	if b.built[name] {
		return nil
	}
	if building[name] {
		return fmt.Errorf("type inheritance cycle through %s", name)
	}
	building[name] = true
	defer delete(building, name)

	def, ok := b.types.Types[name]
	if !ok {
		return fmt.Errorf("unknown type %s", name)
	}

	var base *Node
	if def.Base != schema.BaseObjectType {
		if err := b.buildType(def.Base, building); err != nil {
			return err
		}
		base, _ = b.space.ObjectType(def.Base)
	}

	typeNode, err := b.space.addObjectType(name, base, def.Description)
	if err != nil {
		return err
	}
	b.built[name] = true
	b.logger.WithField("type", name).Debug("Created ObjectType")

	for _, compName := range sortedComponentNames(def.Properties) {
		if _, err := b.attachComponent(typeNode, def.Properties[compName]); err != nil {
			return fmt.Errorf("type %s: %w", name, err)
		}
	}
	for _, compName := range sortedComponentNames(def.Components) {
		if _, err := b.attachComponent(typeNode, def.Components[compName]); err != nil {
			return fmt.Errorf("type %s: %w", name, err)
		}
	}
	for _, methodName := range sortedComponentNames(def.Methods) {
		if _, err := b.attachComponent(typeNode, def.Methods[methodName]); err != nil {
			return fmt.Errorf("type %s: %w", name, err)
		}
	}
	return nil
}

// attachComponent shapes a node from a component definition and attaches
// it under parent. Creation is idempotent: an existing child of the same
// browse name is reused, recursing only into nested components.
func (b *Builder) attachComponent(parent *Node, def *schema.ComponentDef) (*Node, error) {
	if existing, ok := parent.Child(def.Name); ok {
		if def.Kind == schema.KindObject {
			for _, nestedName := range sortedComponentNames(def.Components) {
				if _, err := b.attachComponent(existing, def.Components[nestedName]); err != nil {
					return nil, err
				}
			}
		}
		return existing, nil
	}

	node := &Node{
		browseName:    def.Name,
		displayName:   def.Name,
		description:   def.Description,
		dataType:      def.DataType,
		modellingRule: def.ModellingRule,
		writable:      def.AccessLevel == schema.AccessReadWrite,
	}

	switch def.Kind {
	case schema.KindProperty:
		node.class = ClassVariable
		node.role = RoleProperty

	case schema.KindObject:
		node.class = ClassObject

	case schema.KindAnalogItem, schema.KindDataItem:
		node.class = ClassVariable
		node.role = RoleAnalogItem
		if def.Kind == schema.KindDataItem {
			node.role = RoleDataItem
		}
		node.euRange = def.EURange
		node.instrumentRange = def.InstrumentRange
		if def.EngineeringUnits != "" {
			if eu, ok := b.types.Unit(def.EngineeringUnits); ok {
				node.units = &eu
			} else {
				return nil, fmt.Errorf("component %s references unknown unit %s", def.Name, def.EngineeringUnits)
			}
		}

	case schema.KindTwoStateDiscrete:
		node.class = ClassVariable
		node.role = RoleTwoStateDiscrete
		node.dataType = schema.TypeBoolean
		node.trueState = def.TrueState
		node.falseState = def.FalseState

	case schema.KindMethod:
		node.class = ClassMethod
		node.inputArgs = def.InputArguments
		node.outputArgs = def.OutputArguments

	default:
		return nil, fmt.Errorf("component %s has unknown kind %s", def.Name, def.Kind)
	}

	attached, err := parent.addChild(node)
	if err != nil {
		return nil, err
	}

	if node.class == ClassVariable {
		initial := def.Value
		if initial == nil {
			initial = defaultValue(def.Kind, def.DataType)
		}
		attached.mu.Lock()
		attached.value = DataValue{Value: initial, DataType: node.dataType}
		attached.mu.Unlock()
	}

	if def.Kind == schema.KindObject {
		for _, nestedName := range sortedComponentNames(def.Components) {
			if _, err := b.attachComponent(attached, def.Components[nestedName]); err != nil {
				return nil, err
			}
		}
	}
	return attached, nil
}

func (b *Builder) buildAssets() (map[string]*Node, []Target, error) {
	nodes := map[string]*Node{schema.ObjectsFolderID: b.space.Objects()}
	var targets []Target

	pending := make([]schema.AssetDef, len(b.assets.Assets))
	copy(pending, b.assets.Assets)

	passes := 0
	for len(pending) > 0 {
		passes++
		var remaining []schema.AssetDef
		progress := false

		for _, asset := range pending {
			parent, ok := nodes[asset.Parent]
			if !ok {
				remaining = append(remaining, asset)
				continue
			}
			node, target, err := b.buildAsset(parent, asset)
			if err != nil {
				return nil, nil, err
			}
			nodes[asset.ID] = node
			if target != nil {
				targets = append(targets, *target)
			}
			progress = true
		}

		if !progress {
			missing := make(map[string]bool)
			for _, asset := range remaining {
				missing[asset.Parent] = true
			}
			parents := make([]string, 0, len(missing))
			for p := range missing {
				parents = append(parents, p)
			}
			sort.Strings(parents)
			return nil, nil, fmt.Errorf("unresolved asset parents: %v", parents)
		}
		pending = remaining
	}

	b.logger.WithFields(logrus.Fields{
		"assets": len(nodes) - 1,
		"passes": passes,
	}).Debug("Asset instances built")

	return nodes, targets, nil
}

func (b *Builder) buildAsset(parent *Node, asset schema.AssetDef) (*Node, *Target, error) {
	if asset.Type == schema.FolderType {
		folder, err := parent.addChild(&Node{
			browseName:  asset.Name,
			displayName: asset.DisplayName,
			description: asset.Description,
			class:       ClassFolder,
		})
		if err != nil {
			return nil, nil, err
		}
		return folder, nil, nil
	}

	typeDef, ok := b.types.Type(asset.Type)
	if !ok {
		return nil, nil, fmt.Errorf("asset %s references unknown type %s", asset.ID, asset.Type)
	}

	node, err := parent.addChild(&Node{
		browseName:     asset.Name,
		displayName:    asset.DisplayName,
		description:    asset.Description,
		class:          ClassObject,
		typeDefinition: asset.Type,
	})
	if err != nil {
		return nil, nil, err
	}

	// The underlying server is not required to materialize inherited
	// members, so the composed member set is built explicitly.
	properties, components, methods, err := b.composeMembers(typeDef)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range sortedComponentNames(properties) {
		if _, err := b.attachComponent(node, properties[name]); err != nil {
			return nil, nil, err
		}
	}
	for _, name := range sortedComponentNames(components) {
		if _, err := b.attachComponent(node, components[name]); err != nil {
			return nil, nil, err
		}
	}
	for _, name := range sortedComponentNames(methods) {
		if _, err := b.attachComponent(node, methods[name]); err != nil {
			return nil, nil, err
		}
	}

	if err := b.applyProperties(node, asset); err != nil {
		return nil, nil, err
	}
	if err := b.applyDesignSpecs(node, asset); err != nil {
		return nil, nil, err
	}

	if !asset.Simulate {
		return node, nil, nil
	}

	if b.typeInherits(asset.Type, "PumpType") || b.typeInherits(asset.Type, "ChamberType") {
		return node, &Target{
			ID:          asset.ID,
			Name:        asset.Name,
			Type:        asset.Type,
			Node:        node,
			DesignSpecs: asset.DesignSpecs,
			Alarms:      asset.Alarms,
		}, nil
	}

	b.logger.WithFields(logrus.Fields{
		"asset": asset.ID,
		"type":  asset.Type,
	}).Info("Asset marked simulate but type is not simulatable, skipping")
	return node, nil, nil
}

// composeMembers merges properties, components, and methods along the
// inheritance chain in root-to-leaf order, descendants overriding.
func (b *Builder) composeMembers(leaf *schema.TypeDef) (properties, components, methods map[string]*schema.ComponentDef, err error) {
	var chain []*schema.TypeDef
	visited := make(map[string]bool)
	for cur := leaf; cur != nil; {
		if visited[cur.Name] {
			return nil, nil, nil, fmt.Errorf("type inheritance cycle through %s", cur.Name)
		}
		visited[cur.Name] = true
		chain = append(chain, cur)
		if cur.Base == schema.BaseObjectType {
			break
		}
		next, ok := b.types.Type(cur.Base)
		if !ok {
			return nil, nil, nil, fmt.Errorf("type %s references unknown base %s", cur.Name, cur.Base)
		}
		cur = next
	}

	properties = make(map[string]*schema.ComponentDef)
	components = make(map[string]*schema.ComponentDef)
	methods = make(map[string]*schema.ComponentDef)
	for i := len(chain) - 1; i >= 0; i-- {
		for name, def := range chain[i].Properties {
			properties[name] = def
		}
		for name, def := range chain[i].Components {
			components[name] = def
		}
		for name, def := range chain[i].Methods {
			methods[name] = def
		}
	}
	return properties, components, methods, nil
}

func (b *Builder) applyProperties(node *Node, asset schema.AssetDef) error {
	now := time.Now().UTC()
	for name, value := range asset.Properties {
		child, ok := node.Child(name)
		if !ok || child.Class() != ClassVariable {
			b.logger.WithFields(logrus.Fields{
				"asset":    asset.ID,
				"property": name,
			}).Debug("Property override has no matching node")
			continue
		}
		if err := child.WriteValue(value, now); err != nil {
			return fmt.Errorf("asset %s property %s: %w", asset.ID, name, err)
		}
	}
	return nil
}

func (b *Builder) applyDesignSpecs(node *Node, asset schema.AssetDef) error {
	if len(asset.DesignSpecs) == 0 {
		return nil
	}
	specs, ok := node.Child("DesignSpecs")
	if !ok {
		b.logger.WithField("asset", asset.ID).Debug("DesignSpecs child not present")
		return nil
	}
	now := time.Now().UTC()
	for name, value := range asset.DesignSpecs {
		child, ok := specs.Child(name)
		if !ok {
			b.logger.WithFields(logrus.Fields{
				"asset": asset.ID,
				"spec":  name,
			}).Debug("Design spec has no matching node")
			continue
		}
		var v interface{} = value
		if child.DataType() == schema.TypeUInt32 || child.DataType() == schema.TypeUInt16 ||
			child.DataType() == schema.TypeInt32 || child.DataType() == schema.TypeInt16 {
			v = uint32(value)
		}
		if err := child.WriteValue(v, now); err != nil {
			return fmt.Errorf("asset %s design spec %s: %w", asset.ID, name, err)
		}
	}
	return nil
}

func (b *Builder) typeInherits(typeName, ancestor string) bool {
	for cur := typeName; cur != "" && cur != schema.BaseObjectType; {
		if cur == ancestor {
			return true
		}
		def, ok := b.types.Type(cur)
		if !ok {
			return false
		}
		cur = def.Base
	}
	return false
}

func defaultValue(kind schema.ComponentKind, dataType schema.DataType) interface{} {
	if kind == schema.KindTwoStateDiscrete {
		return false
	}
	switch dataType {
	case schema.TypeBoolean:
		return false
	case schema.TypeString:
		return ""
	case schema.TypeDateTime:
		return time.Time{}
	case schema.TypeInt32, schema.TypeInt16, schema.TypeUInt32, schema.TypeUInt16:
		return uint32(0)
	default:
		return 0.0
	}
}

func sortedComponentNames(defs map[string]*schema.ComponentDef) []string {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
