package model

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ps-ux/ipsim/internal/schema"
)

// NodeClass identifies the structural class of a node in the address space.
type NodeClass string

const (
	ClassObject     NodeClass = "Object"
	ClassFolder     NodeClass = "Folder"
	ClassObjectType NodeClass = "ObjectType"
	ClassVariable   NodeClass = "Variable"
	ClassMethod     NodeClass = "Method"
)

// VariableRole refines ClassVariable with its meta-model shape.
type VariableRole string

const (
	RoleNone             VariableRole = ""
	RoleProperty         VariableRole = "Property"
	RoleAnalogItem       VariableRole = "AnalogItem"
	RoleTwoStateDiscrete VariableRole = "TwoStateDiscrete"
	RoleDataItem         VariableRole = "DataItem"
)

// DataValue is a timestamped value as written into a variable node.
type DataValue struct {
	Value           interface{}
	DataType        schema.DataType
	SourceTimestamp time.Time
	ServerTimestamp time.Time
}

// WriteObserver receives committed variable writes. Observers run on the
// writer's goroutine and must not block.
type WriteObserver func(node *Node, value DataValue)

// Node is one node in the address space. Every node is owned by its
// parent; parent and children references are navigational only.
type Node struct {
	space *AddressSpace

	browseName  string
	displayName string
	description string
	class       NodeClass
	role        VariableRole

	dataType      schema.DataType
	modellingRule string
	writable      bool

	units           *schema.EngineeringUnit
	euRange         *schema.Range
	instrumentRange *schema.Range
	trueState       string
	falseState      string

	typeDefinition string
	inputArgs      []schema.Argument
	outputArgs     []schema.Argument

	mu    sync.RWMutex
	value DataValue

	parent   *Node
	children map[string]*Node
	order    []string
}

// AddressSpace is the node graph rooted at the well-known Objects folder.
// Types live beside the instance tree and are created once at bootstrap.
type AddressSpace struct {
	namespaceURI   string
	namespaceIndex uint16

	objects *Node

	mu        sync.RWMutex
	types     map[string]*Node
	observers []WriteObserver
}

// NewAddressSpace creates an empty address space for the given namespace.
func NewAddressSpace(namespaceURI string) *AddressSpace {
	space := &AddressSpace{
		namespaceURI:   namespaceURI,
		namespaceIndex: 1,
		types:          make(map[string]*Node),
	}
	space.objects = &Node{
		space:       space,
		browseName:  "Objects",
		displayName: "Objects",
		class:       ClassFolder,
		children:    make(map[string]*Node),
	}
	return space
}

// NamespaceURI returns the namespace this space was built for.
func (s *AddressSpace) NamespaceURI() string { return s.namespaceURI }

// NamespaceIndex returns the namespace index used in browse paths.
func (s *AddressSpace) NamespaceIndex() uint16 { return s.namespaceIndex }

// Objects returns the root Objects folder.
func (s *AddressSpace) Objects() *Node { return s.objects }

// ObjectType returns the named ObjectType node, if built.
func (s *AddressSpace) ObjectType(name string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.types[name]
	return n, ok
}

// ObjectTypes returns all ObjectType nodes by name.
func (s *AddressSpace) ObjectTypes() map[string]*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Node, len(s.types))
	for k, v := range s.types {
		out[k] = v
	}
	return out
}

// Subscribe registers a write observer. Intended for bootstrap wiring;
// not safe to call once the simulation is ticking.
func (s *AddressSpace) Subscribe(obs WriteObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

func (s *AddressSpace) notify(n *Node, dv DataValue) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, obs := range observers {
		obs(n, dv)
	}
}

func (s *AddressSpace) addObjectType(name string, base *Node, description string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.types[name]; exists {
		return nil, fmt.Errorf("object type %s already exists", name)
	}
	n := &Node{
		space:       s,
		browseName:  name,
		displayName: name,
		description: description,
		class:       ClassObjectType,
		parent:      base,
		children:    make(map[string]*Node),
	}
	s.types[name] = n
	return n, nil
}

// BrowseName returns the node's browse name.
func (n *Node) BrowseName() string { return n.browseName }

// DisplayName returns the node's display name.
func (n *Node) DisplayName() string { return n.displayName }

// Description returns the node's description.
func (n *Node) Description() string { return n.description }

// Class returns the node's structural class.
func (n *Node) Class() NodeClass { return n.class }

// Role returns the variable role for ClassVariable nodes.
func (n *Node) Role() VariableRole { return n.role }

// DataType returns the declared data type for variable nodes.
func (n *Node) DataType() schema.DataType { return n.dataType }

// Writable reports whether clients may write the variable.
func (n *Node) Writable() bool { return n.writable }

// Units returns the engineering unit, if any.
func (n *Node) Units() *schema.EngineeringUnit { return n.units }

// EURange returns the engineering-unit range, if any.
func (n *Node) EURange() *schema.Range { return n.euRange }

// InstrumentRange returns the instrument range, if any.
func (n *Node) InstrumentRange() *schema.Range { return n.instrumentRange }

// States returns the TrueState and FalseState labels of a
// TwoStateDiscrete variable.
func (n *Node) States() (trueState, falseState string) {
	return n.trueState, n.falseState
}

// TypeDefinition returns the ObjectType name an instance was created from.
func (n *Node) TypeDefinition() string { return n.typeDefinition }

// Arguments returns the ordered method argument descriptors.
func (n *Node) Arguments() (in, out []schema.Argument) {
	return n.inputArgs, n.outputArgs
}

// Parent returns the owning node, nil for the Objects folder root.
func (n *Node) Parent() *Node { return n.parent }

// Child returns a direct child by browse name.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.children[name]
	return c, ok
}

// Children returns direct children in creation order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, n.children[name])
	}
	return out
}

// Find walks a slash-separated relative browse path from this node.
func (n *Node) Find(path string) (*Node, bool) {
	current := n
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		next, ok := current.children[part]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// BrowsePath returns the namespace-scoped browse path from the Objects
// folder, e.g. "1:Plant/1:IPS_PMP_001/1:FlowRate".
func (n *Node) BrowsePath() string {
	if n.parent == nil || n.class == ClassObjectType {
		return n.browseName
	}
	var parts []string
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		parts = append(parts, fmt.Sprintf("%d:%s", cur.space.namespaceIndex, cur.browseName))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Value returns the last committed value of a variable node.
func (n *Node) Value() DataValue {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.value
}

// WriteValue commits a value with the given source timestamp. Numeric
// values are clamped into the node's EURange when one is declared; the
// variant type follows the value shape (bool, integer, float). The
// committed write is fanned out to registered observers.
func (n *Node) WriteValue(value interface{}, ts time.Time) error {
	if n.class != ClassVariable {
		return fmt.Errorf("node %s is not a variable", n.BrowsePath())
	}

	dataType := variantTypeOf(value)
	if f, ok := asFloat(value); ok {
		if n.euRange != nil {
			if f < n.euRange.Low {
				f = n.euRange.Low
			}
			if f > n.euRange.High {
				f = n.euRange.High
			}
		}
		if dataType == schema.TypeUInt32 {
			value = uint32(f)
		} else {
			value = f
		}
	}

	dv := DataValue{
		Value:           value,
		DataType:        dataType,
		SourceTimestamp: ts,
		ServerTimestamp: ts,
	}
	n.mu.Lock()
	n.value = dv
	n.mu.Unlock()

	n.space.notify(n, dv)
	return nil
}

func (n *Node) addChild(child *Node) (*Node, error) {
	if existing, ok := n.children[child.browseName]; ok {
		return existing, nil
	}
	child.parent = n
	child.space = n.space
	if child.children == nil {
		child.children = make(map[string]*Node)
	}
	n.children[child.browseName] = child
	n.order = append(n.order, child.browseName)
	return child, nil
}

// variantTypeOf maps a Go value onto the wire variant rule: bool maps to
// Boolean, integers to UInt32, everything else numeric to Double.
func variantTypeOf(value interface{}) schema.DataType {
	switch value.(type) {
	case bool:
		return schema.TypeBoolean
	case int, int32, int64, uint, uint32, uint64:
		return schema.TypeUInt32
	case string:
		return schema.TypeString
	case time.Time:
		return schema.TypeDateTime
	default:
		return schema.TypeDouble
	}
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}
