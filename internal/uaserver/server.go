// Package uaserver exposes the model address space over an OPC-UA TCP
// endpoint: browsing, reads, data-change subscriptions, and the bound
// control methods.
package uaserver

import (
	"context"
	"fmt"
	"time"

	"github.com/awcullen/opcua/server"
	"github.com/awcullen/opcua/ua"
	"github.com/sirupsen/logrus"

	"github.com/ps-ux/ipsim/internal/methods"
	"github.com/ps-ux/ipsim/internal/model"
	"github.com/ps-ux/ipsim/internal/schema"
)

// Config holds the endpoint settings.
type Config struct {
	Host     string
	Port     int
	CertFile string
	KeyFile  string
}

// EndpointURL returns the endpoint in the published URL shape.
func (c Config) EndpointURL() string {
	return fmt.Sprintf("opc.tcp://%s:%d/freeopcua/server/", c.Host, c.Port)
}

// Server adapts the model address space onto an embedded OPC-UA server.
// Variable reads pull the last committed model value, so monitored
// items observe every tick's writes; client writes to writable
// variables are forwarded into the model.
type Server struct {
	cfg    Config
	logger *logrus.Logger

	space  *model.AddressSpace
	binder *methods.Binder

	srv     *server.Server
	nsIndex uint16
}

// New builds the OPC-UA server and mirrors the address space into it.
func New(cfg Config, space *model.AddressSpace, binder *methods.Binder, logger *logrus.Logger) (*Server, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		space:  space,
		binder: binder,
	}

	if err := ensureCertificate(cfg.CertFile, cfg.KeyFile, "IPSim OPC-UA Server"); err != nil {
		return nil, fmt.Errorf("failed to prepare server certificate: %w", err)
	}

	endpointURL := cfg.EndpointURL()
	srv, err := server.New(
		ua.ApplicationDescription{
			ApplicationURI:  "urn:ipsim:pump-simulation-server",
			ProductURI:      "https://github.com/ps-ux/ipsim",
			ApplicationName: ua.LocalizedText{Text: "Pump Simulation Server", Locale: "en"},
			ApplicationType: ua.ApplicationTypeServer,
			DiscoveryURLs:   []string{endpointURL},
		},
		cfg.CertFile,
		cfg.KeyFile,
		endpointURL,
		server.WithAnonymousIdentity(true),
		server.WithSecurityPolicyNone(true),
		server.WithInsecureSkipVerify(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OPC-UA server: %w", err)
	}
	s.srv = srv

	nm := srv.NamespaceManager()
	s.nsIndex = nm.Add(space.NamespaceURI())

	if err := s.mirrorTypes(); err != nil {
		return nil, err
	}
	if err := s.mirrorInstances(); err != nil {
		return nil, err
	}
	s.bindMethods()

	logger.WithFields(logrus.Fields{
		"endpoint":  endpointURL,
		"namespace": space.NamespaceURI(),
	}).Info("OPC-UA server initialized")
	return s, nil
}

// EndpointURL returns the served endpoint URL.
func (s *Server) EndpointURL() string { return s.cfg.EndpointURL() }

// ListenAndServe serves the endpoint until Close is called.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Close shuts the endpoint down.
func (s *Server) Close() error {
	return s.srv.Close()
}

func (s *Server) nodeID(n *model.Node) ua.NodeID {
	if n.Class() == model.ClassObjectType {
		return ua.NewNodeIDString(s.nsIndex, "types/"+n.BrowseName())
	}
	return ua.NewNodeIDString(s.nsIndex, n.BrowsePath())
}

func (s *Server) mirrorTypes() error {
	nm := s.srv.NamespaceManager()
	for name, typeNode := range s.space.ObjectTypes() {
		baseID := ua.ExpandedNodeID{NodeID: ua.ObjectTypeIDBaseObjectType}
		if base := typeNode.Parent(); base != nil {
			baseID = ua.ExpandedNodeID{NodeID: s.nodeID(base)}
		}
		node := server.NewObjectTypeNode(
			s.nodeID(typeNode),
			ua.NewQualifiedName(s.nsIndex, name),
			ua.NewLocalizedText(name, ""),
			ua.NewLocalizedText(typeNode.Description(), ""),
			nil,
			[]ua.Reference{
				{ReferenceTypeID: ua.ReferenceTypeIDHasSubtype, IsInverse: true, TargetID: baseID},
			},
			false,
		)
		if err := nm.AddNode(node); err != nil {
			return fmt.Errorf("failed to add object type %s: %w", name, err)
		}
		if err := s.mirrorChildren(typeNode); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) mirrorInstances() error {
	return s.mirrorChildren(s.space.Objects())
}

func (s *Server) mirrorChildren(parent *model.Node) error {
	for _, child := range parent.Children() {
		if err := s.mirrorNode(parent, child); err != nil {
			return err
		}
		if err := s.mirrorChildren(child); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) parentID(parent *model.Node) ua.ExpandedNodeID {
	if parent == s.space.Objects() {
		return ua.ExpandedNodeID{NodeID: ua.ObjectIDObjectsFolder}
	}
	return ua.ExpandedNodeID{NodeID: s.nodeID(parent)}
}

func (s *Server) mirrorNode(parent, n *model.Node) error {
	nm := s.srv.NamespaceManager()
	parentRef := ua.Reference{
		ReferenceTypeID: ua.ReferenceTypeIDHasComponent,
		IsInverse:       true,
		TargetID:        s.parentID(parent),
	}
	if parent == s.space.Objects() || parent.Class() == model.ClassFolder {
		parentRef.ReferenceTypeID = ua.ReferenceTypeIDOrganizes
	}

	switch n.Class() {
	case model.ClassFolder:
		node := server.NewObjectNode(
			s.nodeID(n),
			ua.NewQualifiedName(s.nsIndex, n.BrowseName()),
			ua.NewLocalizedText(n.DisplayName(), ""),
			ua.NewLocalizedText(n.Description(), ""),
			nil,
			[]ua.Reference{
				parentRef,
				{ReferenceTypeID: ua.ReferenceTypeIDHasTypeDefinition, TargetID: ua.ExpandedNodeID{NodeID: ua.ObjectTypeIDFolderType}},
			},
			0,
		)
		if err := nm.AddNode(node); err != nil {
			return fmt.Errorf("failed to add folder %s: %w", n.BrowsePath(), err)
		}

	case model.ClassObject:
		typeDefID := ua.ExpandedNodeID{NodeID: ua.ObjectTypeIDBaseObjectType}
		if typeName := n.TypeDefinition(); typeName != "" {
			if typeNode, ok := s.space.ObjectType(typeName); ok {
				typeDefID = ua.ExpandedNodeID{NodeID: s.nodeID(typeNode)}
			}
		}
		node := server.NewObjectNode(
			s.nodeID(n),
			ua.NewQualifiedName(s.nsIndex, n.BrowseName()),
			ua.NewLocalizedText(n.DisplayName(), ""),
			ua.NewLocalizedText(n.Description(), ""),
			nil,
			[]ua.Reference{
				parentRef,
				{ReferenceTypeID: ua.ReferenceTypeIDHasTypeDefinition, TargetID: typeDefID},
			},
			0,
		)
		if err := nm.AddNode(node); err != nil {
			return fmt.Errorf("failed to add object %s: %w", n.BrowsePath(), err)
		}

	case model.ClassVariable:
		if err := s.mirrorVariable(parentRef, n); err != nil {
			return err
		}

	case model.ClassMethod:
		if err := s.mirrorMethod(parentRef, n); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) mirrorVariable(parentRef ua.Reference, n *model.Node) error {
	nm := s.srv.NamespaceManager()

	typeDef := ua.VariableTypeIDBaseDataVariableType
	refType := parentRef
	switch n.Role() {
	case model.RoleProperty:
		typeDef = ua.VariableTypeIDPropertyType
		refType.ReferenceTypeID = ua.ReferenceTypeIDHasProperty
	case model.RoleAnalogItem:
		typeDef = ua.VariableTypeIDAnalogItemType
	case model.RoleTwoStateDiscrete:
		typeDef = ua.VariableTypeIDTwoStateDiscreteType
	case model.RoleDataItem:
		typeDef = ua.VariableTypeIDDataItemType
	}

	accessLevel := ua.AccessLevelsCurrentRead
	if n.Writable() {
		accessLevel |= ua.AccessLevelsCurrentWrite
	}

	node := server.NewVariableNode(
		s.nodeID(n),
		ua.NewQualifiedName(s.nsIndex, n.BrowseName()),
		ua.NewLocalizedText(n.DisplayName(), ""),
		ua.NewLocalizedText(n.Description(), ""),
		nil,
		[]ua.Reference{
			refType,
			{ReferenceTypeID: ua.ReferenceTypeIDHasTypeDefinition, TargetID: ua.ExpandedNodeID{NodeID: typeDef}},
		},
		toDataValue(n.Value()),
		dataTypeID(n.DataType()),
		ua.ValueRankScalar,
		nil,
		accessLevel,
		250.0,
		false,
		nil,
	)

	modelNode := n
	node.SetReadValueHandler(func(ctx context.Context, req ua.ReadValueID) ua.DataValue {
		return toDataValue(modelNode.Value())
	})
	if n.Writable() {
		node.SetWriteValueHandler(func(ctx context.Context, req ua.WriteValue) (ua.DataValue, ua.StatusCode) {
			if err := modelNode.WriteValue(req.Value.Value, time.Now().UTC()); err != nil {
				s.logger.WithError(err).WithField("node", modelNode.BrowsePath()).Debug("Client write rejected")
				return ua.DataValue{}, ua.BadTypeMismatch
			}
			return ua.DataValue{}, ua.Good
		})
	}

	if err := nm.AddNode(node); err != nil {
		return fmt.Errorf("failed to add variable %s: %w", n.BrowsePath(), err)
	}

	return s.addVariableProperties(n)
}

// addVariableProperties attaches EURange, InstrumentRange,
// EngineeringUnits, TrueState, and FalseState property nodes.
func (s *Server) addVariableProperties(n *model.Node) error {
	nm := s.srv.NamespaceManager()
	ownerID := ua.ExpandedNodeID{NodeID: s.nodeID(n)}

	addProperty := func(name string, value interface{}, dataType ua.NodeID) error {
		node := server.NewVariableNode(
			ua.NewNodeIDString(s.nsIndex, n.BrowsePath()+"/"+name),
			ua.NewQualifiedName(0, name),
			ua.NewLocalizedText(name, ""),
			ua.NewLocalizedText("", ""),
			nil,
			[]ua.Reference{
				{ReferenceTypeID: ua.ReferenceTypeIDHasProperty, IsInverse: true, TargetID: ownerID},
				{ReferenceTypeID: ua.ReferenceTypeIDHasTypeDefinition, TargetID: ua.ExpandedNodeID{NodeID: ua.VariableTypeIDPropertyType}},
			},
			ua.NewDataValue(value, 0, time.Now().UTC(), 0, time.Now().UTC(), 0),
			dataType,
			ua.ValueRankScalar,
			nil,
			ua.AccessLevelsCurrentRead,
			250.0,
			false,
			nil,
		)
		if err := nm.AddNode(node); err != nil {
			return fmt.Errorf("failed to add %s property on %s: %w", name, n.BrowsePath(), err)
		}
		return nil
	}

	if r := n.EURange(); r != nil {
		if err := addProperty("EURange", ua.Range{Low: r.Low, High: r.High}, ua.DataTypeIDRange); err != nil {
			return err
		}
	}
	if r := n.InstrumentRange(); r != nil {
		if err := addProperty("InstrumentRange", ua.Range{Low: r.Low, High: r.High}, ua.DataTypeIDRange); err != nil {
			return err
		}
	}
	if eu := n.Units(); eu != nil {
		info := ua.EUInformation{
			NamespaceURI: "http://www.opcfoundation.org/UA/units/un/cefact",
			UnitID:       eu.UnitID,
			DisplayName:  ua.NewLocalizedText(eu.DisplayName, ""),
			Description:  ua.NewLocalizedText(eu.Description, ""),
		}
		if err := addProperty("EngineeringUnits", info, ua.DataTypeIDEUInformation); err != nil {
			return err
		}
	}
	if n.Role() == model.RoleTwoStateDiscrete {
		trueState, falseState := n.States()
		if trueState != "" {
			if err := addProperty("TrueState", ua.NewLocalizedText(trueState, ""), ua.DataTypeIDLocalizedText); err != nil {
				return err
			}
		}
		if falseState != "" {
			if err := addProperty("FalseState", ua.NewLocalizedText(falseState, ""), ua.DataTypeIDLocalizedText); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Server) mirrorMethod(parentRef ua.Reference, n *model.Node) error {
	nm := s.srv.NamespaceManager()

	node := server.NewMethodNode(
		s.nodeID(n),
		ua.NewQualifiedName(s.nsIndex, n.BrowseName()),
		ua.NewLocalizedText(n.DisplayName(), ""),
		ua.NewLocalizedText(n.Description(), ""),
		nil,
		[]ua.Reference{parentRef},
		true,
	)
	if err := nm.AddNode(node); err != nil {
		return fmt.Errorf("failed to add method %s: %w", n.BrowsePath(), err)
	}

	in, out := n.Arguments()
	if err := s.addArgumentsProperty(n, "InputArguments", in); err != nil {
		return err
	}
	if err := s.addArgumentsProperty(n, "OutputArguments", out); err != nil {
		return err
	}
	return nil
}

func (s *Server) addArgumentsProperty(n *model.Node, name string, args []schema.Argument) error {
	if len(args) == 0 {
		return nil
	}
	nm := s.srv.NamespaceManager()
	uaArgs := make([]ua.Argument, 0, len(args))
	for _, arg := range args {
		uaArgs = append(uaArgs, ua.Argument{
			Name:        arg.Name,
			DataType:    dataTypeID(arg.DataType),
			ValueRank:   ua.ValueRankScalar,
			Description: ua.NewLocalizedText(arg.Description, ""),
		})
	}
	node := server.NewVariableNode(
		ua.NewNodeIDString(s.nsIndex, n.BrowsePath()+"/"+name),
		ua.NewQualifiedName(0, name),
		ua.NewLocalizedText(name, ""),
		ua.NewLocalizedText("", ""),
		nil,
		[]ua.Reference{
			{ReferenceTypeID: ua.ReferenceTypeIDHasProperty, IsInverse: true, TargetID: ua.ExpandedNodeID{NodeID: s.nodeID(n)}},
			{ReferenceTypeID: ua.ReferenceTypeIDHasTypeDefinition, TargetID: ua.ExpandedNodeID{NodeID: ua.VariableTypeIDPropertyType}},
		},
		ua.NewDataValue(uaArgs, 0, time.Now().UTC(), 0, time.Now().UTC(), 0),
		ua.DataTypeIDArgument,
		1,
		nil,
		ua.AccessLevelsCurrentRead,
		250.0,
		false,
		nil,
	)
	if err := nm.AddNode(node); err != nil {
		return fmt.Errorf("failed to add %s on %s: %w", name, n.BrowsePath(), err)
	}
	return nil
}

// bindMethods attaches call handlers that dispatch through the binder.
func (s *Server) bindMethods() {
	nm := s.srv.NamespaceManager()
	for _, binding := range s.binder.Bindings() {
		methodNode := binding.Node
		ownerID := methodNode.Parent().BrowsePath()
		verb := binding.Verb
		_, declaredOut := methodNode.Arguments()
		outCount := len(declaredOut)

		node, ok := nm.FindNode(s.nodeID(methodNode))
		if !ok {
			s.logger.WithField("method", methodNode.BrowsePath()).Warn("Method node missing from server, not bound")
			continue
		}
		mn, ok := node.(*server.MethodNode)
		if !ok {
			continue
		}
		mn.SetCallMethodHandler(func(ctx context.Context, req ua.CallMethodRequest) ua.CallMethodResult {
			args := make([]interface{}, len(req.InputArguments))
			for i, a := range req.InputArguments {
				args[i] = a
			}
			result, bound := s.binder.Invoke(ownerID, verb, args)
			if !bound {
				return ua.CallMethodResult{StatusCode: ua.BadMethodInvalid}
			}
			outputs := []ua.Variant{result.OK, result.Message}
			if outCount < len(outputs) {
				outputs = outputs[:outCount]
			}
			return ua.CallMethodResult{StatusCode: ua.Good, OutputArguments: outputs}
		})
	}
}

func toDataValue(dv model.DataValue) ua.DataValue {
	ts := dv.SourceTimestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return ua.NewDataValue(dv.Value, 0, ts, 0, dv.ServerTimestamp, 0)
}

func dataTypeID(dt schema.DataType) ua.NodeID {
	switch dt {
	case schema.TypeDouble:
		return ua.DataTypeIDDouble
	case schema.TypeFloat:
		return ua.DataTypeIDFloat
	case schema.TypeInt32:
		return ua.DataTypeIDInt32
	case schema.TypeInt16:
		return ua.DataTypeIDInt16
	case schema.TypeUInt32:
		return ua.DataTypeIDUInt32
	case schema.TypeUInt16:
		return ua.DataTypeIDUInt16
	case schema.TypeBoolean:
		return ua.DataTypeIDBoolean
	case schema.TypeDateTime:
		return ua.DataTypeIDDateTime
	case schema.TypeString:
		return ua.DataTypeIDString
	default:
		// Custom enumerations are carried as Int32.
		return ua.DataTypeIDInt32
	}
}
