package model

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeKind identifies the entity type carried by a Node.
type NodeKind string

const (
	KindProcess            NodeKind = "process"
	KindFile               NodeKind = "file"
	KindInboundConnection  NodeKind = "inbound_connection"
	KindOutboundConnection NodeKind = "outbound_connection"
	KindIPAddress          NodeKind = "ip_address"
)

// String returns the string representation of the kind.
func (k NodeKind) String() string {
	return string(k)
}

// IsValid checks whether the kind is a known value.
func (k NodeKind) IsValid() bool {
	switch k {
	case KindProcess, KindFile, KindInboundConnection, KindOutboundConnection, KindIPAddress:
		return true
	}
	return false
}

// HasSessions reports whether nodes of this kind are attributed to sessions.
// IP addresses are global and pass through unchanged.
func (k NodeKind) HasSessions() bool {
	return k.IsValid() && k != KindIPAddress
}

// NodeState is the lifecycle signal a raw event carries for its entity.
type NodeState string

const (
	StateCreated    NodeState = "created"
	StateExisting   NodeState = "existing"
	StateTerminated NodeState = "terminated"
)

// Action maps the state onto the resolver action it requests.
func (s NodeState) Action() (Action, error) {
	switch s {
	case StateCreated:
		return ActionCreate, nil
	case StateExisting, "":
		return ActionUpdateOrCreate, nil
	case StateTerminated:
		return ActionTerminate, nil
	}
	return 0, fmt.Errorf("unknown node state %q", s)
}

// ProcessNode is a process observed on an asset.
type ProcessNode struct {
	NodeKey             string    `json:"node_key"`
	AssetID             string    `json:"asset_id,omitempty"`
	State               NodeState `json:"state,omitempty"`
	ProcessID           uint64    `json:"process_id"`
	ProcessName         string    `json:"process_name,omitempty"`
	Arguments           string    `json:"arguments,omitempty"`
	CreatedTimestamp    uint64    `json:"created_timestamp,omitempty"`
	TerminatedTimestamp uint64    `json:"terminated_timestamp,omitempty"`
	LastSeenTimestamp   uint64    `json:"last_seen_timestamp,omitempty"`
}

// FileNode is a file observed on an asset.
type FileNode struct {
	NodeKey           string    `json:"node_key"`
	AssetID           string    `json:"asset_id,omitempty"`
	State             NodeState `json:"state,omitempty"`
	FilePath          string    `json:"file_path"`
	FileHash          string    `json:"file_hash,omitempty"`
	CreatedTimestamp  uint64    `json:"created_timestamp,omitempty"`
	DeletedTimestamp  uint64    `json:"deleted_timestamp,omitempty"`
	LastSeenTimestamp uint64    `json:"last_seen_timestamp,omitempty"`
}

// ConnectionNode is a listening (inbound) or dialing (outbound) socket on
// an asset.
type ConnectionNode struct {
	NodeKey             string    `json:"node_key"`
	AssetID             string    `json:"asset_id,omitempty"`
	State               NodeState `json:"state,omitempty"`
	Port                uint16    `json:"port"`
	Protocol            string    `json:"protocol,omitempty"`
	CreatedTimestamp    uint64    `json:"created_timestamp,omitempty"`
	TerminatedTimestamp uint64    `json:"terminated_timestamp,omitempty"`
	LastSeenTimestamp   uint64    `json:"last_seen_timestamp,omitempty"`
}

// IPAddressNode is a network address. It has no lifetime of its own.
type IPAddressNode struct {
	NodeKey            string `json:"node_key"`
	IPAddress          string `json:"ip_address"`
	FirstSeenTimestamp uint64 `json:"first_seen_timestamp,omitempty"`
	LastSeenTimestamp  uint64 `json:"last_seen_timestamp,omitempty"`
}

// Node is a tagged union over the entity kinds. Exactly one of the pointer
// fields matching Kind is set.
type Node struct {
	Kind               NodeKind        `json:"kind"`
	Process            *ProcessNode    `json:"process,omitempty"`
	File               *FileNode       `json:"file,omitempty"`
	InboundConnection  *ConnectionNode `json:"inbound_connection,omitempty"`
	OutboundConnection *ConnectionNode `json:"outbound_connection,omitempty"`
	IPAddress          *IPAddressNode  `json:"ip_address,omitempty"`
}

// NewProcess wraps p in a Node.
func NewProcess(p *ProcessNode) *Node { return &Node{Kind: KindProcess, Process: p} }

// NewFile wraps f in a Node.
func NewFile(f *FileNode) *Node { return &Node{Kind: KindFile, File: f} }

// NewInboundConnection wraps c in a Node.
func NewInboundConnection(c *ConnectionNode) *Node {
	return &Node{Kind: KindInboundConnection, InboundConnection: c}
}

// NewOutboundConnection wraps c in a Node.
func NewOutboundConnection(c *ConnectionNode) *Node {
	return &Node{Kind: KindOutboundConnection, OutboundConnection: c}
}

// NewIPAddress wraps a in a Node.
func NewIPAddress(a *IPAddressNode) *Node { return &Node{Kind: KindIPAddress, IPAddress: a} }

func (n *Node) connection() *ConnectionNode {
	if n.Kind == KindInboundConnection {
		return n.InboundConnection
	}
	return n.OutboundConnection
}

func (n *Node) hasPayload() bool {
	switch n.Kind {
	case KindProcess:
		return n.Process != nil
	case KindFile:
		return n.File != nil
	case KindInboundConnection, KindOutboundConnection:
		return n.connection() != nil
	case KindIPAddress:
		return n.IPAddress != nil
	}
	return false
}

// Key returns the node key of the wrapped entity.
func (n *Node) Key() string {
	switch n.Kind {
	case KindProcess:
		if n.Process != nil {
			return n.Process.NodeKey
		}
	case KindFile:
		if n.File != nil {
			return n.File.NodeKey
		}
	case KindInboundConnection, KindOutboundConnection:
		if c := n.connection(); c != nil {
			return c.NodeKey
		}
	case KindIPAddress:
		if n.IPAddress != nil {
			return n.IPAddress.NodeKey
		}
	}
	return ""
}

// SetKey replaces the node key of the wrapped entity.
func (n *Node) SetKey(key string) {
	switch n.Kind {
	case KindProcess:
		n.Process.NodeKey = key
	case KindFile:
		n.File.NodeKey = key
	case KindInboundConnection, KindOutboundConnection:
		n.connection().NodeKey = key
	case KindIPAddress:
		n.IPAddress.NodeKey = key
	}
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	c := &Node{Kind: n.Kind}
	if n.Process != nil {
		p := *n.Process
		c.Process = &p
	}
	if n.File != nil {
		f := *n.File
		c.File = &f
	}
	if n.InboundConnection != nil {
		ic := *n.InboundConnection
		c.InboundConnection = &ic
	}
	if n.OutboundConnection != nil {
		oc := *n.OutboundConnection
		c.OutboundConnection = &oc
	}
	if n.IPAddress != nil {
		a := *n.IPAddress
		c.IPAddress = &a
	}
	return c
}

// PseudoKey joins an entity kind, asset id and natural key into the
// identity that partitions the session table.
func PseudoKey(kind NodeKind, assetID string, natural ...string) string {
	parts := make([]string, 0, len(natural)+2)
	parts = append(parts, string(kind), assetID)
	parts = append(parts, natural...)
	return strings.Join(parts, ":")
}

// pickTimestamp selects the timestamp matching the requested state.
func pickTimestamp(state NodeState, created, terminated, lastSeen uint64) uint64 {
	switch state {
	case StateCreated:
		return created
	case StateTerminated:
		return terminated
	}
	return lastSeen
}

// Identity derives the unresolved observation and the resolver action for a
// session-bearing node. It fails with a *ValidationError when the node lacks
// an asset id, its natural key, or the timestamp for its state.
func (n *Node) Identity() (UnidSession, Action, error) {
	if err := ValidateNode(n); err != nil {
		return UnidSession{}, 0, err
	}

	var (
		pseudoKey string
		state     NodeState
		ts        uint64
	)
	switch n.Kind {
	case KindProcess:
		p := n.Process
		state = p.State
		pseudoKey = PseudoKey(n.Kind, p.AssetID, strconv.FormatUint(p.ProcessID, 10))
		ts = pickTimestamp(state, p.CreatedTimestamp, p.TerminatedTimestamp, p.LastSeenTimestamp)
	case KindFile:
		f := n.File
		state = f.State
		pseudoKey = PseudoKey(n.Kind, f.AssetID, f.FilePath)
		ts = pickTimestamp(state, f.CreatedTimestamp, f.DeletedTimestamp, f.LastSeenTimestamp)
	case KindInboundConnection, KindOutboundConnection:
		c := n.connection()
		state = c.State
		pseudoKey = PseudoKey(n.Kind, c.AssetID, strings.ToLower(c.Protocol), strconv.FormatUint(uint64(c.Port), 10))
		ts = pickTimestamp(state, c.CreatedTimestamp, c.TerminatedTimestamp, c.LastSeenTimestamp)
	default:
		return UnidSession{}, 0, fmt.Errorf("node kind %q has no sessions", n.Kind)
	}

	action, err := state.Action()
	if err != nil {
		return UnidSession{}, 0, err
	}
	return UnidSession{
		PseudoKey:  pseudoKey,
		Timestamp:  ts,
		IsCreation: action.IsCreation(),
	}, action, nil
}

// Merge folds the fields of other into n. Both nodes must be of the same
// kind. Timestamps widen; empty scalar fields are filled from other.
func (n *Node) Merge(other *Node) {
	if other == nil || other.Kind != n.Kind || !n.hasPayload() || !other.hasPayload() {
		return
	}
	switch n.Kind {
	case KindProcess:
		a, b := n.Process, other.Process
		a.ProcessName = firstNonEmpty(a.ProcessName, b.ProcessName)
		a.Arguments = firstNonEmpty(a.Arguments, b.Arguments)
		a.CreatedTimestamp = minNonZero(a.CreatedTimestamp, b.CreatedTimestamp)
		a.TerminatedTimestamp = max(a.TerminatedTimestamp, b.TerminatedTimestamp)
		a.LastSeenTimestamp = max(a.LastSeenTimestamp, b.LastSeenTimestamp)
	case KindFile:
		a, b := n.File, other.File
		a.FileHash = firstNonEmpty(a.FileHash, b.FileHash)
		a.CreatedTimestamp = minNonZero(a.CreatedTimestamp, b.CreatedTimestamp)
		a.DeletedTimestamp = max(a.DeletedTimestamp, b.DeletedTimestamp)
		a.LastSeenTimestamp = max(a.LastSeenTimestamp, b.LastSeenTimestamp)
	case KindInboundConnection, KindOutboundConnection:
		a, b := n.connection(), other.connection()
		a.CreatedTimestamp = minNonZero(a.CreatedTimestamp, b.CreatedTimestamp)
		a.TerminatedTimestamp = max(a.TerminatedTimestamp, b.TerminatedTimestamp)
		a.LastSeenTimestamp = max(a.LastSeenTimestamp, b.LastSeenTimestamp)
	case KindIPAddress:
		a, b := n.IPAddress, other.IPAddress
		a.FirstSeenTimestamp = minNonZero(a.FirstSeenTimestamp, b.FirstSeenTimestamp)
		a.LastSeenTimestamp = max(a.LastSeenTimestamp, b.LastSeenTimestamp)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func minNonZero(a, b uint64) uint64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	}
	return min(a, b)
}
