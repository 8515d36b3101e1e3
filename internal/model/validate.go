package model

import (
	"math"
	"strconv"
	"strings"
)

// MaxTimestamp is the largest observation timestamp accepted. Backends store
// times as signed 64-bit integers.
const MaxTimestamp uint64 = math.MaxInt64

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// ValidateNode checks a Node for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the node is valid.
func ValidateNode(n *Node) error {
	var ve ValidationError

	if n == nil {
		ve.add("node", "is required")
		return &ve
	}
	if !n.Kind.IsValid() {
		ve.add("kind", "must be one of process, file, inbound_connection, outbound_connection, ip_address")
		return &ve
	}
	if !n.hasPayload() {
		ve.add(string(n.Kind), "is required for kind "+string(n.Kind))
		return &ve
	}

	switch n.Kind {
	case KindProcess:
		p := n.Process
		validateCommon(&ve, p.AssetID, p.State, p.CreatedTimestamp, p.TerminatedTimestamp, p.LastSeenTimestamp)
	case KindFile:
		f := n.File
		if strings.TrimSpace(f.FilePath) == "" {
			ve.add("file_path", "is required")
		}
		validateCommon(&ve, f.AssetID, f.State, f.CreatedTimestamp, f.DeletedTimestamp, f.LastSeenTimestamp)
	case KindInboundConnection, KindOutboundConnection:
		c := n.connection()
		validateCommon(&ve, c.AssetID, c.State, c.CreatedTimestamp, c.TerminatedTimestamp, c.LastSeenTimestamp)
	case KindIPAddress:
		if strings.TrimSpace(n.IPAddress.IPAddress) == "" {
			ve.add("ip_address", "is required")
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// validateCommon checks the fields shared by every session-bearing node.
func validateCommon(ve *ValidationError, assetID string, state NodeState, created, terminated, lastSeen uint64) {
	if strings.TrimSpace(assetID) == "" {
		ve.add("asset_id", "is required")
	}
	switch state {
	case StateCreated:
		if created == 0 {
			ve.add("created_timestamp", "is required for state created")
		}
	case StateTerminated:
		if terminated == 0 {
			ve.add("terminated_timestamp", "is required for state terminated")
		}
	case StateExisting, "":
		if lastSeen == 0 {
			ve.add("last_seen_timestamp", "is required for state existing")
		}
	default:
		ve.add("state", "must be one of created, existing, terminated")
	}
}

// ValidateUnidSession checks an observation submitted directly to the resolver.
func ValidateUnidSession(u UnidSession) error {
	var ve ValidationError
	if strings.TrimSpace(u.PseudoKey) == "" {
		ve.add("pseudo_key", "is required")
	}
	if u.Timestamp > MaxTimestamp {
		ve.add("timestamp", "must not exceed "+strconv.FormatUint(MaxTimestamp, 10))
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}
