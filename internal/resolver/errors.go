package resolver

import (
	"errors"
	"fmt"

	"github.com/alfredjeanlab/sessions/internal/model"
)

var (
	// ErrUnattributable is returned for a last-seen observation that no
	// session covers when defaulting is disabled.
	ErrUnattributable = errors.New("observation cannot be attributed to a session")
	// ErrUnimplemented is returned for actions the resolver does not handle.
	ErrUnimplemented = errors.New("unimplemented")
)

// InvariantViolationError reports store data that contradicts the ordering
// the resolver queried for. It indicates corruption or a backend bug and is
// never retried.
type InvariantViolationError struct {
	Unid    model.UnidSession
	Session *model.Session
	Reason  string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation for %s@%d: %s (session %s@%d)",
		e.Unid.PseudoKey, e.Unid.Timestamp, e.Reason, e.Session.SessionID, e.Session.CreateTime)
}
