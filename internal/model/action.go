package model

import "fmt"

// Action tells the resolver what an observation asserts about its entity.
type Action int

const (
	// ActionCreate asserts the entity began at the observation time.
	ActionCreate Action = iota
	// ActionUpdateOrCreate asserts the entity existed at the observation time.
	ActionUpdateOrCreate
	// ActionTerminate asserts the entity ended at the observation time.
	ActionTerminate
)

// String returns the string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdateOrCreate:
		return "update_or_create"
	case ActionTerminate:
		return "terminate"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction converts a string to an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "create":
		return ActionCreate, nil
	case "update_or_create", "last_seen":
		return ActionUpdateOrCreate, nil
	case "terminate":
		return ActionTerminate, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// IsCreation reports whether observations under this action assert a start
// boundary.
func (a Action) IsCreation() bool {
	return a == ActionCreate
}
