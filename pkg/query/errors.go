package query

import "fmt"

// MalformedVerbError reports a verb object that cannot be reconstructed:
// an unknown kind or an invalid parameter shape.
type MalformedVerbError struct {
	Kind   string
	Param  string
	Reason string
}

func (e *MalformedVerbError) Error() string {
	switch {
	case e.Kind != "" && e.Param != "":
		return fmt.Sprintf("malformed %s verb: %s: %s", e.Kind, e.Param, e.Reason)
	case e.Kind != "":
		return fmt.Sprintf("malformed %s verb: %s", e.Kind, e.Reason)
	default:
		return "malformed verb: " + e.Reason
	}
}
