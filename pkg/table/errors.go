package table

import "fmt"

// UnknownColumnError reports a reference to a column that does not exist.
type UnknownColumnError struct {
	Name string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column: %s", e.Name)
}
