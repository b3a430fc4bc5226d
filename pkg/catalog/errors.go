package catalog

import "fmt"

// DuplicateTableError is returned when adding a name that is taken.
type DuplicateTableError struct {
	Name string
}

func (e *DuplicateTableError) Error() string {
	return fmt.Sprintf("table already exists: %q", e.Name)
}

// UnknownTableError is returned when a name is not in the database.
type UnknownTableError struct {
	Name string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("unknown table: %q", e.Name)
}
