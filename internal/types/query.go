package types

import "fmt"

// QueryError is returned when the application answers a query with a
// non-zero code.
type QueryError struct {
	Code uint32
	Log  string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed with code %d: %s", e.Code, e.Log)
}
