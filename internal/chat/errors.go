package chat

import "errors"

// ErrModelUnavailable is the only failure that aborts a turn.
var ErrModelUnavailable = errors.New("model unavailable")

// Absorbed failures. They are logged and reported in metadata but never
// returned from HandleTurn.
var (
	ErrSchemaIntrospection = errors.New("schema introspection failed")
	ErrQueryExecution      = errors.New("query execution failed")
)
