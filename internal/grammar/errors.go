package grammar

import (
	"errors"
	"fmt"
)

// ExhaustedError is returned when a rule cannot produce a value within the
// remaining depth budget.
type ExhaustedError struct {
	Rule   string
	Symbol string
	Depth  int
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("grammar %s exhausted at %s (depth %d)", e.Rule, e.Symbol, e.Depth)
	}
	return fmt.Sprintf("grammar %s exhausted (depth %d)", e.Rule, e.Depth)
}

// IsExhausted reports whether err is a GrammarExhausted failure.
// Uses errors.As to handle wrapped errors.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// ErrUnknownRule is returned for rule IDs the engine does not hold.
var ErrUnknownRule = errors.New("unknown grammar rule")

// DefinitionError reports an invalid grammar definition.
type DefinitionError struct {
	Rule    string
	Message string
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	return fmt.Sprintf("grammar %s: %s", e.Rule, e.Message)
}
