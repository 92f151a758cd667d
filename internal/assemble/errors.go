package assemble

import (
	"errors"
	"fmt"
)

// AssemblyError reports a sequence that cannot be rendered.
type AssemblyError struct {
	Index   int // call position, -1 for whole-document failures
	API     string
	Message string
}

func (e *AssemblyError) Error() string {
	if e.Index < 0 {
		return "assembly failed: " + e.Message
	}
	return fmt.Sprintf("assembly failed at call %d (%s): %s", e.Index, e.API, e.Message)
}

// IsAssemblyError reports whether err is an AssemblyError.
func IsAssemblyError(err error) bool {
	var ae *AssemblyError
	return errors.As(err, &ae)
}
