package spec

import (
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/scriptfuzz/internal/compiler"
)

// Load error codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No specification documents found
	ErrCodeCompile     = "E004" // Document failed schema validation
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeInvalid     = "E006" // Semantic validation failed
	ErrCodeGrammar     = "E007" // Grammar set does not build
	ErrCodeInvalidList = "E008" // Malformed block or limit list
)

// LoadError is a fatal configuration error.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
	// Details holds every semantic error when Code is ErrCodeInvalid.
	Details []compiler.ValidationError
}

func (e *LoadError) Error() string {
	msg := e.Message
	if len(e.Details) > 0 {
		lines := make([]string, len(e.Details))
		for i, d := range e.Details {
			lines[i] = d.Error()
		}
		msg += ":\n  " + strings.Join(lines, "\n  ")
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// IsLoadError reports whether err is a LoadError, returning it.
func IsLoadError(err error) (*LoadError, bool) {
	var le *LoadError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

func convertCompileError(err error, path string) *LoadError {
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return &LoadError{Code: ErrCodeCompile, Message: ce.Field + ": " + ce.Message, Pos: ce.Pos}
	}
	return &LoadError{Code: ErrCodeCompile, Message: fmt.Sprintf("%s: %v", path, err)}
}
