package compiler

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/roach88/scriptfuzz/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Schema definitions input documents are unified with.
const (
	DefSpecDocument = "#SpecDocument"
	DefRelations    = "#Relations"
)

// A cue.Context is not safe for concurrent use; compilation is serialized.
var (
	cueMu     sync.Mutex
	cueCtx    *cue.Context
	cueSchema cue.Value
)

func schema() (*cue.Context, cue.Value, error) {
	if cueCtx == nil {
		cueCtx = cuecontext.New()
		cueSchema = cueCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
	}
	if err := cueSchema.Err(); err != nil {
		return nil, cue.Value{}, fmt.Errorf("compiling embedded schema: %w", err)
	}
	return cueCtx, cueSchema, nil
}

// CompileSpec decodes one specification document. name is used for
// positions in errors and selects the syntax: ".cue" files are CUE,
// anything else is JSON.
func CompileSpec(name string, data []byte) (*ir.SpecDocument, error) {
	var doc ir.SpecDocument
	if err := compileInto(name, data, DefSpecDocument, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// CompileRelations decodes a relationship document.
func CompileRelations(name string, data []byte) (*ir.RelationsDocument, error) {
	var doc ir.RelationsDocument
	if err := compileInto(name, data, DefRelations, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// CompileSpecFile reads and decodes a specification file.
func CompileSpecFile(path string) (*ir.SpecDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return CompileSpec(path, data)
}

// CompileRelationsFile reads and decodes a relationship file.
func CompileRelationsFile(path string) (*ir.RelationsDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return CompileRelations(path, data)
}

func compileInto(name string, data []byte, def string, out any) error {
	cueMu.Lock()
	defer cueMu.Unlock()

	ctx, sch, err := schema()
	if err != nil {
		return err
	}

	var v cue.Value
	if strings.EqualFold(filepath.Ext(name), ".cue") {
		v = ctx.CompileBytes(data, cue.Filename(name))
	} else {
		expr, err := cuejson.Extract(name, data)
		if err != nil {
			return formatCUEError(err)
		}
		v = ctx.BuildExpr(expr, cue.Filename(name))
	}
	if err := v.Err(); err != nil {
		return formatCUEError(err)
	}

	v = sch.LookupPath(cue.ParsePath(def)).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	if err := v.Decode(out); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// CompileError is a document error with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError keeps the first error of a CUE error list together with
// its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	path := strings.Join(first.Path(), ".")
	if path == "" {
		path = "document"
	}
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: path, Message: first.Error(), Pos: positions[0]}
	}
	return &CompileError{Field: path, Message: first.Error()}
}
