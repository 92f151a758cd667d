package assemble

import (
	"fmt"
	"strings"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// Format selects the artifact container.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatJS  Format = "js"
)

// Ext returns the file extension of artifacts in this format.
func (f Format) Ext() string { return "." + string(f) }

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPDF, FormatJS:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown artifact format %q (want pdf or js)", s)
}

// DefaultInstances is how many form fields and annotations the prologue binds.
const DefaultInstances = 10

// APIKinds reports whether an API is a method or a property.
type APIKinds interface {
	API(name string) (*ir.APISpec, bool)
}

// Assembler renders test cases. It holds no mutable state and is safe for
// concurrent use.
type Assembler struct {
	format    Format
	specs     APIKinds
	instances int
}

type Option func(*Assembler)

// WithFormat sets the artifact format. The default is FormatPDF.
func WithFormat(f Format) Option {
	return func(a *Assembler) { a.format = f }
}

// WithInstances sets how many fields and annotations the document carries
// and the prologue binds.
func WithInstances(n int) Option {
	return func(a *Assembler) {
		if n >= 0 {
			a.instances = n
		}
	}
}

// New creates an assembler. specs resolves API kinds.
func New(specs APIKinds, opts ...Option) *Assembler {
	a := &Assembler{format: FormatPDF, specs: specs, instances: DefaultInstances}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Format returns the artifact format.
func (a *Assembler) Format() Format { return a.format }

// Assemble renders tc.
func (a *Assembler) Assemble(tc *ir.TestCase) ([]byte, error) {
	if tc == nil {
		return nil, &AssemblyError{Index: -1, Message: "nil test case"}
	}
	script, err := a.Script(tc.Calls)
	if err != nil {
		return nil, err
	}
	switch a.format {
	case FormatJS:
		return []byte(script), nil
	case FormatPDF:
		return buildPDF(script, a.instances), nil
	}
	return nil, &AssemblyError{Index: -1, Message: fmt.Sprintf("unknown format %q", a.format)}
}

const (
	scriptHeader = "try{spell.available}catch(e){};\n"
	scriptFooter = "closeDoc(1);\n"
)

// Script renders the full script for calls.
func (a *Assembler) Script(calls []ir.CallInstance) (string, error) {
	var sb strings.Builder
	sb.WriteString(scriptHeader)
	sb.WriteString("try{var fthis = this;} catch(e){};\n")
	for i := 1; i <= a.instances; i++ {
		fmt.Fprintf(&sb, "try{var my_annot%d = this.getAnnot(0, \"my_annot%d\");} catch(e){};\n", i, i)
		fmt.Fprintf(&sb, "try{var my_field%d = this.getField(\"my_field%d\");} catch(e){};\n", i, i)
	}
	for i := range calls {
		stmt, err := a.statement(&calls[i])
		if err != nil {
			return "", err
		}
		sb.WriteString(stmt)
		sb.WriteByte('\n')
	}
	sb.WriteString(scriptFooter)
	return sb.String(), nil
}
