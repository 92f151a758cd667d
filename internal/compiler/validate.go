package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/scriptfuzz/internal/grammar"
	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/relation"
	"github.com/roach88/scriptfuzz/internal/solver"
)

// Validation error codes (E100-E199)
const (
	// Specification errors (E100-E109)
	ErrUnknownType     = "E100" // unknown type tag
	ErrUnknownGrammar  = "E101" // parameter names an undefined grammar rule
	ErrMissingGrammar  = "E102" // grammared parameter without a rule
	ErrDuplicateParam  = "E103" // duplicate parameter name
	ErrPropertyArity   = "E104" // property with more than one parameter
	ErrInvalidDomain   = "E105" // domain min greater than max
	ErrInvalidGrammar  = "E106" // grammar rule does not compile
	ErrDuplicateName   = "E107" // API or grammar defined twice
	ErrInvalidAPIName  = "E108" // name is not Object.member
	ErrUnknownInstance = "E109" // return type or ref names an unknown object

	// Relationship errors (E110-E119)
	ErrInvalidEndpoint  = "E110" // malformed endpoint
	ErrInvalidScore     = "E111" // negative weak score
	ErrInvalidPredicate = "E112" // predicate does not parse
	ErrSymbolClash      = "E113" // both endpoints use the same symbol
)

// ValidationError is a semantic error found after schema validation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateSpec checks a merged specification document. It returns every
// error found, sorted by field.
func ValidateSpec(doc *ir.SpecDocument) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	for id, def := range doc.Grammars {
		if _, err := grammar.Compile(id, def); err != nil {
			add("grammars."+id, ErrInvalidGrammar, "%v", err)
		}
	}

	for name, api := range doc.APIs {
		field := "apis." + name
		if _, _, err := ir.SplitAPIName(name); err != nil {
			add(field, ErrInvalidAPIName, "%v", err)
		}
		if api.Kind == ir.APIProperty && len(api.Parameters) > 1 {
			add(field, ErrPropertyArity, "property takes at most one value, got %d parameters", len(api.Parameters))
		}
		if api.ReturnType != "" && !ir.ValidTypeTags[ir.TypeTag(api.ReturnType)] {
			if _, ok := doc.Objects[api.ReturnType]; !ok {
				add(field+".return_type", ErrUnknownInstance, "return type %q is neither a type tag nor an object", api.ReturnType)
			}
		}

		seen := make(map[string]bool)
		for i, p := range api.Parameters {
			pf := fmt.Sprintf("%s.parameters[%d]", field, i)
			if seen[p.Name] && p.Name != ir.PositionalParam {
				add(pf+".name", ErrDuplicateParam, "duplicate parameter %q", p.Name)
			}
			seen[p.Name] = true

			if !ir.ValidTypeTags[p.Type] {
				add(pf+".type", ErrUnknownType, "unknown type tag %q", p.Type)
				continue
			}
			if p.Type.Grammared() {
				switch {
				case p.Grammar == "":
					add(pf+".grammar", ErrMissingGrammar, "%s parameter %q needs a grammar rule", p.Type, p.Name)
				case !hasGrammar(doc, p.Grammar):
					add(pf+".grammar", ErrUnknownGrammar, "undefined grammar rule %q", p.Grammar)
				}
			}
			if p.Domain != nil && p.Domain.Min > p.Domain.Max {
				add(pf+".domain", ErrInvalidDomain, "min %d exceeds max %d", p.Domain.Min, p.Domain.Max)
			}
		}
	}

	sortErrors(errs)
	return errs
}

func hasGrammar(doc *ir.SpecDocument, id string) bool {
	_, ok := doc.Grammars[id]
	return ok
}

// ValidateRelations checks the shape of a relationship document. Endpoint
// resolution against the specification happens when the graph is built.
func ValidateRelations(doc *ir.RelationsDocument) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	for i, e := range doc.Weak {
		field := fmt.Sprintf("weak[%d]", i)
		if e.Score < 0 {
			add(field+".score", ErrInvalidScore, "score %v is negative", e.Score)
		}
		for _, end := range []string{e.A, e.B} {
			if _, _, err := ir.SplitAPIName(end); err != nil {
				add(field, ErrInvalidEndpoint, "%v", err)
			}
		}
	}

	for i, e := range doc.Strong {
		field := fmt.Sprintf("strong[%d]", i)
		for _, end := range []string{e.A, e.B} {
			if strings.Count(end, ".") < 2 {
				add(field, ErrInvalidEndpoint, "%q is not Object.member.param", end)
			}
		}
		if e.Predicate == "" || e.Predicate == "none" {
			continue
		}
		if _, err := solver.Parse(e.Predicate); err != nil {
			add(field+".predicate", ErrInvalidPredicate, "%v", err)
		}
		a, b := e.SymbolA, e.SymbolB
		if a == "" {
			a = relation.DefaultSymbolA
		}
		if b == "" {
			b = relation.DefaultSymbolB
		}
		if a == b {
			add(field, ErrSymbolClash, "both endpoints bind symbol %q", a)
		}
	}

	sortErrors(errs)
	return errs
}

func sortErrors(errs []ValidationError) {
	slices.SortStableFunc(errs, func(a, b ValidationError) int {
		if c := strings.Compare(a.Field, b.Field); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
}
