package grammar

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// Rule is a compiled grammar rule.
type Rule interface {
	// Type is the type tag of the values the rule produces.
	Type() ir.TypeTag

	// Sample draws one value within depth expansions.
	Sample(r RandomSource, depth int) (ir.Value, error)

	// Enumerate returns up to limit distinct values reachable within depth,
	// in a deterministic order.
	Enumerate(depth, limit int) []ir.Value

	// Accepts reports whether v is in the rule's language within depth.
	Accepts(v ir.Value, depth int) bool

	// MinDepth is the smallest depth at which Sample can succeed,
	// or -1 when the rule can never terminate.
	MinDepth() int
}

// Ranged is implemented by rules drawing integers from a closed range.
type Ranged interface {
	Range() (lo, hi int64)
}

// Factory compiles a definition of one kind into a Rule.
type Factory func(id string, def ir.GrammarDef) (Rule, error)

var (
	kindsMu sync.RWMutex
	kinds   = map[string]Factory{
		"cfg":  newCFGRule,
		"int":  newIntRule,
		"set":  newSetRule,
		"bool": newBoolRule,
	}
)

// RegisterKind adds a rule kind. Registering an existing kind replaces it.
func RegisterKind(kind string, f Factory) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[kind] = f
}

// Kinds returns the registered kind names, sorted.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Compile builds a Rule from its definition.
func Compile(id string, def ir.GrammarDef) (Rule, error) {
	kindsMu.RLock()
	f, ok := kinds[def.Kind]
	kindsMu.RUnlock()
	if !ok {
		return nil, &DefinitionError{Rule: id, Message: fmt.Sprintf("unknown kind %q", def.Kind)}
	}
	return f(id, def)
}
