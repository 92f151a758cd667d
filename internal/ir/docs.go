package ir

// The document types below are the decoded form of the input documents.
// The compiler package validates them against its CUE schema first.

// SpecDocument is one specification file.
type SpecDocument struct {
	Objects  map[string][]string   `json:"objects"`
	APIs     map[string]APIDef     `json:"apis"`
	Grammars map[string]GrammarDef `json:"grammars"`
}

// APIDef is the document form of an APISpec; the name is the map key.
type APIDef struct {
	Kind       APIKind     `json:"kind"`
	Parameters []Parameter `json:"parameters"`
	ReturnType string      `json:"return_type,omitempty"`
}

// GrammarDef is the document form of a grammar rule. Kind selects which
// fields apply: "cfg" uses Start and Productions, "int" and "set" use the
// numeric range, "bool" uses TrueProbability.
type GrammarDef struct {
	Kind        string                   `json:"kind"`
	Type        TypeTag                  `json:"type,omitempty"`
	Start       string                   `json:"start,omitempty"`
	Productions map[string][]Alternative `json:"productions,omitempty"`

	Min                 *int64   `json:"min,omitempty"`
	Max                 *int64   `json:"max,omitempty"`
	Boundary            []int64  `json:"boundary,omitempty"`
	BoundaryProbability *float64 `json:"boundary_probability,omitempty"`
	Width               int      `json:"width,omitempty"` // int: two's complement width of the target type
	MaxLen              int      `json:"max_len,omitempty"`
	TrueProbability     *float64 `json:"true_probability,omitempty"`
}

// Alternative is one weighted expansion of a non-terminal.
type Alternative struct {
	Expand string  `json:"expand"`
	Weight float64 `json:"weight,omitempty"`
}

// RelationsDocument is the relationship document.
type RelationsDocument struct {
	Weak   []WeakEdge   `json:"weak"`
	Strong []StrongEdge `json:"strong"`
}

// WeakEdge is an unordered co-occurrence edge between two APIs.
type WeakEdge struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
}

// StrongEdge links two parameters ("Object.member.param") through a predicate.
// SymbolA and SymbolB are the predicate variables bound to A and B.
type StrongEdge struct {
	A         string  `json:"a"`
	B         string  `json:"b"`
	Type      TypeTag `json:"type"`
	Predicate string  `json:"predicate"`
	SymbolA   string  `json:"symbol_a,omitempty"`
	SymbolB   string  `json:"symbol_b,omitempty"`
	Ordered   bool    `json:"ordered,omitempty"`
}
