package ir

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TypeTag is the closed set of parameter types a specification may declare.
type TypeTag string

const (
	TypeString  TypeTag = "string"
	TypeInteger TypeTag = "integer"
	TypeNumber  TypeTag = "number"
	TypeBoolean TypeTag = "boolean"
	TypeArray   TypeTag = "array"
	TypeObject  TypeTag = "object"
	TypeRef     TypeTag = "ref"
	TypeScript  TypeTag = "script"
)

// ValidTypeTags lists every accepted type tag.
var ValidTypeTags = map[TypeTag]bool{
	TypeString:  true,
	TypeInteger: true,
	TypeNumber:  true,
	TypeBoolean: true,
	TypeArray:   true,
	TypeObject:  true,
	TypeRef:     true,
	TypeScript:  true,
}

// Numeric reports whether values of this type are solved as bit-vectors.
func (t TypeTag) Numeric() bool {
	return t == TypeInteger || t == TypeNumber
}

// Grammared reports whether values of this type come from a grammar rule.
// Ref and script parameters are filled from live instances and nested calls.
func (t TypeTag) Grammared() bool {
	return t != TypeRef && t != TypeScript
}

// APIKind distinguishes method calls from property assignments.
type APIKind string

const (
	APIMethod   APIKind = "method"
	APIProperty APIKind = "property"
)

// PositionalParam is the parameter name that marks a single positional argument.
const PositionalParam = "NoParameterName"

// Domain bounds a numeric parameter, inclusive on both ends.
type Domain struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Parameter describes one parameter of an API.
type Parameter struct {
	Name    string  `json:"name"`
	Type    TypeTag `json:"type"`
	Grammar string  `json:"grammar,omitempty"`
	Width   int     `json:"width,omitempty"`
	Domain  *Domain `json:"domain,omitempty"`
}

// APISpec is one scripting API member. Immutable after load.
type APISpec struct {
	Name       string      `json:"name"` // Object.Member
	Object     string      `json:"object"`
	Member     string      `json:"member"`
	Kind       APIKind     `json:"kind"`
	Parameters []Parameter `json:"parameters"`
	ReturnType string      `json:"return_type,omitempty"`
}

// Param returns the named parameter, or nil.
func (a *APISpec) Param(name string) *Parameter {
	for i := range a.Parameters {
		if a.Parameters[i].Name == name {
			return &a.Parameters[i]
		}
	}
	return nil
}

// SplitAPIName splits "Object.member" at the last dot.
func SplitAPIName(name string) (object, member string, err error) {
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return "", "", fmt.Errorf("api name %q must have the form Object.member", name)
	}
	return name[:i], name[i+1:], nil
}

// Mode is the generation mode of a test case or of a single call.
type Mode string

const (
	ModeGrammarOnly      Mode = "grammar-only"
	ModeRelation         Mode = "relation"
	ModeRelationSymbolic Mode = "relation+symbolic"
)

// ValidModes lists every accepted generation mode.
var ValidModes = map[Mode]bool{
	ModeGrammarOnly:      true,
	ModeRelation:         true,
	ModeRelationSymbolic: true,
}

// UsesRelations reports whether weak edges bias call selection.
func (m Mode) UsesRelations() bool {
	return m == ModeRelation || m == ModeRelationSymbolic
}

// Symbolic reports whether strong edges are solved.
func (m Mode) Symbolic() bool {
	return m == ModeRelationSymbolic
}

// ArgSource records where an argument value came from.
type ArgSource string

const (
	SourceGrammar  ArgSource = "grammar"
	SourceSolver   ArgSource = "solver"
	SourceInstance ArgSource = "instance"
	SourceHook     ArgSource = "hook"
)

// Arg is one resolved argument.
type Arg struct {
	Param  string
	Value  Value
	Source ArgSource
}

type argJSON struct {
	Param  string          `json:"param"`
	Value  json.RawMessage `json:"value"`
	Source ArgSource       `json:"source"`
}

// MarshalJSON implements json.Marshaler for Arg.
func (a Arg) MarshalJSON() ([]byte, error) {
	v, err := MarshalValue(a.Value)
	if err != nil {
		return nil, fmt.Errorf("arg %q: %w", a.Param, err)
	}
	return json.Marshal(argJSON{Param: a.Param, Value: v, Source: a.Source})
}

// UnmarshalJSON implements json.Unmarshaler for Arg.
func (a *Arg) UnmarshalJSON(data []byte) error {
	var raw argJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := UnmarshalValue(raw.Value)
	if err != nil {
		return fmt.Errorf("arg %q: %w", raw.Param, err)
	}
	*a = Arg{Param: raw.Param, Value: v, Source: raw.Source}
	return nil
}

// CallInstance is one resolved step of a sequence.
type CallInstance struct {
	Index    int    `json:"index"`
	API      string `json:"api"`
	Receiver string `json:"receiver"`
	Args     []Arg  `json:"args"`
	Bind     string `json:"bind,omitempty"`   // variable receiving the return value
	Repeat   int    `json:"repeat,omitempty"` // >0 wraps the call in a loop
	Mode     Mode   `json:"mode"`
}

// Arg returns the argument for the named parameter.
func (c *CallInstance) Arg(param string) (Arg, bool) {
	for _, a := range c.Args {
		if a.Param == param {
			return a, true
		}
	}
	return Arg{}, false
}

// VarRef names one (call index, parameter) pair of a sequence.
type VarRef struct {
	Index int    `json:"index"`
	Param string `json:"param"`
}

func (r VarRef) String() string {
	return fmt.Sprintf("%d.%s", r.Index, r.Param)
}

// Constraint is a strong edge instantiated over two variables of a sequence.
type Constraint struct {
	Edge      int               `json:"edge"`
	Predicate string            `json:"predicate"`
	Type      TypeTag           `json:"type"`
	Vars      map[string]VarRef `json:"vars"` // predicate symbol -> variable
}

// TestCase is an assembled sequence. Immutable once assembled.
type TestCase struct {
	ID        string         `json:"id"`
	Index     int            `json:"index"`
	Seed      int64          `json:"seed"`
	Mode      Mode           `json:"mode"`
	Calls     []CallInstance `json:"calls"`
	Dropped   int            `json:"dropped"`   // strong edges whose second endpoint never appeared
	Fallbacks int            `json:"fallbacks"` // calls degraded to grammar sampling
	Artifact  []byte         `json:"-"`
}

// Outcome classifies one execution.
type Outcome string

const (
	OutcomeCrash         Outcome = "crash"
	OutcomeHang          Outcome = "hang"
	OutcomeError         Outcome = "error"
	OutcomeNormal        Outcome = "normal"
	OutcomeLaunchFailure Outcome = "launch-failure"
)

// Outcomes lists every outcome in reporting order.
var Outcomes = []Outcome{OutcomeCrash, OutcomeHang, OutcomeError, OutcomeNormal, OutcomeLaunchFailure}

// Archived reports whether evidence for this outcome is kept on disk.
func (o Outcome) Archived() bool {
	return o == OutcomeCrash || o == OutcomeHang || o == OutcomeError
}

// Usage is the resource usage observed for the target process.
type Usage struct {
	CPU     time.Duration `json:"cpu"`
	PeakRSS int64         `json:"peak_rss"`
}

// ExecutionResult is the classified result of one execution. Never mutated.
type ExecutionResult struct {
	TestCaseID string        `json:"test_case_id"`
	Outcome    Outcome       `json:"outcome"`
	Evidence   string        `json:"evidence,omitempty"`
	Duration   time.Duration `json:"duration"`
	Usage      Usage         `json:"usage"`
	ExitCode   int           `json:"exit_code"`
	Signal     string        `json:"signal,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}
