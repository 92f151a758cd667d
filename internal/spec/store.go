package spec

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/scriptfuzz/internal/compiler"
	"github.com/roach88/scriptfuzz/internal/grammar"
	"github.com/roach88/scriptfuzz/internal/ir"
)

// Store holds the loaded specification. Safe for concurrent readers.
type Store struct {
	apis     map[string]*ir.APISpec
	names    []string
	objects  map[string][]string
	engine   *grammar.Engine
	warnings []compiler.CycleWarning
	files    int
}

type options struct {
	maxDepth int
	retries  int
	logger   *slog.Logger
}

type Option func(*options)

// WithMaxDepth sets the grammar expansion budget.
func WithMaxDepth(n int) Option { return func(o *options) { o.maxDepth = n } }

// WithRetries sets how often an exhausted sample is retried with a fresh seed.
func WithRetries(n int) Option { return func(o *options) { o.retries = n } }

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Load compiles every *.json and *.cue document under dir.
func Load(dir string, opts ...Option) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specification directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindDocuments(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("scanning %s: %v", dir, err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no .json or .cue documents in %s", dir)}
	}

	docs := make([]*ir.SpecDocument, 0, len(files))
	for _, f := range files {
		doc, err := compiler.CompileSpecFile(f)
		if err != nil {
			return nil, convertCompileError(err, f)
		}
		docs = append(docs, doc)
	}
	merged, err := Merge(docs...)
	if err != nil {
		return nil, err
	}
	s, err := New(merged, opts...)
	if err != nil {
		return nil, err
	}
	s.files = len(files)
	return s, nil
}

// FindDocuments returns the specification documents under dir, sorted.
func FindDocuments(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".cue":
			files = append(files, path)
		}
		return nil
	})
	slices.Sort(files)
	return files, err
}

// Merge combines documents. An API or grammar rule defined twice is an
// error; instance lists of the same object are concatenated.
func Merge(docs ...*ir.SpecDocument) (*ir.SpecDocument, error) {
	out := &ir.SpecDocument{
		Objects:  map[string][]string{},
		APIs:     map[string]ir.APIDef{},
		Grammars: map[string]ir.GrammarDef{},
	}
	var dups []compiler.ValidationError
	for _, doc := range docs {
		for obj, inst := range doc.Objects {
			for _, e := range inst {
				if !slices.Contains(out.Objects[obj], e) {
					out.Objects[obj] = append(out.Objects[obj], e)
				}
			}
		}
		for name, api := range doc.APIs {
			if _, ok := out.APIs[name]; ok {
				dups = append(dups, compiler.ValidationError{Field: "apis." + name, Code: compiler.ErrDuplicateName, Message: "API defined twice"})
				continue
			}
			out.APIs[name] = api
		}
		for id, g := range doc.Grammars {
			if _, ok := out.Grammars[id]; ok {
				dups = append(dups, compiler.ValidationError{Field: "grammars." + id, Code: compiler.ErrDuplicateName, Message: "grammar rule defined twice"})
				continue
			}
			out.Grammars[id] = g
		}
	}
	if len(dups) > 0 {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: "duplicate definitions", Details: dups}
	}
	return out, nil
}

// New builds a store from a merged document.
func New(doc *ir.SpecDocument, opts ...Option) (*Store, error) {
	o := options{
		maxDepth: grammar.DefaultMaxDepth,
		retries:  grammar.DefaultRetries,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if errs := compiler.ValidateSpec(doc); len(errs) > 0 {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: "invalid specification", Details: errs}
	}
	if len(doc.APIs) == 0 {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: "specification defines no APIs"}
	}

	engine, err := grammar.New(doc.Grammars, grammar.WithMaxDepth(o.maxDepth), grammar.WithRetries(o.retries))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGrammar, Message: err.Error()}
	}

	s := &Store{
		apis:     make(map[string]*ir.APISpec, len(doc.APIs)),
		objects:  maps.Clone(doc.Objects),
		engine:   engine,
		warnings: compiler.AnalyzeGrammarCycles(doc.Grammars),
	}
	if s.objects == nil {
		s.objects = map[string][]string{}
	}
	for name, def := range doc.APIs {
		obj, member, _ := ir.SplitAPIName(name)
		kind := def.Kind
		if kind == "" {
			kind = ir.APIMethod
		}
		s.apis[name] = &ir.APISpec{
			Name:       name,
			Object:     obj,
			Member:     member,
			Kind:       kind,
			Parameters: slices.Clone(def.Parameters),
			ReturnType: def.ReturnType,
		}
		s.names = append(s.names, name)
	}
	slices.Sort(s.names)

	for _, w := range s.warnings {
		o.logger.Debug("recursive grammar", "rule", w.Rule, "path", strings.Join(w.Path, " -> "))
	}
	o.logger.Info("specification loaded",
		"apis", len(s.apis),
		"grammars", len(doc.Grammars),
		"objects", len(s.objects),
		"recursive_rules", len(s.warnings))
	return s, nil
}

// API returns the specification of name.
func (s *Store) API(name string) (*ir.APISpec, bool) {
	a, ok := s.apis[name]
	return a, ok
}

// Names returns every API name, sorted.
func (s *Store) Names() []string { return slices.Clone(s.names) }

// Objects returns the object names with declared instances, sorted.
func (s *Store) Objects() []string {
	return slices.Sorted(maps.Keys(s.objects))
}

// Instances returns the static receiver expressions for object. An object
// without declared instances is addressed by its own name.
func (s *Store) Instances(object string) []string {
	if inst := s.objects[object]; len(inst) > 0 {
		return slices.Clone(inst)
	}
	return []string{object}
}

// IsObject reports whether t names an object with declared instances.
func (s *Store) IsObject(t string) bool {
	_, ok := s.objects[t]
	return ok
}

// Grammar returns the compiled grammar rules.
func (s *Store) Grammar() *grammar.Engine { return s.engine }

// Warnings returns the recursive-grammar warnings found at load.
func (s *Store) Warnings() []compiler.CycleWarning { return slices.Clone(s.warnings) }

// Files returns how many documents Load read.
func (s *Store) Files() int { return s.files }
