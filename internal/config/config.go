// Package config loads the campaign configuration file.
//
// A file is decoded over Default(), so every key is optional except the
// target command. Relative paths resolve against the file's directory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the whole campaign configuration.
type Config struct {
	Target   Target   `yaml:"target"`
	Campaign Campaign `yaml:"campaign"`
	Planner  Planner  `yaml:"planner"`
	Monitor  Monitor  `yaml:"monitor"`
	Paths    Paths    `yaml:"paths"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Target describes the application under test.
type Target struct {
	Name          string   `yaml:"name" validate:"required"`
	Command       []string `yaml:"command" validate:"required,min=1,dive,required"`
	Env           []string `yaml:"env" validate:"dive,contains=="`
	ErrorPatterns []string `yaml:"error_patterns"`
	Heartbeat     string   `yaml:"heartbeat"`
	DumpCommand   []string `yaml:"dump_command"`
}

type Campaign struct {
	Count            int     `yaml:"count" validate:"gte=0"`
	Length           int     `yaml:"length" validate:"gt=0"`
	Mode             string  `yaml:"mode" validate:"oneof=grammar-only relation relation+symbolic"`
	Seed             int64   `yaml:"seed"`
	Format           string  `yaml:"format" validate:"oneof=pdf js"`
	Instances        int     `yaml:"instances" validate:"gte=0"`
	GenWorkers       int     `yaml:"gen_workers" validate:"gte=1,lte=256"`
	ExecSlots        int     `yaml:"exec_slots" validate:"gte=1,lte=64"`
	GrammarOnlyRatio float64 `yaml:"grammar_only_ratio" validate:"gte=0,lte=1"`
	Dry              bool    `yaml:"dry"`
}

// Planner tunes sequence generation. Zero values keep the planner's
// defaults.
type Planner struct {
	WeakBias        float64       `yaml:"weak_bias" validate:"gte=0,lte=1"`
	TopK            int           `yaml:"top_k" validate:"gte=0"`
	LoopProbability float64       `yaml:"loop_probability" validate:"gte=0,lte=1"`
	HookMin         int           `yaml:"hook_min" validate:"gte=0"`
	HookMax         int           `yaml:"hook_max" validate:"gtefield=HookMin"`
	MaxDepth        int           `yaml:"max_depth" validate:"gte=0"`
	RetroPolicy     string        `yaml:"retro_policy" validate:"oneof=accept resolve"`
	SolverTimeout   time.Duration `yaml:"solver_timeout" validate:"gte=0"`
}

type Monitor struct {
	HangTimeout       time.Duration `yaml:"hang_timeout" validate:"gt=0"`
	PollInterval      time.Duration `yaml:"poll_interval" validate:"gt=0,ltfield=HangTimeout"`
	ObservationWindow time.Duration `yaml:"observation_window" validate:"gte=0"`
	ErrorGrace        time.Duration `yaml:"error_grace" validate:"gte=0"`
}

type Paths struct {
	Specs     string `yaml:"specs" validate:"required"`
	Relations string `yaml:"relations"`
	Blocklist string `yaml:"blocklist"`
	Limitlist string `yaml:"limitlist"`
	Corpus    string `yaml:"corpus" validate:"required"`
	Archive   string `yaml:"archive" validate:"required"`
	RunLog    string `yaml:"runlog"`
	DB        string `yaml:"db"`
}

type Metrics struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Campaign: Campaign{
			Count:            30000,
			Length:           2048,
			Mode:             "relation+symbolic",
			Seed:             1,
			Format:           "pdf",
			Instances:        10,
			GenWorkers:       4,
			ExecSlots:        1,
			GrammarOnlyRatio: 0.2,
		},
		Planner: Planner{
			WeakBias:        0.9,
			TopK:            5,
			LoopProbability: 0.05,
			HookMin:         2,
			HookMax:         8,
			RetroPolicy:     "accept",
			SolverTimeout:   2 * time.Second,
		},
		Monitor: Monitor{
			HangTimeout:  120 * time.Second,
			PollInterval: time.Second,
		},
		Paths: Paths{
			Specs:     "config/specs",
			Relations: "config/relations.json",
			Corpus:    "test",
			Archive:   "save",
			RunLog:    "runlog.txt",
			DB:        "runlog.db",
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Paths.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes a configuration over Default and validates it. Unknown
// keys are errors.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (p *Paths) resolve(base string) {
	for _, f := range []*string{&p.Specs, &p.Relations, &p.Blocklist, &p.Limitlist, &p.Corpus, &p.Archive, &p.RunLog, &p.DB} {
		if *f != "" && !filepath.IsAbs(*f) {
			*f = filepath.Join(base, *f)
		}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field ranges and the rules that span sections.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &ValidationError{Fields: fieldErrors(verrs)}
		}
		return err
	}
	if c.Campaign.Mode != "grammar-only" && c.Paths.Relations == "" {
		return &ValidationError{Fields: []FieldError{{
			Field:   "paths.relations",
			Message: fmt.Sprintf("required when campaign.mode is %s", c.Campaign.Mode),
		}}}
	}
	return nil
}

// FieldError is one rejected setting.
type FieldError struct {
	Field   string // dotted yaml path
	Message string
}

// ValidationError lists every rejected setting.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func fieldErrors(verrs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		// Namespace is "Config.campaign.mode"; drop the root type.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		out[i] = FieldError{Field: field, Message: describe(fe)}
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "min":
		return "needs at least " + fe.Param() + " entries"
	case "gtefield":
		return "must be at least " + fe.Param()
	case "ltfield":
		return "must be less than " + fe.Param()
	case "hostname_port":
		return "must be host:port"
	case "contains":
		return "must be KEY=VALUE"
	default:
		return "failed " + fe.Tag()
	}
}
