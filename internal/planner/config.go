package planner

import (
	"fmt"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// RetroPolicy decides what happens to an earlier grammar-fallback value
// once a later call makes its constraint unsatisfiable.
type RetroPolicy string

const (
	// RetroAccept keeps the earlier value; the later parameter falls back.
	RetroAccept RetroPolicy = "accept"
	// RetroResolve frees earlier fallback values and solves them again
	// together with every constraint that touches them.
	RetroResolve RetroPolicy = "resolve"
)

// Defaults for Config.
const (
	DefaultLength          = 2048
	DefaultWeakBias        = 0.9
	DefaultTopK            = 5
	DefaultMaxCallAttempts = 16
	DefaultLoopProbability = 0.05
	DefaultHookMin         = 2
	DefaultHookMax         = 8
	DefaultDomainLimit     = 64
)

// Config tunes sequence generation.
type Config struct {
	Length          int     // calls per sequence
	WeakBias        float64 // probability of following a weak edge
	TopK            int     // neighbours considered per weak step
	MaxCallAttempts int     // failed selections tolerated per position
	LoopProbability float64 // chance of wrapping a call in a loop
	HookMin         int     // nested calls per script argument
	HookMax         int
	MaxDepth        int // grammar depth budget; 0 uses the engine default
	DomainLimit     int // enumerated words offered to the solver
	RetroPolicy     RetroPolicy
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		Length:          DefaultLength,
		WeakBias:        DefaultWeakBias,
		TopK:            DefaultTopK,
		MaxCallAttempts: DefaultMaxCallAttempts,
		LoopProbability: DefaultLoopProbability,
		HookMin:         DefaultHookMin,
		HookMax:         DefaultHookMax,
		DomainLimit:     DefaultDomainLimit,
		RetroPolicy:     RetroAccept,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Length <= 0:
		return fmt.Errorf("length must be positive, got %d", c.Length)
	case c.WeakBias < 0 || c.WeakBias > 1:
		return fmt.Errorf("weak bias must be in [0, 1], got %v", c.WeakBias)
	case c.LoopProbability < 0 || c.LoopProbability > 1:
		return fmt.Errorf("loop probability must be in [0, 1], got %v", c.LoopProbability)
	case c.MaxCallAttempts <= 0:
		return fmt.Errorf("max call attempts must be positive, got %d", c.MaxCallAttempts)
	case c.HookMin < 0 || c.HookMax < c.HookMin:
		return fmt.Errorf("hook size range [%d, %d] is invalid", c.HookMin, c.HookMax)
	case c.RetroPolicy != RetroAccept && c.RetroPolicy != RetroResolve:
		return fmt.Errorf("unknown retro policy %q", c.RetroPolicy)
	}
	return nil
}

// ValidMode reports whether m is a generation mode.
func ValidMode(m ir.Mode) bool { return ir.ValidModes[m] }
