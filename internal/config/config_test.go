package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load("testdata/campaign.yaml")
	require.NoError(t, err)

	assert.Equal(t, "reader", cfg.Target.Name)
	assert.Equal(t, []string{"/opt/reader/bin/reader", "-open", "{artifact}"}, cfg.Target.Command)
	assert.Equal(t, 500, cfg.Campaign.Count)
	assert.Equal(t, "relation", cfg.Campaign.Mode)
	assert.Equal(t, int64(7), cfg.Campaign.Seed)
	assert.Equal(t, 2, cfg.Campaign.ExecSlots)
	assert.Equal(t, 30*time.Second, cfg.Monitor.HangTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.PollInterval)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)

	// Untouched keys keep their defaults.
	assert.Equal(t, 2048, cfg.Campaign.Length)
	assert.Equal(t, "pdf", cfg.Campaign.Format)
	assert.Equal(t, 0.2, cfg.Campaign.GrammarOnlyRatio)
	assert.Equal(t, "accept", cfg.Planner.RetroPolicy)

	// Relative paths resolve against the file, absolute ones stay.
	assert.Equal(t, filepath.Join("testdata", "specs"), cfg.Paths.Specs)
	assert.Equal(t, filepath.Join("testdata", "relations.json"), cfg.Paths.Relations)
	assert.Equal(t, "/var/tmp/corpus", cfg.Paths.Corpus)
	assert.Equal(t, filepath.Join("testdata", "save"), cfg.Paths.Archive)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("target:\n  name: r\n  command: [r]\n  colour: red\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestParseRequiresCommand(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	fields := map[string]string{}
	for _, f := range ve.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "is required", fields["target.name"])
	assert.Contains(t, fields, "target.command")
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown mode", func(c *Config) { c.Campaign.Mode = "random" }, "campaign.mode"},
		{"unknown format", func(c *Config) { c.Campaign.Format = "doc" }, "campaign.format"},
		{"zero length", func(c *Config) { c.Campaign.Length = 0 }, "campaign.length"},
		{"ratio above one", func(c *Config) { c.Campaign.GrammarOnlyRatio = 1.5 }, "campaign.grammar_only_ratio"},
		{"no workers", func(c *Config) { c.Campaign.GenWorkers = 0 }, "campaign.gen_workers"},
		{"hook range", func(c *Config) { c.Planner.HookMin, c.Planner.HookMax = 5, 2 }, "planner.hook_max"},
		{"retro policy", func(c *Config) { c.Planner.RetroPolicy = "maybe" }, "planner.retro_policy"},
		{"poll slower than hang", func(c *Config) { c.Monitor.PollInterval = time.Hour }, "monitor.poll_interval"},
		{"bad metrics addr", func(c *Config) { c.Metrics.Addr = "localhost" }, "metrics.addr"},
		{"env without equals", func(c *Config) { c.Target.Env = []string{"DISPLAY"} }, "target.env[0]"},
		{"relations needed", func(c *Config) { c.Paths.Relations = "" }, "paths.relations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Target = Target{Name: "reader", Command: []string{"reader", "{artifact}"}}
			require.NoError(t, cfg.Validate())

			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			var got []string
			for _, f := range ve.Fields {
				got = append(got, f.Field)
			}
			assert.Contains(t, got, tt.field)
		})
	}
}

func TestGrammarOnlyNeedsNoRelations(t *testing.T) {
	cfg := Default()
	cfg.Target = Target{Name: "reader", Command: []string{"reader"}}
	cfg.Campaign.Mode = "grammar-only"
	cfg.Paths.Relations = ""
	assert.NoError(t, cfg.Validate())
}
