package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/scriptfuzz/internal/compiler"
	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/spec"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output    string // output file path
	Relations string // relationship document to compile alongside
}

// CompilationResult is the merged specification and, when requested, the
// relationship document, both after schema validation.
type CompilationResult struct {
	Spec      *ir.SpecDocument      `json:"spec"`
	Relations *ir.RelationsDocument `json:"relations,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <specs-dir>",
		Short: "Compile specification documents into one JSON document",
		Long: `Compile every .json and .cue specification document under a directory,
validate it against the schema, merge the documents and write the result as
a single JSON document. With --relations the relationship document is
compiled and checked against the merged specification too.

Example:
  scriptfuzz compile ./config/specs -o merged.json
  scriptfuzz compile ./config/specs --relations ./config/relations.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	cmd.Flags().StringVar(&opts.Relations, "relations", "", "relationship document to compile")

	return cmd
}

func runCompile(opts *CompileOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	files, err := spec.FindDocuments(specsDir)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeSpecs, "cannot scan specification directory", err)
	}
	if len(files) == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeSpecs, fmt.Sprintf("no .json or .cue documents in %s", specsDir), nil)
	}
	formatter.VerboseLog("Found %d document(s) in %s", len(files), specsDir)

	docs := make([]*ir.SpecDocument, 0, len(files))
	for _, f := range files {
		formatter.VerboseLog("Compiling %s", f)
		doc, err := compiler.CompileSpecFile(f)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeSpecs, "compilation failed", err)
		}
		docs = append(docs, doc)
	}
	merged, err := spec.Merge(docs...)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSpecs, "merge failed", err)
	}
	if errs := compiler.ValidateSpec(merged); len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}
	result := CompilationResult{Spec: merged}

	if opts.Relations != "" {
		rel, err := compiler.CompileRelationsFile(opts.Relations)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeRelation, "relationship compilation failed", err)
		}
		if errs := compiler.ValidateRelations(rel); len(errs) > 0 {
			return outputValidationErrors(formatter, errs)
		}
		result.Relations = rel
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "encoding failed", err)
	}
	data = append(data, '\n')

	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "cannot write output", err)
	}
	return formatter.Success(fmt.Sprintf("✓ compiled %d API(s) from %d document(s) to %s", len(merged.APIs), len(files), opts.Output))
}
