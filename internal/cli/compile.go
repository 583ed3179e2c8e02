package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/voltlab/exprjl/internal/cache"
	"github.com/voltlab/exprjl/internal/emit"
	"github.com/voltlab/exprjl/internal/loader"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	FuncName          string
	DifferentialCount int
	Preallocate       bool
	Round             bool
	Params            []string
	Output            string
	CachePath         string
	Manifest          string
}

// CompileResult describes one compiled model for JSON output.
type CompileResult struct {
	Source   string `json:"source"`
	FuncName string `json:"funcname"`
	Mode     string `json:"mode"`
	Cached   bool   `json:"cached"`
	Output   string `json:"output,omitempty"`
	Code     string `json:"code,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile [model.cue]",
		Short: "Compile a model file to a Julia procedure",
		Long: `Compile a CUE model file into the text of an allocation-free Julia
procedure for use inside an ODE or DAE solver.

With --manifest, compiles every model listed in a YAML build manifest
instead of a single file.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.FuncName, "name", "f", "base name of the generated procedure")
	cmd.Flags().IntVar(&opts.DifferentialCount, "dae", -1, "differential state count for DAE mode (negative for ODE)")
	cmd.Flags().BoolVar(&opts.Preallocate, "preallocate", true, "reuse fixed buffers across calls")
	cmd.Flags().BoolVar(&opts.Round, "round", true, "round constants for diff-stable output")
	cmd.Flags().StringSliceVar(&opts.Params, "params", nil, "input parameter unpack order")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	cmd.Flags().StringVar(&opts.CachePath, "cache", "", "compile cache database path")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "YAML build manifest path")

	return cmd
}

func runCompile(opts *CompileOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var c *cache.Cache
	if opts.CachePath != "" {
		var err error
		c, err = cache.Open(opts.CachePath)
		if err != nil {
			return formatter.Fail(ExitCommandError, "open cache", err)
		}
		defer c.Close()
	}

	if opts.Manifest != "" {
		if len(args) > 0 {
			return formatter.Fail(ExitCommandError, "pass either a model file or --manifest, not both", nil)
		}
		return runManifest(opts, formatter, c)
	}
	if len(args) == 0 {
		return formatter.Fail(ExitCommandError, "model file argument is required", nil)
	}

	genOpts := emit.Options{
		FuncName:            opts.FuncName,
		InputParameterOrder: opts.Params,
		DifferentialCount:   opts.DifferentialCount,
		Preallocate:         opts.Preallocate,
		RoundConstants:      opts.Round,
	}
	result, err := compileOne(args[0], genOpts, opts.Output, formatter, c)
	if err != nil {
		return err
	}
	return emitResult(formatter, result)
}

func runManifest(opts *CompileOptions, formatter *OutputFormatter, c *cache.Cache) error {
	manifest, err := loader.LoadManifest(opts.Manifest)
	if err != nil {
		return formatter.Fail(ExitCommandError, "load manifest", err)
	}
	formatter.VerboseLog("Manifest lists %d model(s)", len(manifest.Models))

	baseDir := filepath.Dir(opts.Manifest)
	var results []CompileResult
	for _, entry := range manifest.Models {
		genOpts := emit.DefaultOptions()
		if entry.FuncName != "" {
			genOpts.FuncName = entry.FuncName
		}
		if entry.DifferentialCount != nil {
			genOpts.DifferentialCount = *entry.DifferentialCount
		}
		if entry.Preallocate != nil {
			genOpts.Preallocate = *entry.Preallocate
		}
		if entry.RoundConstants != nil {
			genOpts.RoundConstants = *entry.RoundConstants
		}
		genOpts.InputParameterOrder = entry.Params

		source := filepath.Join(baseDir, entry.Source)
		output := entry.Output
		if output != "" {
			output = filepath.Join(baseDir, output)
		}
		result, err := compileOne(source, genOpts, output, formatter, c)
		if err != nil {
			return err
		}
		results = append(results, result)
	}

	text := ""
	for _, r := range results {
		if r.Output == "" {
			text += r.Code
		} else {
			text += fmt.Sprintf("compiled %s -> %s (%s)\n", r.Source, r.Output, r.FuncName)
		}
	}
	return formatter.Success(results, text)
}

func compileOne(source string, genOpts emit.Options, output string, formatter *OutputFormatter, c *cache.Cache) (CompileResult, error) {
	model, err := loader.LoadFile(source)
	if err != nil {
		return CompileResult{}, formatter.Fail(ExitCommandError, "load model", err)
	}
	if len(genOpts.InputParameterOrder) == 0 {
		genOpts.InputParameterOrder = model.Params
	}
	formatter.VerboseLog("Loaded %s: %d node(s), state length %d", source, model.Arena.Len(), model.StateLen)

	mode := "ode"
	if genOpts.DAE() {
		mode = "dae"
	}
	result := CompileResult{
		Source:   source,
		FuncName: genOpts.FuncName,
		Mode:     mode,
		Output:   output,
	}

	var key string
	ctx := context.Background()
	if c != nil {
		key = cache.Key(model.Arena, model.Root, genOpts)
		if code, ok, err := c.Get(ctx, key); err != nil {
			return CompileResult{}, formatter.Fail(ExitCommandError, "read cache", err)
		} else if ok {
			formatter.VerboseLog("Cache hit for %s", source)
			result.Cached = true
			result.Code = code
			return result, writeOutput(result, output, formatter)
		}
	}

	code, err := emit.Generate(model.Arena, model.Root, genOpts)
	if err != nil {
		return CompileResult{}, formatter.Fail(ExitFailure, "compile model", err)
	}
	result.Code = code

	if c != nil {
		if err := c.Put(ctx, key, genOpts.FuncName, code); err != nil {
			return CompileResult{}, formatter.Fail(ExitCommandError, "write cache", err)
		}
	}
	return result, writeOutput(result, output, formatter)
}

func writeOutput(result CompileResult, output string, formatter *OutputFormatter) error {
	if output == "" {
		return nil
	}
	if err := os.WriteFile(output, []byte(result.Code), 0o644); err != nil {
		return formatter.Fail(ExitCommandError, "write output", err)
	}
	return nil
}

func emitResult(formatter *OutputFormatter, result CompileResult) error {
	if result.Output != "" {
		return formatter.Success(result,
			fmt.Sprintf("compiled %s -> %s (%s)\n", result.Source, result.Output, result.FuncName))
	}
	return formatter.Success(result, result.Code+"\n")
}
