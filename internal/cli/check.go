package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voltlab/exprjl/internal/loader"
	"github.com/voltlab/exprjl/internal/lower"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Round bool
}

// CheckResult summarizes a model's lowering for JSON output.
type CheckResult struct {
	Source    string `json:"source"`
	Nodes     int    `json:"nodes"`
	StateLen  int    `json:"state_len"`
	Constants int    `json:"constants"`
	Variables int    `json:"variables"`
}

// NewCheckCommand creates the check command. Check loads and lowers a
// model without generating code, so it reports exactly the failures
// compile would, faster.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "check <model.cue>",
		Short:         "Validate a model file without generating code",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Round, "round", true, "round constants as compile would")

	return cmd
}

func runCheck(opts *CheckOptions, source string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	model, err := loader.LoadFile(source)
	if err != nil {
		return formatter.Fail(ExitCommandError, "load model", err)
	}

	res, err := lower.Lower(model.Arena, model.Root, opts.Round)
	if err != nil {
		return formatter.Fail(ExitFailure, "lower model", err)
	}

	result := CheckResult{
		Source:    source,
		Nodes:     model.Arena.Len(),
		StateLen:  model.StateLen,
		Constants: res.Constants.Len(),
		Variables: res.Variables.Len(),
	}
	text := fmt.Sprintf("%s: ok (%d nodes, %d constants, %d variables)\n",
		source, result.Nodes, result.Constants, result.Variables)
	return formatter.Success(result, text)
}
