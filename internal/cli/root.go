// Package cli implements the stampede command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/load/engine"
)

var version = "0.1.0"

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "stampede",
		Short:   "A load generator for HTTP services",
		Version: version,
		Long: `Stampede drives synthetic traffic against an HTTP service according to a
declared workload model, checks every response, aggregates latency and
error statistics, and evaluates pass/fail thresholds at the end of the run.

Exit codes: 0 when every threshold passed, 99 when a threshold failed or
could not be evaluated, 1 on configuration or engine errors.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newExecutorsCmd())
	return root
}

// Execute runs the command line with args and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return engine.ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "Error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return engine.ExitEngineError
}

// Main runs the command line with the process arguments.
func Main() int {
	return Execute(os.Args[1:], os.Stdout, os.Stderr)
}
