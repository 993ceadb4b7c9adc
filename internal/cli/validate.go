package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/load/engine"
)

func newValidateCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file without sending traffic",
		Long: `Load a configuration file, apply variables and defaults, and check every
scenario, request, check and threshold. Threshold references to unknown
metrics or checks are reported here, before any traffic is sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configFile == "" {
				return &ExitError{Code: engine.ExitEngineError, Err: fmt.Errorf("--config is required")}
			}
			cfg, err := loadTestConfig(opts)
			if err != nil {
				return &ExitError{Code: engine.ExitEngineError, Err: err}
			}
			plan, err := engine.FromConfig(cfg)
			if err != nil {
				return &ExitError{Code: engine.ExitEngineError, Err: err}
			}
			if _, err := engine.New(plan); err != nil {
				return &ExitError{Code: engine.ExitEngineError, Err: err}
			}

			thresholds := 0
			for _, exprs := range plan.Thresholds {
				thresholds += len(exprs)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid: %d scenario(s), %d threshold(s)\n",
				opts.configFile, len(plan.Scenarios), thresholds)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	cmd.Flags().StringArrayVarP(&opts.env, "env", "e", nil, "Variable as KEY=VALUE, repeatable")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Base URL of the service under test")
	return cmd
}
