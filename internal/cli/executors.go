package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/load/executor"
)

func newExecutorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "executors",
		Short: "List the available executors",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, t := range executor.GetSupportedExecutors() {
				desc := executor.GetExecutorDescription(t)
				if desc == nil {
					continue
				}
				fmt.Fprintf(out, "%s (%s)\n", desc.Type, desc.Name)
				fmt.Fprintf(out, "  %s\n", desc.Description)
				for _, useCase := range desc.UseCases {
					fmt.Fprintf(out, "  - %s\n", useCase)
				}
				fmt.Fprintln(out)
			}
		},
	}
}
