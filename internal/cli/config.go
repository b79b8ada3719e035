package cli

import (
	"github.com/spf13/cobra"
)

func newConfigCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			format := g.format
			if format == "text" {
				format = "yaml"
			}
			if err := g.cfg.Tracing.Validate(); err != nil {
				cmd.PrintErrf("warning: %v\n", err)
			}
			return printStructured(cmd.OutOrStdout(), format, g.cfg)
		},
	}
}
