package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/probe"
)

// errUnreachable makes the process exit non-zero without a usage dump.
var errUnreachable = errors.New("endpoint unreachable")

func newProbeCmd(g *globals) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe [endpoint]",
		Short: "Check that the collector endpoint accepts connections",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := g.cfg.Tracing.Endpoint
			if len(args) == 1 {
				endpoint = args[0]
			}
			if timeout <= 0 {
				timeout = g.cfg.Tracing.ConnectTimeout
			}
			if hp, err := config.HostPort(endpoint); err == nil {
				endpoint = hp
			}

			res := probe.Check(cmd.Context(), endpoint, timeout)
			if g.format != "text" {
				if err := printStructured(cmd.OutOrStdout(), g.format, probeView{
					Endpoint:  res.Endpoint,
					Reachable: res.Reachable,
					LatencyMS: float64(res.Latency.Microseconds()) / 1000,
					Error:     res.Error(),
				}); err != nil {
					return err
				}
			} else if res.Reachable {
				cmd.Printf("%s reachable (%s)\n", res.Endpoint, res.Latency.Round(time.Microsecond))
			} else {
				cmd.Printf("%s unreachable: %s\n", res.Endpoint, res.Error())
			}
			if !res.Reachable {
				return fmt.Errorf("%w: %s", errUnreachable, res.Endpoint)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Connect timeout (defaults to the configured connect timeout)")
	return cmd
}

type probeView struct {
	Endpoint  string  `json:"endpoint" yaml:"endpoint"`
	Reachable bool    `json:"reachable" yaml:"reachable"`
	LatencyMS float64 `json:"latency_ms" yaml:"latency_ms"`
	Error     string  `json:"error,omitempty" yaml:"error,omitempty"`
}
