// Package cli contains the autotrace operator commands.
package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/config"
)

// Version is set at build time with -ldflags.
var Version = "1.0.0"

type globals struct {
	configPath  string
	serviceName string
	endpoint    string
	debug       bool
	format      string

	cfg *config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "autotrace",
		Short: "autotrace - tracing agent operator tool",
		Long: `autotrace inspects and exercises the tracing agent's configuration
and export paths.

Examples:
  # Check that the collector accepts connections
  autotrace probe --endpoint otel-collector:4317

  # Show the effective configuration
  autotrace config -o yaml

  # Follow spans published to Kafka
  autotrace tail --brokers kafka:9092 --topic traces
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML or TOML config file")
	pf.StringVar(&g.serviceName, "service-name", "", "Service name reported on spans")
	pf.StringVar(&g.endpoint, "endpoint", "", "OTLP/gRPC collector endpoint (host:port)")
	pf.BoolVar(&g.debug, "debug", false, "Enable console span output")
	pf.StringVarP(&g.format, "output", "o", "text", "Output format (text, json, yaml)")

	root.AddCommand(
		newProbeCmd(g),
		newTailCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI.
func Execute(args []string, stdout, stderr io.Writer) error {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.Execute()
}

func (g *globals) load() error {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if g.serviceName != "" {
		cfg.Tracing.ServiceName = g.serviceName
	}
	if g.endpoint != "" {
		cfg.Tracing.Endpoint = g.endpoint
	}
	if g.debug {
		cfg.Tracing.Console = true
	}
	g.cfg = cfg
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("autotrace version %s\n", Version)
		},
	}
}
