// Command space is the command line host for wasm-space resources.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-space/command"
	"github.com/wippyai/wasm-space/config"
	"github.com/wippyai/wasm-space/runtime"
	"github.com/wippyai/wasm-space/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globals holds the persistent flags.
type globals struct {
	configPath string
	output     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "space",
		Short: "Host addressable WebAssembly resources",
		Long: `space hosts a tree of addressable resources: spaces, file systems,
versioned config bundles and WebAssembly apps.

Addresses look like host:name:version:/path and templates add a kind,
e.g. localhost:web<App>. Properties are addressed as host::key.

Quick start:
  space create localhost<Space>
  space create localhost:www<FileSystem>
  space cp index.html localhost:www:/index.html
  space publish localhost:config 1.0.0 routes.zip
  space set localhost::config localhost:config:1.0.0
  space ls localhost

Mutating commands are journaled under state.dir, so separate invocations
share one registry.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file path (default "+config.DefaultPath+" when present)")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", command.FormatText, "output format: text, json or yaml")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log.level")

	root.AddCommand(tupleCommands(g)...)
	root.AddCommand(
		newExportsCmd(g),
		newWITCmd(),
		newConfigCmd(),
		newServeCmd(g),
		newTermCmd(g),
	)
	return root
}

// host is one opened runtime with its ambient stack.
type host struct {
	v       *viper.Viper
	cfg     config.Config
	logger  *zap.Logger
	level   zap.AtomicLevel
	metrics *telemetry.Metrics
	tracing *telemetry.Tracing
	rt      *runtime.Runtime
	exec    *command.Executor
}

// open loads configuration, builds the runtime and replays the journal.
func (g *globals) open(ctx context.Context) (*host, error) {
	v := config.New()
	if g.logLevel != "" {
		v.Set("log.level", g.logLevel)
	}
	cfg, err := config.Load(v, g.configPath)
	if err != nil {
		return nil, err
	}

	logger, level, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	telemetry.SetLogger(logger)

	tracing, err := telemetry.NewTracing(cfg.Telemetry, os.Stderr)
	if err != nil {
		return nil, err
	}

	h := &host{
		v:       v,
		cfg:     cfg,
		logger:  logger,
		level:   level,
		metrics: telemetry.NewMetrics(),
		tracing: tracing,
	}
	h.rt, err = runtime.New(ctx, cfg,
		runtime.WithLogger(logger),
		runtime.WithMetrics(h.metrics),
		runtime.WithTracer(tracing.Tracer()),
	)
	if err != nil {
		return nil, multierr.Append(err, tracing.Shutdown(ctx))
	}

	h.exec = command.NewExecutor(h.rt, h.rt.Journal(), logger.Named("journal"))
	applied, err := h.exec.Replay(ctx)
	if err != nil {
		return nil, multierr.Append(err, h.close(ctx))
	}
	logger.Debug("host opened",
		zap.String("state", cfg.State.Dir),
		zap.Int("replayed", applied))
	return h, nil
}

func (h *host) close(ctx context.Context) error {
	err := multierr.Combine(h.rt.Close(ctx), h.tracing.Shutdown(ctx))
	_ = h.logger.Sync()
	return err
}

// withHost opens a host for the duration of fn.
func (g *globals) withHost(cmd *cobra.Command, fn func(*host) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	h, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, h.close(ctx))
	}()
	return fn(h)
}

func newWITCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wit",
		Short: "Print the WIT description of the guest capability interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), runtime.RenderWIT())
			return err
		},
	}
}

func newConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cfgCmd
}
