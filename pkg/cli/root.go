package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/downfa11-org/cursus-queue/pkg/config"
	"github.com/downfa11-org/cursus-queue/pkg/metrics"
	"github.com/downfa11-org/cursus-queue/pkg/queue"
	"github.com/downfa11-org/cursus-queue/pkg/rollcycle"
	"github.com/downfa11-org/cursus-queue/util"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Dir        string
	RollCycle  string
	LogLevel   string
	Exporter   bool
}

// NewRootCommand creates the root command for the cqueue CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cqueue",
		Short: "cqueue - inspect and feed a rolling record queue",
		Long:  "Append to, tail, count and prune a directory of memory-mapped cycle files.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.RollCycle != "" {
				if _, ok := rollcycle.ByName(opts.RollCycle); !ok {
					return fmt.Errorf("unknown roll cycle %q", opts.RollCycle)
				}
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (yaml or json)")
	cmd.PersistentFlags().StringVarP(&opts.Dir, "dir", "d", "", "queue directory")
	cmd.PersistentFlags().StringVar(&opts.RollCycle, "roll-cycle", "", "roll cycle for new queues (e.g. DAILY, HOURLY)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.Exporter, "exporter", false, "serve prometheus metrics while the command runs")

	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewTailCommand(opts))
	cmd.AddCommand(NewBoundsCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewCyclesCommand(opts))
	cmd.AddCommand(NewRetainCommand(opts))
	cmd.AddCommand(NewCheckpointsCommand(opts))

	return cmd
}

// loadConfig layers the global flags over the config file and environment.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.Dir != "" {
		cfg.QueueDir = o.Dir
	}
	if o.RollCycle != "" {
		cfg.RollCycle = strings.ToUpper(o.RollCycle)
	}
	if o.LogLevel != "" {
		cfg.LogLevel = util.ParseLogLevel(o.LogLevel)
	}
	if o.Exporter {
		cfg.EnableExporter = true
	}
	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// openQueue opens the configured queue. The returned func closes it and
// stops the exporter.
func (o *RootOptions) openQueue(readOnly bool) (*queue.Queue, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg.ReadOnly = cfg.ReadOnly || readOnly

	q, err := queue.Open(cfg)
	if err != nil {
		return nil, nil, err
	}

	stop := func() {}
	if cfg.EnableExporter {
		srv := metrics.StartMetricsServer(cfg.ExporterPort)
		stop = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}
	}

	return q, func() {
		if err := q.Close(); err != nil {
			util.Warn("close queue: %v", err)
		}
		stop()
	}, nil
}
