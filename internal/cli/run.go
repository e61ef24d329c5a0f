package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raodj/musesim/internal/bench"
	"github.com/raodj/musesim/internal/log"
	"github.com/raodj/musesim/internal/manager"
	"github.com/raodj/musesim/internal/metrics"
	"github.com/raodj/musesim/internal/notify"
	"github.com/raodj/musesim/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the PHOLD benchmark workload against a simulation kernel process",
	Long: `Run starts one process's share of a parallel discrete-event
simulation: it builds a Simulation Manager from the given flags (or
config file), registers the PHOLD nearest-neighbor benchmark across an
X-by-Y agent grid, partitions that grid across this process's worker
threads and any configured peer processes, and runs the optimistic
simulation loop until every worker reaches --simEndTime.`,
	RunE: runRun,
}

func init() {
	bindRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	opts, err := loadRunOptions(cmd)
	if err != nil {
		return err
	}

	mgrCfg, err := runConfigToManagerConfig(opts)
	if err != nil {
		return err
	}

	logger := log.WithComponent("cli")

	broker := notify.NewBroker()
	defer broker.Stop()
	mgrCfg.Notifier = broker

	rollbacks := broker.Subscribe()
	go func() {
		for evt := range rollbacks {
			logger.Debug().Str("kind", string(evt.Kind)).Float64("at", float64(evt.At)).
				Int("rank", evt.Rank).Uint32("agent", uint32(evt.AgentID)).Msg("kernel event")
		}
	}()

	mgr, err := manager.NewManager(mgrCfg)
	if err != nil {
		return fmt.Errorf("cli: creating manager: %w", err)
	}

	total := opts.gridX * opts.gridY
	for id := 0; id < total; id++ {
		a := bench.NewPholdAgent(types.AgentID(id), opts.gridX, opts.gridY, opts.initialEvents, types.Time(opts.simEndTime))
		if err := mgr.RegisterAgent(types.AgentID(id), a, nil, -1); err != nil {
			return fmt.Errorf("cli: registering agent %d: %w", id, err)
		}
	}

	if err := mgr.Initialize(); err != nil {
		return fmt.Errorf("cli: initializing manager: %w", err)
	}
	logger.Info().
		Int("grid", total).
		Ints("localRanks", mgr.LocalRanks()).
		Msg("manager initialized")

	collector := metrics.NewCollector(mgr, 0)
	collector.Start()
	logger.Info().Msg("metrics collector started")

	metricsServer := metrics.NewServer(opts.metricsAddr)
	metricsErrCh := make(chan error, 1)
	metricsServer.Start(metricsErrCh)
	logger.Info().Str("addr", opts.metricsAddr).Msg("metrics server listening")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	simDone := make(chan error, 1)
	go func() {
		simDone <- mgr.Simulate(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var simErr error
	select {
	case simErr = <-simDone:
		if simErr != nil {
			logger.Error().Err(simErr).Msg("simulation ended with an error")
		} else {
			logger.Info().Msg("simulation reached simEndTime")
		}
	case sig := <-sigCh:
		logger.Warn().Str("signal", sig.String()).Msg("interrupted, cancelling simulation")
		cancel()
		simErr = <-simDone
	case err := <-metricsErrCh:
		logger.Error().Err(err).Msg("metrics server failed")
		cancel()
		simErr = <-simDone
	}

	collector.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown error")
	}

	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("cli: shutting down manager: %w", err)
	}

	return simErr
}
