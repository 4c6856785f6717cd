package commands

import (
	"github.com/spf13/cobra"

	"github.com/microcell/microcell/pkg/config"
	"github.com/microcell/microcell/pkg/emulators"
	"github.com/microcell/microcell/pkg/runner"
	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/stores"
	"github.com/microcell/microcell/pkg/telemetry"
	"github.com/microcell/microcell/pkg/workcell"
)

func newRunCommand() *cobra.Command {
	var inMemory bool
	var withEmulators bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator with the built-in workcell model",
		Long: `Installs the gantry + robot workcell model into the shared state and
starts every engine: goal runner, plan runner, auto engine, SOP engine and
timer service. With --emulators the in-process gantry and robot emulators
answer the driver handshakes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if verbose {
				cfg.Logging.Level = "debug"
			}
			if inMemory {
				cfg.Backend = "memory"
			}

			log, err := telemetry.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			metrics := telemetry.NewMetrics(cfg.Metrics)

			var backend store.Backend
			switch cfg.Backend {
			case "memory":
				backend = store.NewMemoryBackend()
			default:
				backend = store.NewRedisBackend(cfg.Redis)
			}
			defer backend.Close()
			sm := store.NewStateManager(backend, log, metrics)

			var sink runner.EventSink = runner.NopSink{}
			if cfg.Events.Enabled {
				eventStore, err := stores.NewEventStore(cfg.EventsConfig())
				if err != nil {
					return err
				}
				if err := eventStore.Init(cmd.Context()); err != nil {
					return err
				}
				defer eventStore.Close()
				if err := eventStore.Migrate(cmd.Context()); err != nil {
					return err
				}
				sink = eventStore
			}

			m := workcell.NominalModel(cfg.SPID)
			initial := workcell.FullInitialState()
			if _, err := runner.InstallModel(cmd.Context(), sm, m, initial, cfg.NumTimers); err != nil {
				return err
			}
			log.Infof("model %s installed (%d operations)", cfg.SPID, len(m.Operations))

			if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
				go func() {
					if err := metrics.Serve(); err != nil {
						log.WithError(err).Warn("metrics listener stopped")
					}
				}()
			}

			if withEmulators {
				period := config.TickPeriod(cfg.Ticks.AutoMs)
				go emulators.NewGantryEmulator(sm, period, log).Run(cmd.Context())
				go emulators.NewRobotEmulator(sm, period, log).Run(cmd.Context())
			}

			orch := runner.NewOrchestrator(m, sm, log, runner.Options{
				Ticks: runner.TickPeriods{
					Goal:  config.TickPeriod(cfg.Ticks.GoalMs),
					Plan:  config.TickPeriod(cfg.Ticks.PlanMs),
					Auto:  config.TickPeriod(cfg.Ticks.AutoMs),
					SOP:   config.TickPeriod(cfg.Ticks.SOPMs),
					Timer: config.TickPeriod(cfg.Ticks.TimerMs),
				},
				PlannerMaxDepth: cfg.Planner.MaxDepth,
				NumTimers:       cfg.NumTimers,
				Metrics:         metrics,
				Sink:            sink,
			})
			orch.Run(cmd.Context())
			return nil
		},
	}

	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "use the in-process state backend instead of redis")
	cmd.Flags().BoolVar(&withEmulators, "emulators", true, "run the gantry and robot emulators in-process")
	return cmd
}
