package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microcell/microcell/pkg/config"
	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/runner"
	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/telemetry"
)

func newStateCommand() *cobra.Command {
	var trace string

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Dump the shared state or render an operation trace",
		Long: `Without flags, prints every state variable in key order. With --trace,
renders one of the persisted structured logs (planned, automatic,
transitions, sop, sop-agg) as terminal boxes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			backend := store.NewRedisBackend(cfg.Redis)
			defer backend.Close()
			sm := store.NewStateManager(backend, telemetry.Nop(), nil)

			s, ok := sm.GetFullState(cmd.Context())
			if !ok {
				_, lastErr := sm.Health()
				return fmt.Errorf("state backend unavailable: %w", lastErr)
			}

			if trace != "" {
				k := model.RunnerKeys{SPID: cfg.SPID}
				var key string
				switch trace {
				case "planned":
					key = k.LoggerPlannedOperations()
				case "automatic":
					key = k.LoggerAutomaticOperations()
				case "transitions":
					key = k.LoggerAutomaticTransitions()
				case "sop":
					key = k.LoggerSOPOperations()
				case "sop-agg":
					key = k.LoggerSOPOperationsAgg()
				default:
					return fmt.Errorf("unknown trace %q", trace)
				}
				raw := s.GetStringOrDefaultToUnknown(key)
				if raw == "UNKNOWN" {
					fmt.Fprintln(cmd.OutOrStdout(), "no trace recorded")
					return nil
				}
				traces, err := runner.ParseTraces(raw)
				if err != nil {
					return fmt.Errorf("malformed trace payload: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), runner.FormatTraces(traces))
				return nil
			}

			if jsonOutput {
				out, err := json.MarshalIndent(s.Assignments(), "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			for _, key := range s.SortedKeys() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, s.Value(key).String())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&trace, "trace", "", "render a structured log: planned, automatic, transitions, sop, sop-agg")
	return cmd
}
