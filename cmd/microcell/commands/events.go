package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microcell/microcell/pkg/config"
	"github.com/microcell/microcell/pkg/stores"
)

func newEventsCommand() *cobra.Command {
	var operation string
	var goals bool
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List persisted diagnostics events",
		Long: `Reads the SQLite diagnostics store written by a run with events
enabled and lists operation state-machine events (newest first), optionally
filtered by operation, or goal outcomes with --goals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			eventStore, err := stores.NewEventStore(cfg.EventsConfig())
			if err != nil {
				return err
			}
			if err := eventStore.Init(cmd.Context()); err != nil {
				return err
			}
			defer eventStore.Close()

			if goals {
				events, err := eventStore.ListGoalEvents(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					out, _ := json.MarshalIndent(events, "", "  ")
					fmt.Fprintln(cmd.OutOrStdout(), string(out))
					return nil
				}
				for _, ev := range events {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s -> %s  %s\n",
						ev.Timestamp.Format("15:04:05.000"), ev.GoalID, ev.FromState, ev.ToState, ev.Info)
				}
				return nil
			}

			events, err := eventStore.ListOperationEvents(cmd.Context(), operation, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				out, _ := json.MarshalIndent(events, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			for _, ev := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  [%s] %s  %s -> %s  %s\n",
					ev.Timestamp.Format("15:04:05.000"), ev.Category, ev.Operation, ev.FromState, ev.ToState, ev.Narrative)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&operation, "operation", "", "filter by operation name")
	cmd.Flags().BoolVar(&goals, "goals", false, "list goal events instead")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to list")
	return cmd
}
