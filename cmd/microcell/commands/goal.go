package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microcell/microcell/pkg/config"
	"github.com/microcell/microcell/pkg/lang"
	"github.com/microcell/microcell/pkg/runner"
	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/telemetry"
)

func newGoalCommand() *cobra.Command {
	var priority string

	cmd := &cobra.Command{
		Use:   "goal <predicate>",
		Short: "Schedule a goal predicate",
		Long: `Appends a goal to the orchestrator's schedule. The predicate uses the
guard language, e.g.:

  microcell goal 'var:robot_mounted_estimated == suction_tool'
  microcell goal --priority critical 'var:gantry_locked_estimated == true'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			predicate := args[0]
			if _, err := lang.ParsePredicate(predicate); err != nil {
				return fmt.Errorf("invalid goal predicate: %w", err)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			backend := store.NewRedisBackend(cfg.Redis)
			defer backend.Close()
			sm := store.NewStateManager(backend, telemetry.Nop(), nil)

			g := runner.NewGoal(predicate, runner.ParsePriority(priority))
			if err := runner.ScheduleGoal(cmd.Context(), sm, cfg.SPID, g); err != nil {
				return err
			}

			if jsonOutput {
				out, _ := json.Marshal(map[string]string{
					"id":        g.ID,
					"predicate": g.Predicate,
					"priority":  g.Priority.String(),
				})
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled goal %s (%s): %s\n", g.ID, g.Priority, g.Predicate)
			return nil
		},
	}

	cmd.Flags().StringVarP(&priority, "priority", "p", "normal", "goal priority: low, normal, high, critical")
	return cmd
}
