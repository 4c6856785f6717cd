package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microcell/microcell/pkg/config"
	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/workcell"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and the built-in model",
		Long: `Parses the configuration, assembles the built-in workcell model and
checks its structural invariants: unique operation names, well-formed SOP
trees and no references to undeclared variables. The runtime refuses to boot
with a model that fails these checks, so validate catches it early.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			m := workcell.NominalModel(cfg.SPID)
			if err := m.Validate(); err != nil {
				return err
			}

			full := workcell.FullInitialState().
				Extend(model.GenerateRunnerVariables(m.SPID, cfg.NumTimers), true).
				Extend(model.GenerateOperationVariables(m), true)
			if err := m.CheckVars(full); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"ok: %d operations, %d automatic, %d sops, %d variables\n",
				len(m.Operations), len(m.AutoOperations), len(m.SOPs), full.Len())
			return nil
		},
	}
}
