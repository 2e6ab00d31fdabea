package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/renamekit/renamekit/pkg/renamekit/conflict"
	"github.com/renamekit/renamekit/pkg/renamekit/core"
	"github.com/renamekit/renamekit/pkg/renamekit/execute"
)

func newApplyCommand() *cobra.Command {
	var (
		pipelineFile string
		scopeName    string
		dir          string
		policyName   string
		yes          bool
	)

	cmd := &cobra.Command{
		Use:   "apply [files...]",
		Short: "Build, resolve, validate and execute a rename plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, files, pipe, scope, err := setup(pipelineFile, scopeName, dir, args)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			policy, err := conflict.ParsePolicy(policyName)
			if err != nil {
				return err
			}

			records, err := eng.Records(files)
			if err != nil {
				return err
			}
			if err := eng.Refresh(cmd.Context(), records); err != nil {
				fmt.Fprintf(os.Stderr, "warning: metadata population incomplete: %v\n", err)
			}

			p, err := eng.BuildPlan(records, pipe, scope)
			if err != nil {
				return err
			}
			if _, err := eng.ResolveConflicts(p, policy); err != nil {
				var conflictErr *core.ConflictError
				if errors.As(err, &conflictErr) {
					printPlan(p)
				}
				return err
			}
			eng.Validate(p)

			printPlan(p)
			if !p.Executable() {
				return fmt.Errorf("nothing to execute")
			}
			if !yes && !confirm() {
				return nil
			}

			ready := p.CountByStatus(core.StatusValid) + p.CountByStatus(core.StatusResolved)
			bar := pb.StartNew(ready)
			result, err := eng.Execute(cmd.Context(), p, func(ev execute.ProgressEvent) {
				if ev.Outcome == core.OutcomeApplied {
					bar.Increment()
				}
			})
			bar.Finish()

			if result != nil {
				fmt.Printf("applied %d, rolled back %d, failed %d, skipped %d\n",
					result.Applied, result.RolledBack, result.Failed, result.Skipped)
			}
			if err != nil {
				var rollbackErr *core.RollbackError
				if errors.As(err, &rollbackErr) {
					fmt.Fprintln(os.Stderr, "FATAL: rollback incomplete, manual cleanup required:")
				}
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&pipelineFile, "pipeline", "p", "", "pipeline definition file (YAML)")
	cmd.Flags().StringVarP(&scopeName, "scope", "s", "", "counter scope: global, per-source-group or per-selection")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "rename every file in this directory")
	cmd.Flags().StringVar(&policyName, "policy", string(conflict.PolicySkip), "conflict policy: skip, auto-suffix or fail")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("pipeline")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func confirm() bool {
	fmt.Print("proceed? [y/N] ")
	var answer string
	_, _ = fmt.Scanln(&answer)
	return answer == "y" || answer == "Y" || answer == "yes"
}
