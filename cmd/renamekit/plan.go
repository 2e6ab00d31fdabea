package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/renamekit/renamekit/pkg/renamekit"
	"github.com/renamekit/renamekit/pkg/renamekit/core"
	"github.com/renamekit/renamekit/pkg/renamekit/step"
)

func newPlanCommand() *cobra.Command {
	var (
		pipelineFile string
		scopeName    string
		dir          string
	)

	cmd := &cobra.Command{
		Use:   "plan [files...]",
		Short: "Preview a rename plan without touching the filesystem",
		Long: `Build the rename plan for the given files (or every file in --dir)
using the pipeline definition, detect conflicts, validate names, and print
the result. Nothing is renamed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, files, pipe, scope, err := setup(pipelineFile, scopeName, dir, args)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			// Let the background pool fill the metadata cache before the
			// build so metadata steps see values on the first pass.
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
			eng.ResolveConflicts(p, "")
			eng.Validate(p)

			printPlan(p)
			return nil
		},
	}

	cmd.Flags().StringVarP(&pipelineFile, "pipeline", "p", "", "pipeline definition file (YAML)")
	cmd.Flags().StringVarP(&scopeName, "scope", "s", "", "counter scope: global, per-source-group or per-selection")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "rename every file in this directory")
	_ = cmd.MarkFlagRequired("pipeline")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

// setup loads the pipeline, resolves the file list and constructs the
// engine, shared by plan and apply.
func setup(pipelineFile, scopeName, dir string, args []string) (*renamekit.Engine, []string, *step.Pipeline, step.Scope, error) {
	scope, err := step.ParseScope(scopeName)
	if err != nil {
		return nil, nil, nil, "", err
	}

	data, err := os.ReadFile(pipelineFile)
	if err != nil {
		return nil, nil, nil, "", fmt.Errorf("reading pipeline: %w", err)
	}
	spec, err := step.ParseSpec(data)
	if err != nil {
		return nil, nil, nil, "", err
	}

	files := args
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, nil, nil, "", fmt.Errorf("reading directory: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(files)
	}
	if len(files) == 0 {
		return nil, nil, nil, "", fmt.Errorf("no files given")
	}

	eng, err := newEngine()
	if err != nil {
		return nil, nil, nil, "", err
	}
	pipe, err := eng.CompilePipeline(spec)
	if err != nil {
		_ = eng.Close()
		return nil, nil, nil, "", err
	}
	return eng, files, pipe, scope, nil
}

func printPlan(p *core.Plan) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	for _, e := range p.Entries {
		switch e.Status {
		case core.StatusValid, core.StatusResolved:
			_, _ = green.Printf("  %s -> %s\n", e.Source.Name(), e.Target)
		case core.StatusConflicted:
			_, _ = yellow.Printf("  %s -> %s  [conflict]\n", e.Source.Name(), e.Target)
		case core.StatusInvalid:
			_, _ = red.Printf("  %s -> %s  [%s]\n", e.Source.Name(), e.Target, e.Reason)
		default:
			fmt.Printf("  %s -> %s\n", e.Source.Name(), e.Target)
		}
	}

	if len(p.Conflicts) > 0 {
		fmt.Println()
		for _, c := range p.Conflicts {
			_, _ = yellow.Printf("conflict (%s): %s (%d entries)\n", c.Cause, c.Target, len(c.Entries))
		}
	}
	fmt.Printf("\n%d entries: %d ready, %d conflicted, %d invalid\n",
		len(p.Entries),
		p.CountByStatus(core.StatusValid)+p.CountByStatus(core.StatusResolved),
		p.CountByStatus(core.StatusConflicted),
		p.CountByStatus(core.StatusInvalid))
}
