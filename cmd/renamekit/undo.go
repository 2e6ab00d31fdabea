package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
)

func newUndoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Reverse the most recent rename batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			result, err := eng.Undo(cmd.Context())
			if errors.Is(err, core.ErrNothingToUndo) {
				fmt.Println("nothing to undo")
				return nil
			}
			if errors.Is(err, core.ErrHistoryDivergence) {
				return fmt.Errorf("undo refused: files changed since the batch was applied")
			}
			if err != nil {
				return err
			}
			fmt.Printf("undid %d renames\n", result.Applied)
			return nil
		},
	}
}

func newRedoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "redo",
		Short: "Re-apply the most recently undone rename batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			result, err := eng.Redo(cmd.Context())
			if errors.Is(err, core.ErrNothingToRedo) {
				fmt.Println("nothing to redo")
				return nil
			}
			if errors.Is(err, core.ErrHistoryDivergence) {
				return fmt.Errorf("redo refused: files changed since the batch was undone")
			}
			if err != nil {
				return err
			}
			fmt.Printf("re-applied %d renames\n", result.Applied)
			return nil
		},
	}
}
