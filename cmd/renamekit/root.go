package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/renamekit/renamekit/pkg/renamekit"
	"github.com/renamekit/renamekit/pkg/renamekit/conflict"
	"github.com/renamekit/renamekit/pkg/renamekit/validate"
)

var (
	logLevel      string
	stateDir      string
	caseSensitive bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "renamekit",
	Short: "A batch file rename tool with preview, conflict resolution and undo",
	Long: `renamekit builds rename plans from a pipeline of name transforms,
previews them, resolves naming conflicts, and executes them with
transactional rollback and a durable undo/redo history.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", defaultStateDir(), "directory for the cache and history store")
	rootCmd.PersistentFlags().BoolVar(&caseSensitive, "case-sensitive", false, "treat the target filesystem as case-sensitive")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newUndoCommand())
	rootCmd.AddCommand(newRedoCommand())
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Print the version number of renamekit`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("renamekit version %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

func defaultStateDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "renamekit")
}

// newEngine builds an engine from the persistent flags.
func newEngine() (*renamekit.Engine, error) {
	level, err := renamekit.LogLevelFromString(logLevel)
	if err != nil {
		return nil, fmt.Errorf("bad log level: %w", err)
	}
	logger := renamekit.NewLogger(os.Stderr, level)

	rules := validate.DefaultRules()
	rules.CaseSensitive = caseSensitive

	return renamekit.New(renamekit.Options{
		Logger:        &logger,
		StateDir:      stateDir,
		Rules:         rules,
		DefaultPolicy: conflict.PolicySkip,
	})
}
