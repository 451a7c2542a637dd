package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var fsStateContextSetCmd = &cobra.Command{
	Use:   "state-context-set",
	Short: "Fill the state team context from the team config",
	RunE:  runFsStateContextSet,
}

var fsStateContextClearCmd = &cobra.Command{
	Use:   "state-context-clear",
	Short: "Clear the state team context",
	RunE:  runFsStateContextClear,
}

var fsStateGetCmd = &cobra.Command{
	Use:   "state-get",
	Short: "Print the state blob as JSON",
	RunE:  runFsStateGet,
}

var (
	fsStateSelfName string
	fsStateCompact  bool
)

func init() {
	fsStateContextSetCmd.Flags().StringVar(&fsStateSelfName, "self-name", "team-lead", "Agent the context is rendered for")
	fsStateGetCmd.Flags().BoolVar(&fsStateCompact, "compact", false, "Single-line JSON")
}

func runFsStateContextSet(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	cfg, err := fsConfig(store)
	if err != nil {
		return err
	}
	if err := store.SetTeamContext(cfg, fsStateSelfName); err != nil {
		return fmt.Errorf("setting team context: %w", err)
	}
	fmt.Printf("state=%s\n", store.Paths().State())
	return nil
}

func runFsStateContextClear(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	if err := store.ClearTeamContext(); err != nil {
		return fmt.Errorf("clearing team context: %w", err)
	}
	fmt.Printf("state=%s\n", store.Paths().State())
	return nil
}

func runFsStateGet(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	st, err := store.LoadState()
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	if fsStateCompact {
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(st)
	}
	return printJSON(st)
}
