package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var fsRuntimeSetCmd = &cobra.Command{
	Use:   "runtime-set",
	Short: "Upsert an agent's runtime record",
	RunE:  runFsRuntimeSet,
}

var fsRuntimeMarkCmd = &cobra.Command{
	Use:   "runtime-mark",
	Short: "Update the status of an existing runtime record",
	RunE:  runFsRuntimeMark,
}

var fsRuntimeListCmd = &cobra.Command{
	Use:   "runtime-list",
	Short: "List runtime records, pruning dead pids",
	RunE:  runFsRuntimeList,
}

var fsRuntimeKillCmd = &cobra.Command{
	Use:   "runtime-kill",
	Short: "Signal an agent's process and mark it terminated",
	RunE:  runFsRuntimeKill,
}

var (
	fsRtSetAgent   string
	fsRtSetBackend string
	fsRtSetStatus  string
	fsRtSetPID     int
	fsRtSetPaneID  string
	fsRtSetWindow  string

	fsRtMarkAgent  string
	fsRtMarkStatus string
	fsRtMarkPID    int

	fsRtListJSON       bool
	fsRtListPruneWrite bool

	fsRtKillAgent  string
	fsRtKillSignal string
)

func init() {
	fsRuntimeSetCmd.Flags().StringVar(&fsRtSetAgent, "agent", "", "Agent name")
	fsRuntimeSetCmd.Flags().StringVar(&fsRtSetBackend, "backend", "tmux", "Backend type")
	fsRuntimeSetCmd.Flags().StringVar(&fsRtSetStatus, "status", "running", "Agent status")
	fsRuntimeSetCmd.Flags().IntVar(&fsRtSetPID, "pid", 0, "Process id")
	fsRuntimeSetCmd.Flags().StringVar(&fsRtSetPaneID, "pane-id", "", "tmux pane id")
	fsRuntimeSetCmd.Flags().StringVar(&fsRtSetWindow, "window", "", "tmux window name")
	_ = fsRuntimeSetCmd.MarkFlagRequired("agent")

	fsRuntimeMarkCmd.Flags().StringVar(&fsRtMarkAgent, "agent", "", "Agent name")
	fsRuntimeMarkCmd.Flags().StringVar(&fsRtMarkStatus, "status", "", "New status")
	fsRuntimeMarkCmd.Flags().IntVar(&fsRtMarkPID, "pid", 0, "New process id")
	_ = fsRuntimeMarkCmd.MarkFlagRequired("agent")
	_ = fsRuntimeMarkCmd.MarkFlagRequired("status")

	fsRuntimeListCmd.Flags().BoolVar(&fsRtListJSON, "json", false, "Emit the whole table as JSON")
	fsRuntimeListCmd.Flags().BoolVar(&fsRtListPruneWrite, "prune-write", false, "Persist pruned records")

	fsRuntimeKillCmd.Flags().StringVar(&fsRtKillAgent, "agent", "", "Agent name")
	fsRuntimeKillCmd.Flags().StringVar(&fsRtKillSignal, "signal", "term", "Signal: term or kill")
	_ = fsRuntimeKillCmd.MarkFlagRequired("agent")
}

func printRuntimeRecord(rec interface{}) error {
	out, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runFsRuntimeSet(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	rec, err := store.SetRuntime(fsRtSetAgent, fsRtSetBackend, fsRtSetStatus, fsRtSetPID, fsRtSetPaneID, fsRtSetWindow)
	if err != nil {
		return fmt.Errorf("setting runtime record: %w", err)
	}
	return printRuntimeRecord(rec)
}

func runFsRuntimeMark(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	var pid *int
	if cmd.Flags().Changed("pid") {
		pid = &fsRtMarkPID
	}
	rec, err := store.MarkRuntime(fsRtMarkAgent, fsRtMarkStatus, pid)
	if err != nil {
		return err
	}
	return printRuntimeRecord(rec)
}

func runFsRuntimeList(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}

	rt, err := store.LoadRuntime()
	if err != nil {
		return fmt.Errorf("loading runtime: %w", err)
	}
	if changed := rt.Prune(); changed > 0 && fsRtListPruneWrite {
		if err := store.SaveRuntime(rt); err != nil {
			return fmt.Errorf("writing pruned runtime: %w", err)
		}
	}

	if fsRtListJSON {
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(rt)
	}
	for _, name := range rt.Names() {
		rec := rt.Agents[name]
		if rec == nil {
			continue
		}
		fmt.Printf("agent=%s backend=%s status=%s pid=%d pane=%s window=%s\n",
			name, rec.Backend, rec.Status, rec.PID, rec.PaneID, rec.Window)
	}
	return nil
}

func runFsRuntimeKill(cmd *cobra.Command, args []string) error {
	if fsRtKillSignal != "term" && fsRtKillSignal != "kill" {
		return fmt.Errorf("--signal must be term or kill")
	}
	store, err := fsStore()
	if err != nil {
		return err
	}
	rec, err := store.KillRuntime(fsRtKillAgent, fsRtKillSignal)
	if err != nil {
		return err
	}
	return printRuntimeRecord(rec)
}
