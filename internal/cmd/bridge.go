package cmd

import (
	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/bridge"
)

var bridgeCmd = &cobra.Command{
	Use:     "bridge",
	GroupID: GroupServices,
	Short:   "Forward mailbox messages into tmux panes",
	RunE:    runBridge,
	Long: `Poll every tmux-backed running agent's mailbox and inject
actionable messages into its pane as a reply prompt.

Non-actionable messages are marked read without injection. Workers
whose status summary signals completion can be shut down automatically.
The bridge exits when the tmux session disappears.`,
	Example: `  ct bridge --repo . --session demo --tmux-session demo`,
}

var (
	bridgeRepo        string
	bridgeSession     string
	bridgeRoom        string
	bridgeTmuxSession string
	bridgeLeadName    string
	bridgeAutoKill    bool
	bridgePollMs      int
	bridgeLimit       int
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeRepo, "repo", "", "Repository root")
	bridgeCmd.Flags().StringVar(&bridgeSession, "session", "", "Team session name")
	bridgeCmd.Flags().StringVar(&bridgeRoom, "room", "main", "Room name")
	bridgeCmd.Flags().StringVar(&bridgeTmuxSession, "tmux-session", "", "tmux session name (defaults to the team session)")
	bridgeCmd.Flags().StringVar(&bridgeLeadName, "lead-name", "lead", "Lead agent name")
	bridgeCmd.Flags().BoolVar(&bridgeAutoKill, "auto-kill-done-workers", true, "Shut down workers whose status signals completion")
	bridgeCmd.Flags().IntVar(&bridgePollMs, "poll-ms", 1500, "Poll interval in milliseconds")
	bridgeCmd.Flags().IntVar(&bridgeLimit, "limit", 20, "Unread messages handled per agent per tick")
	_ = bridgeCmd.MarkFlagRequired("repo")
	_ = bridgeCmd.MarkFlagRequired("session")

	rootCmd.AddCommand(bridgeCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	if err := applyConfigDefaults(cmd, bridgeRepo, nil, &bridgeRoom, &bridgePollMs, nil, nil); err != nil {
		return err
	}
	fileLock, err := acquireServiceLock(bridgeRepo, bridgeSession, "bridge")
	if err != nil {
		return err
	}
	defer func() { _ = fileLock.Unlock() }()

	code := bridge.Run(bridge.Options{
		Repo:                bridgeRepo,
		Session:             bridgeSession,
		Room:                bridgeRoom,
		TmuxSession:         bridgeTmuxSession,
		LeadName:            bridgeLeadName,
		AutoKillDoneWorkers: bridgeAutoKill,
		PollMs:              bridgePollMs,
		Limit:               bridgeLimit,
	})
	if code != 0 {
		return NewSilentExit(code)
	}
	return nil
}
