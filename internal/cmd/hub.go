package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/config"
	"github.com/codexteams/codexteams/internal/hub"
	"github.com/codexteams/codexteams/internal/teamfs"
)

var hubCmd = &cobra.Command{
	Use:     "hub",
	GroupID: GroupServices,
	Short:   "Run the shared in-process hub for a team session",
	RunE:    runHub,
	Long: `Run the cooperative hub that schedules every worker of a session
in one process.

Each tick the hub drains child output, publishes finished results,
acknowledges consumed mailbox entries, launches queued work, and sends
idle heartbeats. It exits when every worker has stopped or on
SIGTERM/SIGINT, giving in-flight children five seconds to drain.`,
	Example: `  ct hub --repo . --session demo --count 2 --worktrees-root ../worktrees`,
}

var (
	hubRepo          string
	hubSession       string
	hubRoom          string
	hubPrefix        string
	hubCount         int
	hubAgentsCSV     string
	hubWorktreesRoot string
	hubProfile       string
	hubModel         string
	hubLeadName      string
	hubLeadCwd       string
	hubLeadProfile   string
	hubLeadModel     string
	hubReviewerName  string
	hubReviewerProf  string
	hubReviewerModel string
	hubReviewerPerm  string
	hubCodexBin      string
	hubPollMs        int
	hubIdleMs        int
	hubPermMode      string
	hubPlanMode      bool
	hubHeartbeat     string
	hubLifecycleLog  string
)

func init() {
	hubCmd.Flags().StringVar(&hubRepo, "repo", "", "Repository root")
	hubCmd.Flags().StringVar(&hubSession, "session", "", "Team session name")
	hubCmd.Flags().StringVar(&hubRoom, "room", "main", "Room name")
	hubCmd.Flags().StringVar(&hubPrefix, "prefix", "worker", "Worker name prefix")
	hubCmd.Flags().IntVar(&hubCount, "count", 2, "Number of workers")
	hubCmd.Flags().StringVar(&hubAgentsCSV, "agents-csv", "", "Explicit worker names, comma separated")
	hubCmd.Flags().StringVar(&hubWorktreesRoot, "worktrees-root", "", "Directory holding one worktree per worker")
	hubCmd.Flags().StringVar(&hubProfile, "profile", "pair", "Worker codex profile")
	hubCmd.Flags().StringVar(&hubModel, "model", "", "Worker model override")
	hubCmd.Flags().StringVar(&hubLeadName, "lead-name", "lead", "Lead agent name")
	hubCmd.Flags().StringVar(&hubLeadCwd, "lead-cwd", "", "Lead working directory (defaults to the repo)")
	hubCmd.Flags().StringVar(&hubLeadProfile, "lead-profile", "", "Lead codex profile")
	hubCmd.Flags().StringVar(&hubLeadModel, "lead-model", "", "Lead model override")
	hubCmd.Flags().StringVar(&hubReviewerName, "reviewer-name", "reviewer-1", "Reviewer agent name")
	hubCmd.Flags().StringVar(&hubReviewerProf, "reviewer-profile", "", "Reviewer codex profile")
	hubCmd.Flags().StringVar(&hubReviewerModel, "reviewer-model", "", "Reviewer model override")
	hubCmd.Flags().StringVar(&hubReviewerPerm, "reviewer-permission-mode", "plan", "Reviewer permission mode")
	hubCmd.Flags().StringVar(&hubCodexBin, "codex-bin", "codex", "External agent binary")
	hubCmd.Flags().IntVar(&hubPollMs, "poll-ms", 1000, "Poll interval in milliseconds")
	hubCmd.Flags().IntVar(&hubIdleMs, "idle-ms", 12000, "Idle notification threshold in milliseconds")
	hubCmd.Flags().StringVar(&hubPermMode, "permission-mode", "default", "Worker permission mode")
	hubCmd.Flags().BoolVar(&hubPlanMode, "plan-mode-required", false, "Require plan mode for workers")
	hubCmd.Flags().StringVar(&hubHeartbeat, "heartbeat-file", "", "Liveness blob path (disabled when empty)")
	hubCmd.Flags().StringVar(&hubLifecycleLog, "lifecycle-log", "", "Lifecycle log path (disabled when empty)")
	_ = hubCmd.MarkFlagRequired("repo")
	_ = hubCmd.MarkFlagRequired("session")
	_ = hubCmd.MarkFlagRequired("worktrees-root")

	rootCmd.AddCommand(hubCmd)
}

// applyConfigDefaults overlays values from .codex-teams/config.toml onto
// flags the user did not set. Flags win over the file; the file wins
// over built-ins.
func applyConfigDefaults(cmd *cobra.Command, repo string, codexBin, room *string, pollMs, idleMs *int, permMode *string) error {
	cfg, err := config.Load(repo)
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}
	if codexBin != nil && cfg.CodexBin != "" && !cmd.Flags().Changed("codex-bin") {
		*codexBin = cfg.CodexBin
	}
	if room != nil && cfg.Room != "" && !cmd.Flags().Changed("room") {
		*room = cfg.Room
	}
	if pollMs != nil && cfg.PollMs > 0 && !cmd.Flags().Changed("poll-ms") {
		*pollMs = cfg.PollMs
	}
	if idleMs != nil && cfg.IdleMs > 0 && !cmd.Flags().Changed("idle-ms") {
		*idleMs = cfg.IdleMs
	}
	if permMode != nil && cfg.PermissionMode != "" && !cmd.Flags().Changed("permission-mode") {
		*permMode = cfg.PermissionMode
	}
	return nil
}

// acquireServiceLock takes the single-instance lock for a session
// service. The caller must Unlock the returned lock.
func acquireServiceLock(repo, session, service string) (*flock.Flock, error) {
	paths := teamfs.NewPaths(repo, session)
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	fileLock := flock.New(filepath.Join(paths.Root, service+".lock"))
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring %s lock: %w", service, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s already running for session %s (lock held by another process)", service, session)
	}
	return fileLock, nil
}

func runHub(cmd *cobra.Command, args []string) error {
	if err := applyConfigDefaults(cmd, hubRepo, &hubCodexBin, &hubRoom, &hubPollMs, &hubIdleMs, &hubPermMode); err != nil {
		return err
	}

	fileLock, err := acquireServiceLock(hubRepo, hubSession, "hub")
	if err != nil {
		return err
	}
	defer func() { _ = fileLock.Unlock() }()

	code := hub.Run(hub.Options{
		Repo:                   hubRepo,
		Session:                hubSession,
		Room:                   hubRoom,
		Prefix:                 hubPrefix,
		Count:                  hubCount,
		AgentsCSV:              hubAgentsCSV,
		WorktreesRoot:          hubWorktreesRoot,
		Profile:                hubProfile,
		Model:                  hubModel,
		LeadName:               hubLeadName,
		LeadCwd:                hubLeadCwd,
		LeadProfile:            hubLeadProfile,
		LeadModel:              hubLeadModel,
		ReviewerName:           hubReviewerName,
		ReviewerProfile:        hubReviewerProf,
		ReviewerModel:          hubReviewerModel,
		ReviewerPermissionMode: hubReviewerPerm,
		CodexBin:               hubCodexBin,
		PollMs:                 hubPollMs,
		IdleMs:                 hubIdleMs,
		PermissionMode:         hubPermMode,
		PlanModeRequired:       hubPlanMode,
		HeartbeatFile:          hubHeartbeat,
		LifecycleLog:           hubLifecycleLog,
	})
	if code != 0 {
		return NewSilentExit(code)
	}
	return nil
}
