package cmd

import (
	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/hub"
)

var agentCmd = &cobra.Command{
	Use:     "agent",
	GroupID: GroupServices,
	Short:   "Run a single agent loop as its own process",
	RunE:    runAgent,
	Long: `Run one agent against a session: poll its mailbox, execute queued
work through the external agent binary, and publish results to the
room log. Shares the hub's worker semantics but runs blocking, one
prompt at a time.`,
	Example: `  ct agent --repo . --session demo --agent worker-1 --cwd ../worktrees/worker-1`,
}

var (
	agentRepo        string
	agentSession     string
	agentRoom        string
	agentName        string
	agentRole        string
	agentCwd         string
	agentProfile     string
	agentModel       string
	agentCodexBin    string
	agentPollMs      int
	agentIdleMs      int
	agentPermMode    string
	agentPlanMode    bool
	agentInitialTask string
)

func init() {
	agentCmd.Flags().StringVar(&agentRepo, "repo", "", "Repository root")
	agentCmd.Flags().StringVar(&agentSession, "session", "", "Team session name")
	agentCmd.Flags().StringVar(&agentRoom, "room", "main", "Room name")
	agentCmd.Flags().StringVar(&agentName, "agent", "", "Agent name")
	agentCmd.Flags().StringVar(&agentRole, "role", "worker", "Agent role")
	agentCmd.Flags().StringVar(&agentCwd, "cwd", "", "Working directory for external runs")
	agentCmd.Flags().StringVar(&agentProfile, "profile", "pair", "Codex profile")
	agentCmd.Flags().StringVar(&agentModel, "model", "", "Model override")
	agentCmd.Flags().StringVar(&agentCodexBin, "codex-bin", "codex", "External agent binary")
	agentCmd.Flags().IntVar(&agentPollMs, "poll-ms", 1000, "Poll interval in milliseconds")
	agentCmd.Flags().IntVar(&agentIdleMs, "idle-ms", 12000, "Idle notification threshold in milliseconds")
	agentCmd.Flags().StringVar(&agentPermMode, "permission-mode", "default", "Permission mode")
	agentCmd.Flags().BoolVar(&agentPlanMode, "plan-mode-required", false, "Require plan mode")
	agentCmd.Flags().StringVar(&agentInitialTask, "initial-task", "", "Task queued before the first poll")
	_ = agentCmd.MarkFlagRequired("repo")
	_ = agentCmd.MarkFlagRequired("session")
	_ = agentCmd.MarkFlagRequired("agent")
	_ = agentCmd.MarkFlagRequired("cwd")

	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	if err := applyConfigDefaults(cmd, agentRepo, &agentCodexBin, &agentRoom, &agentPollMs, &agentIdleMs, &agentPermMode); err != nil {
		return err
	}

	fileLock, err := acquireServiceLock(agentRepo, agentSession, "agent-"+agentName)
	if err != nil {
		return err
	}
	defer func() { _ = fileLock.Unlock() }()

	code := hub.RunSolo(hub.SoloOptions{
		Repo:             agentRepo,
		Session:          agentSession,
		Room:             agentRoom,
		Agent:            agentName,
		Role:             agentRole,
		Cwd:              agentCwd,
		Profile:          agentProfile,
		Model:            agentModel,
		CodexBin:         agentCodexBin,
		PollMs:           agentPollMs,
		IdleMs:           agentIdleMs,
		PermissionMode:   agentPermMode,
		PlanModeRequired: agentPlanMode,
		InitialTask:      agentInitialTask,
	})
	if code != 0 {
		return NewSilentExit(code)
	}
	return nil
}
