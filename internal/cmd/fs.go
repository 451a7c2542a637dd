package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/teamfs"
)

var fsCmd = &cobra.Command{
	Use:     "fs",
	GroupID: GroupStore,
	Short:   "Session file-store operations",
	RunE:    requireSubcommand,
	Long: `Operate on the per-session filesystem stores.

A session lives under <repo>/.codex-teams/<session>/ and holds the team
config, per-agent JSON mailboxes, the shared state blob, the runtime
table, and the control request table. Mailbox writes take an exclusive
lock and land atomically, so any number of processes can share a
session.`,
}

var fsTeamCreateCmd = &cobra.Command{
	Use:   "team-create",
	Short: "Create a team with the lead as member zero",
	RunE:  runFsTeamCreate,
}

var fsTeamDeleteCmd = &cobra.Command{
	Use:   "team-delete",
	Short: "Delete a team and its session stores",
	RunE:  runFsTeamDelete,
}

var fsTeamGetCmd = &cobra.Command{
	Use:   "team-get",
	Short: "Print the team config as JSON",
	RunE:  runFsTeamGet,
}

var (
	fsRepo    string
	fsSession string

	fsTeamName        string
	fsTeamDescription string
	fsTeamLeadName    string
	fsTeamLeadType    string
	fsTeamLeadModel   string
	fsTeamLeadCwd     string
	fsTeamBackend     string
	fsTeamMode        string
	fsTeamReplace     bool
	fsTeamCreateJSON  bool

	fsTeamDeleteForce bool
	fsTeamGetJSON     bool
)

func init() {
	fsCmd.PersistentFlags().StringVar(&fsRepo, "repo", ".", "Repository root")
	fsCmd.PersistentFlags().StringVar(&fsSession, "session", "", "Team session name")

	fsTeamCreateCmd.Flags().StringVar(&fsTeamName, "name", "", "Team name (defaults to the session name)")
	fsTeamCreateCmd.Flags().StringVar(&fsTeamDescription, "description", "", "Team description")
	fsTeamCreateCmd.Flags().StringVar(&fsTeamLeadName, "lead-name", "lead", "Lead member name")
	fsTeamCreateCmd.Flags().StringVar(&fsTeamLeadType, "lead-type", "lead", "Lead agent type")
	fsTeamCreateCmd.Flags().StringVar(&fsTeamLeadModel, "lead-model", "", "Lead model override")
	fsTeamCreateCmd.Flags().StringVar(&fsTeamLeadCwd, "lead-cwd", "", "Lead working directory")
	fsTeamCreateCmd.Flags().StringVar(&fsTeamBackend, "backend", "", "Lead backend type")
	fsTeamCreateCmd.Flags().StringVar(&fsTeamMode, "mode", "", "Lead permission mode")
	fsTeamCreateCmd.Flags().BoolVar(&fsTeamReplace, "replace", false, "Replace an existing team, clearing session stores")
	fsTeamCreateCmd.Flags().BoolVar(&fsTeamCreateJSON, "json", false, "Emit JSON")

	fsTeamDeleteCmd.Flags().BoolVar(&fsTeamDeleteForce, "force", false, "Delete even with active agents in the runtime table")

	fsTeamGetCmd.Flags().BoolVar(&fsTeamGetJSON, "json", false, "Single-line JSON")

	fsCmd.AddCommand(fsTeamCreateCmd)
	fsCmd.AddCommand(fsTeamDeleteCmd)
	fsCmd.AddCommand(fsTeamGetCmd)
	fsCmd.AddCommand(fsMemberAddCmd)
	fsCmd.AddCommand(fsMemberRemoveCmd)
	fsCmd.AddCommand(fsMemberModeCmd)
	fsCmd.AddCommand(fsMemberBatchModeCmd)
	fsCmd.AddCommand(fsColorMapCmd)
	fsCmd.AddCommand(fsMailboxWriteCmd)
	fsCmd.AddCommand(fsMailboxReadCmd)
	fsCmd.AddCommand(fsMailboxMarkReadCmd)
	fsCmd.AddCommand(fsMailboxFormatCmd)
	fsCmd.AddCommand(fsDispatchCmd)
	fsCmd.AddCommand(fsSendToLeadCmd)
	fsCmd.AddCommand(fsSendIdleCmd)
	fsCmd.AddCommand(fsInboxPollCmd)
	fsCmd.AddCommand(fsControlRequestCmd)
	fsCmd.AddCommand(fsControlRespondCmd)
	fsCmd.AddCommand(fsControlPendingCmd)
	fsCmd.AddCommand(fsControlGetCmd)
	fsCmd.AddCommand(fsStateContextSetCmd)
	fsCmd.AddCommand(fsStateContextClearCmd)
	fsCmd.AddCommand(fsStateGetCmd)
	fsCmd.AddCommand(fsRuntimeSetCmd)
	fsCmd.AddCommand(fsRuntimeMarkCmd)
	fsCmd.AddCommand(fsRuntimeListCmd)
	fsCmd.AddCommand(fsRuntimeKillCmd)

	rootCmd.AddCommand(fsCmd)
}

func runFsTeamCreate(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	name := fsTeamName
	if name == "" {
		name = fsSession
	}
	cfg, err := store.CreateTeam(teamfs.TeamSpec{
		TeamName:      name,
		Description:   fsTeamDescription,
		LeadName:      fsTeamLeadName,
		LeadAgentType: fsTeamLeadType,
		LeadModel:     fsTeamLeadModel,
		LeadCWD:       fsTeamLeadCwd,
		BackendType:   fsTeamBackend,
		Mode:          fsTeamMode,
		Replace:       fsTeamReplace,
	})
	if err != nil {
		var exists *teamfs.TeamExistsError
		if errors.As(err, &exists) {
			return fmt.Errorf("%s (use --replace to reset)", exists.Error())
		}
		return fmt.Errorf("creating team: %w", err)
	}

	p := store.Paths()
	out := map[string]string{
		"team_name": cfg.Name,
		"team_root": p.Root,
		"config":    p.Config(),
		"tasks":     p.Tasks(),
		"lead":      cfg.LeadName(),
	}
	if fsTeamCreateJSON {
		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	}
	for _, k := range []string{"team_name", "team_root", "config", "tasks", "lead"} {
		fmt.Printf("%s=%s\n", k, out[k])
	}
	return nil
}

func runFsTeamDelete(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	if err := store.DeleteTeam(fsTeamDeleteForce); err != nil {
		if errors.Is(err, teamfs.ErrActiveAgents) {
			return fmt.Errorf("%w (use --force)", err)
		}
		return fmt.Errorf("deleting team: %w", err)
	}
	fmt.Printf("deleted=%s\n", store.Paths().Root)
	return nil
}

func runFsTeamGet(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	cfg, err := fsConfig(store)
	if err != nil {
		return err
	}
	if fsTeamGetJSON {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	}
	return printJSON(cfg)
}
