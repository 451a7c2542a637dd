package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/style"
	"github.com/codexteams/codexteams/internal/teamfs"
)

var fsMemberAddCmd = &cobra.Command{
	Use:   "member-add",
	Short: "Add a member to the team",
	RunE:  runFsMemberAdd,
}

var fsMemberRemoveCmd = &cobra.Command{
	Use:   "member-remove",
	Short: "Remove a member by name or agent id",
	RunE:  runFsMemberRemove,
}

var fsMemberModeCmd = &cobra.Command{
	Use:   "member-mode",
	Short: "Set one member's permission mode",
	RunE:  runFsMemberMode,
}

var fsMemberBatchModeCmd = &cobra.Command{
	Use:   "member-batch-mode",
	Short: "Set permission modes for several members in one write",
	RunE:  runFsMemberBatchMode,
}

var fsColorMapCmd = &cobra.Command{
	Use:   "color-map",
	Short: "Map palette colors to tmux border colors",
	Long: `Print the tmux border color for one palette color, or, without
--color, the member color assignments and the full border mapping as
JSON.`,
	RunE: runFsColorMap,
}

var (
	fsMemberName     string
	fsMemberType     string
	fsMemberModel    string
	fsMemberPrompt   string
	fsMemberColor    string
	fsMemberPlanMode bool
	fsMemberCwd      string
	fsMemberBackend  string
	fsMemberMode     string
	fsMemberPaneID   string
	fsMemberJSON     bool

	fsMemberRemoveIdent string

	fsMemberModeIdent string
	fsMemberModeValue string

	fsBatchModeEntries []string

	fsColorMapColor string
)

func init() {
	fsMemberAddCmd.Flags().StringVar(&fsMemberName, "name", "", "Member name")
	fsMemberAddCmd.Flags().StringVar(&fsMemberType, "agent-type", "worker", "Agent type")
	fsMemberAddCmd.Flags().StringVar(&fsMemberModel, "model", "", "Model override")
	fsMemberAddCmd.Flags().StringVar(&fsMemberPrompt, "prompt", "", "Standing prompt")
	fsMemberAddCmd.Flags().StringVar(&fsMemberColor, "color", "", "Palette color (assigned by join order when empty)")
	fsMemberAddCmd.Flags().BoolVar(&fsMemberPlanMode, "plan-mode-required", false, "Require plan mode")
	fsMemberAddCmd.Flags().StringVar(&fsMemberCwd, "cwd", ".", "Working directory")
	fsMemberAddCmd.Flags().StringVar(&fsMemberBackend, "backend-type", "tmux", "Backend type")
	fsMemberAddCmd.Flags().StringVar(&fsMemberMode, "mode", "auto", "Permission mode")
	fsMemberAddCmd.Flags().StringVar(&fsMemberPaneID, "tmux-pane-id", "", "tmux pane id")
	fsMemberAddCmd.Flags().BoolVar(&fsMemberJSON, "json", false, "Emit the member record as JSON")
	_ = fsMemberAddCmd.MarkFlagRequired("name")

	fsMemberRemoveCmd.Flags().StringVar(&fsMemberRemoveIdent, "ident", "", "Member name or agent id")
	_ = fsMemberRemoveCmd.MarkFlagRequired("ident")

	fsMemberModeCmd.Flags().StringVar(&fsMemberModeIdent, "ident", "", "Member name or agent id")
	fsMemberModeCmd.Flags().StringVar(&fsMemberModeValue, "mode", "", "New permission mode")
	_ = fsMemberModeCmd.MarkFlagRequired("ident")
	_ = fsMemberModeCmd.MarkFlagRequired("mode")

	fsMemberBatchModeCmd.Flags().StringArrayVar(&fsBatchModeEntries, "entry", nil, "ident:mode (repeatable)")
	_ = fsMemberBatchModeCmd.MarkFlagRequired("entry")

	fsColorMapCmd.Flags().StringVar(&fsColorMapColor, "color", "", "Palette color name")
}

func runFsMemberAdd(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	if fsMemberColor != "" && !style.IsValid(fsMemberColor) {
		return fmt.Errorf("unknown color: %s", fsMemberColor)
	}
	rec, err := store.AddMember(teamfs.MemberSpec{
		Name:             fsMemberName,
		AgentType:        fsMemberType,
		Model:            fsMemberModel,
		Prompt:           fsMemberPrompt,
		Color:            fsMemberColor,
		PlanModeRequired: fsMemberPlanMode,
		CWD:              fsMemberCwd,
		BackendType:      fsMemberBackend,
		Mode:             fsMemberMode,
		TmuxPaneID:       fsMemberPaneID,
	})
	if err != nil {
		if errors.Is(err, teamfs.ErrMemberExists) {
			return err
		}
		return fmt.Errorf("adding member: %w", err)
	}
	if fsMemberJSON {
		return printJSON(rec)
	}
	fmt.Printf("added=%s\n", rec.Name)
	fmt.Printf("agent_id=%s\n", rec.AgentID)
	fmt.Printf("color=%s\n", rec.Color)
	return nil
}

func runFsMemberRemove(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	changed, err := store.RemoveMember(fsMemberRemoveIdent)
	if err != nil {
		return err
	}
	fmt.Printf("removed=%t\n", changed)
	return nil
}

func runFsMemberMode(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	changed, err := store.SetMemberMode(fsMemberModeIdent, fsMemberModeValue)
	if err != nil {
		return err
	}
	fmt.Printf("updated=%t\n", changed)
	return nil
}

// parseModeEntries splits repeated ident:mode flag values.
func parseModeEntries(raw []string) ([]teamfs.ModeEntry, error) {
	entries := make([]teamfs.ModeEntry, 0, len(raw))
	for _, entry := range raw {
		ident, mode, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid --entry format: %s", entry)
		}
		entries = append(entries, teamfs.ModeEntry{
			Ident: strings.TrimSpace(ident),
			Mode:  strings.TrimSpace(mode),
		})
	}
	return entries, nil
}

func runFsMemberBatchMode(cmd *cobra.Command, args []string) error {
	entries, err := parseModeEntries(fsBatchModeEntries)
	if err != nil {
		return err
	}
	store, err := fsStore()
	if err != nil {
		return err
	}
	changed, err := store.SetMemberModes(entries)
	if err != nil {
		return err
	}
	fmt.Printf("updated=%d\n", changed)
	return nil
}

func runFsColorMap(cmd *cobra.Command, args []string) error {
	if fsColorMapColor != "" {
		fmt.Println(style.TmuxBorder(style.Color(fsColorMapColor)))
		return nil
	}

	store, err := fsStore()
	if err != nil {
		return err
	}
	cfg, err := fsConfig(store)
	if err != nil {
		return err
	}
	members := map[string]string{}
	for _, m := range cfg.Members {
		if m.Name != "" {
			members[m.Name] = m.Color
		}
	}
	borders := map[string]string{}
	for _, c := range style.Palette {
		borders[string(c)] = style.TmuxBorder(c)
	}
	return printJSON(map[string]map[string]string{
		"members": members,
		"borders": borders,
	})
}
