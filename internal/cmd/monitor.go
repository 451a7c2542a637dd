package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/tui/monitor"
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	GroupID: GroupDiag,
	Short:   "Live dashboard for a team session",
	Long: `Monitor renders the team roster with runtime and mailbox state,
refreshed every second and on changes under the session directory.

The dashboard is read-only. It never writes to the team store or the
room log.`,
	Example: `  ct monitor --repo . --session demo`,
	RunE:    runMonitor,
}

var (
	monRepo    string
	monSession string
	monRoom    string
)

func init() {
	monitorCmd.Flags().StringVar(&monRepo, "repo", ".", "repository root")
	monitorCmd.Flags().StringVar(&monSession, "session", "", "team session name")
	monitorCmd.Flags().StringVar(&monRoom, "room", "main", "bus room for message totals")
	_ = monitorCmd.MarkFlagRequired("session")

	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if !stdoutIsTTY() {
		return fmt.Errorf("monitor requires an interactive terminal")
	}
	if err := applyConfigDefaults(cmd, monRepo, nil, &monRoom, nil, nil, nil); err != nil {
		return err
	}

	m := monitor.New(monRepo, monSession, monRoom)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
