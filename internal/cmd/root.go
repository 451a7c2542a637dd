// Package cmd provides CLI commands for the ct tool.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "ct",
	Short:   "codex-teams - multi-agent coordination fabric",
	Version: version.String(),
	Long: `codex-teams (ct) coordinates teams of external coding agents
working against one repository.

It keeps every session's message fabric on disk (a SQLite room log
plus per-agent JSON mailboxes), supervises in-process agent loops, and
bridges mailbox traffic into tmux panes for interactive teammates.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		// Silent exits signal status purely via exit code.
		if code, ok := IsSilentExit(err); ok {
			return code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// Command group IDs - used by subcommands to organize help output
const (
	GroupBus      = "bus"
	GroupStore    = "store"
	GroupServices = "services"
	GroupDiag     = "diag"
)

func init() {
	// Enable prefix matching for subcommands (e.g., "ct bus cont-p" -> "ct bus control-pending")
	cobra.EnablePrefixMatching = true

	// Define command groups (order determines help output order)
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupBus, Title: "Message Bus:"},
		&cobra.Group{ID: GroupStore, Title: "Team Store:"},
		&cobra.Group{ID: GroupServices, Title: "Services:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)

	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupDiag)
}

// buildCommandPath walks the command hierarchy to build the full command path.
// For example: "ct bus send", "ct fs team-create", etc.
func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand returns a RunE function for parent commands that require
// a subcommand. Without this, Cobra silently shows help and exits 0 for
// unknown subcommands like "ct bus foobar", masking errors.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return fmt.Errorf("unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}
