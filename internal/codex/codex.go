// Package codex spawns the external codex binary: argv construction
// from a permission mode, a blocking run for the single-agent loop, and
// a drained child process for the hub scheduler.
package codex

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// PermissionModes is the closed set of agent permission modes.
var PermissionModes = map[string]bool{
	"default":           true,
	"acceptEdits":       true,
	"bypassPermissions": true,
	"plan":              true,
	"delegate":          true,
	"dontAsk":           true,
}

// IsPermissionMode reports whether mode is valid.
func IsPermissionMode(mode string) bool {
	return PermissionModes[mode]
}

// ExecArgs returns the `exec` argv prefix for a permission mode:
// bypassing modes disable sandboxing entirely, plan mode runs
// read-only, everything else runs full-auto.
func ExecArgs(bin, mode string) []string {
	m := strings.TrimSpace(mode)
	if m == "" {
		m = "default"
	}
	args := []string{bin, "exec"}
	switch m {
	case "bypassPermissions", "dontAsk":
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	case "plan":
		args = append(args, "--sandbox", "read-only")
	default:
		args = append(args, "--full-auto")
	}
	return args
}

// Invocation describes one codex exec run.
type Invocation struct {
	Bin     string // codex binary, resolved via PATH
	Mode    string // permission mode
	Model   string // -m override, optional
	Profile string // -p profile, optional
	CWD     string // -C working directory
	Prompt  string
}

// Args returns the full argv for the invocation, binary first.
func (inv Invocation) Args() []string {
	args := ExecArgs(inv.Bin, inv.Mode)
	if inv.Model != "" {
		args = append(args, "-m", inv.Model)
	}
	if inv.Profile != "" {
		args = append(args, "-p", inv.Profile)
	}
	args = append(args, "-C", inv.CWD, inv.Prompt)
	return args
}

// Run executes argv to completion in dir and returns the exit code with
// the combined stdout+stderr text. A process killed by a signal reports
// the negated signal number; a command that cannot start reports 127
// with the failure as its output.
func Run(argv []string, dir string) (int, string) {
	if len(argv) == 0 {
		return 127, "failed to execute: empty command"
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitCodeFromState(exitErr), out.String()
		}
		return 127, fmt.Sprintf("failed to execute %s: %v", strings.Join(argv, " "), err)
	}
	return 0, out.String()
}

func exitCodeFromState(exitErr *exec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return exitErr.ExitCode()
}
