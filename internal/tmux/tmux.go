// Package tmux wraps the tmux CLI for pane discovery, prompt injection,
// and teardown of agent panes.
package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/codexteams/codexteams/internal/style"
)

// Sentinel errors for common tmux failures.
var (
	// ErrNoServer indicates no tmux server is running.
	ErrNoServer = errors.New("no tmux server running")

	// ErrSessionNotFound indicates the requested session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPaneNotFound indicates the requested pane doesn't exist.
	ErrPaneNotFound = errors.New("pane not found")
)

// Runner executes one tmux invocation and returns trimmed stdout plus
// raw stderr. Tests substitute a recorder.
type Runner func(args ...string) (stdout, stderr string, err error)

func execRunner(args ...string) (string, string, error) {
	cmd := exec.Command("tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), stderr.String(), err
}

// Tmux provides an interface to tmux operations.
type Tmux struct {
	runner Runner
}

// New creates a new tmux wrapper backed by the tmux binary on PATH.
func New() *Tmux {
	return &Tmux{runner: execRunner}
}

// NewWithRunner creates a tmux wrapper with a custom command runner.
func NewWithRunner(r Runner) *Tmux {
	return &Tmux{runner: r}
}

// run executes a tmux command and returns trimmed stdout.
func (t *Tmux) run(args ...string) (string, error) {
	stdout, stderr, err := t.runner(args...)
	if err != nil {
		return "", t.wrapError(err, stderr, args)
	}
	return stdout, nil
}

// wrapError converts tmux stderr text into sentinel errors where possible.
func (t *Tmux) wrapError(err error, stderr string, args []string) error {
	stderrLower := strings.ToLower(stderr)

	if strings.Contains(stderrLower, "no server running") ||
		strings.Contains(stderrLower, "error connecting to") {
		return ErrNoServer
	}
	if strings.Contains(stderrLower, "duplicate session") {
		return fmt.Errorf("tmux %s: session already exists", args[0])
	}
	if strings.Contains(stderrLower, "session not found") ||
		strings.Contains(stderrLower, "can't find session") {
		return ErrSessionNotFound
	}
	if strings.Contains(stderrLower, "can't find pane") ||
		strings.Contains(stderrLower, "can't find window") {
		return ErrPaneNotFound
	}

	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], strings.TrimSpace(stderr))
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// HasSession checks if a session exists. The "=" prefix forces an exact
// match; without it tmux treats the name as a prefix pattern.
func (t *Tmux) HasSession(name string) (bool, error) {
	_, err := t.run("has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// KillSession terminates a session and all its panes.
func (t *Tmux) KillSession(name string) error {
	_, err := t.run("kill-session", "-t", "="+name)
	return err
}

// SendText types text into a pane followed by a carriage return. The
// literal flag stops tmux from expanding key names inside the text, and
// the "--" guard keeps leading dashes from being parsed as flags.
func (t *Tmux) SendText(pane, text string) error {
	if _, err := t.run("send-keys", "-t", pane, "-l", "--", text); err != nil {
		return err
	}
	_, err := t.run("send-keys", "-t", pane, "Enter")
	return err
}

// KillPane removes a single pane.
func (t *Tmux) KillPane(pane string) error {
	_, err := t.run("kill-pane", "-t", pane)
	return err
}

// KillWindow removes a window and every pane in it. Used as a fallback
// when a pane id has gone stale but the window name is still known.
func (t *Tmux) KillWindow(target string) error {
	_, err := t.run("kill-window", "-t", target)
	return err
}

// ListPanes returns the pane ids of every pane in a session.
func (t *Tmux) ListPanes(session string) ([]string, error) {
	out, err := t.run("list-panes", "-s", "-t", "="+session, "-F", "#{pane_id}")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// SetPaneBorderColor recolors a pane border to match the agent's palette
// color so humans can spot who owns which pane.
func (t *Tmux) SetPaneBorderColor(pane string, color style.Color) error {
	border := style.TmuxBorder(color)
	_, err := t.run("set-option", "-p", "-t", pane, "pane-border-style", "fg="+border)
	return err
}

// DisplayMessage expands a tmux format string in the context of a pane.
func (t *Tmux) DisplayMessage(pane, format string) (string, error) {
	return t.run("display-message", "-p", "-t", pane, format)
}
