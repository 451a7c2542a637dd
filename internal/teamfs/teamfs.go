// Package teamfs implements the per-session file stores: the team
// config (with its legacy team.json mirror), per-agent JSON mailboxes,
// the UI state blob, the runtime process table, and the control-request
// mirror. Everything lives under <repo>/.codex-teams/<session>/ and is
// written with atomic renames; mailbox read-modify-write cycles
// additionally hold an exclusive sidecar lock so concurrent senders and
// consumers never interleave partial updates.
package teamfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codexteams/codexteams/internal/util"
)

// Sentinel errors. Messages are part of the CLI contract: commands print
// them verbatim, and other loops match on them with errors.Is.
var (
	// ErrLeadRemoval is returned when member-remove targets the lead.
	ErrLeadRemoval = errors.New("cannot remove team lead")

	// ErrMemberExists is returned when member-add reuses a name.
	ErrMemberExists = errors.New("member already exists")

	// ErrActiveAgents is returned when team-delete finds live agents.
	ErrActiveAgents = errors.New("active members exist")

	// ErrRequestExists is returned when a control request id is reused.
	ErrRequestExists = errors.New("request already exists")

	// ErrRequestNotFound is returned for an unknown control request id.
	ErrRequestNotFound = errors.New("request not found")

	// ErrRequestResolved is returned when responding to a non-pending
	// control request.
	ErrRequestResolved = errors.New("request already resolved")

	// ErrAgentNotFound is returned for an unknown runtime table entry.
	ErrAgentNotFound = errors.New("runtime agent not found")
)

// TeamExistsError is returned by CreateTeam when a team config already
// exists for the session and Replace was not requested.
type TeamExistsError struct {
	Name string
}

func (e *TeamExistsError) Error() string {
	return fmt.Sprintf("Already leading team %q", e.Name)
}

// Paths locates every artifact of one session.
type Paths struct {
	Repo    string
	Session string
	Root    string
}

// NewPaths resolves the session root under <repo>/.codex-teams/<session>.
func NewPaths(repo, session string) Paths {
	abs, err := filepath.Abs(repo)
	if err != nil {
		abs = repo
	}
	return Paths{
		Repo:    abs,
		Session: session,
		Root:    filepath.Join(abs, ".codex-teams", session),
	}
}

// Config is the canonical team config file.
func (p Paths) Config() string { return filepath.Join(p.Root, "config.json") }

// TeamMirror is the legacy team.json mirror, kept byte-identical to
// Config on every write.
func (p Paths) TeamMirror() string { return filepath.Join(p.Root, "team.json") }

// Inboxes is the directory of per-agent mailbox files.
func (p Paths) Inboxes() string { return filepath.Join(p.Root, "inboxes") }

// Inbox is the mailbox file for one agent.
func (p Paths) Inbox(agent string) string {
	return filepath.Join(p.Inboxes(), agent+".json")
}

// Tasks is the directory reserved for external task lists.
func (p Paths) Tasks() string { return filepath.Join(p.Root, "tasks") }

// State is the UI/runtime state blob.
func (p Paths) State() string { return filepath.Join(p.Root, "state.json") }

// Runtime is the spawned-agent process table.
func (p Paths) Runtime() string { return filepath.Join(p.Root, "runtime.json") }

// Control is the control-request mirror table.
func (p Paths) Control() string { return filepath.Join(p.Root, "control.json") }

// BusDB is the room-log SQLite database.
func (p Paths) BusDB() string { return filepath.Join(p.Root, "bus.sqlite") }

// HubLog is the hub lifecycle log.
func (p Paths) HubLog() string { return filepath.Join(p.Root, "hub.log") }

// Heartbeat is the hub liveness blob.
func (p Paths) Heartbeat() string { return filepath.Join(p.Root, "heartbeat.json") }

// Logs is the per-agent log directory cleared on team replace.
func (p Paths) Logs() string { return filepath.Join(p.Root, "logs") }

// EnsureDirs creates the session root and its subdirectories.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Root, p.Inboxes(), p.Tasks()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating session directory: %w", err)
		}
	}
	return nil
}

// Store is a handle on one session's file stores.
type Store struct {
	paths Paths
}

// New returns a store for the session rooted at
// <repo>/.codex-teams/<session>.
func New(repo, session string) *Store {
	return &Store{paths: NewPaths(repo, session)}
}

// Paths exposes the resolved session layout.
func (s *Store) Paths() Paths {
	return s.paths
}

// loadJSON returns the decoded value at path, or def when the file is
// missing, empty, or malformed. Store files are rewritten whole via
// rename, so a bad parse can only mean a file from another tool version;
// every consumer treats that as the default rather than failing.
func loadJSON[T any](path string, def T) T {
	data, err := os.ReadFile(path)
	if err != nil {
		return def
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return def
	}
	return v
}

// withMailboxLock runs fn while holding the sidecar lock for one
// agent's mailbox file.
func (s *Store) withMailboxLock(agent string, fn func() error) error {
	lock := util.NewFileLock(s.paths.Inbox(agent) + ".lock")
	return lock.WithLock(fn)
}
