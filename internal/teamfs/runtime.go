package teamfs

import (
	"fmt"
	"os"
	"sort"
	"syscall"

	"github.com/codexteams/codexteams/internal/util"
)

// RuntimeRecord tracks one spawned teammate process.
type RuntimeRecord struct {
	Agent     string `json:"agent"`
	Backend   string `json:"backend"`
	Status    string `json:"status"`
	PID       int    `json:"pid"`
	PaneID    string `json:"paneId"`
	Window    string `json:"window"`
	UpdatedAt int64  `json:"updatedAt"`
	StartedAt int64  `json:"startedAt"`
}

// RuntimeTable is the runtime.json process registry.
type RuntimeTable struct {
	Agents    map[string]*RuntimeRecord `json:"agents"`
	UpdatedAt int64                     `json:"updatedAt"`
}

// PidAlive reports whether pid names a live process we can signal.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Prune flips running records whose pid is gone to terminated and
// returns how many records changed.
func (rt *RuntimeTable) Prune() int {
	changed := 0
	for _, rec := range rt.Agents {
		if rec == nil {
			continue
		}
		if rec.Status == "running" && rec.PID > 0 && !PidAlive(rec.PID) {
			rec.Status = "terminated"
			rec.UpdatedAt = util.NowMillis()
			changed++
		}
	}
	return changed
}

// Active returns the sorted names of records that are running with a
// live pid.
func (rt *RuntimeTable) Active() []string {
	out := []string{}
	for name, rec := range rt.Agents {
		if rec == nil || rec.Status != "running" {
			continue
		}
		if rec.PID > 0 && PidAlive(rec.PID) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Names returns all registered agent names, sorted.
func (rt *RuntimeTable) Names() []string {
	out := make([]string, 0, len(rt.Agents))
	for name := range rt.Agents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LoadRuntime reads runtime.json, falling back to an empty table.
func (s *Store) LoadRuntime() (*RuntimeTable, error) {
	rt := loadJSON(s.paths.Runtime(), RuntimeTable{})
	if rt.Agents == nil {
		rt.Agents = map[string]*RuntimeRecord{}
	}
	return &rt, nil
}

// SaveRuntime writes runtime.json atomically, stamping updatedAt.
func (s *Store) SaveRuntime(rt *RuntimeTable) error {
	if err := s.paths.EnsureDirs(); err != nil {
		return err
	}
	if rt.Agents == nil {
		rt.Agents = map[string]*RuntimeRecord{}
	}
	rt.UpdatedAt = util.NowMillis()
	if err := util.AtomicWriteJSON(s.paths.Runtime(), rt); err != nil {
		return fmt.Errorf("writing runtime: %w", err)
	}
	return nil
}

// SetRuntime upserts the record for agent, preserving startedAt across
// updates.
func (s *Store) SetRuntime(agent, backend, status string, pid int, paneID, window string) (*RuntimeRecord, error) {
	rt, err := s.LoadRuntime()
	if err != nil {
		return nil, err
	}
	rec := rt.Agents[agent]
	if rec == nil {
		rec = &RuntimeRecord{}
	}
	rec.Agent = agent
	rec.Backend = backend
	rec.Status = status
	rec.PID = pid
	rec.PaneID = paneID
	rec.Window = window
	rec.UpdatedAt = util.NowMillis()
	if rec.StartedAt == 0 {
		rec.StartedAt = util.NowMillis()
	}
	rt.Agents[agent] = rec
	if err := s.SaveRuntime(rt); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkRuntime updates the status (and optionally pid) of an existing
// record.
func (s *Store) MarkRuntime(agent, status string, pid *int) (*RuntimeRecord, error) {
	rt, err := s.LoadRuntime()
	if err != nil {
		return nil, err
	}
	rec := rt.Agents[agent]
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agent)
	}
	rec.Status = status
	if pid != nil {
		rec.PID = *pid
	}
	rec.UpdatedAt = util.NowMillis()
	if err := s.SaveRuntime(rt); err != nil {
		return nil, err
	}
	return rec, nil
}

// KillRuntime signals the agent's process if it is alive and marks the
// record terminated. sig is "term" for SIGTERM, anything else SIGKILL.
func (s *Store) KillRuntime(agent, sig string) (*RuntimeRecord, error) {
	rt, err := s.LoadRuntime()
	if err != nil {
		return nil, err
	}
	rec := rt.Agents[agent]
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agent)
	}
	if rec.PID > 0 && PidAlive(rec.PID) {
		signo := syscall.SIGKILL
		if sig == "term" {
			signo = syscall.SIGTERM
		}
		if proc, err := os.FindProcess(rec.PID); err == nil {
			_ = proc.Signal(signo)
		}
	}
	rec.Status = "terminated"
	rec.UpdatedAt = util.NowMillis()
	if err := s.SaveRuntime(rt); err != nil {
		return nil, err
	}
	return rec, nil
}

// PruneRuntime loads, prunes, and (when anything changed) persists the
// runtime table.
func (s *Store) PruneRuntime() (*RuntimeTable, int, error) {
	rt, err := s.LoadRuntime()
	if err != nil {
		return nil, 0, err
	}
	changed := rt.Prune()
	if changed > 0 {
		if err := s.SaveRuntime(rt); err != nil {
			return nil, 0, err
		}
	}
	return rt, changed, nil
}
