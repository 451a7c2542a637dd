package teamfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/codexteams/codexteams/internal/style"
	"github.com/codexteams/codexteams/internal/util"
)

// MemberRecord is one team member as stored in config.json. Field names
// are part of the on-disk contract and never change.
type MemberRecord struct {
	AgentID          string   `json:"agentId"`
	Name             string   `json:"name"`
	AgentType        string   `json:"agentType"`
	Model            string   `json:"model"`
	Prompt           string   `json:"prompt"`
	Color            string   `json:"color"`
	PlanModeRequired bool     `json:"planModeRequired"`
	JoinedAt         int64    `json:"joinedAt"`
	TmuxPaneID       string   `json:"tmuxPaneId"`
	CWD              string   `json:"cwd"`
	Subscriptions    []string `json:"subscriptions"`
	BackendType      string   `json:"backendType"`
	Mode             string   `json:"mode"`
}

// TeamConfig is the canonical team model, mirrored to team.json on
// every write.
type TeamConfig struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	CreatedAt       int64          `json:"createdAt"`
	UpdatedAt       int64          `json:"updatedAt"`
	LeadAgentID     string         `json:"leadAgentId"`
	LeadSessionID   string         `json:"leadSessionId"`
	ParentSessionID string         `json:"parentSessionId"`
	Members         []MemberRecord `json:"members"`
	HiddenPaneIDs   []string       `json:"hiddenPaneIds"`
}

// MakeAgentID builds the canonical member id, "<name>@<team>".
func MakeAgentID(name, team string) string {
	return name + "@" + team
}

// MemberIndex finds a member by name or agent id. Returns -1 when no
// member matches.
func (c *TeamConfig) MemberIndex(ident string) int {
	for i, m := range c.Members {
		if m.Name == ident || m.AgentID == ident {
			return i
		}
	}
	return -1
}

// LeadName resolves the lead member's name: the member matching
// leadAgentId, else the first member, else "team-lead".
func (c *TeamConfig) LeadName() string {
	for _, m := range c.Members {
		if m.AgentID == c.LeadAgentID && m.Name != "" {
			return m.Name
		}
	}
	if len(c.Members) > 0 {
		if name := c.Members[0].Name; name != "" {
			return name
		}
		return "team-lead"
	}
	return "team-lead"
}

// MemberColor returns the palette color of a member, defaulting to
// "blue" for unknown names. Unknown senders still need a color for
// their mailbox payloads.
func (c *TeamConfig) MemberColor(name string) string {
	idx := c.MemberIndex(name)
	if idx < 0 {
		return "blue"
	}
	if color := c.Members[idx].Color; color != "" {
		return color
	}
	return "blue"
}

// teamName returns the config's team name, defaulting to "team" so
// agent ids stay well-formed even against an uninitialized config.
func (c *TeamConfig) teamName() string {
	if c.Name == "" {
		return "team"
	}
	return c.Name
}

// LoadConfig reads config.json. A missing file yields an empty config:
// consumers poll the config each tick and must tolerate a session that
// has not been created yet.
func (s *Store) LoadConfig() (*TeamConfig, error) {
	cfg := loadJSON(s.paths.Config(), TeamConfig{})
	return &cfg, nil
}

// SaveConfig stamps updatedAt and writes config.json plus the team.json
// mirror.
func (s *Store) SaveConfig(cfg *TeamConfig) error {
	if err := s.paths.EnsureDirs(); err != nil {
		return err
	}
	cfg.UpdatedAt = util.NowMillis()
	if err := util.AtomicWriteJSON(s.paths.Config(), cfg); err != nil {
		return fmt.Errorf("writing team config: %w", err)
	}
	if err := util.AtomicWriteJSON(s.paths.TeamMirror(), cfg); err != nil {
		return fmt.Errorf("writing team mirror: %w", err)
	}
	return nil
}

// TeamSpec carries the parameters of CreateTeam.
type TeamSpec struct {
	TeamName        string
	Description     string
	LeadName        string
	LeadAgentType   string
	LeadModel       string
	LeadCWD         string
	LeadSessionID   string
	ParentSessionID string
	BackendType     string
	Mode            string
	Replace         bool
}

// CreateTeam initializes the session stores and writes a fresh team
// config with the lead as member zero. An existing config fails with
// TeamExistsError unless Replace is set; Replace clears inboxes, tasks,
// and logs and resets the runtime, state, and control stores.
func (s *Store) CreateTeam(spec TeamSpec) (*TeamConfig, error) {
	if err := s.paths.EnsureDirs(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(s.paths.Config()); err == nil {
		if !spec.Replace {
			existing := loadJSON(s.paths.Config(), TeamConfig{})
			name := existing.Name
			if name == "" {
				name = "unknown"
			}
			return nil, &TeamExistsError{Name: name}
		}
	}
	if spec.Replace {
		if err := s.resetRuntimeArtifacts(); err != nil {
			return nil, err
		}
	}

	now := util.NowMillis()
	teamName := util.SanitizeName(spec.TeamName)
	leadName := spec.LeadName
	if leadName == "" {
		leadName = "team-lead"
	}
	leadID := MakeAgentID(leadName, teamName)
	leadCWD, err := filepath.Abs(spec.LeadCWD)
	if err != nil {
		leadCWD = spec.LeadCWD
	}
	leadSession := spec.LeadSessionID
	if leadSession == "" {
		leadSession = uuid.NewString()
	}
	parentSession := spec.ParentSessionID
	if parentSession == "" {
		parentSession = uuid.NewString()
	}

	cfg := &TeamConfig{
		Name:            teamName,
		Description:     spec.Description,
		CreatedAt:       now,
		UpdatedAt:       now,
		LeadAgentID:     leadID,
		LeadSessionID:   leadSession,
		ParentSessionID: parentSession,
		Members: []MemberRecord{{
			AgentID:          leadID,
			Name:             leadName,
			AgentType:        spec.LeadAgentType,
			Model:            spec.LeadModel,
			Prompt:           "",
			Color:            string(style.Assign(0)),
			PlanModeRequired: false,
			JoinedAt:         now,
			TmuxPaneID:       "",
			CWD:              leadCWD,
			Subscriptions:    []string{},
			BackendType:      spec.BackendType,
			Mode:             spec.Mode,
		}},
		HiddenPaneIDs: []string{},
	}

	if err := s.SaveConfig(cfg); err != nil {
		return nil, err
	}
	if err := s.saveControl(&controlFile{Requests: map[string]ControlRecord{}}); err != nil {
		return nil, err
	}
	if err := s.EnsureInbox(leadName); err != nil {
		return nil, err
	}
	if err := s.SetTeamContext(cfg, leadName); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resetRuntimeArtifacts clears everything a previous team left behind:
// inbox files, task entries, per-agent logs, and the runtime, state, and
// control stores.
func (s *Store) resetRuntimeArtifacts() error {
	clearDir := func(dir string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			os.RemoveAll(filepath.Join(dir, e.Name()))
		}
	}
	clearDir(s.paths.Inboxes())
	clearDir(s.paths.Tasks())
	clearDir(s.paths.Logs())

	if err := s.SaveRuntime(&RuntimeTable{Agents: map[string]*RuntimeRecord{}}); err != nil {
		return err
	}
	if err := s.SaveState(DefaultState()); err != nil {
		return err
	}
	return s.saveControl(&controlFile{Requests: map[string]ControlRecord{}})
}

// DeleteTeam removes the whole session root. Running runtime agents
// block deletion unless force is set. Deleting an absent session is a
// no-op.
func (s *Store) DeleteTeam(force bool) error {
	if _, err := os.Stat(s.paths.Root); os.IsNotExist(err) {
		return nil
	}
	rt, err := s.LoadRuntime()
	if err != nil {
		return err
	}
	rt.Prune()
	if running := rt.Active(); len(running) > 0 && !force {
		return fmt.Errorf("%w: %s", ErrActiveAgents, strings.Join(running, ", "))
	}
	if err := os.RemoveAll(s.paths.Root); err != nil {
		return fmt.Errorf("deleting session root: %w", err)
	}
	return nil
}

// MemberSpec carries the parameters of AddMember.
type MemberSpec struct {
	Name             string
	AgentType        string
	Model            string
	Prompt           string
	Color            string
	PlanModeRequired bool
	CWD              string
	BackendType      string
	Mode             string
	TmuxPaneID       string
}

// AddMember appends a member to the config, assigning the next palette
// color when none is given, and creates the member's inbox.
func (s *Store) AddMember(spec MemberSpec) (*MemberRecord, error) {
	cfg, err := s.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.MemberIndex(spec.Name) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrMemberExists, spec.Name)
	}

	cwd, err := filepath.Abs(spec.CWD)
	if err != nil {
		cwd = spec.CWD
	}
	color := spec.Color
	if color == "" {
		color = string(style.Assign(len(cfg.Members)))
	}
	rec := MemberRecord{
		AgentID:          MakeAgentID(spec.Name, cfg.teamName()),
		Name:             spec.Name,
		AgentType:        spec.AgentType,
		Model:            spec.Model,
		Prompt:           spec.Prompt,
		Color:            color,
		PlanModeRequired: spec.PlanModeRequired,
		JoinedAt:         util.NowMillis(),
		TmuxPaneID:       spec.TmuxPaneID,
		CWD:              cwd,
		Subscriptions:    []string{},
		BackendType:      spec.BackendType,
		Mode:             spec.Mode,
	}
	cfg.Members = append(cfg.Members, rec)

	if err := s.SaveConfig(cfg); err != nil {
		return nil, err
	}
	if err := s.EnsureInbox(spec.Name); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RemoveMember deletes a member by name or agent id. Removing the lead
// fails with ErrLeadRemoval. Returns whether a member was removed.
func (s *Store) RemoveMember(ident string) (bool, error) {
	cfg, err := s.LoadConfig()
	if err != nil {
		return false, err
	}

	changed := false
	keep := cfg.Members[:0]
	for _, m := range cfg.Members {
		if m.Name == ident || m.AgentID == ident {
			if m.AgentID == cfg.LeadAgentID {
				return false, ErrLeadRemoval
			}
			changed = true
			continue
		}
		keep = append(keep, m)
	}
	if !changed {
		return false, nil
	}
	cfg.Members = keep
	if err := s.SaveConfig(cfg); err != nil {
		return false, err
	}
	return true, nil
}

// SetMemberMode updates one member's permission mode. Returns whether a
// member matched.
func (s *Store) SetMemberMode(ident, mode string) (bool, error) {
	cfg, err := s.LoadConfig()
	if err != nil {
		return false, err
	}
	idx := cfg.MemberIndex(ident)
	if idx < 0 {
		return false, nil
	}
	cfg.Members[idx].Mode = mode
	if err := s.SaveConfig(cfg); err != nil {
		return false, err
	}
	return true, nil
}

// ModeEntry is one ident→mode assignment for SetMemberModes.
type ModeEntry struct {
	Ident string
	Mode  string
}

// SetMemberModes applies a batch of mode changes in one config write.
// Unknown idents are skipped; the count of members changed is returned.
func (s *Store) SetMemberModes(entries []ModeEntry) (int, error) {
	cfg, err := s.LoadConfig()
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, e := range entries {
		idx := cfg.MemberIndex(e.Ident)
		if idx < 0 {
			continue
		}
		cfg.Members[idx].Mode = e.Mode
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	if err := s.SaveConfig(cfg); err != nil {
		return 0, err
	}
	return changed, nil
}
