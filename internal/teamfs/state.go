package teamfs

import (
	"fmt"

	"github.com/codexteams/codexteams/internal/util"
)

// Teammate is the per-member summary embedded in the team context.
type Teammate struct {
	Name             string `json:"name"`
	AgentType        string `json:"agentType"`
	Color            string `json:"color"`
	BackendType      string `json:"backendType"`
	Mode             string `json:"mode"`
	PlanModeRequired bool   `json:"planModeRequired"`
}

// TeamContext is the snapshot UIs read to render a session.
type TeamContext struct {
	TeamName       string              `json:"teamName"`
	TeamFilePath   string              `json:"teamFilePath"`
	TeamConfigPath string              `json:"teamConfigPath"`
	TaskListPath   string              `json:"taskListPath"`
	LeadAgentID    string              `json:"leadAgentId"`
	LeadAgentName  string              `json:"leadAgentName"`
	SelfAgentID    string              `json:"selfAgentId"`
	SelfAgentName  string              `json:"selfAgentName"`
	SelfAgentColor string              `json:"selfAgentColor"`
	Teammates      map[string]Teammate `json:"teammates"`
}

// PolledItem is one mailbox row queued into the state inbox.
type PolledItem struct {
	MailboxIndex int         `json:"mailbox_index"`
	Agent        string      `json:"agent"`
	Message      MailMessage `json:"message"`
}

// PermissionItem is one permission_request queued for interactive
// review.
type PermissionItem struct {
	MailboxIndex int    `json:"mailbox_index"`
	RequestID    string `json:"request_id"`
	From         string `json:"from"`
	Summary      string `json:"summary"`
	Text         string `json:"text"`
	Timestamp    string `json:"timestamp"`
	Color        string `json:"color"`
	Recipient    string `json:"recipient"`
}

// StateInbox is the queued-message section of the state blob.
type StateInbox struct {
	Messages []PolledItem `json:"messages"`
}

// PermissionQueue is the pending permission_request section.
type PermissionQueue struct {
	Queue         []PermissionItem `json:"queue"`
	SelectedIndex int              `json:"selectedIndex"`
}

// State is the UI/runtime state blob at state.json.
type State struct {
	TeamContext              *TeamContext    `json:"teamContext"`
	Inbox                    StateInbox      `json:"inbox"`
	WorkerSandboxPermissions PermissionQueue `json:"workerSandboxPermissions"`
	ExpandedView             string          `json:"expandedView"`
	SelectedIPAgentIndex     int             `json:"selectedIPAgentIndex"`
	ViewSelectionMode        string          `json:"viewSelectionMode"`
	ViewingAgentTaskID       *string         `json:"viewingAgentTaskId"`
}

// DefaultState returns the blob a fresh session starts from.
func DefaultState() *State {
	return &State{
		TeamContext:              nil,
		Inbox:                    StateInbox{Messages: []PolledItem{}},
		WorkerSandboxPermissions: PermissionQueue{Queue: []PermissionItem{}, SelectedIndex: 0},
		ExpandedView:             "none",
		SelectedIPAgentIndex:     -1,
		ViewSelectionMode:        "none",
		ViewingAgentTaskID:       nil,
	}
}

// LoadState reads state.json, falling back to the default blob.
func (s *Store) LoadState() (*State, error) {
	st := loadJSON(s.paths.State(), *DefaultState())
	if st.Inbox.Messages == nil {
		st.Inbox.Messages = []PolledItem{}
	}
	if st.WorkerSandboxPermissions.Queue == nil {
		st.WorkerSandboxPermissions.Queue = []PermissionItem{}
	}
	return &st, nil
}

// SaveState writes state.json atomically.
func (s *Store) SaveState(st *State) error {
	if err := s.paths.EnsureDirs(); err != nil {
		return err
	}
	if err := util.AtomicWriteJSON(s.paths.State(), st); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}

// SetTeamContext fills state.teamContext from the team config as seen
// by selfName.
func (s *Store) SetTeamContext(cfg *TeamConfig, selfName string) error {
	st, err := s.LoadState()
	if err != nil {
		return err
	}

	teammates := make(map[string]Teammate, len(cfg.Members))
	for _, m := range cfg.Members {
		if m.AgentID == "" {
			continue
		}
		agentType := m.AgentType
		if agentType == "" {
			agentType = "member"
		}
		color := m.Color
		if color == "" {
			color = "blue"
		}
		backend := m.BackendType
		if backend == "" {
			backend = "tmux"
		}
		mode := m.Mode
		if mode == "" {
			mode = "auto"
		}
		teammates[m.AgentID] = Teammate{
			Name:             m.Name,
			AgentType:        agentType,
			Color:            color,
			BackendType:      backend,
			Mode:             mode,
			PlanModeRequired: m.PlanModeRequired,
		}
	}

	st.TeamContext = &TeamContext{
		TeamName:       cfg.teamName(),
		TeamFilePath:   s.paths.Config(),
		TeamConfigPath: s.paths.Config(),
		TaskListPath:   s.paths.Tasks(),
		LeadAgentID:    cfg.LeadAgentID,
		LeadAgentName:  cfg.LeadName(),
		SelfAgentID:    MakeAgentID(selfName, cfg.teamName()),
		SelfAgentName:  selfName,
		SelfAgentColor: cfg.MemberColor(selfName),
		Teammates:      teammates,
	}
	return s.SaveState(st)
}

// ClearTeamContext nulls state.teamContext.
func (s *Store) ClearTeamContext() error {
	st, err := s.LoadState()
	if err != nil {
		return err
	}
	st.TeamContext = nil
	return s.SaveState(st)
}

// InboxPoll moves up to limit unread mailbox rows for agent into the
// state inbox queue, additionally queueing permission_request rows for
// interactive review, and optionally marks the polled rows read. The
// queued items are returned in mailbox order.
func (s *Store) InboxPoll(agent string, limit int, markRead bool) ([]PolledItem, error) {
	indexed, err := s.UnreadIndexed(agent)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(indexed) > limit {
		indexed = indexed[:limit]
	}

	st, err := s.LoadState()
	if err != nil {
		return nil, err
	}

	items := make([]PolledItem, 0, len(indexed))
	for _, row := range indexed {
		item := PolledItem{MailboxIndex: row.Index, Agent: agent, Message: row.Message}
		st.Inbox.Messages = append(st.Inbox.Messages, item)
		items = append(items, item)

		if row.Message.Type == "permission_request" {
			color := row.Message.Color
			if color == "" {
				color = "blue"
			}
			st.WorkerSandboxPermissions.Queue = append(st.WorkerSandboxPermissions.Queue, PermissionItem{
				MailboxIndex: row.Index,
				RequestID:    row.Message.RequestID,
				From:         row.Message.From,
				Summary:      row.Message.Summary,
				Text:         row.Message.Text,
				Timestamp:    row.Message.Timestamp,
				Color:        color,
				Recipient:    row.Message.Recipient,
			})
		}
	}

	if markRead && len(indexed) > 0 {
		indexes := make([]int, len(indexed))
		for i, row := range indexed {
			indexes[i] = row.Index
		}
		if _, err := s.MarkRead(agent, indexes, false); err != nil {
			return nil, err
		}
	}
	if err := s.SaveState(st); err != nil {
		return nil, err
	}
	return items, nil
}
