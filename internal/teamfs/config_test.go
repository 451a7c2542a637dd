package teamfs

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), "session-1")
}

// seedTeam creates team "demo" with the default lead plus worker-1 and
// worker-2.
func seedTeam(t *testing.T, s *Store) *TeamConfig {
	t.Helper()
	if _, err := s.CreateTeam(TeamSpec{TeamName: "demo", Description: "demo team", LeadCWD: "."}); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	for _, name := range []string{"worker-1", "worker-2"} {
		if _, err := s.AddMember(MemberSpec{Name: name, AgentType: "worker", CWD: "."}); err != nil {
			t.Fatalf("AddMember(%s): %v", name, err)
		}
	}
	cfg, err := s.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	return cfg
}

func appendMsg(t *testing.T, s *Store, agent string, msg MailMessage) int {
	t.Helper()
	idx, err := s.AppendMail(agent, msg)
	if err != nil {
		t.Fatalf("AppendMail(%s): %v", agent, err)
	}
	return idx
}

func TestCreateTeamDefaults(t *testing.T) {
	s := testStore(t)
	cfg, err := s.CreateTeam(TeamSpec{TeamName: "demo", LeadCWD: "."})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}

	if cfg.Name != "demo" {
		t.Errorf("name: got %q", cfg.Name)
	}
	if cfg.LeadAgentID != "team-lead@demo" {
		t.Errorf("lead id: got %q", cfg.LeadAgentID)
	}
	if cfg.LeadSessionID == "" || cfg.ParentSessionID == "" {
		t.Error("expected generated session ids")
	}
	if len(cfg.Members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(cfg.Members))
	}
	lead := cfg.Members[0]
	if lead.Name != "team-lead" || lead.Color != "red" {
		t.Errorf("unexpected lead member: name=%q color=%q", lead.Name, lead.Color)
	}
	if lead.Subscriptions == nil {
		t.Error("subscriptions should be an empty list, not null")
	}

	// config.json and team.json are written as identical mirrors.
	cfgBytes, err := os.ReadFile(s.Paths().Config())
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	mirrorBytes, err := os.ReadFile(s.Paths().TeamMirror())
	if err != nil {
		t.Fatalf("read mirror: %v", err)
	}
	if !bytes.Equal(cfgBytes, mirrorBytes) {
		t.Error("team.json is not a byte-identical mirror of config.json")
	}

	if _, err := os.Stat(s.Paths().Inbox("team-lead")); err != nil {
		t.Errorf("lead inbox not created: %v", err)
	}

	st, err := s.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.TeamContext == nil {
		t.Fatal("team context not set")
	}
	if st.TeamContext.TeamName != "demo" || st.TeamContext.SelfAgentName != "team-lead" {
		t.Errorf("unexpected context: %+v", st.TeamContext)
	}
	if _, ok := st.TeamContext.Teammates["team-lead@demo"]; !ok {
		t.Errorf("lead missing from teammates: %v", st.TeamContext.Teammates)
	}
}

func TestCreateTeamRefusesExisting(t *testing.T) {
	s := testStore(t)
	if _, err := s.CreateTeam(TeamSpec{TeamName: "demo", LeadCWD: "."}); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}

	_, err := s.CreateTeam(TeamSpec{TeamName: "other", LeadCWD: "."})
	if err == nil {
		t.Fatal("expected error for existing team")
	}
	var exists *TeamExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("expected TeamExistsError, got %T: %v", err, err)
	}
	if err.Error() != `Already leading team "demo"` {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestCreateTeamReplaceResetsArtifacts(t *testing.T) {
	s := testStore(t)
	cfg := seedTeam(t, s)
	appendMsg(t, s, "worker-1", MailMessage{Type: "message", From: "team-lead", Text: "old"})
	if _, err := s.SetRuntime("worker-1", "tmux", "running", 0, "%1", "w"); err != nil {
		t.Fatalf("SetRuntime: %v", err)
	}
	if _, err := s.CreateControlRequest(cfg, "shutdown", "team-lead", "worker-1", "", "", "r-pre"); err != nil {
		t.Fatalf("CreateControlRequest: %v", err)
	}

	fresh, err := s.CreateTeam(TeamSpec{TeamName: "fresh", LeadName: "boss", LeadCWD: ".", Replace: true})
	if err != nil {
		t.Fatalf("CreateTeam(replace): %v", err)
	}
	if fresh.Name != "fresh" || len(fresh.Members) != 1 || fresh.Members[0].Name != "boss" {
		t.Errorf("unexpected replacement config: %+v", fresh)
	}

	if _, err := os.Stat(s.Paths().Inbox("worker-1")); !os.IsNotExist(err) {
		t.Error("old inbox survived replace")
	}
	if _, err := os.Stat(s.Paths().Inbox("boss")); err != nil {
		t.Errorf("new lead inbox missing: %v", err)
	}

	rt, err := s.LoadRuntime()
	if err != nil {
		t.Fatalf("LoadRuntime: %v", err)
	}
	if len(rt.Agents) != 0 {
		t.Errorf("runtime not reset: %v", rt.Agents)
	}

	reqs, err := s.ListControlRequests("", true, 0)
	if err != nil {
		t.Fatalf("ListControlRequests: %v", err)
	}
	if len(reqs) != 0 {
		t.Errorf("control table not reset: %+v", reqs)
	}

	st, err := s.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.TeamContext == nil || st.TeamContext.TeamName != "fresh" {
		t.Errorf("context not repointed: %+v", st.TeamContext)
	}
}

func TestAddMemberAssignsPaletteColors(t *testing.T) {
	s := testStore(t)
	seedTeam(t, s)

	cfg, err := s.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	// Lead took red at index 0; workers rotate on from there.
	want := map[string]string{"worker-1": "blue", "worker-2": "green"}
	for name, color := range want {
		if got := cfg.MemberColor(name); got != color {
			t.Errorf("%s color: got %q, want %q", name, got, color)
		}
	}

	rec, err := s.AddMember(MemberSpec{Name: "worker-3", AgentType: "worker", CWD: "."})
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if rec.Color != "yellow" {
		t.Errorf("worker-3 color: got %q, want yellow", rec.Color)
	}
	if rec.AgentID != "worker-3@demo" {
		t.Errorf("agent id: got %q", rec.AgentID)
	}
	if _, err := os.Stat(s.Paths().Inbox("worker-3")); err != nil {
		t.Errorf("inbox not created: %v", err)
	}

	explicit, err := s.AddMember(MemberSpec{Name: "reviewer-1", AgentType: "reviewer", Color: "cyan", CWD: "."})
	if err != nil {
		t.Fatalf("AddMember(reviewer-1): %v", err)
	}
	if explicit.Color != "cyan" {
		t.Errorf("explicit color overridden: %q", explicit.Color)
	}

	if _, err := s.AddMember(MemberSpec{Name: "worker-1", CWD: "."}); !errors.Is(err, ErrMemberExists) {
		t.Errorf("expected ErrMemberExists, got %v", err)
	}
}

func TestRemoveMember(t *testing.T) {
	s := testStore(t)
	seedTeam(t, s)

	changed, err := s.RemoveMember("worker-1")
	if err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if !changed {
		t.Error("expected removal to report change")
	}
	changed, err = s.RemoveMember("worker-1")
	if err != nil {
		t.Fatalf("RemoveMember(repeat): %v", err)
	}
	if changed {
		t.Error("second removal should be a no-op")
	}

	if _, err := s.RemoveMember("team-lead"); !errors.Is(err, ErrLeadRemoval) {
		t.Errorf("expected ErrLeadRemoval, got %v", err)
	}

	// Removal by agent id works too.
	changed, err = s.RemoveMember("worker-2@demo")
	if err != nil {
		t.Fatalf("RemoveMember(by id): %v", err)
	}
	if !changed {
		t.Error("expected removal by agent id")
	}

	cfg, err := s.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Members) != 1 || cfg.Members[0].Name != "team-lead" {
		t.Errorf("unexpected members after removals: %+v", cfg.Members)
	}
}

func TestSetMemberModes(t *testing.T) {
	s := testStore(t)
	seedTeam(t, s)

	n, err := s.SetMemberModes([]ModeEntry{
		{Ident: "worker-1", Mode: "plan"},
		{Ident: "ghost", Mode: "bypassPermissions"},
		{Ident: "team-lead@demo", Mode: "acceptEdits"},
	})
	if err != nil {
		t.Fatalf("SetMemberModes: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 changed, got %d", n)
	}

	cfg, err := s.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	byName := map[string]string{}
	for _, m := range cfg.Members {
		byName[m.Name] = m.Mode
	}
	if byName["worker-1"] != "plan" || byName["team-lead"] != "acceptEdits" {
		t.Errorf("modes not applied: %v", byName)
	}

	ok, err := s.SetMemberMode("worker-2", "delegate")
	if err != nil {
		t.Fatalf("SetMemberMode: %v", err)
	}
	if !ok {
		t.Error("expected match for worker-2")
	}
	ok, err = s.SetMemberMode("nobody", "plan")
	if err != nil {
		t.Fatalf("SetMemberMode(nobody): %v", err)
	}
	if ok {
		t.Error("expected no match for unknown member")
	}
}

func TestDeleteTeam(t *testing.T) {
	s := testStore(t)
	if err := s.DeleteTeam(false); err != nil {
		t.Fatalf("DeleteTeam on missing root: %v", err)
	}

	seedTeam(t, s)
	if _, err := s.SetRuntime("worker-1", "tmux", "running", os.Getpid(), "%1", "w"); err != nil {
		t.Fatalf("SetRuntime: %v", err)
	}

	err := s.DeleteTeam(false)
	if !errors.Is(err, ErrActiveAgents) {
		t.Fatalf("expected ErrActiveAgents, got %v", err)
	}
	if !strings.Contains(err.Error(), "worker-1") {
		t.Errorf("error should name the live agent: %v", err)
	}

	if err := s.DeleteTeam(true); err != nil {
		t.Fatalf("DeleteTeam(force): %v", err)
	}
	if _, err := os.Stat(s.Paths().Root); !os.IsNotExist(err) {
		t.Error("session root survived forced delete")
	}
}

func TestDeleteTeamPrunesDeadAgents(t *testing.T) {
	s := testStore(t)
	seedTeam(t, s)
	// A running record whose pid no longer exists does not block delete.
	if _, err := s.SetRuntime("worker-1", "tmux", "running", 1<<30, "%1", "w"); err != nil {
		t.Fatalf("SetRuntime: %v", err)
	}
	if err := s.DeleteTeam(false); err != nil {
		t.Fatalf("DeleteTeam: %v", err)
	}
}

func TestLeadNameFallbacks(t *testing.T) {
	tests := []struct {
		name string
		cfg  TeamConfig
		want string
	}{
		{
			"lead id match",
			TeamConfig{LeadAgentID: "boss@t", Members: []MemberRecord{{AgentID: "w@t", Name: "w"}, {AgentID: "boss@t", Name: "boss"}}},
			"boss",
		},
		{
			"no match falls back to first member",
			TeamConfig{LeadAgentID: "gone@t", Members: []MemberRecord{{AgentID: "w@t", Name: "w"}}},
			"w",
		},
		{
			"no members",
			TeamConfig{LeadAgentID: "gone@t"},
			"team-lead",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.LeadName(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMemberColorFallsBackToBlue(t *testing.T) {
	cfg := TeamConfig{Members: []MemberRecord{{Name: "w", Color: ""}, {Name: "r", Color: "green"}}}
	if got := cfg.MemberColor("w"); got != "blue" {
		t.Errorf("empty color: got %q", got)
	}
	if got := cfg.MemberColor("stranger"); got != "blue" {
		t.Errorf("unknown member: got %q", got)
	}
	if got := cfg.MemberColor("r"); got != "green" {
		t.Errorf("explicit color: got %q", got)
	}
}
