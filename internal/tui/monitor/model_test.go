package monitor

import (
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/codexteams/codexteams/internal/teamfs"
)

func seedSession(t *testing.T) (string, *teamfs.Store) {
	t.Helper()
	repo := t.TempDir()
	s := teamfs.New(repo, "demo")
	if _, err := s.CreateTeam(teamfs.TeamSpec{TeamName: "demo", LeadCWD: "."}); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	if _, err := s.AddMember(teamfs.MemberSpec{Name: "worker-1", AgentType: "worker", CWD: "."}); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	return repo, s
}

func TestTakeSnapshot(t *testing.T) {
	_, s := seedSession(t)

	if _, err := s.AppendMail("worker-1", teamfs.MailMessage{
		Type: "task", From: "team-lead", Text: "review the parser", Summary: "parser review",
	}); err != nil {
		t.Fatalf("AppendMail: %v", err)
	}
	if _, err := s.SetRuntime("worker-1", "tmux", "running", 4242, "%1", "demo"); err != nil {
		t.Fatalf("SetRuntime: %v", err)
	}

	snap, err := takeSnapshot(s, "main")
	if err != nil {
		t.Fatalf("takeSnapshot: %v", err)
	}
	if snap.TeamName != "demo" {
		t.Errorf("TeamName = %q, want demo", snap.TeamName)
	}
	if len(snap.Rows) != 2 {
		t.Fatalf("rows = %d, want lead plus worker", len(snap.Rows))
	}

	lead := snap.Rows[0]
	if lead.Name != "team-lead" {
		t.Errorf("row 0 = %q, want team-lead", lead.Name)
	}
	if lead.Status != "-" {
		t.Errorf("lead status = %q, want placeholder", lead.Status)
	}

	worker := snap.Rows[1]
	if worker.Status != "running" || worker.PID != 4242 {
		t.Errorf("worker runtime = %s/%d, want running/4242", worker.Status, worker.PID)
	}
	if worker.Unread != 1 {
		t.Errorf("worker unread = %d, want 1", worker.Unread)
	}
	if worker.LastSummary != "parser review" {
		t.Errorf("worker last = %q, want summary", worker.LastSummary)
	}

	// No bus database for this session: the room line stays empty.
	if snap.BusLine != "" {
		t.Errorf("BusLine = %q, want empty without a bus", snap.BusLine)
	}
}

func TestTakeSnapshotTextFallback(t *testing.T) {
	_, s := seedSession(t)
	if _, err := s.AppendMail("worker-1", teamfs.MailMessage{
		Type: "status", From: "team-lead", Text: "only text here",
	}); err != nil {
		t.Fatalf("AppendMail: %v", err)
	}

	snap, err := takeSnapshot(s, "main")
	if err != nil {
		t.Fatalf("takeSnapshot: %v", err)
	}
	if snap.Rows[1].LastSummary != "only text here" {
		t.Errorf("last = %q, want text fallback", snap.Rows[1].LastSummary)
	}
}

func TestTakeSnapshotMissingTeam(t *testing.T) {
	s := teamfs.New(t.TempDir(), "ghost")
	if _, err := takeSnapshot(s, "main"); err == nil {
		t.Error("takeSnapshot without a team succeeded, want error")
	}
}

func TestUpdateSnapshotMsg(t *testing.T) {
	m := &Model{keys: DefaultKeyMap(), help: help.New()}

	snap := &snapshot{TeamName: "demo"}
	next, _ := m.Update(snapshotMsg{snap: snap})
	got := next.(*Model)
	if got.snap != snap {
		t.Error("snapshotMsg did not install the snapshot")
	}
	if got.err != nil {
		t.Errorf("err = %v, want nil", got.err)
	}
}

func TestUpdateQuitKey(t *testing.T) {
	m := &Model{keys: DefaultKeyMap(), help: help.New()}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q produced no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestViewRendersRoster(t *testing.T) {
	m := &Model{keys: DefaultKeyMap(), help: help.New()}
	m.snap = &snapshot{
		TeamName: "demo",
		Rows: []memberRow{
			{Name: "team-lead", Role: "lead", Color: "red", Backend: "tmux", Status: "running", PID: 10, Unread: 0},
			{Name: "worker-1", Role: "worker", Color: "blue", Backend: "tmux", Status: "-", Unread: 2, LastSummary: "parser review"},
		},
	}

	out := m.View()
	for _, want := range []string{"team demo", "NAME", "team-lead", "worker-1", "parser review"} {
		if !strings.Contains(out, want) {
			t.Errorf("View missing %q", want)
		}
	}
}

func TestViewBeforeFirstSnapshot(t *testing.T) {
	m := &Model{keys: DefaultKeyMap(), help: help.New()}
	if out := m.View(); !strings.Contains(out, "(loading)") {
		t.Error("View before first snapshot should show the loading placeholder")
	}
}

func TestPadAndTruncate(t *testing.T) {
	if got := pad("abc", 6); got != "abc   " {
		t.Errorf("pad = %q", got)
	}
	if got := pad("abcdefgh", 6); len(got) != 6 || !strings.HasSuffix(got, " ") {
		t.Errorf("pad overlong = %q, want width 6 with separator", got)
	}
	if got := truncate("hello world", 8); got != "hello..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("hi", 8); got != "hi" {
		t.Errorf("truncate short = %q", got)
	}
}
