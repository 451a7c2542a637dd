package hub

import (
	"strings"
	"testing"

	"github.com/codexteams/codexteams/internal/bus"
	"github.com/codexteams/codexteams/internal/teamfs"
)

// newTestTeam builds a session with lead, two workers, and a reviewer,
// plus an env wired to the session's stores.
func newTestTeam(t *testing.T) (*env, *teamfs.TeamConfig) {
	t.Helper()
	repo := t.TempDir()
	fs := teamfs.New(repo, "demo")
	if _, err := fs.CreateTeam(teamfs.TeamSpec{TeamName: "demo", LeadName: "lead"}); err != nil {
		t.Fatalf("create team: %v", err)
	}
	for _, name := range []string{"worker-1", "worker-2", "reviewer-1"} {
		if _, err := fs.AddMember(teamfs.MemberSpec{Name: name}); err != nil {
			t.Fatalf("add member %s: %v", name, err)
		}
	}
	cfg, err := fs.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	store, err := bus.Open(fs.Paths().BusDB())
	if err != nil {
		t.Fatalf("open bus: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &env{fs: fs, bus: store, room: "main", fsAttempts: 1, busAttempts: 1}, cfg
}

func testWorker(name string) *workerState {
	return newWorkerState(name, "worker", "/tmp", "pair", "", "default", "context", 0)
}

func busBodies(t *testing.T, e *env) []string {
	t.Helper()
	msgs, err := e.bus.FetchMessages(e.room, 0, "", true, 1000)
	if err != nil {
		t.Fatalf("fetch messages: %v", err)
	}
	bodies := make([]string, len(msgs))
	for i, m := range msgs {
		bodies[i] = m.Body
	}
	return bodies
}

func hasBody(bodies []string, want string) bool {
	for _, b := range bodies {
		if b == want {
			return true
		}
	}
	return false
}

func mailboxMessages(t *testing.T, e *env, agent string) []teamfs.MailMessage {
	t.Helper()
	msgs, err := e.fs.ReadMailbox(agent)
	if err != nil {
		t.Fatalf("read mailbox %s: %v", agent, err)
	}
	return msgs
}

func indexed(msgs ...teamfs.MailMessage) []teamfs.IndexedMail {
	out := make([]teamfs.IndexedMail, len(msgs))
	for i, m := range msgs {
		out[i] = teamfs.IndexedMail{Index: i, Message: m}
	}
	return out
}

func TestShutdownRequestCompatibilityPath(t *testing.T) {
	e, cfg := newTestTeam(t)
	w := testWorker("worker-1")

	shutdown, work := e.handleControlMessages(w, cfg, indexed(teamfs.MailMessage{
		Type:      "shutdown_request",
		From:      "lead",
		Recipient: "worker-1",
		Text:      "wrap up",
	}))
	if !shutdown {
		t.Fatal("expected shutdown approval")
	}
	if len(work) != 0 {
		t.Fatalf("shutdown request should not become work, got %d rows", len(work))
	}

	var response *teamfs.MailMessage
	for _, m := range mailboxMessages(t, e, "lead") {
		if m.Type == "shutdown_response" {
			response = &m
			break
		}
	}
	if response == nil {
		t.Fatal("lead mailbox missing shutdown_response")
	}
	if response.Text != "shutdown approved (compatibility: no request_id)" {
		t.Fatalf("response text = %q", response.Text)
	}
	if response.Approve == nil || !*response.Approve {
		t.Fatal("response approve flag not set")
	}

	bodies := busBodies(t, e)
	if !hasBody(bodies, "shutdown handled approved=true") {
		t.Fatalf("missing shutdown broadcast, got %v", bodies)
	}
	if !hasBody(bodies, "shutdown requested; terminating agent loop") {
		t.Fatalf("missing termination broadcast, got %v", bodies)
	}
}

func TestShutdownRequestRejections(t *testing.T) {
	tests := []struct {
		name     string
		msg      teamfs.MailMessage
		wantText string
	}{
		{
			name: "recipient mismatch",
			msg: teamfs.MailMessage{
				Type: "shutdown_request", From: "lead", Recipient: "worker-2",
			},
			wantText: "shutdown_request recipient mismatch: expected=worker-1 got=worker-2",
		},
		{
			name: "missing recipient",
			msg: teamfs.MailMessage{
				Type: "shutdown_request", From: "lead",
			},
			wantText: "shutdown_request recipient mismatch: expected=worker-1 got=<missing>",
		},
		{
			name: "unknown sender",
			msg: teamfs.MailMessage{
				Type: "shutdown_request", From: "stranger", Recipient: "worker-1",
			},
			wantText: "unauthorized shutdown_request sender=stranger",
		},
		{
			name: "non-lead member",
			msg: teamfs.MailMessage{
				Type: "shutdown_request", From: "worker-2", Recipient: "worker-1",
			},
			wantText: "shutdown_request allowed only from lead=lead; got=worker-2",
		},
		{
			name: "request id without record",
			msg: teamfs.MailMessage{
				Type: "shutdown_request", From: "lead", Recipient: "worker-1", RequestID: "feedfeedfeed",
			},
			wantText: "request not found: request_id=feedfeedfeed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, cfg := newTestTeam(t)
			w := testWorker("worker-1")

			shutdown, _ := e.handleControlMessages(w, cfg, indexed(tt.msg))
			if shutdown {
				t.Fatal("rejected request must not shut the worker down")
			}

			target := tt.msg.From
			if target == "" {
				target = "lead"
			}
			found := false
			for _, m := range mailboxMessages(t, e, target) {
				if m.Type == "shutdown_response" && m.Text == tt.wantText {
					if m.Approve == nil || *m.Approve {
						t.Fatalf("rejection carried approve=%v", m.Approve)
					}
					found = true
				}
			}
			if !found {
				t.Fatalf("no shutdown_response with text %q in %s's mailbox", tt.wantText, target)
			}
			if !hasBody(busBodies(t, e), "shutdown handled approved=false") {
				t.Fatal("missing rejection broadcast")
			}
		})
	}
}

func TestShutdownRequestWithRecord(t *testing.T) {
	e, cfg := newTestTeam(t)
	w := testWorker("worker-1")

	rid, err := e.fs.CreateControlRequest(cfg, "shutdown", "lead", "worker-1", "please stop", "", "")
	if err != nil {
		t.Fatalf("create control request: %v", err)
	}

	shutdown, _ := e.handleControlMessages(w, cfg, indexed(teamfs.MailMessage{
		Type:      "shutdown_request",
		From:      "lead",
		Recipient: "worker-1",
		RequestID: rid,
	}))
	if !shutdown {
		t.Fatal("record-backed request from lead should be approved")
	}

	rec, err := e.fs.GetControlRequest(rid)
	if err != nil || rec == nil {
		t.Fatalf("re-reading request: rec=%v err=%v", rec, err)
	}
	if rec.Status != "approved" {
		t.Fatalf("record status = %q, want approved", rec.Status)
	}
	if rec.ResponseBody != "shutdown approved" {
		t.Fatalf("record response = %q", rec.ResponseBody)
	}
}

func TestShutdownRequestRecordValidation(t *testing.T) {
	e, cfg := newTestTeam(t)
	w := testWorker("worker-1")

	// The stored record names a different recipient than the envelope.
	rid, err := e.fs.CreateControlRequest(cfg, "shutdown", "lead", "worker-2", "", "", "")
	if err != nil {
		t.Fatalf("create control request: %v", err)
	}

	shutdown, _ := e.handleControlMessages(w, cfg, indexed(teamfs.MailMessage{
		Type:      "shutdown_request",
		From:      "lead",
		Recipient: "worker-1",
		RequestID: rid,
	}))
	if shutdown {
		t.Fatal("mismatched record must reject the shutdown")
	}

	want := "request recipient mismatch: expected=worker-2 got=worker-1"
	found := false
	for _, m := range mailboxMessages(t, e, "lead") {
		if m.Type == "shutdown_response" && m.Text == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing rejection %q", want)
	}
}

func TestValidateControlRecord(t *testing.T) {
	base := controlRecordView{reqType: "shutdown", sender: "lead", recipient: "worker-1", status: "pending"}
	tests := []struct {
		name string
		rec  controlRecordView
		want string
	}{
		{"valid", base, ""},
		{"type mismatch", controlRecordView{reqType: "mode_set", sender: "lead", recipient: "worker-1", status: "pending"},
			"request type mismatch: expected shutdown got=mode_set"},
		{"type missing", controlRecordView{recipient: "worker-1", status: "pending"},
			"request type mismatch: expected shutdown got=unknown"},
		{"already resolved", controlRecordView{reqType: "shutdown", sender: "lead", recipient: "worker-1", status: "approved"},
			"request already resolved: status=approved"},
		{"sender mismatch", controlRecordView{reqType: "shutdown", sender: "worker-2", recipient: "worker-1", status: "pending"},
			"request sender mismatch: expected=worker-2 got=lead"},
		{"recipient missing", controlRecordView{reqType: "shutdown", sender: "lead", status: "pending"},
			"request recipient missing"},
		{"recipient mismatch", controlRecordView{reqType: "shutdown", sender: "lead", recipient: "worker-2", status: "pending"},
			"request recipient mismatch: expected=worker-2 got=worker-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := validateControlRecord(&tt.rec, "shutdown", "lead", "worker-1", "worker-1")
			if got != tt.want {
				t.Fatalf("validateControlRecord = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModeSetRequestApproved(t *testing.T) {
	e, cfg := newTestTeam(t)
	w := testWorker("worker-1")

	shutdown, work := e.handleControlMessages(w, cfg, indexed(teamfs.MailMessage{
		Type:      "mode_set_request",
		From:      "lead",
		Recipient: "worker-1",
		Meta:      map[string]interface{}{"mode": "acceptEdits"},
	}))
	if shutdown || len(work) != 0 {
		t.Fatalf("mode_set must not shut down or produce work: shutdown=%v work=%d", shutdown, len(work))
	}
	if w.permissionMode != "acceptEdits" {
		t.Fatalf("worker mode = %q, want acceptEdits", w.permissionMode)
	}

	latest, err := e.fs.LoadConfig()
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	persisted := ""
	for _, m := range latest.Members {
		if m.Name == "worker-1" {
			persisted = m.Mode
		}
	}
	if persisted != "acceptEdits" {
		t.Fatalf("persisted mode = %q, want acceptEdits", persisted)
	}

	bodies := busBodies(t, e)
	if !hasBody(bodies, "mode_set handled mode=acceptEdits approved=true") {
		t.Fatalf("missing mode_set broadcast, got %v", bodies)
	}
	if !hasBody(bodies, "teammate_mode_changed mode=acceptEdits") {
		t.Fatalf("missing mode-changed broadcast, got %v", bodies)
	}
}

func TestModeSetRequestModeFromText(t *testing.T) {
	e, cfg := newTestTeam(t)
	w := testWorker("worker-1")

	e.handleControlMessages(w, cfg, indexed(teamfs.MailMessage{
		Type:      "mode_set_request",
		From:      "lead",
		Recipient: "worker-1",
		Text:      "  plan  ",
	}))
	if w.permissionMode != "plan" {
		t.Fatalf("worker mode = %q, want plan", w.permissionMode)
	}
}

func TestModeSetRequestRejections(t *testing.T) {
	tests := []struct {
		name     string
		msg      teamfs.MailMessage
		wantText string
	}{
		{
			name: "missing mode",
			msg: teamfs.MailMessage{
				Type: "mode_set_request", From: "lead", Recipient: "worker-1",
			},
			wantText: "missing mode in mode_set_request",
		},
		{
			name: "unsupported mode",
			msg: teamfs.MailMessage{
				Type: "mode_set_request", From: "lead", Recipient: "worker-1", Text: "yolo",
			},
			wantText: "unsupported mode=yolo",
		},
		{
			name: "non-lead sender",
			msg: teamfs.MailMessage{
				Type: "mode_set_request", From: "worker-2", Recipient: "worker-1", Text: "plan",
			},
			wantText: "mode_set_request allowed only from lead=lead; got=worker-2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, cfg := newTestTeam(t)
			w := testWorker("worker-1")

			e.handleControlMessages(w, cfg, indexed(tt.msg))
			if w.permissionMode != "default" {
				t.Fatalf("rejected request changed mode to %q", w.permissionMode)
			}

			found := false
			for _, m := range mailboxMessages(t, e, tt.msg.From) {
				if m.Type == "mode_set_response" && m.Text == tt.wantText {
					found = true
				}
			}
			if !found {
				t.Fatalf("missing mode_set_response %q", tt.wantText)
			}
		})
	}
}

func TestControlResponsesAcknowledgedOverBus(t *testing.T) {
	e, cfg := newTestTeam(t)
	w := testWorker("worker-1")

	_, work := e.handleControlMessages(w, cfg, indexed(teamfs.MailMessage{
		Type: "shutdown_response",
		From: "worker-2",
		Text: "all clear",
	}))
	if len(work) != 0 {
		t.Fatalf("control response treated as work: %d rows", len(work))
	}
	if !hasBody(busBodies(t, e), "received shutdown_response from=worker-2 summary=all clear") {
		t.Fatal("missing acknowledgement broadcast")
	}
}

func TestApprovalRequestsRelayedToLead(t *testing.T) {
	e, cfg := newTestTeam(t)
	w := testWorker("worker-1")

	_, work := e.handleControlMessages(w, cfg, indexed(teamfs.MailMessage{
		Type: "permission_request",
		From: "worker-2",
		Text: "may I write to main?",
	}))
	if len(work) != 0 {
		t.Fatalf("approval request treated as work: %d rows", len(work))
	}

	msgs, err := e.bus.FetchMessages(e.room, 0, "", true, 1000)
	if err != nil {
		t.Fatalf("fetch messages: %v", err)
	}
	found := false
	for _, m := range msgs {
		if m.Recipient == "lead" && m.Body == "received permission_request from=worker-2 summary=may I write to main?" {
			found = true
		}
	}
	if !found {
		t.Fatal("approval request was not relayed to the lead")
	}
}

func TestHandleControlClassifiesWork(t *testing.T) {
	e, cfg := newTestTeam(t)
	w := testWorker("worker-1")

	rows := indexed(
		teamfs.MailMessage{Type: "task", From: "lead", Text: "build the parser"},
		teamfs.MailMessage{Type: "status", From: "worker-2", Text: "fyi"},
		teamfs.MailMessage{Type: "", From: "lead", Text: "untyped counts as message"},
		teamfs.MailMessage{Type: "custom_response", From: "worker-2", Text: "reply"},
		teamfs.MailMessage{Type: "idle_notification", From: "system"},
	)
	_, work := e.handleControlMessages(w, cfg, rows)
	if len(work) != 2 {
		t.Fatalf("work count = %d, want 2", len(work))
	}
	if work[0].Message.Text != "build the parser" || work[1].Message.Text != "untyped counts as message" {
		t.Fatalf("unexpected work set: %q, %q", work[0].Message.Text, work[1].Message.Text)
	}
}

func TestActionableWorkType(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"task", true},
		{"message", true},
		{"question", true},
		{"", true},
		{"   ", true},
		{"status", false},
		{"idle_notification", false},
		{"system", false},
		{"shutdown_response", false},
		{"anything_response", false},
	}
	for _, tt := range tests {
		if got := actionableWorkType(tt.raw); got != tt.want {
			t.Errorf("actionableWorkType(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestMemberNamesIncludesSelfAndLatestConfig(t *testing.T) {
	e, cfg := newTestTeam(t)

	// Added after the snapshot was taken; the roster re-read picks it up.
	if _, err := e.fs.AddMember(teamfs.MemberSpec{Name: "worker-9"}); err != nil {
		t.Fatalf("add member: %v", err)
	}

	names := e.memberNames(cfg, "ghost")
	for _, want := range []string{"lead", "worker-1", "worker-9", "ghost"} {
		if !names[want] {
			t.Errorf("memberNames missing %q (got %v)", want, names)
		}
	}
}

func TestSummarizeUsedForControlLabels(t *testing.T) {
	e, cfg := newTestTeam(t)
	w := testWorker("worker-1")

	long := strings.Repeat("word ", 60)
	e.handleControlMessages(w, cfg, indexed(teamfs.MailMessage{
		Type: "plan_approval_response",
		From: "lead",
		Text: long,
	}))

	bodies := busBodies(t, e)
	found := ""
	for _, b := range bodies {
		if strings.HasPrefix(b, "received plan_approval_response from=lead summary=") {
			found = b
		}
	}
	if found == "" {
		t.Fatalf("missing acknowledgement broadcast, got %v", bodies)
	}
	if !strings.HasSuffix(found, "...") {
		t.Fatalf("long label not summarized: %q", found)
	}
}
