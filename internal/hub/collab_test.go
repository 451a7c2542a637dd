package hub

import (
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/codexteams/codexteams/internal/teamfs"
)

func TestCollectCollabTargets(t *testing.T) {
	msgs := indexed(
		teamfs.MailMessage{Type: "question", From: "worker-2", Text: "which branch?"},
		teamfs.MailMessage{Type: "task", From: "worker-2", Text: "also do this"},
		teamfs.MailMessage{Type: "message", From: "lead", Text: "check in please"},
		teamfs.MailMessage{Type: "message", From: "worker-1", Text: "self echo"},
		teamfs.MailMessage{Type: "message", From: "system", Text: "housekeeping"},
		teamfs.MailMessage{Type: "status", From: "worker-3", Text: "fyi only"},
		teamfs.MailMessage{Type: "message", From: "worker-3", Summary: "Peer-update", Text: "their collab reply"},
		teamfs.MailMessage{Type: "message", From: "worker-4",
			Meta: map[string]interface{}{"source": "collab-update"}, Text: "tagged collab"},
	)
	got := collectCollabTargets(msgs, "worker-1")

	want := map[string]map[string]bool{
		"worker-2": {"question": true, "task": true},
		"lead":     {"message": true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("collectCollabTargets = %v, want %v", got, want)
	}
}

func TestCollectCollabTargetsUntypedBecomesMessage(t *testing.T) {
	got := collectCollabTargets(indexed(
		teamfs.MailMessage{From: "worker-2", Text: "no type set"},
	), "worker-1")
	if !got["worker-2"]["message"] {
		t.Fatalf("untyped message not bucketed as message: %v", got)
	}
}

func TestMergeCollabTargets(t *testing.T) {
	into := map[string]map[string]bool{
		"worker-2": {"task": true},
	}
	mergeCollabTargets(into, map[string]map[string]bool{
		"worker-2": {"question": true},
		"worker-3": {"message": true},
	})

	if !into["worker-2"]["task"] || !into["worker-2"]["question"] {
		t.Fatalf("worker-2 kinds not merged: %v", into["worker-2"])
	}
	if !into["worker-3"]["message"] {
		t.Fatalf("worker-3 not added: %v", into)
	}
}

func collabMailFor(t *testing.T, e *env, agent string) []teamfs.MailMessage {
	t.Helper()
	var out []teamfs.MailMessage
	for _, m := range mailboxMessages(t, e, agent) {
		if m.MetaString("source") == "collab-update" {
			out = append(out, m)
		}
	}
	return out
}

func TestEmitCollabUpdatesKinds(t *testing.T) {
	tests := []struct {
		name        string
		sourceTypes []string
		exitCode    int
		wantKind    string
		wantSummary string
	}{
		{"plain update", []string{"task"}, 0, "message", "peer-update"},
		{"question earns answer", []string{"question", "task"}, 0, "answer", "peer-answer"},
		{"failure raises blocker", []string{"question"}, 3, "blocker", "peer-blocker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, cfg := newTestTeam(t)
			w := testWorker("worker-1")
			kinds := make(map[string]bool)
			for _, k := range tt.sourceTypes {
				kinds[k] = true
			}
			w.collabTargets = map[string]map[string]bool{"worker-2": kinds}

			e.emitCollabUpdates(w, cfg, "lead", "status=done", tt.exitCode)

			mail := collabMailFor(t, e, "worker-2")
			if len(mail) != 1 {
				t.Fatalf("collab mail count = %d, want 1", len(mail))
			}
			got := mail[0]
			if got.Type != tt.wantKind {
				t.Errorf("mail type = %q, want %q", got.Type, tt.wantKind)
			}
			if got.Summary != tt.wantSummary {
				t.Errorf("mail summary = %q, want %q", got.Summary, tt.wantSummary)
			}
			sorted := append([]string(nil), tt.sourceTypes...)
			sort.Strings(sorted)
			wantBody := "collab_update from=worker-1 source_types=" + strings.Join(sorted, ",") + " result=status=done"
			if got.Text != wantBody {
				t.Errorf("mail body = %q, want %q", got.Text, wantBody)
			}

			msgs, err := e.bus.FetchMessages(e.room, 0, "", true, 1000)
			if err != nil {
				t.Fatalf("fetch messages: %v", err)
			}
			seen := false
			for _, m := range msgs {
				if m.Recipient == "worker-2" && m.Kind == tt.wantKind && m.Body == wantBody {
					seen = true
				}
			}
			if !seen {
				t.Error("bus copy of the collab update missing")
			}
		})
	}
}

func TestEmitCollabUpdatesSkipsLeadForNonLead(t *testing.T) {
	e, cfg := newTestTeam(t)
	w := testWorker("worker-1")
	w.collabTargets = map[string]map[string]bool{
		"lead":     {"message": true},
		"worker-2": {"message": true},
	}

	e.emitCollabUpdates(w, cfg, "lead", "ok", 0)

	if mail := collabMailFor(t, e, "lead"); len(mail) != 0 {
		t.Fatalf("non-lead worker sent collab update to lead: %v", mail)
	}
	if mail := collabMailFor(t, e, "worker-2"); len(mail) != 1 {
		t.Fatalf("peer update missing for worker-2: %v", mail)
	}
}

func TestEmitCollabUpdatesLeadAnswersEveryone(t *testing.T) {
	e, cfg := newTestTeam(t)
	w := newWorkerState("lead", "lead", "/tmp", "", "", "default", "context", 0)
	w.collabTargets = map[string]map[string]bool{
		"worker-1": {"question": true},
		"worker-2": {"task": true},
	}

	e.emitCollabUpdates(w, cfg, "lead", "ok", 0)

	for _, agent := range []string{"worker-1", "worker-2"} {
		if mail := collabMailFor(t, e, agent); len(mail) != 1 {
			t.Fatalf("lead collab update missing for %s: %v", agent, mail)
		}
	}
}

func TestEmitCollabUpdatesSkipsSelf(t *testing.T) {
	e, cfg := newTestTeam(t)
	w := testWorker("worker-1")
	w.collabTargets = map[string]map[string]bool{
		"worker-1": {"message": true},
	}

	e.emitCollabUpdates(w, cfg, "lead", "ok", 0)

	if mail := collabMailFor(t, e, "worker-1"); len(mail) != 0 {
		t.Fatalf("worker sent collab update to itself: %v", mail)
	}
}
