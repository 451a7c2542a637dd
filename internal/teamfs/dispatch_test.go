package teamfs

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestDispatchDirect(t *testing.T) {
	s := testStore(t)
	cfg := seedTeam(t, s)

	delivered, err := s.Dispatch(cfg, Dispatch{
		Type:      "message",
		Sender:    "worker-1",
		Recipient: "team-lead",
		Text:      "parser is done",
		Summary:   "done",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !reflect.DeepEqual(delivered, []string{"team-lead"}) {
		t.Fatalf("delivered: %v", delivered)
	}

	msgs, err := s.ReadMailbox("team-lead")
	if err != nil {
		t.Fatalf("ReadMailbox: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.From != "worker-1" || m.Recipient != "team-lead" || m.Text != "parser is done" {
		t.Errorf("unexpected message: %+v", m)
	}
	if m.Color != "blue" {
		t.Errorf("sender color not applied: %q", m.Color)
	}
	if m.Read {
		t.Error("delivered read")
	}
	if m.Timestamp == "" {
		t.Error("timestamp not set")
	}
}

func TestDispatchBroadcast(t *testing.T) {
	s := testStore(t)
	cfg := seedTeam(t, s)

	delivered, err := s.Dispatch(cfg, Dispatch{Type: "broadcast", Sender: "worker-1", Text: "standup"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	// Member order minus the sender.
	if !reflect.DeepEqual(delivered, []string{"team-lead", "worker-2"}) {
		t.Fatalf("delivered: %v", delivered)
	}

	var stamps []string
	for _, agent := range delivered {
		msgs, err := s.ReadMailbox(agent)
		if err != nil {
			t.Fatalf("ReadMailbox(%s): %v", agent, err)
		}
		if len(msgs) != 1 {
			t.Fatalf("%s: expected 1 copy, got %d", agent, len(msgs))
		}
		if msgs[0].Recipient != agent {
			t.Errorf("%s: recipient field is %q", agent, msgs[0].Recipient)
		}
		stamps = append(stamps, msgs[0].Timestamp)
	}
	if stamps[0] != stamps[1] {
		t.Errorf("fan-out copies carry different timestamps: %v", stamps)
	}

	senderMsgs, err := s.ReadMailbox("worker-1")
	if err != nil {
		t.Fatalf("ReadMailbox(sender): %v", err)
	}
	if len(senderMsgs) != 0 {
		t.Errorf("broadcast delivered to its sender: %+v", senderMsgs)
	}
}

func TestDispatchValidation(t *testing.T) {
	s := testStore(t)
	cfg := seedTeam(t, s)

	_, err := s.Dispatch(cfg, Dispatch{Type: "gossip", Sender: "worker-1", Recipient: "team-lead"})
	if err == nil || !strings.Contains(err.Error(), "unsupported message type: gossip") {
		t.Errorf("unexpected error: %v", err)
	}

	_, err = s.Dispatch(cfg, Dispatch{Type: "message", Sender: "worker-1"})
	if !errors.Is(err, ErrRecipientRequired) {
		t.Errorf("expected ErrRecipientRequired, got %v", err)
	}
}

func TestDispatchCarriesRequestFields(t *testing.T) {
	s := testStore(t)
	cfg := seedTeam(t, s)

	approve := true
	if _, err := s.Dispatch(cfg, Dispatch{
		Type:      "permission_response",
		Sender:    "team-lead",
		Recipient: "worker-1",
		Text:      "go ahead",
		RequestID: "req-9",
		Approve:   &approve,
		Meta:      map[string]interface{}{"request_id": "req-9", "state": "approved"},
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	msgs, err := s.ReadMailbox("worker-1")
	if err != nil {
		t.Fatalf("ReadMailbox: %v", err)
	}
	m := msgs[0]
	if m.RequestID != "req-9" {
		t.Errorf("request id: %q", m.RequestID)
	}
	if m.Approve == nil || !*m.Approve {
		t.Errorf("approve flag lost: %+v", m.Approve)
	}
	if m.MetaString("state") != "approved" {
		t.Errorf("meta lost: %v", m.Meta)
	}
}

func TestSendToLead(t *testing.T) {
	s := testStore(t)
	cfg := seedTeam(t, s)

	delivered, err := s.SendToLead(cfg, "outsider", "hello", "hi", "")
	if err != nil {
		t.Fatalf("SendToLead: %v", err)
	}
	if !reflect.DeepEqual(delivered, []string{"team-lead"}) {
		t.Fatalf("delivered: %v", delivered)
	}

	msgs, err := s.ReadMailbox("team-lead")
	if err != nil {
		t.Fatalf("ReadMailbox: %v", err)
	}
	m := msgs[0]
	if m.Type != "message" || m.From != "outsider" || m.Color != "blue" {
		t.Errorf("unexpected message: %+v", m)
	}
}

func TestSendIdle(t *testing.T) {
	s := testStore(t)
	cfg := seedTeam(t, s)

	if _, err := s.SendIdle(cfg, "worker-2"); err != nil {
		t.Fatalf("SendIdle: %v", err)
	}

	msgs, err := s.ReadMailbox("team-lead")
	if err != nil {
		t.Fatalf("ReadMailbox: %v", err)
	}
	m := msgs[0]
	if m.Type != "idle_notification" || m.Summary != "idle" {
		t.Errorf("unexpected message: %+v", m)
	}
	if m.Text != "idle notification from worker-2" {
		t.Errorf("text: %q", m.Text)
	}
	if m.Color != "green" {
		t.Errorf("color: %q", m.Color)
	}
}
