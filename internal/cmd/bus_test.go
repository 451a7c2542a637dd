package cmd

import (
	"testing"

	"github.com/codexteams/codexteams/internal/bus"
	"github.com/codexteams/codexteams/internal/style"
)

func TestRenderTailLinePlain(t *testing.T) {
	m := bus.Message{
		ID: 7, TS: "2026-01-02T03:04:05.000Z", Room: "main",
		Sender: "alpha", Recipient: "beta", Kind: "task", Body: "ship it",
	}
	got := renderTailLine(m, false)
	want := "[000007] 2026-01-02T03:04:05.000Z [main] task alpha -> beta: ship it"
	if got != want {
		t.Errorf("renderTailLine plain = %q, want %q", got, want)
	}
}

func TestRenderTailLineUnknownKindUnstyled(t *testing.T) {
	m := bus.Message{ID: 1, Kind: "weird", Sender: "a", Recipient: "b"}
	plain := renderTailLine(m, false)
	styled := renderTailLine(m, true)
	if plain != styled {
		t.Errorf("unknown kind should render unstyled: %q vs %q", plain, styled)
	}
}

func TestKindColorsCoverMessageKinds(t *testing.T) {
	for _, kind := range []string{"blocker", "question", "answer", "task", "status", "system"} {
		c, ok := kindColors[kind]
		if !ok {
			t.Errorf("kind %q has no tail color", kind)
			continue
		}
		if !style.IsValid(string(c)) {
			t.Errorf("kind %q maps to invalid color %q", kind, c)
		}
	}
}
