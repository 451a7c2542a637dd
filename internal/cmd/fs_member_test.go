package cmd

import (
	"testing"
)

func TestParseModeEntries(t *testing.T) {
	entries, err := parseModeEntries([]string{"alpha:plan", " beta : auto ", "gamma@demo:default"})
	if err != nil {
		t.Fatalf("parseModeEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].Ident != "alpha" || entries[0].Mode != "plan" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Ident != "beta" || entries[1].Mode != "auto" {
		t.Errorf("entry 1 not trimmed: %+v", entries[1])
	}
	if entries[2].Ident != "gamma@demo" || entries[2].Mode != "default" {
		t.Errorf("entry 2 = %+v", entries[2])
	}
}

func TestParseModeEntriesRejectsBareName(t *testing.T) {
	if _, err := parseModeEntries([]string{"alpha"}); err == nil {
		t.Error("parseModeEntries without colon succeeded, want error")
	}
}

func TestParseModeEntriesEmpty(t *testing.T) {
	entries, err := parseModeEntries(nil)
	if err != nil {
		t.Fatalf("parseModeEntries(nil): %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len = %d, want 0", len(entries))
	}
}
