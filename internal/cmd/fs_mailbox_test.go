package cmd

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestParseLooseBool(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{"yes", true},
		{" Yes ", true},
		{"0", false},
		{"false", false},
		{"no", false},
		{"", false},
		{"maybe", false},
	}
	for _, tt := range tests {
		if got := parseLooseBool(tt.raw); got != tt.want {
			t.Errorf("parseLooseBool(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestOptionalBool(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{Use: "x", RunE: func(*cobra.Command, []string) error { return nil }}
		c.Flags().String("approve", "", "")
		return c
	}

	// Flag untouched: no tri-state value.
	c := newCmd()
	c.SetArgs([]string{})
	if err := c.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := optionalBool(c, "approve", ""); got != nil {
		t.Errorf("optionalBool(unset) = %v, want nil", *got)
	}

	// Flag set to a truthy value.
	c = newCmd()
	c.SetArgs([]string{"--approve", "yes"})
	if err := c.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	got := optionalBool(c, "approve", "yes")
	if got == nil || !*got {
		t.Errorf("optionalBool(yes) = %v, want true", got)
	}

	// Flag set to a falsy value still yields a non-nil pointer.
	c = newCmd()
	c.SetArgs([]string{"--approve", "no"})
	if err := c.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	got = optionalBool(c, "approve", "no")
	if got == nil || *got {
		t.Errorf("optionalBool(no) = %v, want false", got)
	}
}
