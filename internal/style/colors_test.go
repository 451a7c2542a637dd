package style

import "testing"

func TestAssignCyclesPalette(t *testing.T) {
	if got := Assign(0); got != Red {
		t.Errorf("Assign(0) = %q, want red", got)
	}
	if got := Assign(7); got != Cyan {
		t.Errorf("Assign(7) = %q, want cyan", got)
	}
	if got := Assign(8); got != Red {
		t.Errorf("Assign(8) = %q, want red (wraps)", got)
	}
	if got := Assign(12); got != Purple {
		t.Errorf("Assign(12) = %q, want purple", got)
	}
}

func TestTmuxBorder(t *testing.T) {
	tests := []struct {
		color Color
		want  string
	}{
		{Red, "red"},
		{Blue, "blue"},
		{Green, "green"},
		{Yellow, "yellow"},
		{Purple, "magenta"},
		{Orange, "colour208"},
		{Pink, "colour205"},
		{Cyan, "cyan"},
		{Color("mauve"), "default"},
		{Color(""), "default"},
	}

	for _, tt := range tests {
		if got := TmuxBorder(tt.color); got != tt.want {
			t.Errorf("TmuxBorder(%q) = %q, want %q", tt.color, got, tt.want)
		}
	}
}

func TestIsValid(t *testing.T) {
	for _, c := range Palette {
		if !IsValid(string(c)) {
			t.Errorf("IsValid(%q) = false, want true", c)
		}
	}
	if IsValid("magenta") {
		t.Error("IsValid(magenta) = true, want false (tmux name, not palette)")
	}
}
