package mode

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want RunMode
	}{
		{"mining", ModeMining},
		{"Mining", ModeMining},
		{"mine", ModeMining},
		{"claim", ModeClaim},
		{"exit", ModeExit},
		{"withdraw", ModeExit},
		{" interactive ", ModeInteractive},
		{"", ModeInteractive},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParse_Unknown(t *testing.T) {
	t.Parallel()

	_, err := Parse("turbo")
	if !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	if got := ModeMining.String(); got != "mining" {
		t.Fatalf("String() = %q", got)
	}
	if got := RunMode(99).String(); got != "unknown(99)" {
		t.Fatalf("String() = %q", got)
	}
}
