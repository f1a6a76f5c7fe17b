package tui

import (
	"reflect"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		want Command
	}{
		{"", Command{}},
		{"  Sync 2026-10-12   2026-10-18 ", Command{Name: "sync", Args: []string{"2026-10-12", "2026-10-18"}}},
		{"tag Acme", Command{Name: "tag", Args: []string{"Acme"}}},
		{"q", Command{Name: "q", Args: []string{}}},
	}
	for _, tc := range cases {
		got := ParseCommand(tc.in)
		if got.Name != tc.want.Name || len(got.Args) != len(tc.want.Args) ||
			(len(got.Args) > 0 && !reflect.DeepEqual(got.Args, tc.want.Args)) {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestWindowArgs(t *testing.T) {
	now := time.Date(2026, 10, 17, 15, 0, 0, 0, time.Local)
	from, to, err := windowArgs(nil, now)
	if err != nil || from != "2026-10-11" || to != "2026-10-17" {
		t.Errorf("default = %s..%s %v", from, to, err)
	}
	from, to, _ = windowArgs([]string{"2026-10-12"}, now)
	if from != "2026-10-12" || to != "2026-10-12" {
		t.Errorf("single day = %s..%s", from, to)
	}
	if _, _, err := windowArgs([]string{"a", "b", "c"}, now); err == nil {
		t.Error("three args should fail")
	}
}
