package models

import (
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to HookLogStatus
		want     bool
	}{
		{HookLogPending, HookLogInProgress, true},
		{HookLogFailed, HookLogInProgress, true},
		{HookLogInProgress, HookLogInProgress, false},
		{HookLogSuccess, HookLogInProgress, false},
		{HookLogInProgress, HookLogSuccess, true},
		{HookLogPending, HookLogSuccess, false},
		{HookLogPending, HookLogFailed, true},
		{HookLogInProgress, HookLogFailed, true},
		{HookLogFailed, HookLogFailed, true},
		{HookLogSuccess, HookLogFailed, false},
		{HookLogFailed, HookLogPending, true},
		{HookLogSuccess, HookLogPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestFormHasField(t *testing.T) {
	f := &Form{Fields: []string{"q1", "group1/q2", "group2/subgroup1/q4"}}
	for _, path := range []string{"q1", "group1/q2", "group1", "group2/subgroup1"} {
		if !f.HasField(path) {
			t.Errorf("expected %q to be part of the schema", path)
		}
	}
	for _, path := range []string{"q2", "group", "group2/sub", "group1/q2/x"} {
		if f.HasField(path) {
			t.Errorf("expected %q not to be part of the schema", path)
		}
	}
}

func TestNewIDIsPrefixedAndUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID("hk")
		if !strings.HasPrefix(id, "hk_") {
			t.Fatalf("expected hk_ prefix, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
