package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call_next", "waiting", true},
		{"call_next", "in_service", false},
		{"finish", "in_service", true},
		{"finish", "waiting", false},
		{"cancel", "waiting", true},
		{"cancel", "in_service", false},
		{"cancel", "finished", false},
		{"cancel_current", "in_service", true},
		{"cancel_current", "waiting", false},
		{"toggle", "waiting", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}
