package models

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		raw   string
		want  Role
		staff bool
		ok    bool
	}{
		{"client", RoleClient, false, true},
		{"employee", RoleEmployee, true, true},
		{"admin", RoleAdmin, true, true},
		{"Admin", RoleUnknown, false, false},
		{"", RoleUnknown, false, false},
	}
	for _, tc := range tests {
		role, err := ParseRole(tc.raw)
		if (err == nil) != tc.ok {
			t.Fatalf("%q: unexpected error %v", tc.raw, err)
		}
		if role != tc.want || role.IsStaff() != tc.staff {
			t.Fatalf("%q: got %s staff=%v", tc.raw, role, role.IsStaff())
		}
		if tc.ok && role.String() != tc.raw {
			t.Fatalf("%q: round trip gave %s", tc.raw, role)
		}
	}
}
