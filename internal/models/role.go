package models

import "fmt"

// Role is the closed set of identities the front desk knows about.
type Role int

const (
	RoleUnknown Role = iota
	RoleClient
	RoleEmployee
	RoleAdmin
)

func ParseRole(value string) (Role, error) {
	switch value {
	case "client":
		return RoleClient, nil
	case "employee":
		return RoleEmployee, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role %q", value)
	}
}

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleEmployee:
		return "employee"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// IsStaff reports whether the role may operate counters.
func (r Role) IsStaff() bool {
	switch r {
	case RoleEmployee, RoleAdmin:
		return true
	case RoleClient, RoleUnknown:
		return false
	}
	return false
}
