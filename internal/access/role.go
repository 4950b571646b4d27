package access

import "strings"

// Well-known paths of the dashboard route space
const (
	DashboardPath  = "/dashboard"
	LoginPath      = "/login"
	FallbackPrefix = "/dashboard/profile"
)

// Role is the closed set of dashboard roles
type Role int

const (
	RoleUnknown Role = iota
	RoleBendahara
	RoleKoordinator
	RoleStaff
	RoleSiswa

	roleCount
)

// policy describes where a role lands and which path prefixes it may visit
type policy struct {
	claim    string
	label    string
	landing  string
	prefixes []string
}

// policies is indexed by Role. The array length ties it to the enumeration,
// so adding a role without a row fails to compile.
var policies = [roleCount]policy{
	RoleUnknown: {
		claim:    "",
		label:    "Unknown",
		landing:  FallbackPrefix,
		prefixes: []string{FallbackPrefix},
	},
	RoleBendahara: {
		claim:    "bendahara",
		label:    "Bendahara",
		landing:  "/dashboard/kas",
		prefixes: []string{"/dashboard/kas", FallbackPrefix},
	},
	RoleKoordinator: {
		claim:    "koordinator",
		label:    "Koordinator",
		landing:  "/dashboard/attendance",
		prefixes: []string{"/dashboard/attendance", "/dashboard/members", FallbackPrefix},
	},
	RoleStaff: {
		claim:    "staff",
		label:    "Staff",
		landing:  "/dashboard/eschool",
		prefixes: []string{"/dashboard/eschool", FallbackPrefix},
	},
	RoleSiswa: {
		claim:    "siswa",
		label:    "Siswa",
		landing:  FallbackPrefix,
		prefixes: []string{FallbackPrefix},
	},
}

// ParseRole maps a role claim to a Role. Matching is exact; anything else is RoleUnknown.
func ParseRole(claim string) Role {
	for r := RoleUnknown + 1; r < roleCount; r++ {
		if policies[r].claim == claim {
			return r
		}
	}
	return RoleUnknown
}

// Roles lists the recognized roles, excluding RoleUnknown
func Roles() []Role {
	roles := make([]Role, 0, int(roleCount)-1)
	for r := RoleUnknown + 1; r < roleCount; r++ {
		roles = append(roles, r)
	}
	return roles
}

func (r Role) policy() policy {
	if r < 0 || r >= roleCount {
		return policies[RoleUnknown]
	}
	return policies[r]
}

// String returns the claim value, or "unknown"
func (r Role) String() string {
	if c := r.policy().claim; c != "" {
		return c
	}
	return "unknown"
}

// Label returns the human readable role name
func (r Role) Label() string {
	return r.policy().label
}

// LandingPath returns the page a role is sent to when it lands outside its area
func (r Role) LandingPath() string {
	return r.policy().landing
}

// AllowedPrefixes returns a copy of the role's allowed path prefixes
func (r Role) AllowedPrefixes() []string {
	p := r.policy().prefixes
	out := make([]string, len(p))
	copy(out, p)
	return out
}

// Allows reports whether path starts with any of the role's allowed prefixes
func (r Role) Allows(path string) bool {
	for _, prefix := range r.policy().prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// IsProtected reports whether path belongs to the dashboard route space
func IsProtected(path string) bool {
	return strings.HasPrefix(path, DashboardPath)
}
