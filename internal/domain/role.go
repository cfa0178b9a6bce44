package domain

import "fmt"

// Role is the closed set of user roles. Anything outside the four constants
// is rejected at parse time; checks against an unknown role evaluate to
// false rather than erroring.
type Role string

const (
	RoleClient        Role = "client"
	RoleProvider      Role = "provider"
	RoleCaseManager   Role = "case-manager"
	RoleAdministrator Role = "administrator"
)

// ParseRole converts a raw string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether the role is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleProvider, RoleCaseManager, RoleAdministrator:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// Roles returns all valid roles.
func Roles() []Role {
	return []Role{RoleClient, RoleProvider, RoleCaseManager, RoleAdministrator}
}

// roleHierarchy is the flattened reachability table: each role maps to the
// full set of roles whose access it implicitly includes. Lookups are O(1);
// there is no traversal at call time, so cycles are impossible by
// construction. The tables are package-level, initialized once, and never
// mutated, which makes unsynchronized concurrent reads safe.
var roleHierarchy = map[Role]map[Role]struct{}{
	RoleAdministrator: {RoleCaseManager: {}, RoleProvider: {}, RoleClient: {}},
	RoleCaseManager:   {RoleProvider: {}, RoleClient: {}},
	RoleProvider:      {RoleClient: {}},
	RoleClient:        {},
}

// defaultPermissions is granted to every authenticated role.
var defaultPermissions = []string{
	"profile:read",
	"profile:update",
}

// rolePermissions is the static per-role permission vocabulary.
var rolePermissions = map[Role][]string{
	RoleClient: {
		"cases:read-own",
		"documents:upload",
	},
	RoleProvider: {
		"cases:read-assigned",
		"care-plans:update",
		"availability:manage",
	},
	RoleCaseManager: {
		"cases:manage",
		"providers:assign",
		"reports:read",
	},
	RoleAdministrator: {
		"users:manage",
		"reports:read",
		"system:configure",
	},
}

// HasRole reports whether userRole satisfies requiredRole: either they are
// equal, or requiredRole is in userRole's reachability set. Unknown roles on
// either side fail closed.
func HasRole(userRole, requiredRole Role) bool {
	if !userRole.Valid() || !requiredRole.Valid() {
		return false
	}
	if userRole == requiredRole {
		return true
	}
	_, ok := roleHierarchy[userRole][requiredRole]
	return ok
}

// HasPermission reports whether the role's static permission set, or the
// default set granted to all roles, contains the permission. Per-user
// overrides are per-user data and are checked by User.Can, not here.
// Unknown roles and unknown permissions evaluate to false.
func HasPermission(role Role, permission string) bool {
	if !role.Valid() || permission == "" {
		return false
	}
	for _, p := range defaultPermissions {
		if p == permission {
			return true
		}
	}
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// Permissions returns the merged default + role permission set, in a stable
// order, for embedding into access-token claims at issuance.
func Permissions(role Role) []string {
	if !role.Valid() {
		return nil
	}
	merged := make([]string, 0, len(defaultPermissions)+len(rolePermissions[role]))
	merged = append(merged, defaultPermissions...)
	merged = append(merged, rolePermissions[role]...)
	return merged
}

// DashboardPath is the role's landing page, used as the redirect target when
// a signed-in user hits a route their role does not cover.
func DashboardPath(role Role) string {
	if !role.Valid() {
		return "/auth/login"
	}
	return "/" + string(role) + "/dashboard"
}

// RoutePrefix is the path prefix reserved for the role's section of the
// application.
func RoutePrefix(role Role) string {
	return "/" + string(role)
}
