// Package authz holds the membership role model and the authorization
// decision applied to org-scoped actions. Everything here is pure: no I/O,
// no shared state.
package authz

import (
	"fmt"
	"strings"
)

// Role is a member's role within an organization. Roles are hierarchical:
// Owner > Admin > Analyst > Viewer.
type Role string

const (
	RoleOwner   Role = "owner"   // full control, billing, can delete the org
	RoleAdmin   Role = "admin"   // manage members, datasets, settings
	RoleAnalyst Role = "analyst" // create analyses, upload data
	RoleViewer  Role = "viewer"  // read-only
)

var permissionLevels = map[Role]int{
	RoleOwner:   100,
	RoleAdmin:   75,
	RoleAnalyst: 50,
	RoleViewer:  25,
}

// Roles returns every known role, most privileged first.
func Roles() []Role {
	return []Role{RoleOwner, RoleAdmin, RoleAnalyst, RoleViewer}
}

// ParseRole converts user input into a Role. Unlike PermissionLevel it
// rejects unknown values, so bad input never reaches storage.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	_, ok := permissionLevels[r]
	return ok
}

// PermissionLevel returns the numeric level used for role comparison.
// Unknown roles have level 0.
func (r Role) PermissionLevel() int {
	return permissionLevels[r]
}

// AtLeast reports whether r meets the bar of other.
func (r Role) AtLeast(other Role) bool {
	return r.PermissionLevel() >= other.PermissionLevel()
}

func (r Role) CanManageMembers() bool {
	return r == RoleOwner || r == RoleAdmin
}

func (r Role) CanUploadData() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleAnalyst
}

func (r Role) CanDeleteOrganization() bool {
	return r == RoleOwner
}

func (r Role) String() string {
	return string(r)
}
