package authz

import (
	"errors"

	"github.com/hugh/insightforge/internal/apperr"
)

// Action is an org-scoped operation a member may attempt.
type Action string

const (
	ActionView               Action = "view"
	ActionUploadData         Action = "upload_data"
	ActionManageMembers      Action = "manage_members"
	ActionManageSettings     Action = "manage_settings"
	ActionDeleteOrganization Action = "delete_organization"
)

var (
	ErrNotMember          = apperr.Denied("You are not a member of this organization")
	ErrMembershipInactive = apperr.Denied("Your membership in this organization is inactive")
	ErrInsufficientRole   = apperr.Denied("")

	// ErrUnknownRole marks a stored membership whose role is not recognized.
	// It is returned wrapped in a denial; callers should log it as a data
	// integrity problem.
	ErrUnknownRole = errors.New("membership has unrecognized role")
)

// Permits reports whether role r may perform a.
func (a Action) Permits(r Role) bool {
	switch a {
	case ActionView:
		return r.Valid()
	case ActionUploadData:
		return r.CanUploadData()
	case ActionManageMembers:
		return r.CanManageMembers()
	case ActionManageSettings:
		return r.Valid() && r.AtLeast(RoleAdmin)
	case ActionDeleteOrganization:
		return r.CanDeleteOrganization()
	default:
		return false
	}
}

// Grant is the slice of a membership that authorization depends on.
type Grant struct {
	Role   Role
	Active bool
}

// Authorize decides whether the holder of g may perform action. A nil grant
// means no membership exists. An inactive grant denies every action whatever
// role it still records.
func Authorize(g *Grant, action Action) error {
	if g == nil {
		return ErrNotMember
	}
	if !g.Active {
		return ErrMembershipInactive
	}
	if !g.Role.Valid() {
		return apperr.Wrap(apperr.KindAuthorizationDenied, ErrInsufficientRole.Message, ErrUnknownRole)
	}
	if !action.Permits(g.Role) {
		return ErrInsufficientRole
	}
	return nil
}
