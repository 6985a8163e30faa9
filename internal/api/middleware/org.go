package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/api/respond"
	"github.com/hugh/insightforge/internal/authz"
	"github.com/hugh/insightforge/internal/database/models"
)

// OrgAuthorizer resolves organizations and decides membership access.
type OrgAuthorizer interface {
	GetBySlug(ctx context.Context, slug string) (*models.Organization, error)
	Authorize(ctx context.Context, userID, orgID uuid.UUID, action authz.Action) (*models.Membership, error)
}

// RequireOrgAction loads the organization named by the {slug} URL parameter
// and requires the authenticated user's membership to permit action. The
// organization and membership are stored in the request context.
func RequireOrgAction(orgs OrgAuthorizer, action authz.Action, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			org, err := orgs.GetBySlug(ctx, chi.URLParam(r, "slug"))
			if err != nil {
				respond.Error(w, r, logger, err)
				return
			}

			membership, err := orgs.Authorize(ctx, GetUserID(ctx), org.ID, action)
			if err != nil {
				respond.Error(w, r, logger, err)
				return
			}

			ctx = context.WithValue(ctx, OrganizationKey, org)
			ctx = context.WithValue(ctx, MembershipKey, membership)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetOrganization(ctx context.Context) *models.Organization {
	org, _ := ctx.Value(OrganizationKey).(*models.Organization)
	return org
}

func GetMembership(ctx context.Context) *models.Membership {
	m, _ := ctx.Value(MembershipKey).(*models.Membership)
	return m
}
