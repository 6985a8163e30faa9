package tenancy_test

import (
	"testing"

	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/authz"
	"github.com/hugh/insightforge/internal/database/models"
	"github.com/hugh/insightforge/internal/tenancy"
	"github.com/hugh/insightforge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*tenancy.Service, *testutil.TestSetup) {
	t.Helper()
	setup := testutil.NewTestContext(t)
	return tenancy.NewService(setup.DB, testutil.DiscardLogger()), setup
}

func TestCreateOrganization_OwnerMembership(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)

	org, err := svc.CreateOrganization(ctx, setup.User.ID, tenancy.CreateOrganizationInput{Name: "Acme Analytics"})
	require.NoError(t, err)

	assert.Equal(t, "acme-analytics", org.Slug)
	assert.Equal(t, models.DefaultMaxDatasets, org.MaxDatasets)
	assert.Equal(t, models.DefaultMaxStorageMB, org.MaxStorageMB)
	assert.Equal(t, models.DefaultMaxQueriesPerMonth, org.MaxQueriesPerMonth)

	m, err := svc.GetMembership(ctx, setup.User.ID, org.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleOwner, m.Role)
	assert.True(t, m.IsActive)
}

func TestCreateOrganization_SlugCollision(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)

	first, err := svc.CreateOrganization(ctx, setup.User.ID, tenancy.CreateOrganizationInput{Name: "Acme"})
	require.NoError(t, err)
	second, err := svc.CreateOrganization(ctx, setup.User.ID, tenancy.CreateOrganizationInput{Name: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, "acme", first.Slug)
	assert.NotEqual(t, first.Slug, second.Slug)
	assert.Contains(t, second.Slug, "acme-")
}

func TestCreateOrganization_ExplicitSlug(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)

	_, err := svc.CreateOrganization(ctx, setup.User.ID, tenancy.CreateOrganizationInput{Name: "Acme", Slug: "acme-data"})
	require.NoError(t, err)

	_, err = svc.CreateOrganization(ctx, setup.User.ID, tenancy.CreateOrganizationInput{Name: "Other", Slug: "acme-data"})
	assert.Equal(t, apperr.KindAlreadyExists, apperr.KindOf(err))

	_, err = svc.CreateOrganization(ctx, setup.User.ID, tenancy.CreateOrganizationInput{Name: "Bad", Slug: "Not A Slug!"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.CreateOrganization(ctx, setup.User.ID, tenancy.CreateOrganizationInput{Name: "  "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGetBySlug(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)

	org, err := svc.GetBySlug(ctx, setup.Org.Slug)
	require.NoError(t, err)
	assert.Equal(t, setup.Org.ID, org.ID)

	_, err = svc.GetBySlug(ctx, "missing-org")
	assert.ErrorIs(t, err, tenancy.ErrOrganizationNotFound)
}

func TestListForUser(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)

	other := testutil.CreateTestUser(t, setup.DB)
	otherOrg := testutil.CreateTestOrg(t, setup.DB, other)
	testutil.AddTestMember(t, setup.DB, otherOrg, setup.User, authz.RoleAnalyst)

	orgs, err := svc.ListForUser(ctx, setup.User.ID)
	require.NoError(t, err)
	require.Len(t, orgs, 2)

	roles := map[string]authz.Role{}
	for _, o := range orgs {
		roles[o.Organization.Slug] = o.Role
	}
	assert.Equal(t, authz.RoleOwner, roles[setup.Org.Slug])
	assert.Equal(t, authz.RoleAnalyst, roles[otherOrg.Slug])
}

func TestUpdateOrganization(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)

	name := "Renamed"
	desc := "Quarterly reporting"
	org, err := svc.UpdateOrganization(ctx, setup.Org.ID, tenancy.UpdateOrganizationInput{
		Name:        &name,
		Description: &desc,
		Settings:    map[string]any{"timezone": "UTC"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", org.Name)
	assert.Equal(t, setup.Org.Slug, org.Slug)

	reloaded, err := svc.GetByID(ctx, setup.Org.ID)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly reporting", *reloaded.Description)
	assert.Equal(t, "UTC", reloaded.Settings["timezone"])

	empty := " "
	_, err = svc.UpdateOrganization(ctx, setup.Org.ID, tenancy.UpdateOrganizationInput{Name: &empty})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDeleteOrganization(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)

	require.NoError(t, svc.DeleteOrganization(ctx, setup.Org.ID))

	_, err := svc.GetBySlug(ctx, setup.Org.Slug)
	assert.ErrorIs(t, err, tenancy.ErrOrganizationNotFound)

	// Soft deleted: the row and its memberships are kept.
	var count int64
	setup.DB.Unscoped().Model(&models.Organization{}).Where("id = ?", setup.Org.ID).Count(&count)
	assert.Equal(t, int64(1), count)

	m, err := svc.GetMembership(ctx, setup.User.ID, setup.Org.ID)
	require.NoError(t, err)
	assert.False(t, m.IsActive)

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(svc.DeleteOrganization(ctx, setup.Org.ID)))
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Acme Analytics", "acme-analytics"},
		{"  Bob's   Team!! ", "bob-s-team"},
		{"Ünïcode Org", "n-code-org"},
		{"", "org"},
		{"a", "a-org"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tenancy.Slugify(tt.name)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, tenancy.ValidateSlug(got))
		})
	}
}
