package tenancy_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/authz"
	"github.com/hugh/insightforge/internal/database/models"
	"github.com/hugh/insightforge/internal/tenancy"
	"github.com/hugh/insightforge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func ownerOf(t *testing.T, svc *tenancy.Service, setup *testutil.TestSetup) *models.Membership {
	t.Helper()
	m, err := svc.GetMembership(testutil.TestContext(t), setup.User.ID, setup.Org.ID)
	require.NoError(t, err)
	return m
}

func TestAuthorize(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)

	viewer := testutil.CreateTestUser(t, setup.DB)
	testutil.AddTestMember(t, setup.DB, setup.Org, viewer, authz.RoleViewer)
	analyst := testutil.CreateTestUser(t, setup.DB)
	testutil.AddTestMember(t, setup.DB, setup.Org, analyst, authz.RoleAnalyst)
	outsider := testutil.CreateTestUser(t, setup.DB)

	_, err := svc.Authorize(ctx, viewer.ID, setup.Org.ID, authz.ActionView)
	assert.NoError(t, err)

	_, err = svc.Authorize(ctx, viewer.ID, setup.Org.ID, authz.ActionUploadData)
	assert.Same(t, authz.ErrInsufficientRole, err)

	m, err := svc.Authorize(ctx, analyst.ID, setup.Org.ID, authz.ActionUploadData)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAnalyst, m.Role)

	_, err = svc.Authorize(ctx, outsider.ID, setup.Org.ID, authz.ActionView)
	assert.Same(t, authz.ErrNotMember, err)

	_, err = svc.Authorize(ctx, setup.User.ID, setup.Org.ID, authz.ActionDeleteOrganization)
	assert.NoError(t, err)
}

func TestAuthorize_InactiveMembershipDeniesEverything(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)

	admin := testutil.CreateTestUser(t, setup.DB)
	m := testutil.AddTestMember(t, setup.DB, setup.Org, admin, authz.RoleAdmin)
	require.NoError(t, setup.DB.Model(m).Update("is_active", false).Error)

	for _, action := range []authz.Action{
		authz.ActionView,
		authz.ActionUploadData,
		authz.ActionManageMembers,
		authz.ActionManageSettings,
		authz.ActionDeleteOrganization,
	} {
		_, err := svc.Authorize(ctx, admin.ID, setup.Org.ID, action)
		assert.Same(t, authz.ErrMembershipInactive, err, "action %s", action)
	}
}

func TestAuthorize_UnknownStoredRole(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)

	user := testutil.CreateTestUser(t, setup.DB)
	m := testutil.AddTestMember(t, setup.DB, setup.Org, user, authz.RoleViewer)
	require.NoError(t, setup.DB.Model(m).Update("role", "superuser").Error)

	_, err := svc.Authorize(ctx, user.ID, setup.Org.ID, authz.ActionView)
	assert.ErrorIs(t, err, authz.ErrUnknownRole)
	assert.Equal(t, apperr.KindAuthorizationDenied, apperr.KindOf(err))
}

func TestAddMember(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)
	owner := ownerOf(t, svc, setup)

	user := testutil.CreateTestUser(t, setup.DB)
	m, err := svc.AddMember(ctx, owner, setup.Org.ID, tenancy.AddMemberInput{Email: "  " + user.Email, Role: authz.RoleAnalyst})
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAnalyst, m.Role)
	assert.True(t, m.IsActive)
	require.NotNil(t, m.InvitedByID)
	assert.Equal(t, setup.User.ID, *m.InvitedByID)

	_, err = svc.AddMember(ctx, owner, setup.Org.ID, tenancy.AddMemberInput{Email: user.Email, Role: authz.RoleViewer})
	assert.Equal(t, apperr.KindAlreadyExists, apperr.KindOf(err))

	_, err = svc.AddMember(ctx, owner, setup.Org.ID, tenancy.AddMemberInput{Email: "nobody@example.com", Role: authz.RoleViewer})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.AddMember(ctx, owner, setup.Org.ID, tenancy.AddMemberInput{Email: user.Email, Role: authz.Role("root")})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAddMember_ConcurrentDuplicate(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)
	owner := ownerOf(t, svc, setup)
	user := testutil.CreateTestUser(t, setup.DB)

	testutil.BeforeNextCreate(t, setup.DB, "memberships", func(conn *gorm.DB, pending any) {
		m := pending.(*models.Membership)
		rival := &models.Membership{
			UserID:         m.UserID,
			OrganizationID: m.OrganizationID,
			Role:           authz.RoleViewer,
			IsActive:       true,
			JoinedAt:       time.Now().UTC(),
		}
		require.NoError(t, conn.Create(rival).Error)
	})

	_, err := svc.AddMember(ctx, owner, setup.Org.ID, tenancy.AddMemberInput{Email: user.Email, Role: authz.RoleAnalyst})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAlreadyExists, apperr.KindOf(err))
}

func TestAddMember_OnlyOwnersGrantOwner(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)

	adminUser := testutil.CreateTestUser(t, setup.DB)
	admin := testutil.AddTestMember(t, setup.DB, setup.Org, adminUser, authz.RoleAdmin)
	user := testutil.CreateTestUser(t, setup.DB)

	_, err := svc.AddMember(ctx, admin, setup.Org.ID, tenancy.AddMemberInput{Email: user.Email, Role: authz.RoleOwner})
	assert.Same(t, tenancy.ErrOwnerRequired, err)

	_, err = svc.AddMember(ctx, admin, setup.Org.ID, tenancy.AddMemberInput{Email: user.Email, Role: authz.RoleAdmin})
	assert.NoError(t, err)
}

func TestRemoveAndReAddMember(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)
	owner := ownerOf(t, svc, setup)

	user := testutil.CreateTestUser(t, setup.DB)
	added := testutil.AddTestMember(t, setup.DB, setup.Org, user, authz.RoleAnalyst)

	require.NoError(t, svc.RemoveMember(ctx, owner, user.ID))

	_, err := svc.Authorize(ctx, user.ID, setup.Org.ID, authz.ActionView)
	assert.Same(t, authz.ErrMembershipInactive, err)

	members, err := svc.ListMembers(ctx, setup.Org.ID, false)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	members, err = svc.ListMembers(ctx, setup.Org.ID, true)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	readded, err := svc.AddMember(ctx, owner, setup.Org.ID, tenancy.AddMemberInput{Email: user.Email, Role: authz.RoleViewer})
	require.NoError(t, err)
	assert.Equal(t, added.ID, readded.ID)
	assert.Equal(t, authz.RoleViewer, readded.Role)
	assert.True(t, readded.IsActive)

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(svc.RemoveMember(ctx, owner, uuid.New())))
}

func TestRemoveMember_LastOwner(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)
	owner := ownerOf(t, svc, setup)

	err := svc.RemoveMember(ctx, owner, setup.User.ID)
	assert.Same(t, tenancy.ErrLastOwner, err)

	second := testutil.CreateTestUser(t, setup.DB)
	testutil.AddTestMember(t, setup.DB, setup.Org, second, authz.RoleOwner)

	assert.NoError(t, svc.RemoveMember(ctx, owner, setup.User.ID))
}

func TestRemoveMember_AdminCannotRemoveOwner(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)

	adminUser := testutil.CreateTestUser(t, setup.DB)
	admin := testutil.AddTestMember(t, setup.DB, setup.Org, adminUser, authz.RoleAdmin)

	err := svc.RemoveMember(ctx, admin, setup.User.ID)
	assert.Same(t, tenancy.ErrOwnerRequired, err)
}

func TestChangeRole(t *testing.T) {
	svc, setup := newService(t)
	ctx := testutil.TestContext(t)
	owner := ownerOf(t, svc, setup)

	user := testutil.CreateTestUser(t, setup.DB)
	testutil.AddTestMember(t, setup.DB, setup.Org, user, authz.RoleViewer)

	m, err := svc.ChangeRole(ctx, owner, user.ID, authz.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAdmin, m.Role)

	// The sole owner cannot demote themselves.
	_, err = svc.ChangeRole(ctx, owner, setup.User.ID, authz.RoleAdmin)
	assert.Same(t, tenancy.ErrLastOwner, err)

	// Admins cannot promote to owner.
	_, err = svc.ChangeRole(ctx, m, user.ID, authz.RoleOwner)
	assert.Same(t, tenancy.ErrOwnerRequired, err)

	m, err = svc.ChangeRole(ctx, owner, user.ID, authz.RoleOwner)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleOwner, m.Role)

	_, err = svc.ChangeRole(ctx, owner, setup.User.ID, authz.RoleAdmin)
	assert.NoError(t, err)
}

func TestParseRoleInput(t *testing.T) {
	r, err := tenancy.ParseRoleInput(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAdmin, r)

	_, err = tenancy.ParseRoleInput("superuser")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
