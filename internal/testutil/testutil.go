package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/auth"
	"github.com/hugh/insightforge/internal/authz"
	"github.com/hugh/insightforge/internal/database"
	"github.com/hugh/insightforge/internal/database/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestJWTSecret = "test-secret-key-for-testing"
	TestPassword  = "Testpassword123!"
)

// SetupTestDB creates an isolated in-memory SQLite database for testing. The
// database is closed when the test finishes.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if err := database.Close(db); err != nil {
			t.Logf("warning: failed to close test database: %v", err)
		}
	})

	return db
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// BeforeNextCreate calls fn once, right before the next insert into table,
// on the same connection as that insert. pending is the row about to be
// written. Tests use it to play a concurrent writer that wins a race.
func BeforeNextCreate(t *testing.T, db *gorm.DB, table string, fn func(conn *gorm.DB, pending any)) {
	t.Helper()

	fired := false
	name := "testutil:before_create:" + table
	err := db.Callback().Create().Before("gorm:create").Register(name, func(tx *gorm.DB) {
		if fired || tx.Error != nil || tx.Statement.Table != table {
			return
		}
		fired = true
		fn(tx.Session(&gorm.Session{NewDB: true}), tx.Statement.Dest)
	})
	if err != nil {
		t.Fatalf("failed to register create callback: %v", err)
	}
	t.Cleanup(func() { _ = db.Callback().Create().Remove(name) })
}

// TestHasher returns a hasher at the minimum bcrypt cost so tests stay fast.
func TestHasher() *auth.Hasher {
	return auth.NewHasher(bcrypt.MinCost)
}

// CreateTestJWTService creates a JWT service with default TTLs.
func CreateTestJWTService(t *testing.T) *auth.JWTService {
	t.Helper()

	svc, err := auth.NewJWTService(auth.TokenConfig{Secret: TestJWTSecret, Algorithm: "HS256"})
	if err != nil {
		t.Fatalf("failed to create jwt service: %v", err)
	}
	return svc
}

// CreateTestUser creates an active user whose password is TestPassword.
func CreateTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	hash, err := TestHasher().Hash(TestPassword)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Email:        "test-" + uuid.NewString()[:8] + "@example.com",
		PasswordHash: &hash,
		FullName:     "Test User",
		IsActive:     true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	return user
}

// CreateTestOrg creates an organization with owner as its active owner.
func CreateTestOrg(t *testing.T, db *gorm.DB, owner *models.User) *models.Organization {
	t.Helper()

	org := models.NewOrganization("Test Organization", "test-org-"+uuid.NewString()[:8])
	if err := db.Create(org).Error; err != nil {
		t.Fatalf("failed to create test organization: %v", err)
	}

	AddTestMember(t, db, org, owner, authz.RoleOwner)
	return org
}

// AddTestMember gives user an active membership in org with role.
func AddTestMember(t *testing.T, db *gorm.DB, org *models.Organization, user *models.User, role authz.Role) *models.Membership {
	t.Helper()

	m := &models.Membership{
		UserID:         user.ID,
		OrganizationID: org.ID,
		Role:           role,
		IsActive:       true,
		JoinedAt:       time.Now().UTC(),
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("failed to create test membership: %v", err)
	}
	return m
}

// GenerateTestToken issues a valid access token for user.
func GenerateTestToken(t *testing.T, jwtService *auth.JWTService, user *models.User) string {
	t.Helper()

	token, err := jwtService.IssueAccessToken(user.ID.String())
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// AuthenticatedRequest creates an HTTP request with a bearer token
func AuthenticatedRequest(t *testing.T, method, path string, body interface{}, token string) *http.Request {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

// UnauthenticatedRequest creates an HTTP request without authentication
func UnauthenticatedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	return AuthenticatedRequest(t, method, path, body, "")
}

// AssertStatus checks if the response has the expected status code
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
}

// ParseJSONResponse parses the response body into the given struct
func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// TestContext creates a context with a timeout for tests
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestSetup holds all the common test dependencies
type TestSetup struct {
	DB         *gorm.DB
	Hasher     *auth.Hasher
	JWTService *auth.JWTService
	User       *models.User
	Org        *models.Organization
	Token      string
}

// NewTestContext creates a complete test setup: a user owning one
// organization and an access token for that user.
func NewTestContext(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	jwtService := CreateTestJWTService(t)
	user := CreateTestUser(t, db)
	org := CreateTestOrg(t, db, user)
	token := GenerateTestToken(t, jwtService, user)

	return &TestSetup{
		DB:         db,
		Hasher:     TestHasher(),
		JWTService: jwtService,
		User:       user,
		Org:        org,
		Token:      token,
	}
}
