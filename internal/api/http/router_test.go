package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/crm-identity/internal/api/http/handlers"
	"github.com/spec-kit/crm-identity/internal/auth"
	"github.com/spec-kit/crm-identity/internal/domain"
	"github.com/spec-kit/crm-identity/internal/events"
	"github.com/spec-kit/crm-identity/internal/observability"
	"github.com/spec-kit/crm-identity/internal/rbac"
	"github.com/spec-kit/crm-identity/internal/repository/repotest"
	"github.com/spec-kit/crm-identity/internal/service"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type testServer struct {
	app    *fiber.App
	store  *repotest.Store
	clock  *testClock
	tokens *auth.TokenManager
}

type serverOption func(*RouteConfig)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	store := repotest.NewStore()
	clock := &testClock{t: time.Now()}
	tokens := auth.NewTokenManager("router-secret", 15*time.Minute, 7*24*time.Hour, auth.WithClock(clock.Now))
	resolver := rbac.NewResolver(store.PermissionRepo(), logger, metrics)
	dispatcher := events.NewInMemoryDispatcher(logger)

	authSvc := service.NewAuthService(service.AuthDependencies{
		UserRepo:       store.UserRepo(),
		RoleRepo:       store.RoleRepo(),
		RevocationRepo: store.RevocationRepo(),
		TokenManager:   tokens,
		Logger:         logger,
		BcryptCost:     bcrypt.MinCost,
	})
	activationSvc := service.NewActivationService(service.ActivationDependencies{
		UserRepo:     store.UserRepo(),
		RoleRepo:     store.RoleRepo(),
		TokenManager: tokens,
		Dispatcher:   dispatcher,
		Logger:       logger,
		BcryptCost:   bcrypt.MinCost,
		Now:          clock.Now,
	})
	rbacSvc := service.NewRBACService(service.RBACDependencies{
		RoleRepo:       store.RoleRepo(),
		PermissionRepo: store.PermissionRepo(),
		UserRepo:       store.UserRepo(),
		Resolver:       resolver,
		Invalidator:    resolver,
		Dispatcher:     dispatcher,
		Logger:         logger,
	})
	userSvc := service.NewUserService(store.UserRepo(), store.RoleRepo(), logger, bcrypt.MinCost)

	cfg := RouteConfig{
		Health:         handlers.NewHealthHandler("crm-identity", "test", pinger{}, pinger{}),
		Auth:           handlers.NewAuthHandler(authSvc, rbacSvc),
		Activation:     handlers.NewActivationHandler(activationSvc),
		RBAC:           handlers.NewRBACHandler(rbacSvc),
		Users:          handlers.NewUsersHandler(userSvc),
		Portal:         handlers.NewPortalHandler(authSvc),
		Gate:           auth.NewGate(tokens, resolver, logger, metrics),
		Metrics:        metrics,
		LoginRateLimit: 100,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 5*time.Second)
	RegisterRoutes(app, cfg)
	return &testServer{app: app, store: store, clock: clock, tokens: tokens}
}

func (s *testServer) userWithPassword(t *testing.T, email, roleCode, password string) *domain.User {
	t.Helper()
	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	return s.store.SeedUser(email, roleCode, domain.UserStatusActive, hash)
}

func (s *testServer) tokenFor(t *testing.T, roleCode string) string {
	t.Helper()
	user := s.store.SeedUser(strings.ToLower(roleCode)+"-"+time.Now().Format("150405.000000000")+"@example.com", roleCode, domain.UserStatusActive, "x")
	token, _, err := s.tokens.IssueAccess(user)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	payload := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &payload), string(raw))
	}
	return resp.StatusCode, payload
}

func TestLoginAndBadCredentials(t *testing.T) {
	s := newTestServer(t)
	user := s.userWithPassword(t, "sales@example.com", domain.RoleSales, "correct-horse")

	status, body := s.do(t, fiber.MethodPost, "/auth/login", "", map[string]string{"email": "sales@example.com", "password": "correct-horse"})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "Bearer", body["tokenType"])
	assert.EqualValues(t, 900, body["expiresIn"])
	assert.NotEmpty(t, body["accessToken"])
	assert.NotEmpty(t, body["refreshToken"])
	userBlock := body["user"].(map[string]any)
	assert.Equal(t, user.ID, userBlock["id"])
	assert.Equal(t, domain.RoleSales, userBlock["role"])

	status, body = s.do(t, fiber.MethodPost, "/auth/login", "", map[string]string{"email": "sales@example.com", "password": "wrong-horse"})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["code"])
	assert.NotContains(t, body, "accessToken")
}

func TestRequireAuthFailureCodes(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, fiber.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	status, body = s.do(t, fiber.MethodGet, "/auth/me", "not.a.jwt", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_TOKEN", body["code"])
}

func TestExpiredAccessTokenThenRefresh(t *testing.T) {
	s := newTestServer(t)
	s.userWithPassword(t, "sales@example.com", domain.RoleSales, "correct-horse")

	_, login := s.do(t, fiber.MethodPost, "/auth/login", "", map[string]string{"email": "sales@example.com", "password": "correct-horse"})
	access := login["accessToken"].(string)
	refresh := login["refreshToken"].(string)

	status, _ := s.do(t, fiber.MethodGet, "/auth/me", access, nil)
	require.Equal(t, fiber.StatusOK, status)

	s.clock.t = s.clock.t.Add(16 * time.Minute)
	status, body := s.do(t, fiber.MethodGet, "/auth/me", access, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "TOKEN_EXPIRED", body["code"])

	status, body = s.do(t, fiber.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh})
	require.Equal(t, fiber.StatusOK, status, body)
	fresh := body["accessToken"].(string)

	status, body = s.do(t, fiber.MethodGet, "/auth/me", fresh, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "sales@example.com", body["email"])

	status, body = s.do(t, fiber.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": fresh})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["code"])
}

func TestLogoutRevokesRefresh(t *testing.T) {
	s := newTestServer(t)
	s.userWithPassword(t, "sales@example.com", domain.RoleSales, "correct-horse")
	_, login := s.do(t, fiber.MethodPost, "/auth/login", "", map[string]string{"email": "sales@example.com", "password": "correct-horse"})

	status, _ := s.do(t, fiber.MethodPost, "/auth/logout", login["accessToken"].(string), map[string]string{"refreshToken": login["refreshToken"].(string)})
	require.Equal(t, fiber.StatusOK, status)

	status, _ = s.do(t, fiber.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": login["refreshToken"].(string)})
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestLogoutCannotRevokeAnotherUsersSession(t *testing.T) {
	s := newTestServer(t)
	s.userWithPassword(t, "victim@example.com", domain.RoleCustomer, "correct-horse")
	_, victim := s.do(t, fiber.MethodPost, "/auth/login", "", map[string]string{"email": "victim@example.com", "password": "correct-horse"})

	status, _ := s.do(t, fiber.MethodPost, "/auth/logout", s.tokenFor(t, domain.RoleCustomer), map[string]string{"refreshToken": victim["refreshToken"].(string)})
	require.Equal(t, fiber.StatusOK, status)

	status, body := s.do(t, fiber.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": victim["refreshToken"].(string)})
	assert.Equal(t, fiber.StatusOK, status, body)
	assert.NotEmpty(t, body["accessToken"])
}

func TestAdminSurfaceRequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, fiber.MethodGet, "/api/v1/rbac/roles", s.tokenFor(t, domain.RoleCustomer), nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["code"])

	status, _ = s.do(t, fiber.MethodGet, "/api/v1/rbac/roles", s.tokenFor(t, domain.RoleManager), nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = s.do(t, fiber.MethodGet, "/api/v1/rbac/roles", s.tokenFor(t, domain.RoleAdmin), nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["roles"], 5)
}

func TestRoleAdministration(t *testing.T) {
	s := newTestServer(t)
	admin := s.tokenFor(t, domain.RoleAdmin)

	status, body := s.do(t, fiber.MethodPost, "/api/v1/rbac/roles", admin, map[string]string{"code": "auditor", "name": "Auditor"})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, "AUDITOR", body["code"])
	assert.Equal(t, false, body["isSystem"])

	status, body = s.do(t, fiber.MethodPost, "/api/v1/rbac/roles", admin, map[string]string{"code": "AUDITOR", "name": "Again"})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "CONFLICT", body["code"])

	status, body = s.do(t, fiber.MethodPut, "/api/v1/rbac/roles/AUDITOR/permissions", admin, map[string]any{"permissions": []string{"leads:read", "bogus:x"}})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, []any{"leads:read"}, body["permissions"])
	assert.Equal(t, []any{"bogus:x"}, body["ignored"])

	status, body = s.do(t, fiber.MethodGet, "/api/v1/rbac/roles/auditor/permissions", admin, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []any{"leads:read"}, body["permissions"])

	status, _ = s.do(t, fiber.MethodDelete, "/api/v1/rbac/roles/SALES", admin, nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = s.do(t, fiber.MethodDelete, "/api/v1/rbac/roles/AUDITOR", admin, nil)
	assert.Equal(t, fiber.StatusNoContent, status)

	status, body = s.do(t, fiber.MethodDelete, "/api/v1/rbac/roles/AUDITOR", admin, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestPermissionGateTracksGrantChanges(t *testing.T) {
	s := newTestServer(t)
	s.store.Grant(domain.RoleSales, "customers:create")
	sales := s.tokenFor(t, domain.RoleSales)
	admin := s.tokenFor(t, domain.RoleAdmin)

	status, body := s.do(t, fiber.MethodPost, "/api/v1/customers/accounts", sales, map[string]string{"email": "a@example.com", "name": "A"})
	require.Equal(t, fiber.StatusCreated, status, body)

	status, _ = s.do(t, fiber.MethodPut, "/api/v1/rbac/roles/SALES/permissions", admin, map[string]any{"permissions": []string{"leads:read"}})
	require.Equal(t, fiber.StatusOK, status)

	status, body = s.do(t, fiber.MethodPost, "/api/v1/customers/accounts", sales, map[string]string{"email": "b@example.com", "name": "B"})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["code"])

	// ADMIN holds no rows and still passes
	status, _ = s.do(t, fiber.MethodPost, "/api/v1/customers/accounts", admin, map[string]string{"email": "c@example.com", "name": "C"})
	assert.Equal(t, fiber.StatusCreated, status)
}

func TestPermissionGateFailsClosed(t *testing.T) {
	s := newTestServer(t)
	sales := s.tokenFor(t, domain.RoleSales)
	before := len(s.store.Users)
	s.store.FailPerms = true

	status, body := s.do(t, fiber.MethodPost, "/api/v1/customers/accounts", sales, map[string]string{"email": "a@example.com", "name": "A"})
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
	assert.Len(t, s.store.Users, before)
}

func TestActivationFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	admin := s.tokenFor(t, domain.RoleAdmin)

	status, body := s.do(t, fiber.MethodPost, "/api/v1/customers/accounts", admin, map[string]string{"email": "client@example.com", "name": "Client"})
	require.Equal(t, fiber.StatusCreated, status, body)
	token := body["setupToken"].(string)
	assert.Equal(t, "/setup-password?token="+token, body["setupUrl"])

	status, body = s.do(t, fiber.MethodGet, "/auth/setup-password/validate?token="+token, "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "client@example.com", body["email"])

	status, body = s.do(t, fiber.MethodPost, "/auth/login", "", map[string]string{"email": "client@example.com", "password": "anything-at-all"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body = s.do(t, fiber.MethodPost, "/auth/setup-password", "", map[string]string{"token": token, "password": "first-password"})
	require.Equal(t, fiber.StatusOK, status, body)
	access := body["accessToken"].(string)

	status, body = s.do(t, fiber.MethodGet, "/api/v1/portal/me", access, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, domain.RoleCustomer, body["role"])

	status, body = s.do(t, fiber.MethodPost, "/auth/setup-password", "", map[string]string{"token": token, "password": "second-password"})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	status, _ = s.do(t, fiber.MethodGet, "/auth/setup-password/validate?token="+token, "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = s.do(t, fiber.MethodGet, "/auth/setup-password/validate", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestAudienceGatesAreExclusive(t *testing.T) {
	s := newTestServer(t)
	for _, role := range []string{domain.RoleAdmin, domain.RoleManager, domain.RoleSales, domain.RoleDelivery} {
		status, _ := s.do(t, fiber.MethodGet, "/api/v1/portal/me", s.tokenFor(t, role), nil)
		assert.Equal(t, fiber.StatusForbidden, status, role)
	}

	customer := s.tokenFor(t, domain.RoleCustomer)
	status, _ := s.do(t, fiber.MethodGet, "/api/v1/portal/me", customer, nil)
	assert.Equal(t, fiber.StatusOK, status)

	// customers never reach the permission check, even with a grant
	s.store.Grant(domain.RoleCustomer, "customers:create")
	status, _ = s.do(t, fiber.MethodPost, "/api/v1/customers/accounts", customer, map[string]string{"email": "x@example.com", "name": "X"})
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestUsersSurface(t *testing.T) {
	s := newTestServer(t)
	manager := s.tokenFor(t, domain.RoleManager)
	admin := s.tokenFor(t, domain.RoleAdmin)
	target := s.store.SeedUser("rep@example.com", domain.RoleSales, domain.UserStatusActive, "x")
	managerRole := s.store.RoleByCode(domain.RoleManager)

	status, body := s.do(t, fiber.MethodGet, "/api/v1/users?roleCode=sales", manager, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Len(t, body["users"], 1)

	status, _ = s.do(t, fiber.MethodGet, "/api/v1/users", s.tokenFor(t, domain.RoleSales), nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = s.do(t, fiber.MethodGet, "/api/v1/users/not-a-uuid", manager, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = s.do(t, fiber.MethodPut, "/api/v1/users/"+target.ID, manager, map[string]string{"roleId": managerRole.ID})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = s.do(t, fiber.MethodPut, "/api/v1/users/"+target.ID, admin, map[string]string{"roleId": managerRole.ID})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, domain.RoleManager, body["roleCode"])

	status, _ = s.do(t, fiber.MethodPost, "/api/v1/users", manager, map[string]string{
		"name": "New", "email": "new@example.com", "password": "long-enough", "roleId": managerRole.ID,
	})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = s.do(t, fiber.MethodPost, "/api/v1/users", admin, map[string]string{
		"name": "New", "email": "new@example.com", "password": "long-enough", "roleId": managerRole.ID,
	})
	require.Equal(t, fiber.StatusCreated, status, body)
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, fiber.MethodPost, "/auth/register", "", map[string]string{"name": "N", "email": "not-an-email", "password": "short"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", body["code"])
	details := body["details"].(map[string]any)
	assert.Equal(t, "email", details["email"])
	assert.Equal(t, "min", details["password"])

	status, body = s.do(t, fiber.MethodPost, "/auth/register", "", map[string]string{"name": "N", "email": "n@example.com", "password": "long-enough"})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, domain.RoleCustomer, body["role"])

	status, body = s.do(t, fiber.MethodPost, "/auth/register", "", map[string]string{"name": "N", "email": "N@example.com", "password": "long-enough"})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "CONFLICT", body["code"])
}

func TestSessionAndPermissions(t *testing.T) {
	s := newTestServer(t)
	s.store.Grant(domain.RoleDelivery, "projects:update", "projects:read")

	status, body := s.do(t, fiber.MethodGet, "/auth/session", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["authenticated"])

	status, body = s.do(t, fiber.MethodGet, "/auth/session", "garbage", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["authenticated"])

	delivery := s.tokenFor(t, domain.RoleDelivery)
	status, body = s.do(t, fiber.MethodGet, "/auth/session", delivery, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, domain.RoleDelivery, body["user"].(map[string]any)["role"])

	status, body = s.do(t, fiber.MethodGet, "/auth/permissions", delivery, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []any{"projects:read", "projects:update"}, body["permissions"])

	status, body = s.do(t, fiber.MethodGet, "/auth/permissions", s.tokenFor(t, domain.RoleAdmin), nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []any{"*"}, body["permissions"])
}

func TestLoginRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *RouteConfig) { cfg.LoginRateLimit = 2 })
	creds := map[string]string{"email": "nobody@example.com", "password": "whatever"}

	for i := 0; i < 2; i++ {
		status, _ := s.do(t, fiber.MethodPost, "/auth/login", "", creds)
		assert.Equal(t, fiber.StatusUnauthorized, status)
	}
	status, body := s.do(t, fiber.MethodPost, "/auth/login", "", creds)
	assert.Equal(t, fiber.StatusTooManyRequests, status)
	assert.Equal(t, "TOO_MANY_REQUESTS", body["code"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, fiber.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	status, _ = s.do(t, fiber.MethodGet, "/metrics", "", nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, body = s.do(t, fiber.MethodGet, "/no/such/route", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])

	down := newTestServer(t, func(cfg *RouteConfig) {
		cfg.Health = handlers.NewHealthHandler("crm-identity", "test", pinger{err: errors.New("dial tcp: refused")}, pinger{})
	})
	status, body = down.do(t, fiber.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE", body["code"])
}

func TestPanicIsRenderedAsInternalError(t *testing.T) {
	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), nil, 0)
	app.Get("/boom", func(*fiber.Ctx) error { panic("boom") })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
}
