package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/crm-identity/internal/domain"
	apperrors "github.com/spec-kit/crm-identity/pkg/util"
)

type stubChecker struct {
	grants map[string][]string
	err    error
	calls  atomic.Int32
}

func (s *stubChecker) HasPermission(_ context.Context, roleCode, permission string) (bool, error) {
	s.calls.Add(1)
	if s.err != nil {
		return false, s.err
	}
	for _, p := range s.grants[roleCode] {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

type gateFixture struct {
	clock   *fakeClock
	tokens  *TokenManager
	checker *stubChecker
	gate    *Gate
}

func newGateFixture() *gateFixture {
	clock := newClock()
	tokens := NewTokenManager("secret", 15*time.Minute, 7*24*time.Hour, WithClock(clock.Now))
	checker := &stubChecker{grants: map[string][]string{domain.RoleSales: {"leads:read"}}}
	return &gateFixture{
		clock:   clock,
		tokens:  tokens,
		checker: checker,
		gate:    NewGate(tokens, checker, nil, nil),
	}
}

func (f *gateFixture) tokenFor(t *testing.T, roleCode string) string {
	t.Helper()
	signed, _, err := f.tokens.IssueAccess(&domain.User{ID: "u-" + roleCode, Email: "x@example.com", RoleID: "r", RoleCode: roleCode})
	require.NoError(t, err)
	return signed
}

func newTestApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		de := apperrors.ToDomainError(err)
		return c.Status(de.HTTPStatus).JSON(fiber.Map{"code": de.Code, "message": de.Message})
	}})
	handlers = append(handlers, func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			return c.JSON(fiber.Map{"anonymous": true})
		}
		return c.JSON(identity)
	})
	app.Get("/", handlers...)
	return app
}

type result struct {
	status int
	body   map[string]any
}

func call(t *testing.T, app *fiber.App, authorization string) result {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return result{status: resp.StatusCode, body: body}
}

func TestRequireAuth(t *testing.T) {
	f := newGateFixture()
	app := newTestApp(f.gate.RequireAuth())
	valid := f.tokenFor(t, domain.RoleSales)
	refresh, err := f.tokens.IssueRefresh(&domain.User{ID: "u-1"})
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing header", "", http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"wrong scheme", "Token " + valid, http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized, apperrors.CodeInvalidToken},
		{"refresh token", "Bearer " + refresh, http.StatusUnauthorized, apperrors.CodeInvalidToken},
		{"valid", "Bearer " + valid, http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := call(t, app, tc.header)
			assert.Equal(t, tc.status, res.status)
			if tc.code != "" {
				assert.Equal(t, tc.code, res.body["code"])
			} else {
				assert.Equal(t, "u-SALES", res.body["id"])
				assert.Equal(t, domain.RoleSales, res.body["role"])
			}
		})
	}
}

func TestRequireAuthExpiredToken(t *testing.T) {
	f := newGateFixture()
	app := newTestApp(f.gate.RequireAuth())
	signed := f.tokenFor(t, domain.RoleSales)

	f.clock.Advance(15*time.Minute + time.Second)

	res := call(t, app, "Bearer "+signed)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, apperrors.CodeTokenExpired, res.body["code"])
}

func TestOptionalAuth(t *testing.T) {
	f := newGateFixture()
	app := newTestApp(f.gate.OptionalAuth())

	res := call(t, app, "")
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, true, res.body["anonymous"])

	res = call(t, app, "Bearer broken")
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, true, res.body["anonymous"])

	res = call(t, app, "Bearer "+f.tokenFor(t, domain.RoleCustomer))
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, domain.RoleCustomer, res.body["role"])
}

func TestRequireRole(t *testing.T) {
	f := newGateFixture()
	app := newTestApp(f.gate.RequireAuth(), f.gate.RequireRole(domain.RoleAdmin, domain.RoleManager))

	assert.Equal(t, http.StatusOK, call(t, app, "Bearer "+f.tokenFor(t, domain.RoleManager)).status)

	res := call(t, app, "Bearer "+f.tokenFor(t, domain.RoleSales))
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Equal(t, apperrors.CodeForbidden, res.body["code"])

	withoutIdentity := newTestApp(f.gate.RequireRole(domain.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, call(t, withoutIdentity, "").status)
}

func TestRequirePermission(t *testing.T) {
	f := newGateFixture()
	app := newTestApp(f.gate.RequireAuth(), f.gate.RequirePermission("leads:read"))
	deleteApp := newTestApp(f.gate.RequireAuth(), f.gate.RequirePermission("leads:delete"))

	assert.Equal(t, http.StatusOK, call(t, app, "Bearer "+f.tokenFor(t, domain.RoleSales)).status)

	res := call(t, deleteApp, "Bearer "+f.tokenFor(t, domain.RoleSales))
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Equal(t, apperrors.CodeForbidden, res.body["code"])
	assert.Contains(t, res.body["message"], "leads:delete")
}

func TestRequirePermissionAdminBypassesResolver(t *testing.T) {
	f := newGateFixture()
	f.checker.err = errors.New("store down")
	app := newTestApp(f.gate.RequireAuth(), f.gate.RequirePermission("anything:at-all"))

	res := call(t, app, "Bearer "+f.tokenFor(t, domain.RoleAdmin))
	assert.Equal(t, http.StatusOK, res.status)
	assert.Zero(t, f.checker.calls.Load())
}

func TestRequirePermissionFailsClosed(t *testing.T) {
	f := newGateFixture()
	f.checker.err = errors.New("connection refused")
	app := newTestApp(f.gate.RequireAuth(), f.gate.RequirePermission("leads:read"))

	res := call(t, app, "Bearer "+f.tokenFor(t, domain.RoleSales))
	assert.Equal(t, http.StatusInternalServerError, res.status)
	assert.Equal(t, apperrors.CodeInternal, res.body["code"])
}

func TestAudienceGatesAreExclusiveAndTotal(t *testing.T) {
	f := newGateFixture()
	customerApp := newTestApp(f.gate.CustomerOnly())
	staffApp := newTestApp(f.gate.StaffOnly())

	roles := []string{domain.RoleAdmin, domain.RoleManager, domain.RoleSales, domain.RoleDelivery, domain.RoleCustomer, "AUDITOR"}
	for _, role := range roles {
		header := "Bearer " + f.tokenFor(t, role)
		customer := call(t, customerApp, header).status == http.StatusOK
		staff := call(t, staffApp, header).status == http.StatusOK
		assert.True(t, customer != staff, "role %s accepted by customer=%v staff=%v", role, customer, staff)
		assert.Equal(t, role == domain.RoleCustomer, customer, role)
	}
}

func TestAudienceGateRejectsMissingToken(t *testing.T) {
	f := newGateFixture()
	res := call(t, newTestApp(f.gate.StaffOnly()), "")
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, apperrors.CodeUnauthorized, res.body["code"])
}
