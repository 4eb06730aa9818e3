package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/spec-kit/crm-identity/internal/api/http/handlers"
	"github.com/spec-kit/crm-identity/internal/auth"
	"github.com/spec-kit/crm-identity/internal/domain"
	"github.com/spec-kit/crm-identity/internal/observability"
	apperrors "github.com/spec-kit/crm-identity/pkg/util"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Activation     *handlers.ActivationHandler
	RBAC           *handlers.RBACHandler
	Users          *handlers.UsersHandler
	Portal         *handlers.PortalHandler
	Gate           *auth.Gate
	Metrics        *observability.Metrics
	LoginRateLimit int
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	gate := cfg.Gate

	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/login", loginLimiter(cfg.LoginRateLimit), cfg.Auth.Login)
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Get("/session", gate.OptionalAuth(), cfg.Auth.Session)
	authGroup.Get("/setup-password/validate", cfg.Activation.ValidateSetupToken)
	authGroup.Post("/setup-password", cfg.Activation.SetupPassword)

	authGroup.Post("/logout", gate.RequireAuth(), cfg.Auth.Logout)
	authGroup.Get("/me", gate.RequireAuth(), cfg.Auth.Me)
	authGroup.Get("/permissions", gate.RequireAuth(), cfg.Auth.Permissions)
	authGroup.Post("/change-password", gate.RequireAuth(), cfg.Auth.ChangePassword)

	api := app.Group("/api/v1")

	rbacGroup := api.Group("/rbac", gate.StaffOnly(), gate.RequireRole(domain.RoleAdmin))
	rbacGroup.Get("/roles", cfg.RBAC.ListRoles)
	rbacGroup.Post("/roles", cfg.RBAC.CreateRole)
	rbacGroup.Delete("/roles/:roleCode", cfg.RBAC.DeleteRole)
	rbacGroup.Get("/roles/:roleCode/permissions", cfg.RBAC.RolePermissions)
	rbacGroup.Put("/roles/:roleCode/permissions", cfg.RBAC.SetRolePermissions)
	rbacGroup.Get("/permissions", cfg.RBAC.ListPermissions)
	rbacGroup.Get("/permissions/grouped", cfg.RBAC.GroupedPermissions)

	users := api.Group("/users", gate.StaffOnly(), gate.RequireRole(domain.RoleAdmin, domain.RoleManager))
	users.Get("/", cfg.Users.List)
	users.Post("/", gate.RequireRole(domain.RoleAdmin), cfg.Users.Create)
	users.Get("/:id", cfg.Users.Get)
	users.Put("/:id", cfg.Users.Update)

	customers := api.Group("/customers", gate.StaffOnly())
	customers.Post("/accounts", gate.RequirePermission("customers:create"), cfg.Activation.Provision)

	portal := api.Group("/portal", gate.CustomerOnly())
	portal.Get("/me", cfg.Portal.Me)
}

func loginLimiter(max int) fiber.Handler {
	if max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "login:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return apperrors.NewTooManyRequests()
		},
	})
}
