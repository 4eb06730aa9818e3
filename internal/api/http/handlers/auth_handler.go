package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-identity/internal/api/dto"
	"github.com/spec-kit/crm-identity/internal/auth"
	"github.com/spec-kit/crm-identity/internal/service"
)

// AuthHandler exposes login, token and profile endpoints.
type AuthHandler struct {
	auth *service.AuthService
	rbac *service.RBACService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, rbacService *service.RBACService) *AuthHandler {
	return &AuthHandler{auth: authService, rbac: rbacService}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	session, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(sessionResponse(session))
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	user, err := h.auth.Register(c.UserContext(), req.Name, req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewUserSummary(user))
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	refreshed, err := h.auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(dto.RefreshResponse{AccessToken: refreshed.AccessToken, ExpiresIn: refreshed.ExpiresIn})
}

// Logout handles POST /auth/logout. The client discards its tokens; a
// presented refresh token is revoked server-side.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if err != nil {
		return err
	}
	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &req); err != nil {
			return err
		}
	}
	if err := h.auth.Logout(c.UserContext(), identity.UserID, req.RefreshToken); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if err != nil {
		return err
	}
	user, err := h.auth.CurrentUser(c.UserContext(), identity.UserID)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewUserResponse(user))
}

// Session handles GET /auth/session for anonymous and authenticated callers alike.
func (h *AuthHandler) Session(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return c.JSON(dto.SessionStateResponse{Authenticated: false})
	}
	return c.JSON(dto.SessionStateResponse{Authenticated: true, User: identity})
}

// Permissions handles GET /auth/permissions.
func (h *AuthHandler) Permissions(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if err != nil {
		return err
	}
	codes, err := h.rbac.UserPermissions(c.UserContext(), identity.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"permissions": codes})
}

// ChangePassword handles POST /auth/change-password.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if err != nil {
		return err
	}
	var req dto.ChangePasswordRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if err := h.auth.ChangePassword(c.UserContext(), identity.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

func sessionResponse(s *service.Session) dto.SessionResponse {
	return dto.SessionResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
		User:         dto.NewUserSummary(s.User),
	}
}
