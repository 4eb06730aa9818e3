package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-identity/internal/api/dto"
	"github.com/spec-kit/crm-identity/internal/service"
)

// PortalHandler serves the customer portal surface.
type PortalHandler struct {
	auth *service.AuthService
}

// NewPortalHandler constructs handler.
func NewPortalHandler(authService *service.AuthService) *PortalHandler {
	return &PortalHandler{auth: authService}
}

// Me handles GET /api/v1/portal/me.
func (h *PortalHandler) Me(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if err != nil {
		return err
	}
	user, err := h.auth.CurrentUser(c.UserContext(), identity.UserID)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewUserSummary(user))
}
