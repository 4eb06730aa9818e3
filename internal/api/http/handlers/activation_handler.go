package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-identity/internal/api/dto"
	"github.com/spec-kit/crm-identity/internal/service"
	apperrors "github.com/spec-kit/crm-identity/pkg/util"
)

// ActivationHandler exposes customer account provisioning and first password setup.
type ActivationHandler struct {
	activation *service.ActivationService
}

// NewActivationHandler constructs handler.
func NewActivationHandler(activation *service.ActivationService) *ActivationHandler {
	return &ActivationHandler{activation: activation}
}

// Provision handles POST /api/v1/customers/accounts.
func (h *ActivationHandler) Provision(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if err != nil {
		return err
	}
	var req dto.ProvisionAccountRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	res, err := h.activation.Provision(c.UserContext(), identity, service.ProvisionInput{
		Email:  req.Email,
		Name:   req.Name,
		LeadID: req.LeadID,
	})
	if err != nil {
		return err
	}

	status := fiber.StatusCreated
	if res.Reissued {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(dto.ProvisionAccountResponse{
		UserID:     res.UserID,
		SetupToken: res.SetupToken,
		SetupURL:   res.SetupURL,
		ExpiresAt:  res.ExpiresAt,
		Reissued:   res.Reissued,
	})
}

// ValidateSetupToken handles GET /auth/setup-password/validate?token=.
func (h *ActivationHandler) ValidateSetupToken(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return apperrors.NewUnauthorized("setup link is invalid or expired")
	}
	preview, err := h.activation.Validate(c.UserContext(), token)
	if err != nil {
		return err
	}
	return c.JSON(dto.SetupTokenResponse{Valid: true, Email: preview.Email, Name: preview.Name})
}

// SetupPassword handles POST /auth/setup-password.
func (h *ActivationHandler) SetupPassword(c *fiber.Ctx) error {
	var req dto.SetupPasswordRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	session, err := h.activation.Activate(c.UserContext(), req.Token, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(sessionResponse(session))
}
