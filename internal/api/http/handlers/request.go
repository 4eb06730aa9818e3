package handlers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/spec-kit/crm-identity/internal/auth"
	"github.com/spec-kit/crm-identity/internal/domain"
	apperrors "github.com/spec-kit/crm-identity/pkg/util"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// bindJSON decodes the body into req and runs struct validation.
func bindJSON(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return validateStruct(req)
}

// bindQuery decodes query parameters into req and runs struct validation.
func bindQuery(c *fiber.Ctx, req any) error {
	if err := c.QueryParser(req); err != nil {
		return apperrors.NewValidationError("invalid query", nil)
	}
	return validateStruct(req)
}

func validateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[lowerFirst(fe.Field())] = fe.Tag()
	}
	return apperrors.NewValidationError("request validation failed", details)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// uuidParam reads a path id; anything that is not a uuid cannot exist.
func uuidParam(c *fiber.Ctx, name, resource string) (string, error) {
	raw := c.Params(name)
	if _, err := uuid.Parse(raw); err != nil {
		return "", apperrors.NewNotFound(resource, map[string]any{name: raw})
	}
	return raw, nil
}

func currentIdentity(c *fiber.Ctx) (*domain.Identity, error) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return identity, nil
}
