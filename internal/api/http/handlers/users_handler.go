package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-identity/internal/api/dto"
	"github.com/spec-kit/crm-identity/internal/domain"
	"github.com/spec-kit/crm-identity/internal/repository"
	"github.com/spec-kit/crm-identity/internal/service"
)

// UsersHandler exposes account administration for staff managers.
type UsersHandler struct {
	users *service.UserService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(users *service.UserService) *UsersHandler {
	return &UsersHandler{users: users}
}

// List handles GET /api/v1/users.
func (h *UsersHandler) List(c *fiber.Ctx) error {
	var q dto.ListUsersQuery
	if err := bindQuery(c, &q); err != nil {
		return err
	}
	filter := repository.UserFilter{
		Search:   q.Search,
		RoleCode: domain.NormalizeRoleCode(q.RoleCode),
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	if q.Status != "" {
		status := domain.UserStatus(q.Status)
		filter.Status = &status
	}

	users, err := h.users.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	out := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		out = append(out, dto.NewUserResponse(&users[i]))
	}
	return c.JSON(fiber.Map{"users": out})
}

// Get handles GET /api/v1/users/:id.
func (h *UsersHandler) Get(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id", "user")
	if err != nil {
		return err
	}
	user, err := h.users.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewUserResponse(user))
}

// Create handles POST /api/v1/users.
func (h *UsersHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateUserRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	user, err := h.users.Create(c.UserContext(), service.CreateUserInput{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		RoleID:     req.RoleID,
		Department: req.Department,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewUserResponse(user))
}

// Update handles PUT /api/v1/users/:id.
func (h *UsersHandler) Update(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id", "user")
	if err != nil {
		return err
	}
	var req dto.UpdateUserRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	user, err := h.users.Update(c.UserContext(), identity, id, service.UpdateUserInput{
		Name:       req.Name,
		RoleID:     req.RoleID,
		Department: req.Department,
		Status:     req.Status,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.NewUserResponse(user))
}
