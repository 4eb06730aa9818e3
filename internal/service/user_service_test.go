package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/crm-identity/internal/domain"
	"github.com/spec-kit/crm-identity/internal/repository"
	"github.com/spec-kit/crm-identity/internal/repository/repotest"
	apperrors "github.com/spec-kit/crm-identity/pkg/util"
)

func newUserService(store *repotest.Store) *UserService {
	return NewUserService(store.UserRepo(), store.RoleRepo(), nil, bcrypt.MinCost)
}

func TestUserServiceCreate(t *testing.T) {
	store := repotest.NewStore()
	svc := newUserService(store)
	sales := store.RoleByCode(domain.RoleSales)

	user, err := svc.Create(context.Background(), CreateUserInput{Name: "Rep", Email: "rep@example.com", Password: "long-enough", RoleID: sales.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSales, user.RoleCode)
	assert.Equal(t, domain.UserStatusActive, user.Status)

	_, err = svc.Create(context.Background(), CreateUserInput{Name: "Rep", Email: "REP@example.com", Password: "long-enough", RoleID: sales.ID})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))

	_, err = svc.Create(context.Background(), CreateUserInput{Name: "X", Email: "x@example.com", Password: "long-enough", RoleID: "nope"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))
}

func TestOnlyAdminChangesRoles(t *testing.T) {
	store := repotest.NewStore()
	svc := newUserService(store)
	user := store.SeedUser("rep@example.com", domain.RoleSales, domain.UserStatusActive, "x")
	managerRole := store.RoleByCode(domain.RoleManager)
	manager := &domain.Identity{UserID: "m-1", RoleCode: domain.RoleManager}

	_, err := svc.Update(context.Background(), manager, user.ID, UpdateUserInput{RoleID: &managerRole.ID})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	name := "Renamed"
	updated, err := svc.Update(context.Background(), manager, user.ID, UpdateUserInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	updated, err = svc.Update(context.Background(), admin, user.ID, UpdateUserInput{RoleID: &managerRole.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleManager, updated.RoleCode)
	assert.Equal(t, domain.RoleManager, store.Users[user.ID].RoleCode)
}

func TestUserServiceUpdateValidation(t *testing.T) {
	store := repotest.NewStore()
	svc := newUserService(store)
	user := store.SeedUser("rep@example.com", domain.RoleSales, domain.UserStatusActive, "x")

	bogus := domain.UserStatus("DELETED")
	_, err := svc.Update(context.Background(), admin, user.ID, UpdateUserInput{Status: &bogus})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))

	_, err = svc.Update(context.Background(), admin, "missing", UpdateUserInput{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestUserServiceList(t *testing.T) {
	store := repotest.NewStore()
	svc := newUserService(store)
	store.SeedUser("a@example.com", domain.RoleSales, domain.UserStatusActive, "x")
	store.SeedUser("b@example.com", domain.RoleCustomer, domain.UserStatusInactive, "x")

	users, err := svc.List(context.Background(), repository.UserFilter{RoleCode: domain.RoleCustomer})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "b@example.com", users[0].Email)
}
