// Package repotest provides in-memory repository implementations for tests.
package repotest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/crm-identity/internal/domain"
	"github.com/spec-kit/crm-identity/internal/repository"
)

// ErrStoreDown is returned by every repository while the matching Fail flag is set.
var ErrStoreDown = errors.New("connection refused")

// Store is a shared in-memory credential store seeded with the system roles
// and a small permission catalogue. Fields may be inspected and mutated
// directly by tests that do not run concurrently.
type Store struct {
	mu        sync.Mutex
	Users     map[string]*domain.User
	Roles     map[string]*domain.Role
	Catalogue map[string]domain.Permission
	Grants    map[string]map[string]struct{} // role id -> permission codes
	Revoked   map[string]time.Time

	FailUsers       bool
	FailPerms       bool
	FailRevocations bool
	PermLoads       int
}

// NewStore returns a store holding the five system roles and the
// create/read/update/delete permissions for leads, customers and projects.
func NewStore() *Store {
	s := &Store{
		Users:     make(map[string]*domain.User),
		Roles:     make(map[string]*domain.Role),
		Catalogue: make(map[string]domain.Permission),
		Grants:    make(map[string]map[string]struct{}),
		Revoked:   make(map[string]time.Time),
	}
	for _, code := range []string{domain.RoleAdmin, domain.RoleManager, domain.RoleSales, domain.RoleDelivery, domain.RoleCustomer} {
		s.addRole(code, true)
	}
	for _, resource := range []string{"leads", "customers", "projects"} {
		for _, action := range []string{"create", "read", "update", "delete"} {
			code := resource + ":" + action
			s.Catalogue[code] = domain.Permission{ID: uuid.NewString(), Code: code, Resource: resource, Action: action}
		}
	}
	return s
}

func (s *Store) addRole(code string, system bool) *domain.Role {
	role := &domain.Role{ID: uuid.NewString(), Code: code, Name: code, IsSystem: system, CreatedAt: time.Now()}
	s.Roles[role.ID] = role
	return role
}

func (s *Store) roleByCode(code string) *domain.Role {
	for _, r := range s.Roles {
		if r.Code == code {
			return r
		}
	}
	return nil
}

// RoleByCode returns the stored role or nil.
func (s *Store) RoleByCode(code string) *domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roleByCode(code)
}

// Grant replaces the grant set of a role.
func (s *Store) Grant(roleCode string, codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role := s.roleByCode(roleCode)
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	s.Grants[role.ID] = set
}

// SeedUser stores a user with the given role and status.
func (s *Store) SeedUser(email, roleCode string, status domain.UserStatus, hash string) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	role := s.roleByCode(roleCode)
	u := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         "Test " + roleCode,
		PasswordHash: hash,
		RoleID:       role.ID,
		RoleCode:     role.Code,
		RoleName:     role.Name,
		Status:       status,
		CreatedAt:    time.Now(),
	}
	s.Users[u.ID] = u
	return clone(u)
}

// UserRepo returns a UserRepository over the store.
func (s *Store) UserRepo() repository.UserRepository { return users{s} }

// RoleRepo returns a RoleRepository over the store.
func (s *Store) RoleRepo() repository.RoleRepository { return roles{s} }

// PermissionRepo returns a PermissionRepository over the store.
func (s *Store) PermissionRepo() repository.PermissionRepository { return permissions{s} }

// RevocationRepo returns a TokenRevocationRepository over the store.
func (s *Store) RevocationRepo() repository.TokenRevocationRepository { return revocations{s} }

func clone(u *domain.User) *domain.User {
	c := *u
	if u.Activation != nil {
		a := *u.Activation
		c.Activation = &a
	}
	return &c
}

type users struct{ *Store }

func (f users) Create(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailUsers {
		return ErrStoreDown
	}
	for _, u := range f.Users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrConflict
		}
	}
	user.ID = uuid.NewString()
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	f.Users[user.ID] = clone(user)
	return nil
}

func (f users) Update(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailUsers {
		return ErrStoreDown
	}
	stored, ok := f.Users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	role, ok := f.Roles[user.RoleID]
	if !ok {
		return repository.ErrConflict
	}
	stored.Name, stored.Status, stored.Department, stored.AvatarURL = user.Name, user.Status, user.Department, user.AvatarURL
	stored.RoleID, stored.RoleCode, stored.RoleName = role.ID, role.Code, role.Name
	stored.UpdatedAt = time.Now()
	return nil
}

func (f users) UpdatePassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.Users[id]
	if !ok {
		return repository.ErrNotFound
	}
	stored.PasswordHash = hash
	return nil
}

func (f users) GetByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailUsers {
		return nil, ErrStoreDown
	}
	u, ok := f.Users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(u), nil
}

func (f users) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailUsers {
		return nil, ErrStoreDown
	}
	for _, u := range f.Users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			return clone(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f users) List(_ context.Context, filter repository.UserFilter) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailUsers {
		return nil, ErrStoreDown
	}
	var out []domain.User
	for _, u := range f.Users {
		if filter.RoleCode != "" && u.RoleCode != filter.RoleCode {
			continue
		}
		if filter.Status != nil && u.Status != *filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(u.Name+" "+u.Email), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, *clone(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (f users) GetByActivationToken(_ context.Context, token string, now time.Time) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailUsers {
		return nil, ErrStoreDown
	}
	for _, u := range f.Users {
		if u.Activation != nil && u.Activation.Value == token && u.Activation.Live(now) {
			return clone(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f users) ReissueActivationToken(_ context.Context, userID string, token domain.ActivationToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[userID]
	if !ok || u.Activation == nil {
		return repository.ErrConflict
	}
	u.Activation = &token
	return nil
}

func (f users) ConsumeActivationToken(_ context.Context, token, hash string, now time.Time) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailUsers {
		return nil, ErrStoreDown
	}
	for _, u := range f.Users {
		if u.Activation == nil || u.Activation.Value != token || !u.Activation.Live(now) || u.Status == domain.UserStatusSuspended {
			continue
		}
		u.PasswordHash = hash
		u.Activation = nil
		if u.Status == domain.UserStatusInactive {
			u.Status = domain.UserStatusActive
		}
		return clone(u), nil
	}
	return nil, repository.ErrNotFound
}

type roles struct{ *Store }

func (f roles) List(context.Context) ([]domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Role, 0, len(f.Roles))
	for _, r := range f.Roles {
		c := *r
		c.PermissionCount = len(f.Grants[r.ID])
		for _, u := range f.Users {
			if u.RoleID == r.ID {
				c.UserCount++
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (f roles) GetByID(_ context.Context, id string) (*domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Roles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (f roles) GetByCode(_ context.Context, code string) (*domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.roleByCode(code)
	if r == nil {
		return nil, repository.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (f roles) Create(_ context.Context, role *domain.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roleByCode(role.Code) != nil {
		return repository.ErrConflict
	}
	stored := f.addRole(role.Code, false)
	stored.Name, stored.Description = role.Name, role.Description
	role.ID, role.CreatedAt = stored.ID, stored.CreatedAt
	return nil
}

func (f roles) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Roles[id]
	if !ok || r.IsSystem {
		return repository.ErrNotFound
	}
	for _, u := range f.Users {
		if u.RoleID == id {
			return repository.ErrConflict
		}
	}
	delete(f.Roles, id)
	delete(f.Grants, id)
	return nil
}

type permissions struct{ *Store }

func (f permissions) List(context.Context) ([]domain.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPerms {
		return nil, ErrStoreDown
	}
	out := make([]domain.Permission, 0, len(f.Catalogue))
	for _, p := range f.Catalogue {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (f permissions) CodesForRole(_ context.Context, roleCode string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PermLoads++
	if f.FailPerms {
		return nil, ErrStoreDown
	}
	role := f.roleByCode(roleCode)
	if role == nil {
		return nil, nil
	}
	out := make([]string, 0, len(f.Grants[role.ID]))
	for code := range f.Grants[role.ID] {
		out = append(out, code)
	}
	return out, nil
}

func (f permissions) ReplaceForRole(_ context.Context, roleID string, codes []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPerms {
		return nil, ErrStoreDown
	}
	if _, ok := f.Roles[roleID]; !ok {
		return nil, repository.ErrNotFound
	}
	set := make(map[string]struct{})
	var applied []string
	for _, code := range codes {
		if _, ok := f.Catalogue[code]; ok {
			set[code] = struct{}{}
			applied = append(applied, code)
		}
	}
	sort.Strings(applied)
	f.Grants[roleID] = set
	return applied, nil
}

type revocations struct{ *Store }

func (f revocations) Revoke(_ context.Context, id string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRevocations {
		return ErrStoreDown
	}
	f.Revoked[id] = until
	return nil
}

func (f revocations) IsRevoked(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRevocations {
		return false, ErrStoreDown
	}
	_, ok := f.Revoked[id]
	return ok, nil
}
