package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/prepbolt/apiserver/types"
)

var ErrInvalidRole = errors.New("invalid role")

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByIDs(ctx context.Context, ids []int) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateRole(ctx context.Context, id int, role string) (types.User, error)
}

// UserService manages accounts and doubles as the user directory that
// resolves display names on leaderboards.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return s.repo.GetByUsername(ctx, username)
}

func (s *UserService) GetByIDs(ctx context.Context, ids []int) ([]types.User, error) {
	return s.repo.GetByIDs(ctx, ids)
}

// Create registers a user with the plain user role whatever the caller
// asked for. Roles are granted with SetRole.
func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	user.Role = types.RoleUser
	return s.repo.Create(ctx, user)
}

func (s *UserService) SetRole(ctx context.Context, id int, role string) (types.User, error) {
	if !types.ValidRole(role) {
		return types.User{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return s.repo.UpdateRole(ctx, id, role)
}
