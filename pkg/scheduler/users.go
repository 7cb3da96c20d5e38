package scheduler

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
)

// CreateUserRequest adds a user to the directory
type CreateUserRequest struct {
	Email         string `json:"email" yaml:"email"`
	Username      string `json:"username" yaml:"username"`
	WalletAddress string `json:"walletAddress" yaml:"walletAddress"`
}

// CreateUser adds a user. Email and username must be unique.
func (s *Scheduler) CreateUser(ctx context.Context, req CreateUserRequest) (*types.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	email := strings.TrimSpace(req.Email)
	username := strings.TrimSpace(req.Username)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email %q", types.ErrValidation, req.Email)
	}
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", types.ErrValidation)
	}
	if strings.TrimSpace(req.WalletAddress) == "" {
		return nil, fmt.Errorf("%w: walletAddress is required", types.ErrValidation)
	}

	user := &types.User{
		ID:            storage.NewID(),
		Email:         email,
		Username:      username,
		WalletAddress: strings.TrimSpace(req.WalletAddress),
		CreatedAt:     s.now(),
	}

	err := s.store.Update(func(tx storage.Tx) error {
		users, err := tx.ListUsers()
		if err != nil {
			return err
		}
		for _, u := range users {
			if strings.EqualFold(u.Email, user.Email) {
				return fmt.Errorf("%w: email %s already registered", types.ErrConflict, user.Email)
			}
			if u.Username == user.Username {
				return fmt.Errorf("%w: username %s already taken", types.ErrConflict, user.Username)
			}
		}
		return tx.PutUser(user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser returns a user by ID
func (s *Scheduler) GetUser(ctx context.Context, userID string) (*types.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.GetUser(userID)
}

// ListUsers returns every user
func (s *Scheduler) ListUsers(ctx context.Context) ([]*types.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []*types.User{}
	}
	return users, nil
}
