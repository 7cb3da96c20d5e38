package scheduler

import (
	"context"
	"testing"

	"github.com/cuemby/trainyard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCreateUser tests the user directory
func TestCreateUser(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	user, err := f.sched.CreateUser(ctx, CreateUserRequest{
		Email:         "bob@example.com",
		Username:      "bob",
		WalletAddress: "0xB0B",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)

	got, err := f.sched.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)

	users, err := f.sched.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	tests := []struct {
		name    string
		req     CreateUserRequest
		wantErr error
	}{
		{name: "duplicate email", req: CreateUserRequest{Email: "BOB@example.com", Username: "bobby", WalletAddress: "0x1"}, wantErr: types.ErrConflict},
		{name: "duplicate username", req: CreateUserRequest{Email: "b2@example.com", Username: "bob", WalletAddress: "0x1"}, wantErr: types.ErrConflict},
		{name: "invalid email", req: CreateUserRequest{Email: "bob", Username: "x", WalletAddress: "0x1"}, wantErr: types.ErrValidation},
		{name: "missing username", req: CreateUserRequest{Email: "c@example.com", WalletAddress: "0x1"}, wantErr: types.ErrValidation},
		{name: "missing wallet", req: CreateUserRequest{Email: "c@example.com", Username: "carol"}, wantErr: types.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sched.CreateUser(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err = f.sched.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
