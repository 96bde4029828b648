package store

import (
	"context"
	"errors"
	"testing"

	"github.com/erazemk/najdeno/internal/db"
	"github.com/erazemk/najdeno/internal/model"
)

func TestCreateAndGetUser(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, database, "testuser", "hash123", model.RoleManager)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Role != model.RoleManager {
		t.Errorf("expected role 'manager', got %q", user.Role)
	}

	got, err := GetUser(ctx, database, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "testuser" {
		t.Errorf("expected username 'testuser', got %q", got.Username)
	}
}

func TestGetUserByUsernameSkipsDeleted(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateUser(ctx, database, "root", "hash", model.RoleAdmin)
	alice, _ := CreateUser(ctx, database, "alice", "hash", model.RoleManager)

	user, err := GetUserByUsername(ctx, database, "alice")
	if err != nil || user == nil {
		t.Fatalf("GetUserByUsername: user=%v err=%v", user, err)
	}

	if err := DeleteUser(ctx, database, alice.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	missing, err := GetUserByUsername(ctx, database, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for deleted user")
	}

	// The username can be reused after soft delete.
	if _, err := CreateUser(ctx, database, "alice", "hash", model.RoleManager); err != nil {
		t.Errorf("expected username reuse to succeed: %v", err)
	}
}

func TestLastAdminProtected(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	admin, _ := CreateUser(ctx, database, "admin", "hash", model.RoleAdmin)

	if err := DeleteUser(ctx, database, admin.ID); !errors.Is(err, ErrLastAdmin) {
		t.Errorf("expected ErrLastAdmin on delete, got %v", err)
	}
	if err := UpdateUserRole(ctx, database, admin.ID, model.RoleManager); !errors.Is(err, ErrLastAdmin) {
		t.Errorf("expected ErrLastAdmin on demote, got %v", err)
	}

	CreateUser(ctx, database, "admin2", "hash", model.RoleAdmin)
	if err := UpdateUserRole(ctx, database, admin.ID, model.RoleManager); err != nil {
		t.Errorf("expected demote to succeed with another admin, got %v", err)
	}
}

func TestUpdateUserPassword(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, _ := CreateUser(ctx, database, "pwuser", "oldhash", model.RoleManager)
	if err := UpdateUserPassword(ctx, database, user.ID, "newhash"); err != nil {
		t.Fatalf("UpdateUserPassword: %v", err)
	}

	got, _ := GetUser(ctx, database, user.ID)
	if got.PasswordHash != "newhash" {
		t.Errorf("expected password hash 'newhash', got %q", got.PasswordHash)
	}

	if err := UpdateUserPassword(ctx, database, 999, "x"); err == nil {
		t.Error("expected error for missing user")
	}
}
