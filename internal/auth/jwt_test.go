package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/erazemk/najdeno/internal/model"
)

func TestGenerateAndValidateSession(t *testing.T) {
	secret := "test-secret-key"

	token, err := GenerateSession(secret, 1, "admin", model.RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateSession: %v", err)
	}

	s, err := ValidateSession(secret, token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if s.UserID != 1 || s.Username != "admin" || s.Role != model.RoleAdmin {
		t.Errorf("unexpected session %+v", s)
	}
	if s.ID == "" {
		t.Error("expected a JTI")
	}

	diff := time.Until(s.ExpiresAt.Time) - SessionExpiry
	if diff < -5*time.Second || diff > 5*time.Second {
		t.Errorf("session expiry too far from expected: diff=%v", diff)
	}
}

func TestValidateSessionRejects(t *testing.T) {
	token, _ := GenerateSession("secret1", 1, "admin", model.RoleAdmin)

	if _, err := ValidateSession("secret2", token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := ValidateSession("secret1", "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestTicket(t *testing.T) {
	secret := "test-secret-key"

	token, err := GenerateTicket(secret, "claim-1", "item-1")
	if err != nil {
		t.Fatalf("GenerateTicket: %v", err)
	}

	ticket, err := ValidateTicket(secret, token, "claim-1")
	if err != nil {
		t.Fatalf("ValidateTicket: %v", err)
	}
	if ticket.ItemID != "item-1" {
		t.Errorf("expected item-1, got %q", ticket.ItemID)
	}

	if _, err := ValidateTicket(secret, token, "claim-2"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for another claim, got %v", err)
	}
}

func TestTokensAreNotInterchangeable(t *testing.T) {
	secret := "test-secret-key"

	session, _ := GenerateSession(secret, 1, "admin", model.RoleAdmin)
	if _, err := ValidateTicket(secret, session, ""); err == nil {
		t.Error("expected a staff session to be rejected as a ticket")
	}

	ticket, _ := GenerateTicket(secret, "claim-1", "item-1")
	if _, err := ValidateSession(secret, ticket); err == nil {
		t.Error("expected a claim ticket to be rejected as a session")
	}
}
