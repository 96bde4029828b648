package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audiences keep staff sessions and claim tickets from being swapped.
const (
	audienceStaff  = "staff"
	audienceTicket = "claim"
)

// SessionExpiry is the lifetime of a staff session token.
const SessionExpiry = 7 * 24 * time.Hour

// TicketExpiry is the lifetime of a claim ticket. It outlasts the pickup
// window so the claimant can still leave feedback after collecting.
const TicketExpiry = 14 * 24 * time.Hour

// ErrInvalidToken is returned for tokens that fail validation.
var ErrInvalidToken = errors.New("invalid token")

// Session is the payload of a staff token.
type Session struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Ticket is the payload of a claim ticket. It authorizes follow-up calls on
// a single claim without an account.
type Ticket struct {
	ClaimID string `json:"claim_id"`
	ItemID  string `json:"item_id"`
	jwt.RegisteredClaims
}

// GenerateSession creates a staff token with a unique JTI.
func GenerateSession(secret string, userID int64, username, role string) (string, error) {
	registered, err := registeredClaims(audienceStaff, SessionExpiry)
	if err != nil {
		return "", err
	}
	return sign(secret, &Session{
		UserID:           userID,
		Username:         username,
		Role:             role,
		RegisteredClaims: registered,
	})
}

// ValidateSession parses a staff token.
func ValidateSession(secret, tokenStr string) (*Session, error) {
	s := &Session{}
	if err := parse(secret, tokenStr, audienceStaff, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GenerateTicket creates a claim ticket.
func GenerateTicket(secret, claimID, itemID string) (string, error) {
	registered, err := registeredClaims(audienceTicket, TicketExpiry)
	if err != nil {
		return "", err
	}
	registered.Subject = claimID
	return sign(secret, &Ticket{
		ClaimID:          claimID,
		ItemID:           itemID,
		RegisteredClaims: registered,
	})
}

// ValidateTicket parses a claim ticket and checks it was issued for claimID.
func ValidateTicket(secret, tokenStr, claimID string) (*Ticket, error) {
	t := &Ticket{}
	if err := parse(secret, tokenStr, audienceTicket, t); err != nil {
		return nil, err
	}
	if t.ClaimID != claimID {
		return nil, fmt.Errorf("%w: ticket is for another claim", ErrInvalidToken)
	}
	return t, nil
}

func registeredClaims(audience string, ttl time.Duration) (jwt.RegisteredClaims, error) {
	jti, err := generateJTI()
	if err != nil {
		return jwt.RegisteredClaims{}, fmt.Errorf("generating JTI: %w", err)
	}
	now := time.Now()
	return jwt.RegisteredClaims{
		ID:        jti,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}, nil
}

func sign(secret string, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func parse(secret, tokenStr, audience string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithAudience(audience), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// generateJTI creates a random token ID.
func generateJTI() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
