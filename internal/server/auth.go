package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL covers a long quiz night plus reloads the morning after.
const tokenTTL = 24 * time.Hour

type Role string

const (
	RoleHost Role = "host"
	RoleTeam Role = "team"
)

// Identity is who a session token speaks for. Subject is the host id for
// hosts and the team id for teams.
type Identity struct {
	Role    Role
	GameID  string
	Subject string
}

type claims struct {
	Role   Role   `json:"role"`
	GameID string `json:"gameId"`
	jwt.RegisteredClaims
}

var errNoSession = errors.New("no valid session")

// Tokens issues and verifies HS256 session tokens.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

func NewTokens(secret []byte) *Tokens {
	return &Tokens{secret: secret, now: time.Now}
}

func (t *Tokens) Issue(id Identity) (string, error) {
	now := t.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:   id.Role,
		GameID: id.GameID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	signed, err := tok.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) Parse(raw string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", errNoSession, err)
	}
	if c.Role != RoleHost && c.Role != RoleTeam || c.GameID == "" || c.Subject == "" {
		return Identity{}, errNoSession
	}
	return Identity{Role: c.Role, GameID: c.GameID, Subject: c.Subject}, nil
}

// identityFromRequest reads the token from the Authorization header, or
// from ?token= for EventSource and WebSocket clients that cannot set one.
func (t *Tokens) identityFromRequest(r *http.Request) (Identity, error) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return Identity{}, errNoSession
	}
	return t.Parse(token)
}
