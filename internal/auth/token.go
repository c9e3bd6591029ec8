package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrMissingSecret   = errors.New("auth jwt secret is required")
)

const (
	RoleGuest = "guest"
	RoleHost  = "host"
	RoleAdmin = "admin"
)

// Actor is the authenticated caller of an API request.
type Actor struct {
	UserID snowflake.ID
	Role   string
}

// Subject renders the authorization subject for the actor.
func (a Actor) Subject() string {
	return fmt.Sprintf("user:%s", a.UserID.String())
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 bearer tokens issued by the identity service.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) (*TokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &TokenVerifier{secret: []byte(secret), issuer: strings.TrimSpace(issuer)}, nil
}

// Issue signs a token for the actor. Used by the ops CLI and tests.
func (v *TokenVerifier) Issue(actor Actor, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses the raw token and returns the actor it names.
func (v *TokenVerifier) Verify(raw string) (Actor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Actor{}, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Actor{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	userID, err := snowflake.ParseString(claims.Subject)
	if err != nil || userID == 0 {
		return Actor{}, ErrUnauthenticated
	}
	role := strings.ToLower(strings.TrimSpace(claims.Role))
	if role == "" {
		role = RoleGuest
	}
	return Actor{UserID: userID, Role: role}, nil
}
