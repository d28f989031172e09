// internal/identity/identity.go
//
// Who is making a request.
// Responsibilities:
//   - Verify HS256 JWTs carrying id/username/role claims.
//   - Extract tokens from the Authorization header, the auth cookie or the
//     ?token= query parameter (browsers cannot set headers on WebSockets).
//   - Carry the identity through request contexts.

package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every way a token can fail verification.
var ErrInvalidToken = errors.New("invalid-token")

// Identity is an authenticated user.
type Identity struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// JWTVerifier checks HS256 tokens against a shared secret.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier builds a verifier for secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), now: time.Now}
}

// Verify parses token and returns the identity it names.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil || !t.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, _ := claims["id"].(string)
	username, _ := claims["username"].(string)
	role, _ := claims["role"].(string)
	if id == "" || username == "" {
		return Identity{}, fmt.Errorf("%w: missing id or username", ErrInvalidToken)
	}
	return Identity{UserID: id, Username: username, Role: role}, nil
}

// Sign issues a token for who that expires after ttl.
func (v *JWTVerifier) Sign(who Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.MapClaims{
		"id":       who.UserID,
		"username": who.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	if who.Role != "" {
		claims["role"] = who.Role
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFrom extracts a token from a bearer header, the named cookie or the
// token query parameter, in that order.
func TokenFrom(r *http.Request, cookieName string) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// ---------------------------- context helpers ------------------------------

type ctxKey struct{}

// With returns ctx carrying who.
func With(ctx context.Context, who Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, who)
}

// From returns the identity on ctx, if any.
func From(ctx context.Context) (Identity, bool) {
	who, ok := ctx.Value(ctxKey{}).(Identity)
	return who, ok
}
