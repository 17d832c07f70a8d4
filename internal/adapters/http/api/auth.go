package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims of the role gate. The subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

// ClaimsFrom returns the claims stored by Authenticator.Require.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Authenticator verifies HS256 bearer tokens and gates privileged routes by role.
type Authenticator struct {
	secret []byte
	roles  map[string]struct{}
}

// NewAuthenticator returns an Authenticator accepting tokens signed with
// secret whose role is one of privileged.
func NewAuthenticator(secret string, privileged []string) *Authenticator {
	roles := make(map[string]struct{}, len(privileged))
	for _, r := range privileged {
		roles[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	return &Authenticator{secret: []byte(secret), roles: roles}
}

// IssueToken signs a token for userID with role, valid for ttl.
func (a *Authenticator) IssueToken(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify parses a token and checks its signature, method and expiry.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, errors.New("token is empty")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

// Privileged reports whether role may use gated routes.
func (a *Authenticator) Privileged(role string) bool {
	_, ok := a.roles[strings.ToLower(role)]
	return ok
}

// Require rejects requests without a valid token (401) or with an
// unprivileged role (403) and stores the claims in the request context.
func (a *Authenticator) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "api.auth"
		raw, ok := bearer(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, NewKind(op, ErrUnauthorized))
			return
		}
		claims, err := a.Verify(raw)
		if err != nil {
			writeError(w, WrapKind(op, ErrUnauthorized, err))
			return
		}
		if !a.Privileged(claims.Role) {
			writeError(w, WrapKind(op, ErrPermissionDenied, fmt.Errorf("role %q may not perform this action", claims.Role)))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
