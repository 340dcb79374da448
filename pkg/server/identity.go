package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vango-dev/apid/pkg/core"
)

// IdentityResolver establishes who is behind an upgrade request.
type IdentityResolver interface {
	Resolve(r *http.Request) (*core.OriginAttributes, error)
}

// ResolverFunc adapts a function to IdentityResolver.
type ResolverFunc func(r *http.Request) (*core.OriginAttributes, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(r *http.Request) (*core.OriginAttributes, error) {
	return f(r)
}

// StaticResolver gives every request the same identity.
type StaticResolver struct {
	Identity    string
	Permissions []string
}

// Resolve returns the configured identity.
func (s StaticResolver) Resolve(*http.Request) (*core.OriginAttributes, error) {
	return core.NewOriginAttributes(s.Identity, s.Permissions), nil
}

// Claims are the JWT claims apid understands: the subject is the identity,
// perms the granted permissions.
type Claims struct {
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 tokens from the "token" query parameter or
// an Authorization bearer header.
type JWTResolver struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTResolver creates a resolver verifying tokens with secret.
func NewJWTResolver(secret []byte) *JWTResolver {
	return &JWTResolver{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Resolve parses and validates the request's token.
func (j *JWTResolver) Resolve(r *http.Request) (*core.OriginAttributes, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return nil, ErrMissingToken
	}
	return j.Parse(raw)
}

// Parse validates a raw token.
func (j *JWTResolver) Parse(raw string) (*core.OriginAttributes, error) {
	token, err := j.parser.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return j.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return core.NewOriginAttributes(claims.Subject, claims.Permissions), nil
}

// Issue mints a token for subject. A zero ttl never expires.
func (j *JWTResolver) Issue(subject string, perms []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// UnixIdentity is the identity of tokenless clients on the unix socket.
const UnixIdentity = "uds"

type unixConnKey struct{}

// markUnixConn is an http.Server ConnContext tagging unix socket requests.
func markUnixConn(ctx context.Context, c net.Conn) context.Context {
	if _, ok := c.(*net.UnixConn); ok {
		return context.WithValue(ctx, unixConnKey{}, true)
	}
	return ctx
}

// IsUnixRequest reports whether r arrived on the unix socket.
func IsUnixRequest(r *http.Request) bool {
	v, _ := r.Context().Value(unixConnKey{}).(bool)
	return v
}

// UnixResolver lets tokenless unix socket clients in as UnixIdentity with no
// permissions, and defers everything else to Next.
type UnixResolver struct {
	Next IdentityResolver
}

// Resolve implements IdentityResolver.
func (u UnixResolver) Resolve(r *http.Request) (*core.OriginAttributes, error) {
	if u.Next != nil {
		origin, err := u.Next.Resolve(r)
		if err == nil || !IsUnixRequest(r) || !errors.Is(err, ErrMissingToken) {
			return origin, err
		}
	}
	if IsUnixRequest(r) {
		return core.NewOriginAttributes(UnixIdentity, nil), nil
	}
	return core.NewOriginAttributes("anonymous", nil), nil
}
