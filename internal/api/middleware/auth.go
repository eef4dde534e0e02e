// Package middleware provides the HTTP middleware for the haulfs API:
// bearer-token authentication and the admin-principal gate, grounded on
// pkg/api/middleware/auth.go's JWTAuth/RequireAdmin/GetClaimsFromContext
// shape, narrowed to the owner-id-plus-admin-flag this service needs.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/haulfs/haulfs/internal/api/httpio"
	"github.com/haulfs/haulfs/pkg/apierr"
)

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the identity attached to an authenticated request.
type Principal struct {
	ID    string
	Admin bool
}

// GetPrincipal retrieves the Principal a prior Authenticator.RequireAuth
// call attached to ctx, nil if none.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

type claims struct {
	jwt.RegisteredClaims
	Admin bool `json:"admin"`
}

func extractBearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// Authenticator validates bearer tokens against a single HMAC signing key,
// plus an explicit admin-principal allowlist for deployments whose
// issuer doesn't set an admin claim.
type Authenticator struct {
	signingKey      []byte
	adminPrincipals map[string]bool
}

// NewAuthenticator constructs an Authenticator. Token issuance itself is
// out of scope; this only validates tokens minted elsewhere.
func NewAuthenticator(signingKey string, adminPrincipals []string) *Authenticator {
	set := make(map[string]bool, len(adminPrincipals))
	for _, p := range adminPrincipals {
		set[p] = true
	}
	return &Authenticator{signingKey: []byte(signingKey), adminPrincipals: set}
}

func (a *Authenticator) authenticate(r *http.Request) (*Principal, error) {
	tok, ok := extractBearerToken(r)
	if !ok {
		return nil, errors.New("missing bearer token")
	}

	var c claims
	_, err := jwt.ParseWithClaims(tok, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	if c.Subject == "" {
		return nil, errors.New("token missing subject")
	}
	return &Principal{ID: c.Subject, Admin: c.Admin || a.adminPrincipals[c.Subject]}, nil
}

// RequireAuth rejects requests without a valid bearer token, attaching the
// resolved Principal to the request context.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.authenticate(r)
		if err != nil {
			httpio.WriteError(w, r, apierr.Wrap(apierr.Auth, err, err.Error()))
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin blocks non-admin principals. Must run after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil || !p.Admin {
			httpio.WriteError(w, r, apierr.New(apierr.Auth, "admin principal required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
