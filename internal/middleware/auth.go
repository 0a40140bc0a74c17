package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"go-auth-server/internal/model"
)

// AccessVerifier decodes an access token into an identity. Verification is
// purely cryptographic and temporal; the session store is never consulted
// for access tokens.
type AccessVerifier interface {
	VerifyAccess(tokenString string) (model.Identity, error)
}

type contextKey string

const identityContextKey contextKey = "auth_identity"

// AccessTokenCookie is the cookie carrying the access token.
const AccessTokenCookie = "token"

// RefreshTokenCookie is the cookie carrying the refresh token.
const RefreshTokenCookie = "refreshToken"

type AuthMiddleware struct {
	verifier AccessVerifier
}

func NewAuthMiddleware(verifier AccessVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// RequireAuth rejects the request with 401 when the access token cookie is
// missing or fails verification.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := m.resolve(r)
		if !ok {
			writeUnauthorized(w, "missing or invalid access token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// OptionalAuth attaches the identity when a valid access token is present
// and proceeds as anonymous otherwise. Used by logout so client-side
// cleanup is never blocked by a server-side rejection.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity, ok := m.resolve(r); ok {
			r = r.WithContext(withIdentity(r.Context(), identity))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) resolve(r *http.Request) (model.Identity, bool) {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil || cookie.Value == "" {
		return model.Identity{}, false
	}

	identity, err := m.verifier.VerifyAccess(cookie.Value)
	if err != nil {
		return model.Identity{}, false
	}
	return identity, true
}

func withIdentity(ctx context.Context, identity model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	return identity, ok
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    "UNAUTHORIZED",
			Message: message,
		},
	})
}
