package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"go-auth-server/internal/model"
)

type stubVerifier struct {
	valid map[string]model.Identity
}

func (s *stubVerifier) VerifyAccess(tokenString string) (model.Identity, error) {
	identity, ok := s.valid[tokenString]
	if !ok {
		return model.Identity{}, model.ErrUnauthorized
	}
	return identity, nil
}

func newStub() *stubVerifier {
	return &stubVerifier{valid: map[string]model.Identity{
		"good-token": {UserID: "user-1", Email: "a@x.com"},
	}}
}

func echoIdentity(t *testing.T, captured *model.Identity, found *bool) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		*captured = identity
		*found = ok
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthAcceptsValidCookie(t *testing.T) {
	var identity model.Identity
	var found bool
	m := NewAuthMiddleware(newStub())
	handler := m.RequireAuth(echoIdentity(t, &identity, &found))

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "good-token"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, found)
	require.Equal(t, "user-1", identity.UserID)
}

func TestRequireAuthRejectsMissingOrInvalidCookie(t *testing.T) {
	m := NewAuthMiddleware(newStub())
	handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not run")
	}))

	noCookie := httptest.NewRequest(http.MethodGet, "/profile", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, noCookie)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	badCookie := httptest.NewRequest(http.MethodGet, "/profile", nil)
	badCookie.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "expired"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, badCookie)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptionalAuthProceedsAnonymously(t *testing.T) {
	var identity model.Identity
	var found bool
	m := NewAuthMiddleware(newStub())
	handler := m.OptionalAuth(echoIdentity(t, &identity, &found))

	// No cookie at all.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, found)

	// Invalid cookie is treated the same as none.
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "expired"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, found)
}

func TestOptionalAuthAttachesIdentityWhenPresent(t *testing.T) {
	var identity model.Identity
	var found bool
	m := NewAuthMiddleware(newStub())
	handler := m.OptionalAuth(echoIdentity(t, &identity, &found))

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "good-token"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, found)
	require.Equal(t, "user-1", identity.UserID)
}
