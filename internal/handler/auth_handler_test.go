package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"go-auth-server/internal/config"
	"go-auth-server/internal/handler"
	"go-auth-server/internal/middleware"
	"go-auth-server/internal/model"
	"go-auth-server/internal/router"
	"go-auth-server/internal/service"
	"go-auth-server/internal/session"
	"go-auth-server/internal/token"
)

type memoryUserStore struct {
	mu      sync.Mutex
	byEmail map[string]model.User
	byID    map[string]model.User
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{byEmail: map[string]model.User{}, byID: map[string]model.User{}}
}

func (f *memoryUserStore) Create(_ context.Context, email string, passwordHash string, name string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(email))
	if _, exists := f.byEmail[key]; exists {
		return model.User{}, model.ErrUserAlreadyExists
	}

	now := time.Now().UTC()
	user := model.User{ID: uuid.NewString(), Email: key, PasswordHash: passwordHash, Name: name, CreatedAt: now, UpdatedAt: now}
	f.byEmail[key] = user
	f.byID[user.ID] = user
	return user, nil
}

func (f *memoryUserStore) FindByEmail(_ context.Context, email string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, exists := f.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !exists {
		return model.User{}, model.ErrUserNotFound
	}
	return user, nil
}

func (f *memoryUserStore) FindByID(_ context.Context, id string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, exists := f.byID[id]
	if !exists {
		return model.User{}, model.ErrUserNotFound
	}
	return user, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

const accessTTL = 15 * time.Minute

func newTestServer(t *testing.T) (*httptest.Server, *fakeClock, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{t: time.Now()}

	accessCodec, err := token.NewCodec("access-secret", token.TypeAccess, accessTTL)
	require.NoError(t, err)
	refreshCodec, err := token.NewCodec("refresh-secret", token.TypeRefresh, 7*24*time.Hour)
	require.NoError(t, err)
	accessCodec = accessCodec.WithClock(clock.Now)
	refreshCodec = refreshCodec.WithClock(clock.Now)

	authService := service.NewAuthService(newMemoryUserStore(), session.NewStore(rdb), accessCodec, refreshCodec)
	authMiddleware := middleware.NewAuthMiddleware(authService)
	authHandler := handler.NewAuthHandler(authService, false)

	cfg := &config.Config{
		RequestTimeout:   30 * time.Second,
		CORSOrigins:      []string{"http://localhost:3000"},
		RateLimitRPM:     1000,
		AuthRateLimitRPM: 1000,
	}

	server := httptest.NewServer(router.New(cfg, authMiddleware, authHandler))
	t.Cleanup(server.Close)

	return server, clock, mr
}

func newCookieClient(t *testing.T) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func postJSON(t *testing.T, client *http.Client, url string, payload any) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, client *http.Client, url string) *http.Response {
	t.Helper()

	resp, err := client.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *model.APIError `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Error   *model.APIError `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.False(t, envelope.Success)
	require.NotNil(t, envelope.Error)
	return envelope.Error.Code
}

func cookieValue(t *testing.T, client *http.Client, serverURL string, name string) string {
	t.Helper()

	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestSignupLoginProfileLogoutFlow(t *testing.T) {
	server, _, _ := newTestServer(t)
	client := newCookieClient(t)

	signupResp := postJSON(t, client, server.URL+"/api/auth/signup", model.SignupRequest{
		Email: "a@x.com", Password: "secret1", Name: "A",
	})
	require.Equal(t, http.StatusCreated, signupResp.StatusCode)

	var created model.PublicUser
	decodeData(t, signupResp, &created)
	require.Equal(t, "a@x.com", created.Email)
	require.Equal(t, "A", created.Name)

	loginResp := postJSON(t, client, server.URL+"/api/auth/login", model.LoginRequest{
		Email: "a@x.com", Password: "secret1",
	})
	require.Equal(t, http.StatusOK, loginResp.StatusCode)
	require.NotEmpty(t, cookieValue(t, client, server.URL, middleware.AccessTokenCookie))
	require.NotEmpty(t, cookieValue(t, client, server.URL, middleware.RefreshTokenCookie))

	profileResp := get(t, client, server.URL+"/api/auth/profile")
	require.Equal(t, http.StatusOK, profileResp.StatusCode)

	var profile model.PublicUser
	decodeData(t, profileResp, &profile)
	require.Equal(t, created, profile)

	logoutResp := postJSON(t, client, server.URL+"/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, logoutResp.StatusCode)

	afterLogout := get(t, client, server.URL+"/api/auth/profile")
	require.Equal(t, http.StatusUnauthorized, afterLogout.StatusCode)
}

func TestSessionCookieAttributes(t *testing.T) {
	server, _, _ := newTestServer(t)
	client := newCookieClient(t)

	resp := postJSON(t, client, server.URL+"/api/auth/signup", model.SignupRequest{
		Email: "a@x.com", Password: "secret1", Name: "A",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	byName := map[string]*http.Cookie{}
	for _, c := range resp.Cookies() {
		byName[c.Name] = c
	}

	access := byName[middleware.AccessTokenCookie]
	require.NotNil(t, access)
	require.True(t, access.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, access.SameSite)
	require.Equal(t, int(accessTTL.Seconds()), access.MaxAge)

	refresh := byName[middleware.RefreshTokenCookie]
	require.NotNil(t, refresh)
	require.True(t, refresh.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, refresh.SameSite)
	require.Equal(t, int((7 * 24 * time.Hour).Seconds()), refresh.MaxAge)
}

func TestExpiredAccessTokenRefreshFlow(t *testing.T) {
	server, clock, _ := newTestServer(t)
	client := newCookieClient(t)

	resp := postJSON(t, client, server.URL+"/api/auth/signup", model.SignupRequest{
		Email: "a@x.com", Password: "secret1", Name: "A",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	originalAccess := cookieValue(t, client, server.URL, middleware.AccessTokenCookie)
	require.NotEmpty(t, originalAccess)

	clock.Advance(accessTTL + time.Minute)

	expired := get(t, client, server.URL+"/api/auth/profile")
	require.Equal(t, http.StatusUnauthorized, expired.StatusCode)

	refreshResp := postJSON(t, client, server.URL+"/api/auth/refresh", nil)
	require.Equal(t, http.StatusOK, refreshResp.StatusCode)

	renewedAccess := cookieValue(t, client, server.URL, middleware.AccessTokenCookie)
	require.NotEmpty(t, renewedAccess)
	require.NotEqual(t, originalAccess, renewedAccess)

	recovered := get(t, client, server.URL+"/api/auth/profile")
	require.Equal(t, http.StatusOK, recovered.StatusCode)
}

func TestRefreshWithoutCookie(t *testing.T) {
	server, _, _ := newTestServer(t)
	client := newCookieClient(t)

	resp := postJSON(t, client, server.URL+"/api/auth/refresh", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "NO_REFRESH_TOKEN", errorCode(t, resp))
}

func TestRefreshWhenStoreUnavailable(t *testing.T) {
	server, _, mr := newTestServer(t)
	client := newCookieClient(t)

	resp := postJSON(t, client, server.URL+"/api/auth/signup", model.SignupRequest{
		Email: "a@x.com", Password: "secret1", Name: "A",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	mr.Close()

	refreshResp := postJSON(t, client, server.URL+"/api/auth/refresh", nil)
	require.Equal(t, http.StatusServiceUnavailable, refreshResp.StatusCode)
	require.Equal(t, "STORE_UNAVAILABLE", errorCode(t, refreshResp))
}

func TestSecondLoginInvalidatesFirstRefreshToken(t *testing.T) {
	server, _, _ := newTestServer(t)

	first := newCookieClient(t)
	signupResp := postJSON(t, first, server.URL+"/api/auth/signup", model.SignupRequest{
		Email: "a@x.com", Password: "secret1", Name: "A",
	})
	require.Equal(t, http.StatusCreated, signupResp.StatusCode)

	second := newCookieClient(t)
	loginResp := postJSON(t, second, server.URL+"/api/auth/login", model.LoginRequest{
		Email: "a@x.com", Password: "secret1",
	})
	require.Equal(t, http.StatusOK, loginResp.StatusCode)

	// The first context's refresh token was overwritten by the second
	// login; only the second can still refresh.
	firstRefresh := postJSON(t, first, server.URL+"/api/auth/refresh", nil)
	require.Equal(t, http.StatusUnauthorized, firstRefresh.StatusCode)
	require.Equal(t, "INVALID_REFRESH_TOKEN", errorCode(t, firstRefresh))

	secondRefresh := postJSON(t, second, server.URL+"/api/auth/refresh", nil)
	require.Equal(t, http.StatusOK, secondRefresh.StatusCode)
}

func TestLogoutWithoutSessionSucceeds(t *testing.T) {
	server, _, _ := newTestServer(t)
	client := newCookieClient(t)

	resp := postJSON(t, client, server.URL+"/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	server, _, _ := newTestServer(t)
	client := newCookieClient(t)

	signupResp := postJSON(t, client, server.URL+"/api/auth/signup", model.SignupRequest{
		Email: "a@x.com", Password: "secret1", Name: "A",
	})
	require.Equal(t, http.StatusCreated, signupResp.StatusCode)

	loginResp := postJSON(t, newCookieClient(t), server.URL+"/api/auth/login", model.LoginRequest{
		Email: "a@x.com", Password: "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, loginResp.StatusCode)
	require.Equal(t, "UNAUTHORIZED", errorCode(t, loginResp))
}

func TestSignupDuplicateEmailConflict(t *testing.T) {
	server, _, _ := newTestServer(t)
	client := newCookieClient(t)

	resp := postJSON(t, client, server.URL+"/api/auth/signup", model.SignupRequest{
		Email: "a@x.com", Password: "secret1", Name: "A",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	dupe := postJSON(t, newCookieClient(t), server.URL+"/api/auth/signup", model.SignupRequest{
		Email: "a@x.com", Password: "secret2", Name: "B",
	})
	require.Equal(t, http.StatusConflict, dupe.StatusCode)
	require.Equal(t, "ALREADY_EXISTS", errorCode(t, dupe))
}
