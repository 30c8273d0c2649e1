package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/byarielm/atlast/internal/config"
	"github.com/byarielm/atlast/internal/oauth"
	"github.com/byarielm/atlast/internal/session"
	"github.com/byarielm/atlast/internal/store"
	"github.com/byarielm/atlast/internal/tokencrypt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessionStore struct {
	sessions map[string]*store.UserSession
	err      error
}

func (f *fakeSessionStore) GetUserSession(ctx context.Context, id string) (*store.UserSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeSessionStore) DeleteUserSession(ctx context.Context, id string) error {
	delete(f.sessions, id)
	return f.err
}

func (f *fakeSessionStore) GetOauthSession(ctx context.Context, did string) (*store.OauthSession, store.TokenSet, error) {
	return nil, store.TokenSet{}, store.ErrNotFound
}

func (f *fakeSessionStore) UpdateTokens(ctx context.Context, did string, tokens store.TokenSet, dpopAuthserverNonce string) error {
	return nil
}

func (f *fakeSessionStore) UpdatePdsNonce(ctx context.Context, did, nonce string) error {
	return nil
}

func (f *fakeSessionStore) DeleteOauthSession(ctx context.Context, did string) error {
	return nil
}

func newTestServer(t *testing.T, sessStore session.Store) *Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key, err := oauth.GenerateKey(nil)
	require.NoError(t, err)

	cfg := &config.Config{
		Addr:         ":8080",
		CookieSecret: "test-secret",
		ClientJwk:    key,
		Scope:        config.DefaultScope,
	}

	cipher, err := tokencrypt.New(nil)
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), cipher, logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if sessStore == nil {
		sessStore = &fakeSessionStore{sessions: map[string]*store.UserSession{}}
	}

	svc, err := session.NewService(session.ServiceArgs{
		Store:       sessStore,
		Cache:       session.NewClientCache(8, 0),
		BuildClient: AuthorityClientBuilder(cfg),
		Logger:      logger,
	})
	require.NoError(t, err)

	srv, err := NewServer(ServerArgs{
		Config:   cfg,
		Store:    st,
		Sessions: svc,
		Logger:   logger,
	})
	require.NoError(t, err)

	return srv
}

func TestClientMetadataDerivesFromOrigin(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/oauth/client-metadata.json", nil)
	req.Header.Set("X-Forwarded-Host", "app.example.com")
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metadata))

	assert.Equal(t, "https://app.example.com/oauth/client-metadata.json", metadata["client_id"])
	assert.Equal(t, "https://app.example.com/oauth/jwks.json", metadata["jwks_uri"])
	assert.Equal(t, []any{"https://app.example.com/oauth/callback"}, metadata["redirect_uris"])
	assert.Equal(t, "private_key_jwt", metadata["token_endpoint_auth_method"])
	assert.Equal(t, true, metadata["dpop_bound_access_tokens"])
}

func TestClientMetadataLoopbackFallback(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/oauth/client-metadata.json", nil)
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metadata))

	assert.Equal(t, "http://127.0.0.1:8080/oauth/client-metadata.json", metadata["client_id"])
}

func TestJwksServesOnlyPublicMaterial(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/oauth/jwks.json", nil)
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"keys"`)
	assert.NotContains(t, rec.Body.String(), `"d"`)
}

func TestRequireSessionWithoutCookie(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "please sign in again")

	cleared := false
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "session cookie should be cleared on 401")
}

func TestRequireSessionStoreOutage(t *testing.T) {
	srv := newTestServer(t, &fakeSessionStore{err: errors.New("database is locked")})

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "some-session"})
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "please sign in again")

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			t.Fatal("outage must not clear the session cookie")
		}
	}
}

func TestSessionCheck(t *testing.T) {
	fake := &fakeSessionStore{sessions: map[string]*store.UserSession{
		"live-session": {ID: "live-session", Did: "did:plc:abc123", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	srv := newTestServer(t, fake)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":false}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "live-session"})
	rec = httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":true}`, rec.Body.String())
}

func TestLogoutAlwaysClearsCookie(t *testing.T) {
	srv := newTestServer(t, &fakeSessionStore{err: errors.New("database is locked")})

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "whatever"})
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)

	cleared := false
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestSessionCookieFlags(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := srv.e.NewContext(req, rec)

	srv.setSessionCookie(c, "https://app.example.com", "abc")

	header := rec.Header().Get("Set-Cookie")
	assert.Contains(t, header, "HttpOnly")
	assert.Contains(t, header, "Secure")
	assert.Contains(t, header, "SameSite=Lax")

	rec = httptest.NewRecorder()
	c = srv.e.NewContext(req, rec)
	srv.setSessionCookie(c, "http://127.0.0.1:8080", "abc")
	assert.NotContains(t, rec.Header().Get("Set-Cookie"), "Secure")
}

func TestSafeReturnTo(t *testing.T) {
	assert.Equal(t, "/settings", safeReturnTo("/settings"))
	assert.Equal(t, "", safeReturnTo("https://evil.example.com/"))
	assert.Equal(t, "", safeReturnTo("//evil.example.com"))
	assert.Equal(t, "", safeReturnTo(""))
}
