package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/byarielm/atlast/internal/fingerprint"
	"github.com/byarielm/atlast/internal/tokencrypt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func newTestStore(t *testing.T, keyMaterial []byte) *Store {
	t.Helper()

	cipher, err := tokencrypt.New(keyMaterial)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(filepath.Join(t.TempDir(), "test.db"), cipher, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestAuthRequestPutTake(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)

	ar := &AuthRequest{
		State:          "n1",
		Did:            "did:example:1",
		PdsUrl:         "https://pds.example.com",
		AuthserverIss:  "https://authserver.example.com",
		PkceVerifier:   "verifier",
		DpopPrivateJwk: `{"kty":"EC"}`,
		ReturnTo:       "/matches",
	}
	require.NoError(t, s.PutAuthRequest(ctx, ar))

	got, err := s.TakeAuthRequest(ctx, "n1")
	require.NoError(t, err)
	assert.Equal("did:example:1", got.Did)
	assert.Equal("verifier", got.PkceVerifier)
	assert.Equal(`{"kty":"EC"}`, got.DpopPrivateJwk)
	assert.Equal("/matches", got.ReturnTo)

	// take consumes
	_, err = s.TakeAuthRequest(ctx, "n1")
	assert.ErrorIs(err, ErrNotFound)
}

func TestAuthRequestExpires(t *testing.T) {
	s := newTestStore(t, nil)

	start := time.Now()
	s.SetClock(func() time.Time { return start })

	require.NoError(t, s.PutAuthRequest(ctx, &AuthRequest{State: "n1", Did: "did:example:1"}))

	s.SetClock(func() time.Time { return start.Add(11 * time.Minute) })

	_, err := s.TakeAuthRequest(ctx, "n1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthRequestUpsertOverwrites(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)

	require.NoError(t, s.PutAuthRequest(ctx, &AuthRequest{State: "n1", PkceVerifier: "first"}))
	require.NoError(t, s.PutAuthRequest(ctx, &AuthRequest{State: "n1", PkceVerifier: "second"}))

	var count int64
	require.NoError(t, s.db.Model(&AuthRequest{}).Count(&count).Error)
	assert.EqualValues(1, count)

	got, err := s.TakeAuthRequest(ctx, "n1")
	require.NoError(t, err)
	assert.Equal("second", got.PkceVerifier)
}

func TestAuthRequestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t, nil)

	assert.NoError(t, s.DeleteAuthRequest(ctx, "missing"))
	assert.NoError(t, s.DeleteAuthRequest(ctx, "missing"))
}

func TestOauthSessionRoundTripWithoutCipher(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)

	tokens := TokenSet{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(time.Hour).UTC(),
	}

	require.NoError(t, s.PutOauthSession(ctx, &OauthSession{
		Did:            "did:example:1",
		PdsUrl:         "https://pds.example.com",
		AuthserverIss:  "https://authserver.example.com",
		AuthMethod:     "oauth",
		DpopPrivateJwk: `{"kty":"EC"}`,
	}, tokens))

	sess, got, err := s.GetOauthSession(ctx, "did:example:1")
	require.NoError(t, err)
	assert.False(sess.Encrypted)
	assert.Equal(tokens.AccessToken, got.AccessToken)
	assert.Equal(tokens.RefreshToken, got.RefreshToken)
	assert.True(tokens.Expiry.Equal(got.Expiry))
	assert.Equal(`{"kty":"EC"}`, sess.DpopPrivateJwk)
}

func TestOauthSessionRoundTripWithCipher(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, []byte("test-key"))

	tokens := TokenSet{AccessToken: "at", RefreshToken: "rt"}

	require.NoError(t, s.PutOauthSession(ctx, &OauthSession{
		Did:            "did:example:1",
		DpopPrivateJwk: `{"kty":"EC"}`,
	}, tokens))

	var raw OauthSession
	require.NoError(t, s.db.Where("did = ?", "did:example:1").First(&raw).Error)
	assert.True(raw.Encrypted)
	assert.NotContains(raw.TokenPayload, "at")
	// the proof key stays readable without a decrypt step
	assert.Equal(`{"kty":"EC"}`, raw.DpopPrivateJwk)

	_, got, err := s.GetOauthSession(ctx, "did:example:1")
	require.NoError(t, err)
	assert.Equal("at", got.AccessToken)
	assert.Equal("rt", got.RefreshToken)
}

func TestOauthSessionLastWriterWins(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)

	require.NoError(t, s.PutOauthSession(ctx, &OauthSession{Did: "did:example:1"}, TokenSet{AccessToken: "first"}))
	require.NoError(t, s.PutOauthSession(ctx, &OauthSession{Did: "did:example:1"}, TokenSet{AccessToken: "second"}))

	var count int64
	require.NoError(t, s.db.Model(&OauthSession{}).Count(&count).Error)
	assert.EqualValues(1, count)

	_, got, err := s.GetOauthSession(ctx, "did:example:1")
	require.NoError(t, err)
	assert.Equal("second", got.AccessToken)
}

func TestOauthSessionDecryptFailureIsNotFound(t *testing.T) {
	s := newTestStore(t, []byte("original-key"))

	require.NoError(t, s.PutOauthSession(ctx, &OauthSession{Did: "did:example:1"}, TokenSet{AccessToken: "at"}))

	// simulate a key rotation without re-encryption
	rotated, err := tokencrypt.New([]byte("rotated-key"))
	require.NoError(t, err)
	s.cipher = rotated

	_, _, err = s.GetOauthSession(ctx, "did:example:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOauthSessionExpires(t *testing.T) {
	s := newTestStore(t, nil)

	start := time.Now()
	s.SetClock(func() time.Time { return start })
	require.NoError(t, s.PutOauthSession(ctx, &OauthSession{Did: "did:example:1"}, TokenSet{}))

	s.SetClock(func() time.Time { return start.Add(31 * 24 * time.Hour) })

	_, _, err := s.GetOauthSession(ctx, "did:example:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTokens(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, []byte("key"))

	require.NoError(t, s.PutOauthSession(ctx, &OauthSession{Did: "did:example:1"}, TokenSet{AccessToken: "old"}))
	require.NoError(t, s.UpdateTokens(ctx, "did:example:1", TokenSet{AccessToken: "new", RefreshToken: "new-rt"}, "nonce-2"))

	sess, got, err := s.GetOauthSession(ctx, "did:example:1")
	require.NoError(t, err)
	assert.Equal("new", got.AccessToken)
	assert.Equal("new-rt", got.RefreshToken)
	assert.Equal("nonce-2", sess.DpopAuthserverNonce)
}

func TestUserSessionLifecycle(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)

	fp := fingerprint.Fingerprint{UserAgent: "test-agent", ClientIP: "1.1.1.1"}

	sess, err := s.CreateUserSession(ctx, "did:example:1", fp)
	require.NoError(t, err)
	// 32 bytes of entropy is 43 chars of base64url
	assert.GreaterOrEqual(len(sess.ID), 43)

	got, err := s.GetUserSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal("did:example:1", got.Did)
	assert.Equal("test-agent", got.UserAgent)
	assert.Equal("1.1.1.1", got.ClientIP)

	require.NoError(t, s.DeleteUserSession(ctx, sess.ID))

	_, err = s.GetUserSession(ctx, sess.ID)
	assert.ErrorIs(err, ErrNotFound)

	// deleting again is a no-op
	assert.NoError(s.DeleteUserSession(ctx, sess.ID))
}

func TestUserSessionsAreIndependent(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)

	fp := fingerprint.Fingerprint{UserAgent: "a"}

	first, err := s.CreateUserSession(ctx, "did:example:1", fp)
	require.NoError(t, err)
	second, err := s.CreateUserSession(ctx, "did:example:1", fp)
	require.NoError(t, err)
	assert.NotEqual(first.ID, second.ID)

	require.NoError(t, s.PutOauthSession(ctx, &OauthSession{Did: "did:example:1"}, TokenSet{}))
	require.NoError(t, s.DeleteUserSession(ctx, first.ID))

	// the other device keeps working
	_, err = s.GetUserSession(ctx, second.ID)
	assert.NoError(err)
	_, _, err = s.GetOauthSession(ctx, "did:example:1")
	assert.NoError(err)
}

func TestSweepExpired(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)

	start := time.Now()

	// expired rows
	s.SetClock(func() time.Time { return start.Add(-31 * 24 * time.Hour) })
	require.NoError(t, s.PutAuthRequest(ctx, &AuthRequest{State: "stale"}))
	require.NoError(t, s.PutOauthSession(ctx, &OauthSession{Did: "did:example:stale"}, TokenSet{}))
	_, err := s.CreateUserSession(ctx, "did:example:stale", fingerprint.Fingerprint{})
	require.NoError(t, err)
	_, err = s.AppendOutboxItem(ctx, "did:example:stale", "signin", "{}")
	require.NoError(t, err)

	// fresh rows
	s.SetClock(func() time.Time { return start })
	require.NoError(t, s.PutAuthRequest(ctx, &AuthRequest{State: "fresh"}))
	require.NoError(t, s.PutOauthSession(ctx, &OauthSession{Did: "did:example:fresh"}, TokenSet{}))
	fresh, err := s.CreateUserSession(ctx, "did:example:fresh", fingerprint.Fingerprint{})
	require.NoError(t, err)
	_, err = s.AppendOutboxItem(ctx, "did:example:fresh", "signin", "{}")
	require.NoError(t, err)

	result, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(1, result.AuthRequests)
	assert.EqualValues(1, result.OauthSessions)
	assert.EqualValues(1, result.UserSessions)
	assert.EqualValues(1, result.OutboxItems)
	assert.EqualValues(4, result.Total())

	// fresh rows are untouched
	_, err = s.GetUserSession(ctx, fresh.ID)
	assert.NoError(err)
	_, _, err = s.GetOauthSession(ctx, "did:example:fresh")
	assert.NoError(err)

	// nothing left to delete is still a success, with a timestamp
	result, err = s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(0, result.Total())
	assert.False(result.RanAt.IsZero())
}

func TestEnsureCleanupJobIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)

	first := time.Now().Add(time.Hour).UTC()
	require.NoError(t, s.EnsureCleanupJob(ctx, "session-sweep", first))
	require.NoError(t, s.EnsureCleanupJob(ctx, "session-sweep", first.Add(48*time.Hour)))

	job, err := s.GetCleanupJob(ctx, "session-sweep")
	require.NoError(t, err)
	assert.True(job.NextRunAt.Equal(first))

	var count int64
	require.NoError(t, s.db.Model(&CleanupJob{}).Count(&count).Error)
	assert.EqualValues(1, count)
}

func TestOutboxListOrder(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore(t, nil)

	_, err := s.AppendOutboxItem(ctx, "did:example:1", "signin", `{"n":1}`)
	require.NoError(t, err)
	_, err = s.AppendOutboxItem(ctx, "did:example:1", "signin", `{"n":2}`)
	require.NoError(t, err)

	items, err := s.ListOutboxItems(ctx, "did:example:1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(`{"n":1}`, items[0].Payload)
	assert.Equal(`{"n":2}`, items[1].Payload)
}
