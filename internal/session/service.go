// Package session orchestrates the stores, the fingerprint check, the
// client cache, and the authority client into the three calls the rest of
// the application is allowed to make: Resolve, Destroy, and Verify. No other
// component reads the stores directly.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/byarielm/atlast/internal/fingerprint"
	"github.com/byarielm/atlast/internal/oauth"
	"github.com/byarielm/atlast/internal/store"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Store is the slice of the persistence layer the service needs. Reads may
// have write side effects: resolving a session with a near-expiry token
// refreshes and writes back on the same call.
type Store interface {
	GetUserSession(ctx context.Context, id string) (*store.UserSession, error)
	DeleteUserSession(ctx context.Context, id string) error
	GetOauthSession(ctx context.Context, did string) (*store.OauthSession, store.TokenSet, error)
	UpdateTokens(ctx context.Context, did string, tokens store.TokenSet, dpopAuthserverNonce string) error
	UpdatePdsNonce(ctx context.Context, did, nonce string) error
	DeleteOauthSession(ctx context.Context, did string) error
}

// AuthorityClient is what the service needs from the external authority:
// token rotation and revocation. *oauth.Client implements it.
type AuthorityClient interface {
	RefreshTokenRequest(ctx context.Context, refreshToken, authserverIss, dpopAuthserverNonce string, dpopPrivateJwk jwk.Key) (*oauth.TokenResponse, error)
	RevokeToken(ctx context.Context, token, authserverIss, dpopAuthserverNonce string, dpopPrivateJwk jwk.Key) error
}

// BuildClientFunc constructs an authority client scoped to a request origin.
// This is the expensive step the ClientCache amortizes.
type BuildClientFunc func(origin string) (AuthorityClient, error)

type Service struct {
	store       Store
	cache       *ClientCache
	buildClient BuildClientFunc
	logger      *slog.Logger
	now         func() time.Time
}

type ServiceArgs struct {
	Store       Store
	Cache       *ClientCache
	BuildClient BuildClientFunc
	Logger      *slog.Logger
}

func NewService(args ServiceArgs) (*Service, error) {
	if args.Store == nil {
		return nil, fmt.Errorf("no store provided")
	}

	if args.BuildClient == nil {
		return nil, fmt.Errorf("no client builder provided")
	}

	if args.Cache == nil {
		args.Cache = NewClientCache(DefaultCacheSize, DefaultCacheTTL)
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	return &Service{
		store:       args.Store,
		cache:       args.Cache,
		buildClient: args.BuildClient,
		logger:      args.Logger,
		now:         time.Now,
	}, nil
}

// SetClock replaces the service's clock for expiry-skew tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Resolved is what an authenticated request gets back: the account identity
// and a live client bound to its proof-of-possession key.
type Resolved struct {
	Did    string
	Client *oauth.XrpcClient
}

// Resolve turns a session id into a live authenticated handle. It reads the
// user session, checks the request fingerprint, obtains an origin-scoped
// authority client from the cache (building one on miss), and restores the
// external session, transparently rotating near-expiry tokens and writing
// them back before returning.
func (s *Service) Resolve(ctx context.Context, sessionID string, r *http.Request, origin string) (*Resolved, error) {
	userSession, err := s.store.GetUserSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, unauthenticated(reasonNoSession)
	}
	if err != nil {
		return nil, infrastructure(err)
	}

	stored := fingerprint.Fingerprint{
		UserAgent: userSession.UserAgent,
		ClientIP:  userSession.ClientIP,
	}
	if ok, reason := fingerprint.Verify(s.logger, stored, fingerprint.Capture(r)); !ok {
		s.logger.Warn("rejecting session on fingerprint mismatch", "did", userSession.Did, "reason", reason)
		return nil, unauthenticated(reasonHijackSuspected)
	}

	client, cached := s.cache.Get(sessionID, origin)
	if !cached {
		client, err = s.buildClient(origin)
		if err != nil {
			return nil, infrastructure(fmt.Errorf("could not build authority client: %w", err))
		}
		s.cache.Set(sessionID, origin, client)
	}

	resolved, err := s.restore(ctx, client, userSession.Did)
	if err != nil {
		// a stale or misconfigured client must not be retried silently
		s.cache.Invalidate(sessionID, origin)

		if errors.Is(err, ErrInfrastructure) {
			return nil, err
		}

		s.logger.Warn("session restore failed", "did", userSession.Did, "error", err)
		return nil, unauthenticated(reasonRestoreFailed)
	}

	return resolved, nil
}

// restore loads the durable credential record and rotates the token pair
// when it is at or near expiry. A missing or undecryptable record means the
// user has to sign in again; a store outage does not.
func (s *Service) restore(ctx context.Context, client AuthorityClient, did string) (*Resolved, error) {
	oauthSession, tokens, err := s.store.GetOauthSession(ctx, did)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no oauth session for %s", did)
	}
	if err != nil {
		return nil, infrastructure(err)
	}

	privateJwk, err := oauth.ParseJWKFromBytes([]byte(oauthSession.DpopPrivateJwk))
	if err != nil {
		return nil, fmt.Errorf("could not parse session proof key: %w", err)
	}

	dpopAuthserverNonce := oauthSession.DpopAuthserverNonce

	if tokens.Expiry.Sub(s.now()) <= store.RefreshSkew {
		resp, err := client.RefreshTokenRequest(ctx, tokens.RefreshToken, oauthSession.AuthserverIss, dpopAuthserverNonce, privateJwk)
		if err != nil {
			return nil, fmt.Errorf("could not refresh tokens: %w", err)
		}

		tokens = store.TokenSet{
			AccessToken:  resp.AccessToken,
			RefreshToken: resp.RefreshToken,
			Expiry:       s.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		}
		dpopAuthserverNonce = resp.DpopAuthserverNonce

		// the write is on the resolve path on purpose: two concurrent
		// refreshes for one account are both valid and the last writer wins
		if err := s.store.UpdateTokens(ctx, did, tokens, dpopAuthserverNonce); err != nil {
			return nil, infrastructure(err)
		}
	}

	xrpc := oauth.NewXrpcClient(oauth.XrpcClientArgs{
		Did:            did,
		PdsUrl:         oauthSession.PdsUrl,
		AccessToken:    tokens.AccessToken,
		Issuer:         oauthSession.AuthserverIss,
		DpopPdsNonce:   oauthSession.DpopPdsNonce,
		DpopPrivateJwk: privateJwk,
		OnDpopPdsNonceChanged: func(did, nonce string) {
			if err := s.store.UpdatePdsNonce(context.Background(), did, nonce); err != nil {
				s.logger.Warn("could not persist pds dpop nonce", "did", did, "error", err)
			}
		},
	})

	return &Resolved{Did: did, Client: xrpc}, nil
}

// Destroy ends a browser session. Revocation at the authority is
// best-effort: it is logged and never blocks local deletion, so logout
// always succeeds locally. Destroying an already-absent session is fine.
func (s *Service) Destroy(ctx context.Context, sessionID string, origin string) error {
	userSession, err := s.store.GetUserSession(ctx, sessionID)
	if err == nil {
		s.revokeBestEffort(ctx, sessionID, origin, userSession.Did)
	} else if !errors.Is(err, store.ErrNotFound) {
		return infrastructure(err)
	}

	if err := s.store.DeleteUserSession(ctx, sessionID); err != nil {
		return infrastructure(err)
	}

	s.cache.InvalidateSession(sessionID)

	return nil
}

func (s *Service) revokeBestEffort(ctx context.Context, sessionID, origin, did string) {
	oauthSession, tokens, err := s.store.GetOauthSession(ctx, did)
	if err != nil {
		s.logger.Warn("skipping revocation, no oauth session", "did", did, "error", err)
		return
	}

	privateJwk, err := oauth.ParseJWKFromBytes([]byte(oauthSession.DpopPrivateJwk))
	if err != nil {
		s.logger.Warn("skipping revocation, bad proof key", "did", did, "error", err)
		return
	}

	client, cached := s.cache.Get(sessionID, origin)
	if !cached {
		client, err = s.buildClient(origin)
		if err != nil {
			s.logger.Warn("skipping revocation, could not build client", "did", did, "error", err)
			return
		}
	}

	if err := client.RevokeToken(ctx, tokens.RefreshToken, oauthSession.AuthserverIss, oauthSession.DpopAuthserverNonce, privateJwk); err != nil {
		s.logger.Warn("token revocation failed", "did", did, "error", err)
	}
}

// Verify reports whether a live user session exists without building a
// client or touching the authority.
func (s *Service) Verify(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.store.GetUserSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, infrastructure(err)
	}

	return true, nil
}
