// Package web is the HTTP surface: the login handshake, the session
// endpoints, and the origin-derived client metadata documents.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/byarielm/atlast/internal/config"
	"github.com/byarielm/atlast/internal/identity"
	"github.com/byarielm/atlast/internal/oauth"
	"github.com/byarielm/atlast/internal/session"
	"github.com/byarielm/atlast/internal/store"
	"github.com/gorilla/sessions"
	echosession "github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	slogecho "github.com/samber/slog-echo"
)

type Server struct {
	e        *echo.Echo
	httpd    *http.Server
	cfg      *config.Config
	store    *store.Store
	sessions *session.Service
	resolver *identity.Resolver
	logger   *slog.Logger
}

type ServerArgs struct {
	Config   *config.Config
	Store    *store.Store
	Sessions *session.Service
	Resolver *identity.Resolver
	Logger   *slog.Logger
}

func NewServer(args ServerArgs) (*Server, error) {
	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.Resolver == nil {
		args.Resolver = identity.NewResolver(nil)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(args.Logger))
	e.Use(echosession.Middleware(sessions.NewCookieStore([]byte(args.Config.CookieSecret))))

	s := &Server{
		e:        e,
		cfg:      args.Config,
		store:    args.Store,
		sessions: args.Sessions,
		resolver: args.Resolver,
		logger:   args.Logger,
		httpd: &http.Server{
			Addr:    args.Config.Addr,
			Handler: e,
		},
	}

	e.GET("/oauth/client-metadata.json", s.handleClientMetadata)
	e.GET("/oauth/jwks.json", s.handleJwks)
	e.POST("/login", s.handleLoginSubmit)
	e.GET("/oauth/callback", s.handleCallback)
	e.POST("/logout", s.handleLogout)

	api := e.Group("/api", s.RequireSession)
	api.GET("/me", s.handleMe)
	api.GET("/notifications", s.handleNotifications)

	e.GET("/api/session", s.handleSessionCheck)

	return s, nil
}

// NewOauthClient builds the authority client for a request origin. Client
// id and redirect URI are derived from the origin so that a preview
// deployment never presents production's identity.
func NewOauthClient(cfg *config.Config, origin string) (*oauth.Client, error) {
	return oauth.NewClient(oauth.ClientArgs{
		ClientJwk:   cfg.ClientJwk,
		ClientId:    ClientMetadataUrl(origin),
		RedirectUri: RedirectUrl(origin),
	})
}

// AuthorityClientBuilder adapts NewOauthClient to the session service's
// injected builder.
func AuthorityClientBuilder(cfg *config.Config) session.BuildClientFunc {
	return func(origin string) (session.AuthorityClient, error) {
		return NewOauthClient(cfg, origin)
	}
}

func ClientMetadataUrl(origin string) string {
	return origin + "/oauth/client-metadata.json"
}

func RedirectUrl(origin string) string {
	return origin + "/oauth/callback"
}

func (s *Server) oauthClient(origin string) (*oauth.Client, error) {
	return NewOauthClient(s.cfg, origin)
}

func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.httpd.Addr)

	if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpd.Shutdown(ctx)
}
