package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/byarielm/atlast/internal/config"
	"github.com/byarielm/atlast/internal/fingerprint"
	"github.com/byarielm/atlast/internal/oauth"
	"github.com/byarielm/atlast/internal/store"
	"github.com/gorilla/sessions"
	echosession "github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

func (s *Server) handleLoginSubmit(e echo.Context) error {
	ctx := e.Request().Context()
	origin := s.cfg.PublicOrigin(e.Request())

	input := e.FormValue("handle")
	if input == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "handle is required")
	}

	did, service, loginHint, err := s.resolver.ResolveInput(ctx, input)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("could not resolve %q", input))
	}

	client, err := s.oauthClient(origin)
	if err != nil {
		return err
	}

	authserver, err := client.ResolvePDSAuthServer(ctx, service)
	if err != nil {
		return err
	}

	meta, err := client.FetchAuthServerMetadata(ctx, authserver)
	if err != nil {
		return err
	}

	dpopPrivateKey, err := oauth.GenerateKey(nil)
	if err != nil {
		return err
	}

	dpopPrivateKeyJson, err := json.Marshal(dpopPrivateKey)
	if err != nil {
		return err
	}

	parResp, err := client.SendParAuthRequest(ctx, authserver, meta, loginHint, s.cfg.Scope, dpopPrivateKey)
	if err != nil {
		return err
	}

	if err := s.store.PutAuthRequest(ctx, &store.AuthRequest{
		State:               parResp.State,
		Did:                 did,
		PdsUrl:              service,
		AuthserverIss:       meta.Issuer,
		PkceVerifier:        parResp.PkceVerifier,
		DpopAuthserverNonce: parResp.DpopAuthserverNonce,
		DpopPrivateJwk:      string(dpopPrivateKeyJson),
		ReturnTo:            safeReturnTo(e.FormValue("return_to")),
	}); err != nil {
		return err
	}

	sess, err := echosession.Get(handshakeCookieName, e)
	if err != nil {
		return err
	}

	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   300, // save for five minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !config.IsLoopback(origin),
	}

	// make sure the session is empty
	sess.Values = map[interface{}]interface{}{}
	sess.Values["oauth_state"] = parResp.State
	sess.Values["oauth_did"] = did

	if err := sess.Save(e.Request(), e.Response()); err != nil {
		return err
	}

	u, err := url.Parse(meta.AuthorizationEndpoint)
	if err != nil {
		return err
	}
	u.RawQuery = url.Values{
		"client_id":   {client.ClientId()},
		"request_uri": {parResp.RequestUri},
	}.Encode()

	return e.Redirect(http.StatusFound, u.String())
}

func (s *Server) handleCallback(e echo.Context) error {
	ctx := e.Request().Context()
	origin := s.cfg.PublicOrigin(e.Request())

	resState := e.QueryParam("state")
	resIss := e.QueryParam("iss")
	resCode := e.QueryParam("code")

	sess, err := echosession.Get(handshakeCookieName, e)
	if err != nil {
		return err
	}

	sessState, _ := sess.Values["oauth_state"].(string)
	sessDid, _ := sess.Values["oauth_did"].(string)

	if resState == "" || resIss == "" || resCode == "" || sessState == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request missing needed parameters")
	}

	if resState != sessState {
		return echo.NewHTTPError(http.StatusBadRequest, "session state does not match response state")
	}

	authRequest, err := s.store.TakeAuthRequest(ctx, resState)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown or expired authorization request")
	}
	if err != nil {
		return err
	}

	if sessDid != authRequest.Did {
		return echo.NewHTTPError(http.StatusBadRequest, "handshake does not match authorization request")
	}

	if resIss != authRequest.AuthserverIss {
		return echo.NewHTTPError(http.StatusBadRequest, "incoming iss did not match authserver iss")
	}

	privateJwk, err := oauth.ParseJWKFromBytes([]byte(authRequest.DpopPrivateJwk))
	if err != nil {
		return err
	}

	client, err := s.oauthClient(origin)
	if err != nil {
		return err
	}

	tokenResp, err := client.InitialTokenRequest(
		ctx,
		resCode,
		authRequest.AuthserverIss,
		authRequest.PkceVerifier,
		authRequest.DpopAuthserverNonce,
		privateJwk,
	)
	if err != nil {
		return err
	}

	if tokenResp.Scope != s.cfg.Scope {
		return echo.NewHTTPError(http.StatusBadRequest, "did not receive correct scopes from token request")
	}

	// service-url logins carry no did until the authority names the account
	did := authRequest.Did
	if did == "" {
		did = tokenResp.Sub
	} else if tokenResp.Sub != "" && tokenResp.Sub != did {
		return echo.NewHTTPError(http.StatusBadRequest, "token subject does not match requested account")
	}

	if err := s.store.PutOauthSession(ctx, &store.OauthSession{
		Did:                 did,
		PdsUrl:              authRequest.PdsUrl,
		AuthserverIss:       authRequest.AuthserverIss,
		AuthMethod:          store.AuthMethodOauth,
		DpopPrivateJwk:      authRequest.DpopPrivateJwk,
		DpopAuthserverNonce: tokenResp.DpopAuthserverNonce,
	}, store.TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}); err != nil {
		return err
	}

	userSession, err := s.store.CreateUserSession(ctx, did, fingerprint.Capture(e.Request()))
	if err != nil {
		return err
	}

	s.setSessionCookie(e, origin, userSession.ID)

	// the handshake is finished, drop its cookie
	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	}
	sess.Values = map[interface{}]interface{}{}
	if err := sess.Save(e.Request(), e.Response()); err != nil {
		return err
	}

	if _, err := s.store.AppendOutboxItem(ctx, did, "signin", `{"message":"signed in"}`); err != nil {
		s.logger.Warn("could not append signin outbox item", "did", did, "error", err)
	}

	returnTo := authRequest.ReturnTo
	if returnTo == "" {
		returnTo = "/"
	}

	return e.Redirect(http.StatusFound, returnTo)
}

func (s *Server) handleLogout(e echo.Context) error {
	ctx := e.Request().Context()
	origin := s.cfg.PublicOrigin(e.Request())

	if id := sessionID(e); id != "" {
		if err := s.sessions.Destroy(ctx, id, origin); err != nil {
			s.logger.Warn("destroy failed during logout", "error", err)
		}
	}

	s.clearSessionCookie(e, origin)

	return e.Redirect(http.StatusFound, "/")
}

// safeReturnTo keeps post-login redirects on this site. Anything that is
// not a local path falls back to the root.
func safeReturnTo(returnTo string) string {
	if !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") {
		return ""
	}
	return returnTo
}
