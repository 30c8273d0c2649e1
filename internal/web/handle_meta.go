package web

import (
	"net/http"

	"github.com/byarielm/atlast/internal/oauth"
	"github.com/labstack/echo/v4"
)

// handleClientMetadata serves the document the authority fetches to learn
// who we are. Every URL in it is derived from the request origin, so the
// same deployment answers correctly behind any hostname it is reachable on.
func (s *Server) handleClientMetadata(e echo.Context) error {
	origin := s.cfg.PublicOrigin(e.Request())

	metadata := map[string]any{
		"client_id":                       ClientMetadataUrl(origin),
		"client_name":                     "atlast",
		"client_uri":                      origin,
		"redirect_uris":                   []string{RedirectUrl(origin)},
		"grant_types":                     []string{"authorization_code", "refresh_token"},
		"response_types":                  []string{"code"},
		"scope":                           s.cfg.Scope,
		"application_type":                "web",
		"token_endpoint_auth_method":      "private_key_jwt",
		"token_endpoint_auth_signing_alg": "ES256",
		"dpop_bound_access_tokens":        true,
		"jwks_uri":                        origin + "/oauth/jwks.json",
	}

	return e.JSON(http.StatusOK, metadata)
}

func (s *Server) handleJwks(e echo.Context) error {
	jwks, err := oauth.CreateJwksResponseObject(s.cfg.ClientJwk)
	if err != nil {
		return err
	}

	return e.JSON(http.StatusOK, jwks)
}
