package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	Sub          string `json:"sub"`

	// DpopAuthserverNonce is the nonce the server settled on, carried out of
	// band of the JSON body so callers can persist it.
	DpopAuthserverNonce string `json:"-"`
}

// InitialTokenRequest exchanges an authorization code for the first token
// pair.
func (c *Client) InitialTokenRequest(
	ctx context.Context,
	code,
	authserverIss,
	pkceVerifier,
	dpopAuthserverNonce string,
	dpopPrivateJwk jwk.Key,
) (*TokenResponse, error) {
	params := url.Values{
		"client_id":     {c.clientId},
		"redirect_uri":  {c.redirectUri},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {pkceVerifier},
	}

	return c.tokenRequest(ctx, authserverIss, params, dpopAuthserverNonce, dpopPrivateJwk)
}

// RefreshTokenRequest rotates the token pair. The caller is expected to
// write the result back to its store on the same code path.
func (c *Client) RefreshTokenRequest(
	ctx context.Context,
	refreshToken,
	authserverIss,
	dpopAuthserverNonce string,
	dpopPrivateJwk jwk.Key,
) (*TokenResponse, error) {
	params := url.Values{
		"client_id":     {c.clientId},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	return c.tokenRequest(ctx, authserverIss, params, dpopAuthserverNonce, dpopPrivateJwk)
}

// tokenRequest posts to the token endpoint, handling the use_dpop_nonce
// dance: the server may reject the first attempt and hand back the nonce it
// wants in a header.
func (c *Client) tokenRequest(
	ctx context.Context,
	authserverIss string,
	params url.Values,
	dpopAuthserverNonce string,
	dpopPrivateJwk jwk.Key,
) (*TokenResponse, error) {
	for range 2 {
		authserverMeta, err := c.FetchAuthServerMetadata(ctx, authserverIss)
		if err != nil {
			return nil, err
		}

		clientAssertion, err := c.ClientAssertionJwt(authserverIss)
		if err != nil {
			return nil, err
		}

		params.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
		params.Set("client_assertion", clientAssertion)

		dpopProof, err := c.AuthServerDpopJwt("POST", authserverMeta.TokenEndpoint, dpopAuthserverNonce, dpopPrivateJwk)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, "POST", authserverMeta.TokenEndpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("DPoP", dpopProof)

		resp, err := c.h.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != 200 && resp.StatusCode != 201 {
			var respMap map[string]string
			err := json.NewDecoder(resp.Body).Decode(&respMap)
			resp.Body.Close()
			if err != nil {
				return nil, err
			}

			if resp.StatusCode == 400 && respMap["error"] == "use_dpop_nonce" {
				dpopAuthserverNonce = resp.Header.Get("DPoP-Nonce")
				continue
			}

			return nil, fmt.Errorf("token request error: %s", respMap["error"])
		}

		var tokenResponse TokenResponse
		err = json.NewDecoder(resp.Body).Decode(&tokenResponse)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		tokenResponse.DpopAuthserverNonce = dpopAuthserverNonce

		return &tokenResponse, nil
	}

	return nil, fmt.Errorf("token request did not settle on a dpop nonce")
}

// RevokeToken tells the authority to forget a token pair. Used on logout;
// callers treat failure as advisory.
func (c *Client) RevokeToken(
	ctx context.Context,
	token,
	authserverIss,
	dpopAuthserverNonce string,
	dpopPrivateJwk jwk.Key,
) error {
	authserverMeta, err := c.FetchAuthServerMetadata(ctx, authserverIss)
	if err != nil {
		return err
	}

	if authserverMeta.RevocationEndpoint == "" {
		return fmt.Errorf("authserver published no revocation endpoint")
	}

	clientAssertion, err := c.ClientAssertionJwt(authserverIss)
	if err != nil {
		return err
	}

	params := url.Values{
		"client_id":             {c.clientId},
		"token":                 {token},
		"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
		"client_assertion":      {clientAssertion},
	}

	for range 2 {
		dpopProof, err := c.AuthServerDpopJwt("POST", authserverMeta.RevocationEndpoint, dpopAuthserverNonce, dpopPrivateJwk)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, "POST", authserverMeta.RevocationEndpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("DPoP", dpopProof)

		resp, err := c.h.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode == 400 {
			var respMap map[string]string
			err := json.NewDecoder(resp.Body).Decode(&respMap)
			resp.Body.Close()
			if err != nil {
				return err
			}

			if respMap["error"] == "use_dpop_nonce" {
				dpopAuthserverNonce = resp.Header.Get("DPoP-Nonce")
				continue
			}

			return fmt.Errorf("revocation error: %s", respMap["error"])
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			return fmt.Errorf("received non-200 response from revocation endpoint. code was %d", resp.StatusCode)
		}

		return nil
	}

	return fmt.Errorf("revocation did not settle on a dpop nonce")
}
