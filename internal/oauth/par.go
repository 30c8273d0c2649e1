package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/byarielm/atlast/internal/helpers"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

type SendParAuthResponse struct {
	PkceVerifier        string
	State               string
	DpopAuthserverNonce string
	RequestUri          string
}

// SendParAuthRequest pushes the authorization request to the authority and
// returns the material the callback will need: the state nonce, the PKCE
// verifier, and the DPoP nonce the server settled on. A use_dpop_nonce
// rejection gets one retry with the server-provided nonce.
func (c *Client) SendParAuthRequest(
	ctx context.Context,
	authServerUrl string,
	authServerMeta *OauthAuthorizationMetadata,
	loginHint,
	scope string,
	dpopPrivateKey jwk.Key,
) (*SendParAuthResponse, error) {
	if authServerMeta == nil {
		return nil, fmt.Errorf("nil metadata provided")
	}

	parUrl := authServerMeta.PushedAuthorizationRequestEndpoint
	if _, err := isSafeAndParsed(parUrl); err != nil {
		return nil, err
	}

	state, err := helpers.GenerateToken(10)
	if err != nil {
		return nil, fmt.Errorf("could not generate state token: %w", err)
	}

	pkceVerifier, err := helpers.GenerateToken(48)
	if err != nil {
		return nil, fmt.Errorf("could not generate pkce verifier: %w", err)
	}

	clientAssertion, err := c.ClientAssertionJwt(authServerUrl)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"response_type":         {"code"},
		"code_challenge":        {helpers.GenerateCodeChallenge(pkceVerifier)},
		"code_challenge_method": {"S256"},
		"client_id":             {c.clientId},
		"state":                 {state},
		"redirect_uri":          {c.redirectUri},
		"scope":                 {scope},
		"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
		"client_assertion":      {clientAssertion},
	}

	if loginHint != "" {
		params.Set("login_hint", loginHint)
	}

	dpopAuthserverNonce := ""

	for range 2 {
		dpopProof, err := c.AuthServerDpopJwt("POST", parUrl, dpopAuthserverNonce, dpopPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("error getting dpop proof: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", parUrl, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("DPoP", dpopProof)

		resp, err := c.h.Do(req)
		if err != nil {
			return nil, err
		}

		var rmap map[string]any
		err = json.NewDecoder(resp.Body).Decode(&rmap)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == 400 && rmap["error"] == "use_dpop_nonce" {
			dpopAuthserverNonce = resp.Header.Get("DPoP-Nonce")
			continue
		}

		if resp.StatusCode != 200 && resp.StatusCode != 201 {
			return nil, fmt.Errorf("par request error: %v", rmap["error"])
		}

		requestUri, _ := rmap["request_uri"].(string)
		if requestUri == "" {
			return nil, fmt.Errorf("par response contained no request_uri")
		}

		return &SendParAuthResponse{
			PkceVerifier:        pkceVerifier,
			State:               state,
			DpopAuthserverNonce: dpopAuthserverNonce,
			RequestUri:          requestUri,
		}, nil
	}

	return nil, fmt.Errorf("par request did not settle on a dpop nonce")
}
