package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

type OauthProtectedResource struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ResourceDocumentation  string   `json:"resource_documentation"`
}

type OauthAuthorizationMetadata struct {
	Issuer                                     string   `json:"issuer"`
	RequestParameterSupported                  bool     `json:"request_parameter_supported"`
	RequestUriParameterSupported               bool     `json:"request_uri_parameter_supported"`
	RequireRequestUriRegistration              *bool    `json:"require_request_uri_registration,omitempty"`
	ScopesSupported                            []string `json:"scopes_supported"`
	ResponseTypesSupported                     []string `json:"response_types_supported"`
	GrantTypesSupported                        []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported              []string `json:"code_challenge_methods_supported"`
	AuthorizationResponseISSParameterSupported bool     `json:"authorization_response_iss_parameter_supported"`
	JwksUri                                    string   `json:"jwks_uri"`
	AuthorizationEndpoint                      string   `json:"authorization_endpoint"`
	TokenEndpoint                              string   `json:"token_endpoint"`
	TokenEndpointAuthMethodsSupported          []string `json:"token_endpoint_auth_methods_supported"`
	TokenEndpointAuthSigningAlgValuesSupported []string `json:"token_endpoint_auth_signing_alg_values_supported"`
	RevocationEndpoint                         string   `json:"revocation_endpoint"`
	IntrospectionEndpoint                      string   `json:"introspection_endpoint"`
	PushedAuthorizationRequestEndpoint         string   `json:"pushed_authorization_request_endpoint"`
	RequirePushedAuthorizationRequests         bool     `json:"require_pushed_authorization_requests"`
	DpopSigningAlgValuesSupported              []string `json:"dpop_signing_alg_values_supported"`
	ClientIDMetadataDocumentSupported          bool     `json:"client_id_metadata_document_supported"`
}

// Validate checks the metadata against the ATProto OAuth profile before any
// token material is sent to the server it describes.
func (m *OauthAuthorizationMetadata) Validate(fetchUrl *url.URL) error {
	if fetchUrl == nil {
		return fmt.Errorf("fetch url was nil")
	}

	iu, err := url.Parse(m.Issuer)
	if err != nil {
		return err
	}

	if iu.Hostname() != fetchUrl.Hostname() {
		return fmt.Errorf("issuer hostname does not match fetch url hostname")
	}

	if iu.Scheme != "https" {
		return fmt.Errorf("issuer url is not https")
	}

	if iu.Port() != "" {
		return fmt.Errorf("issuer port is not empty")
	}

	if iu.Path != "" && iu.Path != "/" {
		return fmt.Errorf("issuer path is not /")
	}

	if iu.RawQuery != "" {
		return fmt.Errorf("issuer url params are not empty")
	}

	if !tokenInSet("code", m.ResponseTypesSupported) {
		return fmt.Errorf("`code` is not in response_types_supported")
	}

	if !tokenInSet("authorization_code", m.GrantTypesSupported) {
		return fmt.Errorf("`authorization_code` is not in grant_types_supported")
	}

	if !tokenInSet("refresh_token", m.GrantTypesSupported) {
		return fmt.Errorf("`refresh_token` is not in grant_types_supported")
	}

	if !tokenInSet("S256", m.CodeChallengeMethodsSupported) {
		return fmt.Errorf("`S256` is not in code_challenge_methods_supported")
	}

	if !tokenInSet("private_key_jwt", m.TokenEndpointAuthMethodsSupported) {
		return fmt.Errorf("`private_key_jwt` is not in token_endpoint_auth_methods_supported")
	}

	if !tokenInSet("ES256", m.TokenEndpointAuthSigningAlgValuesSupported) {
		return fmt.Errorf("`ES256` is not in token_endpoint_auth_signing_alg_values_supported")
	}

	if !tokenInSet("atproto", m.ScopesSupported) {
		return fmt.Errorf("`atproto` is not in scopes_supported")
	}

	if !m.AuthorizationResponseISSParameterSupported {
		return fmt.Errorf("authorization_response_iss_parameter_supported is not true")
	}

	if m.PushedAuthorizationRequestEndpoint == "" {
		return fmt.Errorf("pushed_authorization_request_endpoint is empty")
	}

	if !m.RequirePushedAuthorizationRequests {
		return fmt.Errorf("require_pushed_authorization_requests is false")
	}

	if !tokenInSet("ES256", m.DpopSigningAlgValuesSupported) {
		return fmt.Errorf("`ES256` is not in dpop_signing_alg_values_supported")
	}

	if m.RequireRequestUriRegistration != nil && !*m.RequireRequestUriRegistration {
		return fmt.Errorf("require_request_uri_registration present in metadata and was false")
	}

	if !m.ClientIDMetadataDocumentSupported {
		return fmt.Errorf("client_id_metadata_document_supported was false")
	}

	return nil
}

func tokenInSet(token string, set []string) bool {
	for _, t := range set {
		if t == token {
			return true
		}
	}
	return false
}

// ResolvePDSAuthServer asks a PDS which authorization server protects it.
func (c *Client) ResolvePDSAuthServer(ctx context.Context, ustr string) (string, error) {
	u, err := isSafeAndParsed(ustr)
	if err != nil {
		return "", err
	}

	u.Path = "/.well-known/oauth-protected-resource"

	var resource OauthProtectedResource
	if err := c.getJSON(ctx, u.String(), &resource); err != nil {
		return "", fmt.Errorf("could not fetch oauth protected resource: %w", err)
	}

	if len(resource.AuthorizationServers) == 0 {
		return "", fmt.Errorf("oauth protected resource contained no authorization servers")
	}

	return resource.AuthorizationServers[0], nil
}

// FetchAuthServerMetadata fetches and validates an authorization server's
// published metadata.
func (c *Client) FetchAuthServerMetadata(ctx context.Context, ustr string) (*OauthAuthorizationMetadata, error) {
	u, err := isSafeAndParsed(ustr)
	if err != nil {
		return nil, err
	}

	u.Path = "/.well-known/oauth-authorization-server"

	var metadata OauthAuthorizationMetadata
	if err := c.getJSON(ctx, u.String(), &metadata); err != nil {
		return nil, fmt.Errorf("could not fetch auth server metadata: %w", err)
	}

	if err := metadata.Validate(u); err != nil {
		return nil, fmt.Errorf("could not validate metadata: %w", err)
	}

	return &metadata, nil
}

func (c *Client) getJSON(ctx context.Context, ustr string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", ustr, nil)
	if err != nil {
		return err
	}

	resp, err := c.h.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("received non-200 response. code was %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
