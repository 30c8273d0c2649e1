// Package oauth implements the client side of the ATProto OAuth profile:
// pushed authorization requests with PKCE, private_key_jwt client
// authentication, DPoP-bound token requests, refresh, and revocation.
package oauth

import (
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

type Client struct {
	h                *http.Client
	clientPrivateKey *ecdsa.PrivateKey
	clientKid        string
	clientId         string
	redirectUri      string
}

type ClientArgs struct {
	H           *http.Client
	ClientJwk   jwk.Key
	ClientId    string
	RedirectUri string
}

func NewClient(args ClientArgs) (*Client, error) {
	if args.ClientId == "" {
		return nil, fmt.Errorf("no client id provided")
	}

	if args.RedirectUri == "" {
		return nil, fmt.Errorf("no redirect uri provided")
	}

	if args.H == nil {
		args.H = defaultHttpClient()
	}

	clientPkey, err := privateKeyOf(args.ClientJwk)
	if err != nil {
		return nil, fmt.Errorf("could not load private key from provided client jwk: %w", err)
	}

	return &Client{
		h:                args.H,
		clientKid:        args.ClientJwk.KeyID(),
		clientPrivateKey: clientPkey,
		clientId:         args.ClientId,
		redirectUri:      args.RedirectUri,
	}, nil
}

// ClientId returns the public client identifier this client authenticates as.
func (c *Client) ClientId() string {
	return c.clientId
}

// defaultHttpClient retries transient failures against the authority a
// bounded number of times before giving up.
func defaultHttpClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return rc.StandardClient()
}
