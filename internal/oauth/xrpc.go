package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// XrpcClient makes authenticated XRPC calls to a user's PDS, signing every
// request with the session's proof-of-possession key. It is the
// "authenticated client" handed to the rest of the application by resolve.
type XrpcClient struct {
	Did            string
	PdsUrl         string
	AccessToken    string
	Issuer         string
	DpopPrivateJwk jwk.Key

	// OnDpopPdsNonceChanged, if set, is called whenever the PDS rotates its
	// DPoP nonce so the caller can persist it.
	OnDpopPdsNonceChanged func(did, nonce string)

	h *http.Client

	mu       sync.Mutex
	pdsNonce string
}

type XrpcClientArgs struct {
	H                     *http.Client
	Did                   string
	PdsUrl                string
	AccessToken           string
	Issuer                string
	DpopPdsNonce          string
	DpopPrivateJwk        jwk.Key
	OnDpopPdsNonceChanged func(did, nonce string)
}

func NewXrpcClient(args XrpcClientArgs) *XrpcClient {
	if args.H == nil {
		args.H = defaultHttpClient()
	}

	return &XrpcClient{
		Did:                   args.Did,
		PdsUrl:                args.PdsUrl,
		AccessToken:           args.AccessToken,
		Issuer:                args.Issuer,
		DpopPrivateJwk:        args.DpopPrivateJwk,
		OnDpopPdsNonceChanged: args.OnDpopPdsNonceChanged,
		h:                     args.H,
		pdsNonce:              args.DpopPdsNonce,
	}
}

// Query performs an HTTP GET against an XRPC query endpoint.
func (x *XrpcClient) Query(ctx context.Context, nsid string, params url.Values, out any) error {
	return x.do(ctx, "GET", nsid, params, nil, out)
}

// Procedure performs an HTTP POST against an XRPC procedure endpoint with a
// JSON body.
func (x *XrpcClient) Procedure(ctx context.Context, nsid string, body any, out any) error {
	return x.do(ctx, "POST", nsid, nil, body, out)
}

func (x *XrpcClient) do(ctx context.Context, method, nsid string, params url.Values, body any, out any) error {
	endpoint := fmt.Sprintf("%s/xrpc/%s", x.PdsUrl, nsid)

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not marshal request body: %w", err)
		}
		payload = b
	}

	// the pds may rotate the dpop nonce on any response, so one retry with
	// the fresh nonce is part of the normal path
	for range 2 {
		reqUrl := endpoint
		if len(params) > 0 {
			reqUrl = endpoint + "?" + params.Encode()
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqUrl, reqBody)
		if err != nil {
			return err
		}

		dpopProof, err := PdsDpopJwt(method, endpoint, x.Issuer, x.AccessToken, x.nonce(), x.DpopPrivateJwk)
		if err != nil {
			return fmt.Errorf("could not create dpop proof: %w", err)
		}

		req.Header.Set("Authorization", "DPoP "+x.AccessToken)
		req.Header.Set("DPoP", dpopProof)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := x.h.Do(req)
		if err != nil {
			return err
		}

		if newNonce := resp.Header.Get("DPoP-Nonce"); newNonce != "" && newNonce != x.nonce() {
			x.setNonce(newNonce)
			if x.OnDpopPdsNonceChanged != nil {
				x.OnDpopPdsNonceChanged(x.Did, newNonce)
			}
		}

		if resp.StatusCode == 401 {
			var errResp struct {
				Error string `json:"error"`
			}
			err := json.NewDecoder(resp.Body).Decode(&errResp)
			resp.Body.Close()
			if err == nil && errResp.Error == "use_dpop_nonce" {
				continue
			}

			return fmt.Errorf("xrpc request unauthorized: %s", errResp.Error)
		}

		if resp.StatusCode != 200 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return fmt.Errorf("xrpc request failed with status %d: %s", resp.StatusCode, string(b))
		}

		if out != nil {
			err = json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("could not decode xrpc response: %w", err)
			}
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		return nil
	}

	return fmt.Errorf("xrpc request did not settle on a dpop nonce")
}

func (x *XrpcClient) nonce() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.pdsNonce
}

func (x *XrpcClient) setNonce(nonce string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.pdsNonce = nonce
}
