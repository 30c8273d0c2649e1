// Package identity resolves a user-supplied handle or DID to the DID plus
// the PDS endpoint that hosts the account.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

type Resolver struct {
	h *http.Client
}

func NewResolver(h *http.Client) *Resolver {
	if h == nil {
		h = http.DefaultClient
	}
	return &Resolver{h: h}
}

// ResolveHandle resolves a handle to a DID, trying the DNS TXT record first
// and falling back to the well-known HTTP endpoint.
func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (string, error) {
	if _, err := syntax.ParseHandle(handle); err != nil {
		return "", err
	}

	var did string

	recs, err := net.LookupTXT(fmt.Sprintf("_atproto.%s", handle))
	if err == nil {
		for _, rec := range recs {
			if strings.HasPrefix(rec, "did=") {
				did = strings.TrimPrefix(rec, "did=")
				break
			}
		}
	}

	if did == "" {
		req, err := http.NewRequestWithContext(
			ctx,
			"GET",
			fmt.Sprintf("https://%s/.well-known/atproto-did", handle),
			nil,
		)
		if err != nil {
			return "", err
		}

		resp, err := r.h.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return "", fmt.Errorf("unable to resolve handle")
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}

		maybeDid := strings.TrimSpace(string(b))
		if _, err := syntax.ParseDID(maybeDid); err != nil {
			return "", fmt.Errorf("unable to resolve handle")
		}

		did = maybeDid
	}

	return did, nil
}

// ResolveService looks up the PDS endpoint for a DID via the PLC directory
// or the did:web document.
func (r *Resolver) ResolveService(ctx context.Context, did string) (string, error) {
	type identityDoc struct {
		Service []struct {
			ID              string `json:"id"`
			Type            string `json:"type"`
			ServiceEndpoint string `json:"serviceEndpoint"`
		} `json:"service"`
	}

	var ustr string
	switch {
	case strings.HasPrefix(did, "did:plc:"):
		ustr = fmt.Sprintf("https://plc.directory/%s", did)
	case strings.HasPrefix(did, "did:web:"):
		ustr = fmt.Sprintf("https://%s/.well-known/did.json", strings.TrimPrefix(did, "did:web:"))
	default:
		return "", fmt.Errorf("did was not a supported did type")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", ustr, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.h.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("could not find identity document for %s", did)
	}

	var doc identityDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", err
	}

	for _, svc := range doc.Service {
		if svc.ID == "#atproto_pds" {
			return svc.ServiceEndpoint, nil
		}
	}

	return "", fmt.Errorf("could not find atproto_pds service in identity services")
}

// ResolveInput takes what the user typed (handle, DID, or PDS URL) and
// returns the DID (empty when a raw URL was given), the PDS service URL, and
// a login hint for the authority.
func (r *Resolver) ResolveInput(ctx context.Context, input string) (did, service, loginHint string, err error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return "", "", "", fmt.Errorf("input was empty")
	}

	if strings.HasPrefix(input, "https://") {
		u, err := parseServiceUrl(input)
		if err != nil {
			return "", "", "", err
		}
		return "", u, "", nil
	}

	_, herr := syntax.ParseHandle(input)
	_, derr := syntax.ParseDID(input)

	if herr != nil && derr != nil {
		return "", "", "", fmt.Errorf("input is neither a handle nor a did")
	}

	if derr == nil {
		did = input
	} else {
		did, err = r.ResolveHandle(ctx, input)
		if err != nil {
			return "", "", "", err
		}
	}

	service, err = r.ResolveService(ctx, did)
	if err != nil {
		return "", "", "", err
	}

	return did, service, input, nil
}

func parseServiceUrl(input string) (string, error) {
	u, err := parseUrl(input)
	if err != nil {
		return "", err
	}

	u.Path = ""
	u.RawQuery = ""
	u.User = nil

	return u.String(), nil
}
