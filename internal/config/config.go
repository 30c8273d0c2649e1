// Package config loads the environment-derived configuration. Anything
// required and missing is a startup error: the server fails fast rather
// than limping along with a client the authority will reject.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	defaultAddr   = ":8080"
	defaultDbPath = "atlast.db"

	// DefaultScope is what the login flow asks the authority for.
	DefaultScope = "atproto transition:generic"
)

type Config struct {
	Addr         string
	DatabasePath string

	// BaseUrl is the deployment's canonical public URL. Optional: a
	// forwarded-host header wins over it, and with neither present the
	// loopback development origin is used.
	BaseUrl string

	// ClientJwk signs client assertions. Generated once with
	// `helper generate-jwks`.
	ClientJwk jwk.Key

	// CookieSecret authenticates the handshake cookie.
	CookieSecret string

	// TokenEncKey seals stored token material. Absence is the explicit
	// "encryption disabled" mode, not an error.
	TokenEncKey []byte

	Scope string
}

// Load reads .env (when present) and the environment, and validates the
// required values.
func Load() (*Config, error) {
	godotenv.Load()

	c := &Config{
		Addr:         envOr("ATLAST_ADDR", defaultAddr),
		DatabasePath: envOr("ATLAST_DB_PATH", defaultDbPath),
		BaseUrl:      strings.TrimSuffix(os.Getenv("ATLAST_BASE_URL"), "/"),
		CookieSecret: os.Getenv("ATLAST_COOKIE_SECRET"),
		Scope:        envOr("ATLAST_SCOPE", DefaultScope),
	}

	if c.CookieSecret == "" {
		return nil, fmt.Errorf("ATLAST_COOKIE_SECRET must be set")
	}

	rawJwk := os.Getenv("ATLAST_CLIENT_JWK")
	if rawJwk == "" {
		return nil, fmt.Errorf("ATLAST_CLIENT_JWK must be set (generate one with `helper generate-jwks`)")
	}

	key, err := jwk.ParseKey([]byte(rawJwk))
	if err != nil {
		return nil, fmt.Errorf("ATLAST_CLIENT_JWK did not parse: %w", err)
	}
	c.ClientJwk = key

	if enc := os.Getenv("ATLAST_TOKEN_ENC_KEY"); enc != "" {
		c.TokenEncKey = []byte(enc)
	}

	if c.BaseUrl != "" {
		if _, err := url.Parse(c.BaseUrl); err != nil {
			return nil, fmt.Errorf("ATLAST_BASE_URL did not parse: %w", err)
		}
	}

	return c, nil
}

// PublicOrigin derives the externally visible origin for a request.
// Precedence: forwarded-host header, then configured base URL, then the
// loopback development default.
func (c *Config) PublicOrigin(r *http.Request) string {
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		proto := r.Header.Get("X-Forwarded-Proto")
		if proto == "" {
			proto = "https"
		}
		return proto + "://" + host
	}

	if c.BaseUrl != "" {
		return c.BaseUrl
	}

	return "http://127.0.0.1" + portSuffix(c.Addr)
}

// IsLoopback reports whether an origin points at local development, which
// is the one case the session cookie may omit the Secure flag.
func IsLoopback(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func portSuffix(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 && addr[i+1:] != "" && addr[i+1:] != "80" {
		return ":" + addr[i+1:]
	}
	return ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
