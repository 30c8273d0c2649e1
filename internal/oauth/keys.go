package oauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"net/url"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// GenerateKey creates a fresh ES256 keypair. Every handshake gets its own
// proof-of-possession key; the client's own signing key is generated once by
// the helper command.
func GenerateKey(kidPrefix *string) (jwk.Key, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	key, err := jwk.FromRaw(privKey)
	if err != nil {
		return nil, err
	}

	var kid string
	if kidPrefix != nil {
		kid = fmt.Sprintf("%s-%d", *kidPrefix, time.Now().Unix())
	} else {
		kid = fmt.Sprintf("%d", time.Now().Unix())
	}

	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, err
	}

	return key, nil
}

func ParseJWKFromBytes(b []byte) (jwk.Key, error) {
	return jwk.ParseKey(b)
}

type JwksResponseObject struct {
	Keys []jwk.Key `json:"keys"`
}

// CreateJwksResponseObject wraps the public half of a key for the jwks
// endpoint.
func CreateJwksResponseObject(key jwk.Key) (*JwksResponseObject, error) {
	pub, err := key.PublicKey()
	if err != nil {
		return nil, err
	}

	return &JwksResponseObject{Keys: []jwk.Key{pub}}, nil
}

func privateKeyOf(key jwk.Key) (*ecdsa.PrivateKey, error) {
	if key == nil {
		return nil, fmt.Errorf("key was nil")
	}

	var pkey ecdsa.PrivateKey
	if err := key.Raw(&pkey); err != nil {
		return nil, err
	}

	return &pkey, nil
}

// isSafeAndParsed refuses authority URLs that could smuggle credentials or
// point at odd ports.
func isSafeAndParsed(ustr string) (*url.URL, error) {
	u, err := url.Parse(ustr)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "https" {
		return nil, fmt.Errorf("input url is not https")
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("url hostname was empty")
	}

	if u.User != nil {
		return nil, fmt.Errorf("url user was not empty")
	}

	if u.Port() != "" {
		return nil, fmt.Errorf("url port was not empty")
	}

	return u, nil
}
