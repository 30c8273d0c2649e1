package config

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicOriginPrecedence(t *testing.T) {
	assert := assert.New(t)

	c := &Config{Addr: ":8080", BaseUrl: "https://atlast.example.com"}

	// forwarded host wins over everything
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-Host", "preview.example.com")
	r.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal("https://preview.example.com", c.PublicOrigin(r))

	// forwarded host without a proto assumes https
	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-Host", "preview.example.com")
	assert.Equal("https://preview.example.com", c.PublicOrigin(r))

	// configured base url next
	r = httptest.NewRequest("GET", "/", nil)
	assert.Equal("https://atlast.example.com", c.PublicOrigin(r))

	// loopback default last
	c = &Config{Addr: ":8080"}
	assert.Equal("http://127.0.0.1:8080", c.PublicOrigin(r))
}

func TestIsLoopback(t *testing.T) {
	assert := assert.New(t)

	assert.True(IsLoopback("http://127.0.0.1:8080"))
	assert.True(IsLoopback("http://localhost:3000"))
	assert.False(IsLoopback("https://atlast.example.com"))
	assert.False(IsLoopback(""))
}

func TestLoadFailsFastWithoutRequiredValues(t *testing.T) {
	t.Setenv("ATLAST_COOKIE_SECRET", "")
	t.Setenv("ATLAST_CLIENT_JWK", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("ATLAST_COOKIE_SECRET", "secret")
	_, err = Load()
	assert.Error(t, err)
}
