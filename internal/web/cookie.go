package web

import (
	"net/http"
	"time"

	"github.com/byarielm/atlast/internal/config"
	"github.com/byarielm/atlast/internal/store"
	"github.com/labstack/echo/v4"
)

const (
	sessionCookieName   = "atlast_session"
	handshakeCookieName = "atlast_handshake"
)

// sessionID reads the opaque session id off the request. Empty string means
// no cookie.
func sessionID(e echo.Context) string {
	cookie, err := e.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) setSessionCookie(e echo.Context, origin, id string) {
	e.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(store.UserSessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !config.IsLoopback(origin),
	})
}

func (s *Server) clearSessionCookie(e echo.Context, origin string) {
	e.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !config.IsLoopback(origin),
	})
}
