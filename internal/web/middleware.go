package web

import (
	"errors"
	"net/http"

	"github.com/byarielm/atlast/internal/session"
	"github.com/labstack/echo/v4"
)

const resolvedContextKey = "atlast.resolved"

// RequireSession gates a route on a live session. Authentication failures
// clear the cookie and answer 401 with a deliberately generic message; a
// backend outage answers 503 and leaves the cookie alone so the session
// survives the outage.
func (s *Server) RequireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(e echo.Context) error {
		ctx := e.Request().Context()
		origin := s.cfg.PublicOrigin(e.Request())

		resolved, err := s.sessions.Resolve(ctx, sessionID(e), e.Request(), origin)
		if errors.Is(err, session.ErrUnauthenticated) {
			s.clearSessionCookie(e, origin)
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		if err != nil {
			s.logger.Error("session resolve failed", "error", err)
			return echo.NewHTTPError(http.StatusServiceUnavailable, "temporarily unavailable, try again")
		}

		e.Set(resolvedContextKey, resolved)

		return next(e)
	}
}

// CurrentSession returns what RequireSession resolved for this request.
// Only valid on routes behind the middleware.
func CurrentSession(e echo.Context) *session.Resolved {
	resolved, _ := e.Get(resolvedContextKey).(*session.Resolved)
	return resolved
}
