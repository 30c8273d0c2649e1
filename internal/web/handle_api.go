package web

import (
	"net/http"
	"net/url"

	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/labstack/echo/v4"
)

func (s *Server) handleMe(e echo.Context) error {
	resolved := CurrentSession(e)

	var profile bsky.ActorDefs_ProfileViewDetailed
	if err := resolved.Client.Query(
		e.Request().Context(),
		"app.bsky.actor.getProfile",
		url.Values{"actor": {resolved.Did}},
		&profile,
	); err != nil {
		return err
	}

	var displayName string
	if profile.DisplayName != nil {
		displayName = *profile.DisplayName
	}

	var description string
	if profile.Description != nil {
		description = *profile.Description
	}

	return e.JSON(http.StatusOK, map[string]any{
		"did":         resolved.Did,
		"handle":      profile.Handle,
		"displayName": displayName,
		"description": description,
	})
}

func (s *Server) handleNotifications(e echo.Context) error {
	resolved := CurrentSession(e)

	items, err := s.store.ListOutboxItems(e.Request().Context(), resolved.Did)
	if err != nil {
		return err
	}

	type notification struct {
		ID      string `json:"id"`
		Kind    string `json:"kind"`
		Payload string `json:"payload"`
	}

	out := make([]notification, 0, len(items))
	for _, item := range items {
		out = append(out, notification{ID: item.ID, Kind: item.Kind, Payload: item.Payload})
	}

	return e.JSON(http.StatusOK, map[string]any{"notifications": out})
}

// handleSessionCheck is the cheap liveness probe for frontends: no token
// refresh, no client construction, just "is this cookie still good".
func (s *Server) handleSessionCheck(e echo.Context) error {
	id := sessionID(e)
	if id == "" {
		return e.JSON(http.StatusOK, map[string]any{"active": false})
	}

	active, err := s.sessions.Verify(e.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "temporarily unavailable, try again")
	}

	return e.JSON(http.StatusOK, map[string]any{"active": active})
}
