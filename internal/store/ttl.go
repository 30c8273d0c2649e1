package store

import "time"

// Retention windows per table. Reads treat a row past its window as absent
// (lazy expiry); the cleanup sweep physically deletes it later.
const (
	// AuthRequestTTL bounds the window between starting a login and the
	// authority redirecting back.
	AuthRequestTTL = 10 * time.Minute

	// OauthSessionTTL bounds how long token material is kept without a
	// completed re-authentication.
	OauthSessionTTL = 30 * 24 * time.Hour

	// UserSessionTTL matches the session cookie's Max-Age.
	UserSessionTTL = 30 * 24 * time.Hour

	// OutboxTTL bounds notification outbox rows.
	OutboxTTL = 30 * 24 * time.Hour

	// RefreshSkew is how close to access-token expiry a resolve triggers a
	// transparent refresh.
	RefreshSkew = 5 * time.Minute
)
