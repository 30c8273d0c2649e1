package store

import "time"

// AuthRequest holds the ephemeral state of one in-flight authorization
// handshake, keyed by the random state nonce sent to the authority. It is
// consumed (read then deleted) by the callback handler.
type AuthRequest struct {
	State               string `gorm:"primaryKey"`
	Did                 string `gorm:"index"`
	PdsUrl              string
	AuthserverIss       string
	PkceVerifier        string
	DpopAuthserverNonce string
	DpopPrivateJwk      string
	ReturnTo            string
	CreatedAt           time.Time
	ExpiresAt           time.Time `gorm:"index"`
}

// OauthSession is the durable per-account credential record. TokenPayload is
// a serialized TokenSet, sealed by the cipher when a key is configured; the
// Encrypted flag discriminates the two formats so both stay readable during
// a key rotation. DpopPrivateJwk is deliberately stored in clear: the
// authority's handshake verifies proof of possession against it without a
// decrypt step.
// AuthMethodOauth marks sessions established through the authorization
// code flow. Kept as a column so alternate grant types can coexist later.
const AuthMethodOauth = "oauth"

type OauthSession struct {
	Did                 string `gorm:"primaryKey"`
	PdsUrl              string
	AuthserverIss       string
	AuthMethod          string
	DpopPrivateJwk      string
	DpopAuthserverNonce string
	DpopPdsNonce        string
	TokenPayload        string
	Encrypted           bool
	CreatedAt           time.Time
	ExpiresAt           time.Time `gorm:"index"`
}

// TokenSet is the bearer credential material: the most sensitive payload in
// the system. Never logged.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// UserSession maps a browser-facing opaque session id to an account DID plus
// the request fingerprint captured at creation. Several user sessions may
// point at the same DID (multiple devices).
type UserSession struct {
	ID        string `gorm:"primaryKey"`
	Did       string `gorm:"index"`
	UserAgent string
	ClientIP  string
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

// OutboxItem is a pending notification row, swept with everything else once
// its retention window elapses.
type OutboxItem struct {
	ID        string `gorm:"primaryKey"`
	Did       string `gorm:"index"`
	Kind      string
	Payload   string
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

// CleanupJob is the durable schedule row for a recurring sweep. The fixed
// name keeps process restarts from stacking duplicate schedules.
type CleanupJob struct {
	Name      string `gorm:"primaryKey"`
	NextRunAt time.Time
	Attempts  int
	LastRanAt *time.Time
	LastError string
	UpdatedAt time.Time
}
