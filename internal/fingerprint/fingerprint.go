// Package fingerprint captures a lightweight request fingerprint and checks
// it against the one recorded when a session was created, to catch stolen
// session cookies being replayed from another browser.
package fingerprint

import (
	"log/slog"
	"net/http"
	"strings"
)

// Fingerprint is a non-cryptographic (user-agent, client IP) tuple.
type Fingerprint struct {
	UserAgent string `json:"user_agent"`
	ClientIP  string `json:"client_ip"`
}

// Capture derives a fingerprint from request metadata. The client IP is the
// first entry of X-Forwarded-For, falling back to X-Real-Ip, else "unknown".
func Capture(r *http.Request) Fingerprint {
	return Fingerprint{
		UserAgent: r.UserAgent(),
		ClientIP:  clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}

	return "unknown"
}

// Verify compares a stored fingerprint against the current request's. A
// user-agent mismatch rejects: the caller must treat the session as hijacked.
// An IP mismatch is only logged, since mobile and VPN users change addresses
// constantly and rejecting on it would log everyone out on every roam.
func Verify(logger *slog.Logger, stored, current Fingerprint) (bool, string) {
	if stored.UserAgent != current.UserAgent {
		return false, "ua-mismatch"
	}

	if stored.ClientIP != current.ClientIP {
		logger.Warn("session ip changed",
			"stored_ip", stored.ClientIP,
			"current_ip", current.ClientIP,
		)
	}

	return true, ""
}
