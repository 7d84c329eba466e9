package web

import (
	"net/http"
	"time"
)

// ServerConfig configures the wallet session and the HTTP surface.
type ServerConfig struct {
	SessionSigningKey    []byte
	SessionIssuer        string
	SessionCookieName    string
	SessionTTL           time.Duration
	CookieDomain         string
	SameSiteMode         http.SameSite
	AllowInsecureHTTP    bool
	VerificationPageURL  string
	ScoreRequestInterval time.Duration
}
