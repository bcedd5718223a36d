package auth

import (
	"crypto/subtle"
	"strings"
)

// Auth holds the set of accepted API keys. An empty set disables auth.
type Auth struct {
	keys []string
}

// New builds an Auth instance from configured keys, dropping blanks.
func New(keys []string) *Auth {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			continue
		}
		out = append(out, k)
	}
	return &Auth{keys: out}
}

// Enabled reports whether any keys are configured.
func (a *Auth) Enabled() bool {
	return a != nil && len(a.keys) > 0
}

// Allow checks a presented key in constant time per candidate.
func (a *Auth) Allow(apiKey string) bool {
	if !a.Enabled() {
		return true
	}
	if apiKey == "" {
		return false
	}
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			return true
		}
	}
	return false
}

// KeyFromHeaders extracts the presented key from X-API-Key or a bearer token.
func KeyFromHeaders(apiKeyHeader, authorization string) string {
	if k := strings.TrimSpace(apiKeyHeader); k != "" {
		return k
	}
	const prefix = "Bearer "
	if strings.HasPrefix(authorization, prefix) {
		return strings.TrimSpace(authorization[len(prefix):])
	}
	return ""
}
