package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// OriginPolicy decides which browser origins may reach the relay.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewOriginPolicy builds a policy from configured origins. "*" allows every
// origin; entries that are not scheme://host are ignored.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins))}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logrus.WithField("comp", "cors").Warnf("ignoring invalid origin in configuration: %q", origin)
			continue
		}
		p.allowed[normalized] = struct{}{}
	}

	return p
}

// Allowed reports whether origin passes the policy.
func (p *OriginPolicy) Allowed(origin string) bool {
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, exists := p.allowed[normalized]
	return exists
}

// AllowAll reports whether the policy was configured with "*".
func (p *OriginPolicy) AllowAll() bool {
	return p.allowAll
}

// CheckOrigin is suitable for websocket.Upgrader. Requests without an Origin
// header come from non-browser clients and are accepted.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.Allowed(origin) {
		return true
	}

	logrus.WithField("comp", "cors").Warnf("blocked websocket connection from disallowed origin: %q", origin)
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
