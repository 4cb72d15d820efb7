package handler

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// OriginPolicy decides which browser origins may open the chat websocket.
// Requests without an Origin header (native clients) are always allowed.
type OriginPolicy struct {
	patterns []string
	allowAll bool
	log      *slog.Logger
}

// NewOriginPolicy normalizes configured origins. Entries may be "*" or use
// "*" as a host wildcard, e.g. "https://*.example.com".
func NewOriginPolicy(origins []string, log *slog.Logger) *OriginPolicy {
	p := &OriginPolicy{log: log}
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
			log.Warn("Ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		p.patterns = append(p.patterns, normalized)
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// CheckOrigin has the signature websocket.Upgrader expects.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	if p.allowed(r) {
		return true
	}
	p.log.Warn("Blocked websocket from disallowed origin", "origin", r.Header.Get("Origin"), "host", r.Host)
	return false
}

func (p *OriginPolicy) allowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.allowAll {
		return true
	}

	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	for _, pattern := range p.patterns {
		if matched, _ := path.Match(pattern, normalized); matched {
			return true
		}
	}

	originURL, _ := url.Parse(normalized)
	originHost, requestHost := originURL.Hostname(), hostname(r.Host)
	if strings.EqualFold(originHost, requestHost) && originPort(originURL) == requestPort(r) {
		return true
	}
	return isLocalhost(originHost) && isLocalhost(requestHost)
}

func hostname(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}

func defaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "https", "wss":
		return "443"
	case "http", "ws":
		return "80"
	}
	return ""
}

func originPort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	return defaultPort(u.Scheme)
}

// requestPort is the port the client dialed, honoring proxy headers.
func requestPort(r *http.Request) string {
	if _, port, err := net.SplitHostPort(r.Host); err == nil && port != "" {
		return port
	}
	if port := strings.TrimSpace(r.Header.Get("X-Forwarded-Port")); port != "" {
		return port
	}
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		return defaultPort(proto)
	}
	if r.TLS != nil {
		return "443"
	}
	return "80"
}

func isLocalhost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return true
	}
	return false
}
