// Package postgis encapsulates all access to user-supplied PostgreSQL
// databases: URI validation and loopback policy, hardened read-only
// sessions, per-URI pooled access, and connection error bookkeeping.
package postgis

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/buntinglabs/mundi/pkg/config"
)

// ErrPolicyNotConfigured is returned when POSTGIS_LOCALHOST_POLICY is unset
// or unknown but a loopback URI was supplied. API handlers map this to a
// configuration error (500 class), not a user input error.
var ErrPolicyNotConfigured = errors.New("POSTGIS_LOCALHOST_POLICY is not configured")

// ErrLoopbackDisallowed is returned under the disallow policy for URIs
// pointing at a loopback host.
var ErrLoopbackDisallowed = errors.New("connecting to a localhost database address is not allowed")

// ValidateURI checks that uri is a postgresql:// URI with a hostname and
// applies the loopback policy. It returns the URI to store (rewritten to
// host.docker.internal under docker_rewrite) and whether a rewrite happened.
func ValidateURI(uri string, policy config.LocalhostPolicy) (string, bool, error) {
	if !strings.HasPrefix(uri, "postgresql://") {
		return "", false, fmt.Errorf("connection URI must start with postgresql://")
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", false, fmt.Errorf("invalid connection URI: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", false, fmt.Errorf("connection URI must include a hostname")
	}

	if !isLoopbackHost(host) {
		return uri, false, nil
	}

	switch policy {
	case config.LocalhostPolicyDisallow:
		return "", false, ErrLoopbackDisallowed
	case config.LocalhostPolicyDockerRewrite:
		rewritten := rewriteHost(parsed, "host.docker.internal")
		return rewritten, true, nil
	case config.LocalhostPolicyAllow:
		return uri, false, nil
	default:
		return "", false, ErrPolicyNotConfigured
	}
}

// isLoopbackHost detects loopback by the literal "localhost" or by an IP
// parse that reports a loopback range.
func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// rewriteHost replaces the host portion of a parsed URL, preserving the port.
func rewriteHost(u *url.URL, newHost string) string {
	port := u.Port()
	if port != "" {
		u.Host = net.JoinHostPort(newHost, port)
	} else {
		u.Host = newHost
	}
	return u.String()
}
