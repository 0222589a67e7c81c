package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

var (
	ErrInvalidScheme      = errors.New("server URL must use ws:// or wss://")
	ErrPlaintextTransport = errors.New("unencrypted ws:// is only allowed for local servers")
	ErrMissingHost        = errors.New("server URL has no host")
)

// ValidateServerURL checks a generation server endpoint. Plain ws:// is
// accepted for loopback and private addresses, or anywhere when insecure is set.
func ValidateServerURL(rawURL string, insecure bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	host := parsed.Hostname()
	switch parsed.Scheme {
	case "wss":
		if host == "" {
			return ErrMissingHost
		}
		return nil
	case "ws":
		if host == "" {
			return ErrMissingHost
		}
	default:
		return ErrInvalidScheme
	}

	if insecure || isLocalHost(host) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPlaintextTransport, host)
}

func isLocalHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && isPrivateIP(ip)
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		// 100.64.0.0/10 (CGNAT)
		return ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127
	}
	return false
}
