package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the address of the caller. Forwarding headers are only
// honoured when the direct peer is a loopback proxy; the view API is meant
// to be reached locally, so a remote peer cannot spoof its address.
func GetClientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !isLoopback(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, _ := strings.Cut(xff, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

// IsLocalRequest reports whether the direct peer is on the loopback interface.
func IsLocalRequest(r *http.Request) bool {
	return isLoopback(remoteHost(r.RemoteAddr))
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]")
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
