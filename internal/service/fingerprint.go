package service

import (
	"net"
	"net/http"
	"strings"

	"github.com/mirelle-dev/authgate-api/internal/models"
)

// ExtractFingerprint derives the device fingerprint from request headers.
// Deterministic: the same request always yields the same pair. Absent headers
// fall back to sentinel values that can never equal a stored real
// fingerprint, so missing headers fail comparison closed, not open.
func ExtractFingerprint(r *http.Request) models.Fingerprint {
	ip := clientIP(r)
	if ip == "" {
		ip = models.UnknownIP
	}

	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = models.UnknownUserAgent
	}

	return models.Fingerprint{DeviceIP: ip, UserAgent: ua}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First entry is the originating client.
		if ip := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0]); ip != "" {
			return ip
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
