package models

import "time"

// Fingerprint identifies the device a session was issued to. Sentinel values
// are used when a header is absent so a missing fingerprint can never match a
// stored real one.
type Fingerprint struct {
	DeviceIP  string
	UserAgent string
}

const (
	UnknownIP        = "Unknown IP"
	UnknownUserAgent = "Unknown User-Agent"
)

// Session is one outstanding refresh capability. The raw refresh secret is
// never stored; only its bcrypt hash. Rotation replaces the whole row, so a
// session id is never reused once deleted.
type Session struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	SecretHash   string    `db:"secret_hash" json:"-"`
	DeviceIP     string    `db:"device_ip" json:"device_ip"`
	UserAgent    string    `db:"user_agent" json:"user_agent"`
	LastUsedAt   time.Time `db:"last_used_at" json:"last_used_at"`
	RefreshCount int       `db:"refresh_count" json:"refresh_count"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the session is past its absolute expiry.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
