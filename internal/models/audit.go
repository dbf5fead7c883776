package models

import "time"

// AuditAction identifies an auth-flow event recorded in the audit trail.
type AuditAction string

const (
	AuditActionLogin           AuditAction = "login"
	AuditActionRegister        AuditAction = "register"
	AuditActionRefresh         AuditAction = "refresh"
	AuditActionRefreshRejected AuditAction = "refresh_rejected"
	AuditActionLogout          AuditAction = "logout"
	AuditActionPasswordChange  AuditAction = "password_change"
)

// AuditEvent is one row in the audit_logs table. Written asynchronously;
// losing an event never fails the request that produced it.
type AuditEvent struct {
	ID        string      `db:"id" json:"id"`
	UserID    *string     `db:"user_id" json:"user_id,omitempty"`
	Action    AuditAction `db:"action" json:"action"`
	SessionID *string     `db:"session_id" json:"session_id,omitempty"`
	Detail    string      `db:"detail" json:"detail,omitempty"`
	IPAddress string      `db:"ip_address" json:"ip_address"`
	UserAgent string      `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}
