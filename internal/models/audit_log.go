package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Audit actions recorded by the gateway
const (
	AuditActionCreate  = "CREATE"
	AuditActionRead    = "READ"
	AuditActionUpdate  = "UPDATE"
	AuditActionDelete  = "DELETE"
	AuditActionQuery   = "QUERY"
	AuditActionBatch   = "BATCH"
	AuditActionCleanup = "CLEANUP"
)

// AuditEntry is an append-only record of an operation on stored data.
type AuditEntry struct {
	ID        string       `json:"id"`
	Action    string       `json:"action"`
	Category  string       `json:"category"`
	RecordID  string       `json:"record_id,omitempty"`
	Actor     string       `json:"actor,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	IPAddress string       `json:"ip_address,omitempty"`
	UserAgent string       `json:"user_agent,omitempty"`
	Details   AuditDetails `json:"details,omitempty"`
}

// AuditDetails holds additional context for audit entries
type AuditDetails map[string]any

// Scan implements sql.Scanner for JSONB
func (d *AuditDetails) Scan(value any) error {
	if value == nil {
		*d = make(AuditDetails)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("%w: unsupported audit details type %T", ErrBadRequest, value)
	}

	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*d = m
	return nil
}

// Value implements driver.Valuer for JSONB
func (d AuditDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(d))
}

// AuditOutcome reports what happened to the audit write that accompanied a
// primary operation. It never changes the primary result.
type AuditOutcome struct {
	Attempted bool   `json:"attempted"`
	Recorded  bool   `json:"recorded"`
	EntryID   string `json:"entry_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Failed reports whether an attempted audit write did not land.
func (o AuditOutcome) Failed() bool {
	return o.Attempted && !o.Recorded
}
