package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SessionApproved  = "approved"
	SessionStarted   = "started"
	SessionEnded     = "ended"
	SessionExpired   = "expired"
	SessionCancelled = "cancelled"
)

// Session is an approved, time-boxed access window on one asset. Only a
// started session owns a live JIT account; the account record outlives the
// session as history after termination.
type Session struct {
	ID             uuid.UUID                   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AssetID        uuid.UUID                   `gorm:"type:uuid;not null;index" json:"asset_id"`
	Asset          Asset                       `gorm:"foreignKey:AssetID" json:"asset"`
	AccountID      *uuid.UUID                  `gorm:"type:uuid;index" json:"account_id"`
	AccountName    string                      `json:"account_name"`
	RequestedBy    string                      `gorm:"not null" json:"requested_by"`
	Reason         string                      `json:"reason"`
	Scope          string                      `gorm:"not null" json:"scope"` // read_only, read_write, dml, ddl, all
	Databases      datatypes.JSONSlice[string] `json:"databases"`
	Status         string                      `gorm:"not null;default:'approved';index" json:"status"`
	StartAt        *time.Time                  `json:"start_at"`
	ScheduledEndAt time.Time                   `gorm:"not null;index" json:"scheduled_end_at"`
	EndAt          *time.Time                  `json:"end_at"`
	ActualDuration int                         `json:"actual_duration"` // minutes, set when leaving started
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// SessionAudit stores the query logs captured from an asset when a session's
// JIT account is terminated.
type SessionAudit struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SessionID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	Queries    datatypes.JSON `gorm:"type:jsonb" json:"queries"`
	QueryCount int            `json:"query_count"`
	CreatedAt  time.Time      `json:"created_at"`
}
