package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Asset is a managed database server.
type Asset struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name         string         `gorm:"not null" json:"name"`
	Engine       string         `gorm:"not null" json:"engine"` // mysql, postgresql
	Host         string         `gorm:"not null" json:"host"`
	Port         int            `gorm:"not null" json:"port"`
	Organization string         `gorm:"index" json:"organization"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

const (
	AccountTypeAdmin = "admin"
	AccountTypeJIT   = "jit"
)

// AssetAccount is a credential record bound to an asset. Admin accounts are
// long-lived; JIT accounts carry the expiry of the session they belong to.
type AssetAccount struct {
	ID                uuid.UUID                    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AssetID           uuid.UUID                    `gorm:"type:uuid;not null;index" json:"asset_id"`
	Asset             Asset                        `gorm:"foreignKey:AssetID" json:"-"`
	Type              string                       `gorm:"not null;index" json:"type"` // admin, jit
	Username          string                       `gorm:"not null" json:"username"`
	EncryptedPassword string                       `gorm:"type:text" json:"-"`
	Databases         datatypes.JSONSlice[string]  `json:"databases"`
	IsActive          bool                         `gorm:"default:true;index" json:"is_active"`
	ExpiresAt         *time.Time                   `gorm:"index" json:"expires_at"`
	CreatedAt         time.Time                    `json:"created_at"`
	UpdatedAt         time.Time                    `json:"updated_at"`
}
