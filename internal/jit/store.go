package jit

import (
	"context"
	"time"

	"github.com/argus-sec/argus/internal/models"
	"github.com/google/uuid"
)

// AccountStore is the persistence boundary for asset accounts. Passwords are
// stored encrypted; the manager's cipher handles plaintext on either side.
type AccountStore interface {
	// ActiveAdminAccount returns the asset's single active admin account, or
	// (nil, nil) when none exists.
	ActiveAdminAccount(ctx context.Context, assetID uuid.UUID) (*models.AssetAccount, error)

	Account(ctx context.Context, id uuid.UUID) (*models.AssetAccount, error)
	CreateAccount(ctx context.Context, account *models.AssetAccount) error
	DeactivateAccount(ctx context.Context, id uuid.UUID) error

	// ExpiredActiveJIT lists JIT accounts still marked active whose expiry is
	// before now, with Asset preloaded. These are the orphan-pass candidates.
	ExpiredActiveJIT(ctx context.Context, now time.Time) ([]models.AssetAccount, error)
}

// SessionStore is the persistence boundary for access sessions.
type SessionStore interface {
	// OverdueStarted lists started sessions whose scheduled end is strictly
	// before now, with Asset preloaded.
	OverdueStarted(ctx context.Context, now time.Time) ([]models.Session, error)

	// AttachAccount links a freshly provisioned JIT account to its session.
	AttachAccount(ctx context.Context, session *models.Session, account *models.AssetAccount) error

	SaveSession(ctx context.Context, session *models.Session) error
}

// AuditStore persists captured query logs.
type AuditStore interface {
	StoreSessionAudit(ctx context.Context, sessionID uuid.UUID, queries []Query) error
}

// Cipher en/decrypts account passwords at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
