package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/argus-sec/argus/internal/jit"
	"github.com/argus-sec/argus/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store is the GORM-backed implementation of the jit persistence boundaries.
type Store struct {
	db *gorm.DB

	mu       sync.Mutex
	lockConn *sql.Conn
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ActiveAdminAccount(ctx context.Context, assetID uuid.UUID) (*models.AssetAccount, error) {
	var account models.AssetAccount
	err := s.db.WithContext(ctx).
		Where("asset_id = ? AND type = ? AND is_active = ?", assetID, models.AccountTypeAdmin, true).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Store) Account(ctx context.Context, id uuid.UUID) (*models.AssetAccount, error) {
	var account models.AssetAccount
	err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *models.AssetAccount) error {
	return s.db.WithContext(ctx).Create(account).Error
}

func (s *Store) DeactivateAccount(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).
		Model(&models.AssetAccount{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}

func (s *Store) ExpiredActiveJIT(ctx context.Context, now time.Time) ([]models.AssetAccount, error) {
	var accounts []models.AssetAccount
	err := s.db.WithContext(ctx).
		Preload("Asset").
		Where("type = ? AND is_active = ? AND expires_at < ?", models.AccountTypeJIT, true, now).
		Find(&accounts).Error
	return accounts, err
}

func (s *Store) OverdueStarted(ctx context.Context, now time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Preload("Asset").
		Where("status = ? AND scheduled_end_at < ?", models.SessionStarted, now).
		Find(&sessions).Error
	return sessions, err
}

func (s *Store) AttachAccount(ctx context.Context, session *models.Session, account *models.AssetAccount) error {
	session.AccountID = &account.ID
	session.AccountName = account.Username
	return s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", session.ID).
		Updates(map[string]any{
			"account_id":   account.ID,
			"account_name": account.Username,
		}).Error
}

func (s *Store) SaveSession(ctx context.Context, session *models.Session) error {
	return s.db.WithContext(ctx).Save(session).Error
}

func (s *Store) StoreSessionAudit(ctx context.Context, sessionID uuid.UUID, queries []jit.Query) error {
	payload, err := json.Marshal(queries)
	if err != nil {
		return err
	}
	audit := models.SessionAudit{
		SessionID:  sessionID,
		Queries:    datatypes.JSON(payload),
		QueryCount: len(queries),
	}
	return s.db.WithContext(ctx).Create(&audit).Error
}

// reaperLockKey namespaces the advisory lock so only argus reapers contend
// on it.
const reaperLockKey int64 = 0x41524755 // "ARGU"

// TryLock takes the cluster-wide reaper lock for one sweep. Returns false
// when another instance holds it. Advisory locks are bound to the acquiring
// backend, so the lock holds a dedicated connection until Unlock. On a
// non-Postgres state store the lock degrades to always-acquired.
func (s *Store) TryLock(ctx context.Context) (bool, error) {
	if s.db.Dialector.Name() != "postgres" {
		return true, nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return false, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return false, err
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", reaperLockKey).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	s.mu.Lock()
	s.lockConn = conn
	s.mu.Unlock()
	return true, nil
}

func (s *Store) Unlock(ctx context.Context) error {
	s.mu.Lock()
	conn := s.lockConn
	s.lockConn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", reaperLockKey)
	conn.Close()
	return err
}
