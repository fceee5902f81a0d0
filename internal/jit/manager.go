package jit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/argus-sec/argus/internal/models"
)

// CreationValidator is a pre-creation policy hook run before any credentials
// are handed out. The default accepts everything; deployments plug in rate
// limits or naming checks here.
type CreationValidator func(ctx context.Context, asset *models.Asset, admin *models.AssetAccount) error

// Manager orchestrates the JIT account lifecycle: admin credential lookup,
// account provisioning and termination, audit capture, and orphan cleanup.
type Manager struct {
	accounts AccountStore
	sessions SessionStore
	audits   AuditStore
	factory  *DriverFactory
	cipher   Cipher
	validate CreationValidator
}

func NewManager(accounts AccountStore, sessions SessionStore, audits AuditStore, factory *DriverFactory, cipher Cipher, validate CreationValidator) *Manager {
	if validate == nil {
		validate = func(context.Context, *models.Asset, *models.AssetAccount) error { return nil }
	}
	return &Manager{
		accounts: accounts,
		sessions: sessions,
		audits:   audits,
		factory:  factory,
		cipher:   cipher,
		validate: validate,
	}
}

// adminAccount returns the asset's single active admin account, failing with
// ErrCredentialNotFound when none exists.
func (m *Manager) adminAccount(ctx context.Context, asset *models.Asset) (*models.AssetAccount, error) {
	account, err := m.accounts.ActiveAdminAccount(ctx, asset.ID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", ErrCredentialNotFound, asset.Name)
	}
	return account, nil
}

func (m *Manager) decryptCredentials(asset *models.Asset, account *models.AssetAccount) (Credentials, error) {
	password, err := m.cipher.Decrypt(account.EncryptedPassword)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt admin password for asset %s: %w", asset.Name, err)
	}
	return Credentials{
		Host:      asset.Host,
		Port:      asset.Port,
		Username:  account.Username,
		Password:  password,
		Databases: account.Databases,
	}, nil
}

// AdminCredentials returns the decrypted credential set of the asset's single
// active admin account.
func (m *Manager) AdminCredentials(ctx context.Context, asset *models.Asset) (Credentials, error) {
	account, err := m.adminAccount(ctx, asset)
	if err != nil {
		return Credentials{}, err
	}
	return m.decryptCredentials(asset, account)
}

// GenerateCredentials produces a fresh username/password pair for the asset
// after verifying an admin account exists, a driver can be built, and the
// creation policy accepts. The admin account is fetched once and reused for
// both the credential set and the policy hook. Every failure surfaces as a
// single GenerationError; callers treat it as "could not provision".
func (m *Manager) GenerateCredentials(ctx context.Context, asset *models.Asset) (Credentials, error) {
	admin, err := m.adminAccount(ctx, asset)
	if err != nil {
		return Credentials{}, &GenerationError{Err: err}
	}
	creds, err := m.decryptCredentials(asset, admin)
	if err != nil {
		return Credentials{}, &GenerationError{Err: err}
	}
	driver, err := m.factory.Create(asset, creds)
	if err != nil {
		return Credentials{}, &GenerationError{Err: err}
	}
	defer driver.Close()

	if err := m.validate(ctx, asset, admin); err != nil {
		return Credentials{}, &GenerationError{Err: err}
	}

	return Credentials{
		Username: driver.GenerateUsername(),
		Password: driver.GeneratePassword(),
	}, nil
}

// adminDriver builds a driver for the asset and proves the admin connection
// works before any lifecycle operation runs over it.
func (m *Manager) adminDriver(ctx context.Context, asset *models.Asset) (Driver, error) {
	creds, err := m.AdminCredentials(ctx, asset)
	if err != nil {
		return nil, err
	}
	driver, err := m.factory.Create(asset, creds)
	if err != nil {
		return nil, err
	}
	if !driver.TestAdminConnection(ctx) {
		driver.Close()
		return nil, &DriverError{
			Engine:    Engine(asset.Engine),
			Op:        "testAdminConnection",
			Err:       errors.New("admin connection failed"),
			Transient: true,
		}
	}
	return driver, nil
}

// CreateAccount provisions a JIT database user for a session and records it.
// Returns the stored account and the plaintext password, which exists only in
// this return value; the record holds it encrypted. A persistence failure
// after the remote user exists triggers a compensating terminate so nothing
// is left behind.
func (m *Manager) CreateAccount(ctx context.Context, session *models.Session) (*models.AssetAccount, string, error) {
	asset := &session.Asset
	driver, err := m.adminDriver(ctx, asset)
	if err != nil {
		return nil, "", err
	}
	defer driver.Close()

	username := driver.GenerateUsername()
	password := driver.GeneratePassword()

	err = driver.CreateUser(ctx, username, password, session.Databases, Scope(session.Scope), session.ScheduledEndAt)
	if err != nil {
		return nil, "", err
	}

	if err := driver.EnableQueryLogging(ctx); err != nil {
		// Audit capture degrades, access does not.
		slog.Warn("could not enable query logging",
			"asset_id", asset.ID, "session_id", session.ID, "error", err)
	}

	encrypted, err := m.cipher.Encrypt(password)
	if err != nil {
		driver.TerminateUser(ctx, username, session.Databases)
		return nil, "", fmt.Errorf("encrypt jit password: %w", err)
	}

	expiresAt := session.ScheduledEndAt
	account := &models.AssetAccount{
		AssetID:           asset.ID,
		Type:              models.AccountTypeJIT,
		Username:          username,
		EncryptedPassword: encrypted,
		Databases:         session.Databases,
		IsActive:          true,
		ExpiresAt:         &expiresAt,
	}
	if err := m.accounts.CreateAccount(ctx, account); err != nil {
		driver.TerminateUser(ctx, username, session.Databases)
		return nil, "", fmt.Errorf("persist jit account: %w", err)
	}
	if err := m.sessions.AttachAccount(ctx, session, account); err != nil {
		driver.TerminateUser(ctx, username, session.Databases)
		m.accounts.DeactivateAccount(ctx, account.ID)
		return nil, "", fmt.Errorf("attach jit account to session: %w", err)
	}

	slog.Info("jit account created",
		"session_id", session.ID, "asset_id", asset.ID, "username", username)
	return account, password, nil
}

// TerminateAccount captures the session's query logs, drops its JIT user,
// and deactivates the account record. A session without a JIT account is a
// no-op. Audit capture failure never blocks termination.
func (m *Manager) TerminateAccount(ctx context.Context, session *models.Session) error {
	if session.AccountID == nil {
		slog.Warn("no jit account linked to session", "session_id", session.ID)
		return nil
	}
	account, err := m.accounts.Account(ctx, *session.AccountID)
	if err != nil {
		return err
	}
	if account == nil || account.Type != models.AccountTypeJIT {
		slog.Warn("no jit account found for session", "session_id", session.ID)
		return nil
	}

	driver, err := m.adminDriver(ctx, &session.Asset)
	if err != nil {
		return err
	}
	defer driver.Close()

	queries, err := driver.RetrieveUserQueryLogs(ctx, account.Username)
	switch {
	case err != nil:
		slog.Warn("query log retrieval failed during termination",
			"session_id", session.ID, "error", err)
	case len(queries) > 0:
		if err := m.audits.StoreSessionAudit(ctx, session.ID, queries); err != nil {
			slog.Warn("failed to store session audit",
				"session_id", session.ID, "error", err)
		} else {
			slog.Info("session audit stored",
				"session_id", session.ID, "query_count", len(queries))
		}
	}

	if err := driver.TerminateUser(ctx, account.Username, account.Databases); err != nil {
		return err
	}
	return m.accounts.DeactivateAccount(ctx, account.ID)
}

// TerminateOrphan drops a JIT user that outlived its session linkage and
// marks the record inactive. Requires account.Asset preloaded.
func (m *Manager) TerminateOrphan(ctx context.Context, account *models.AssetAccount) error {
	driver, err := m.adminDriver(ctx, &account.Asset)
	if err != nil {
		return err
	}
	defer driver.Close()

	if err := driver.TerminateUser(ctx, account.Username, account.Databases); err != nil {
		return err
	}
	return m.accounts.DeactivateAccount(ctx, account.ID)
}

// SessionQueryLogs retrieves the live query log for a session's JIT account.
func (m *Manager) SessionQueryLogs(ctx context.Context, session *models.Session) ([]Query, error) {
	if session.AccountID == nil {
		return nil, nil
	}
	account, err := m.accounts.Account(ctx, *session.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}

	driver, err := m.adminDriver(ctx, &session.Asset)
	if err != nil {
		return nil, err
	}
	defer driver.Close()

	return driver.RetrieveUserQueryLogs(ctx, account.Username)
}

// AllDatabases lists the databases visible to the asset's admin account.
func (m *Manager) AllDatabases(ctx context.Context, asset *models.Asset) ([]string, error) {
	driver, err := m.adminDriver(ctx, asset)
	if err != nil {
		return nil, err
	}
	defer driver.Close()

	return driver.GetAllDatabases(ctx)
}

// TestAdminConnection probes the asset with its stored admin credentials.
func (m *Manager) TestAdminConnection(ctx context.Context, asset *models.Asset) bool {
	driver, err := m.adminDriver(ctx, asset)
	if err != nil {
		return false
	}
	driver.Close()
	return true
}
