package jit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/argus-sec/argus/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeAccounts is an in-memory AccountStore.
type fakeAccounts struct {
	admin        *models.AssetAccount
	adminErr     error
	adminLookups int
	byID         map[uuid.UUID]*models.AssetAccount
	created      []*models.AssetAccount
	deactivated  []uuid.UUID
}

func (f *fakeAccounts) ActiveAdminAccount(ctx context.Context, assetID uuid.UUID) (*models.AssetAccount, error) {
	f.adminLookups++
	return f.admin, f.adminErr
}

func (f *fakeAccounts) Account(ctx context.Context, id uuid.UUID) (*models.AssetAccount, error) {
	return f.byID[id], nil
}

func (f *fakeAccounts) CreateAccount(ctx context.Context, account *models.AssetAccount) error {
	account.ID = uuid.New()
	f.created = append(f.created, account)
	return nil
}

func (f *fakeAccounts) DeactivateAccount(ctx context.Context, id uuid.UUID) error {
	f.deactivated = append(f.deactivated, id)
	return nil
}

func (f *fakeAccounts) ExpiredActiveJIT(ctx context.Context, now time.Time) ([]models.AssetAccount, error) {
	return nil, nil
}

type fakeSessions struct {
	attached []*models.AssetAccount
	saved    []*models.Session
}

func (f *fakeSessions) OverdueStarted(ctx context.Context, now time.Time) ([]models.Session, error) {
	return nil, nil
}

func (f *fakeSessions) AttachAccount(ctx context.Context, session *models.Session, account *models.AssetAccount) error {
	id := account.ID
	session.AccountID = &id
	session.AccountName = account.Username
	f.attached = append(f.attached, account)
	return nil
}

func (f *fakeSessions) SaveSession(ctx context.Context, session *models.Session) error {
	f.saved = append(f.saved, session)
	return nil
}

type fakeAudits struct {
	stored map[uuid.UUID][]Query
}

func (f *fakeAudits) StoreSessionAudit(ctx context.Context, sessionID uuid.UUID, queries []Query) error {
	if f.stored == nil {
		f.stored = map[uuid.UUID][]Query{}
	}
	f.stored[sessionID] = queries
	return nil
}

// plainCipher marks values instead of encrypting them, so tests can assert
// what went through it.
type plainCipher struct{}

func (plainCipher) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }

func (plainCipher) Decrypt(ciphertext string) (string, error) {
	if len(ciphertext) < 4 || ciphertext[:4] != "enc:" {
		return "", errors.New("not a test ciphertext")
	}
	return ciphertext[4:], nil
}

func testAsset() *models.Asset {
	return &models.Asset{
		ID:     uuid.New(),
		Name:   "orders-db",
		Engine: "mysql",
		Host:   "db.internal",
		Port:   3306,
	}
}

func testAdminAccount(assetID uuid.UUID) *models.AssetAccount {
	return &models.AssetAccount{
		ID:                uuid.New(),
		AssetID:           assetID,
		Type:              models.AccountTypeAdmin,
		Username:          "root",
		EncryptedPassword: "enc:admin-pass",
		Databases:         []string{"orders"},
		IsActive:          true,
	}
}

func newTestManager(accounts *fakeAccounts) (*Manager, *fakeSessions, *fakeAudits) {
	sessions := &fakeSessions{}
	audits := &fakeAudits{}
	factory := NewDriverFactory(FactoryConfig{})
	return NewManager(accounts, sessions, audits, factory, plainCipher{}, nil), sessions, audits
}

func TestManager_AdminCredentials(t *testing.T) {
	asset := testAsset()
	accounts := &fakeAccounts{admin: testAdminAccount(asset.ID)}
	manager, _, _ := newTestManager(accounts)

	creds, err := manager.AdminCredentials(context.Background(), asset)
	require.NoError(t, err)
	require.Equal(t, "db.internal", creds.Host)
	require.Equal(t, 3306, creds.Port)
	require.Equal(t, "root", creds.Username)
	require.Equal(t, "admin-pass", creds.Password)
	require.Equal(t, []string{"orders"}, creds.Databases)
}

func TestManager_AdminCredentialsMissing(t *testing.T) {
	manager, _, _ := newTestManager(&fakeAccounts{})

	_, err := manager.AdminCredentials(context.Background(), testAsset())
	require.True(t, errors.Is(err, ErrCredentialNotFound))
}

func TestManager_GenerateCredentials(t *testing.T) {
	asset := testAsset()
	accounts := &fakeAccounts{admin: testAdminAccount(asset.ID)}
	manager, _, _ := newTestManager(accounts)

	creds, err := manager.GenerateCredentials(context.Background(), asset)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^argus[1-9][0-9]{2}_[a-z]{5}$`), creds.Username)
	require.Len(t, creds.Password, 16)

	// One store round trip serves both the credential set and the policy hook.
	require.Equal(t, 1, accounts.adminLookups)
}

func TestManager_GenerateCredentialsWithoutAdmin(t *testing.T) {
	manager, _, _ := newTestManager(&fakeAccounts{})

	_, err := manager.GenerateCredentials(context.Background(), testAsset())

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	require.True(t, errors.Is(err, ErrCredentialNotFound))
}

func TestManager_GenerateCredentialsStoreFailure(t *testing.T) {
	storeErr := errors.New("connection refused")
	manager, _, _ := newTestManager(&fakeAccounts{adminErr: storeErr})

	_, err := manager.GenerateCredentials(context.Background(), testAsset())

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	require.True(t, errors.Is(err, storeErr))
}

func TestManager_GenerateCredentialsValidatorRejects(t *testing.T) {
	asset := testAsset()
	accounts := &fakeAccounts{admin: testAdminAccount(asset.ID)}
	policyErr := errors.New("asset frozen for maintenance")

	sessions := &fakeSessions{}
	audits := &fakeAudits{}
	manager := NewManager(accounts, sessions, audits, NewDriverFactory(FactoryConfig{}), plainCipher{},
		func(ctx context.Context, asset *models.Asset, admin *models.AssetAccount) error {
			return policyErr
		})

	_, err := manager.GenerateCredentials(context.Background(), asset)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	require.True(t, errors.Is(err, policyErr))
}

func TestManager_TerminateAccountWithoutLinkedAccount(t *testing.T) {
	accounts := &fakeAccounts{}
	manager, _, _ := newTestManager(accounts)

	session := &models.Session{ID: uuid.New(), Status: models.SessionStarted}
	require.NoError(t, manager.TerminateAccount(context.Background(), session))
	require.Empty(t, accounts.deactivated)
}

func TestManager_TerminateAccountIgnoresNonJIT(t *testing.T) {
	asset := testAsset()
	admin := testAdminAccount(asset.ID)
	accounts := &fakeAccounts{
		admin: admin,
		byID:  map[uuid.UUID]*models.AssetAccount{admin.ID: admin},
	}
	manager, _, _ := newTestManager(accounts)

	// An admin account linked by mistake must never be dropped.
	session := &models.Session{ID: uuid.New(), Asset: *asset, AccountID: &admin.ID}
	require.NoError(t, manager.TerminateAccount(context.Background(), session))
	require.Empty(t, accounts.deactivated)
}
