package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/argus-sec/argus/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeSessionStore struct {
	sessions []models.Session
	saved    []*models.Session
	listErr  error
}

func (f *fakeSessionStore) OverdueStarted(ctx context.Context, now time.Time) ([]models.Session, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var overdue []models.Session
	for _, s := range f.sessions {
		if s.Status == models.SessionStarted && s.ScheduledEndAt.Before(now) {
			overdue = append(overdue, s)
		}
	}
	return overdue, nil
}

func (f *fakeSessionStore) AttachAccount(ctx context.Context, session *models.Session, account *models.AssetAccount) error {
	return nil
}

func (f *fakeSessionStore) SaveSession(ctx context.Context, session *models.Session) error {
	f.saved = append(f.saved, session)
	return nil
}

type fakeAccountStore struct {
	expired []models.AssetAccount
}

func (f *fakeAccountStore) ActiveAdminAccount(ctx context.Context, assetID uuid.UUID) (*models.AssetAccount, error) {
	return nil, nil
}

func (f *fakeAccountStore) Account(ctx context.Context, id uuid.UUID) (*models.AssetAccount, error) {
	return nil, nil
}

func (f *fakeAccountStore) CreateAccount(ctx context.Context, account *models.AssetAccount) error {
	return nil
}

func (f *fakeAccountStore) DeactivateAccount(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (f *fakeAccountStore) ExpiredActiveJIT(ctx context.Context, now time.Time) ([]models.AssetAccount, error) {
	var out []models.AssetAccount
	for _, a := range f.expired {
		if a.IsActive && a.Type == models.AccountTypeJIT && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeTerminator struct {
	terminated   []uuid.UUID
	orphans      []uuid.UUID
	failSessions map[uuid.UUID]error
	failOrphans  map[uuid.UUID]error
}

func (f *fakeTerminator) TerminateAccount(ctx context.Context, session *models.Session) error {
	if err := f.failSessions[session.ID]; err != nil {
		return err
	}
	f.terminated = append(f.terminated, session.ID)
	return nil
}

func (f *fakeTerminator) TerminateOrphan(ctx context.Context, account *models.AssetAccount) error {
	if err := f.failOrphans[account.ID]; err != nil {
		return err
	}
	f.orphans = append(f.orphans, account.ID)
	return nil
}

func startedSession(scheduledEnd time.Time) models.Session {
	start := scheduledEnd.Add(-2 * time.Hour)
	return models.Session{
		ID:             uuid.New(),
		AssetID:        uuid.New(),
		Status:         models.SessionStarted,
		StartAt:        &start,
		ScheduledEndAt: scheduledEnd,
	}
}

func TestReaper_SweepExpiresOnlyOverdueSessions(t *testing.T) {
	now := time.Now()
	overdue1 := startedSession(now.Add(-30 * time.Minute))
	overdue2 := startedSession(now.Add(-5 * time.Minute))
	current := startedSession(now.Add(time.Hour))

	sessions := &fakeSessionStore{sessions: []models.Session{overdue1, overdue2, current}}
	terminator := &fakeTerminator{}
	reaper := NewReaper(sessions, &fakeAccountStore{}, terminator, nil, time.Minute)

	result := reaper.Sweep(context.Background())

	require.ElementsMatch(t, []uuid.UUID{overdue1.ID, overdue2.ID}, result.Expired)
	require.Empty(t, result.Failed)
	require.ElementsMatch(t, []uuid.UUID{overdue1.ID, overdue2.ID}, terminator.terminated)
	require.Len(t, sessions.saved, 2)
}

func TestReaper_ExpiredSessionPinnedToScheduledEnd(t *testing.T) {
	now := time.Now()
	session := startedSession(now.Add(-45 * time.Minute))

	sessions := &fakeSessionStore{sessions: []models.Session{session}}
	reaper := NewReaper(sessions, &fakeAccountStore{}, &fakeTerminator{}, nil, time.Minute)

	reaper.Sweep(context.Background())

	require.Len(t, sessions.saved, 1)
	saved := sessions.saved[0]
	require.Equal(t, models.SessionExpired, saved.Status)
	require.NotNil(t, saved.EndAt)
	// End is the scheduled end, not the sweep time.
	require.True(t, saved.EndAt.Equal(session.ScheduledEndAt))
	require.Equal(t, 120, saved.ActualDuration)
}

func TestReaper_TerminationFailureIsolated(t *testing.T) {
	now := time.Now()
	failing := startedSession(now.Add(-time.Hour))
	healthy := startedSession(now.Add(-time.Hour))

	sessions := &fakeSessionStore{sessions: []models.Session{failing, healthy}}
	terminator := &fakeTerminator{
		failSessions: map[uuid.UUID]error{failing.ID: errors.New("asset unreachable")},
	}
	reaper := NewReaper(sessions, &fakeAccountStore{}, terminator, nil, time.Minute)

	result := reaper.Sweep(context.Background())

	require.Equal(t, []uuid.UUID{healthy.ID}, result.Expired)
	require.Len(t, result.Failed, 1)
	require.Equal(t, failing.ID, result.Failed[0].SessionID)

	// The failing session was never saved, so it stays started and the next
	// sweep retries it.
	require.Len(t, sessions.saved, 1)
	require.Equal(t, healthy.ID, sessions.saved[0].ID)
}

func TestReaper_SweepTerminatesOrphanedAccounts(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	orphan := models.AssetAccount{
		ID:        uuid.New(),
		AssetID:   uuid.New(),
		Type:      models.AccountTypeJIT,
		Username:  "argus311_wxkrm",
		IsActive:  true,
		ExpiresAt: &past,
	}
	stillValid := models.AssetAccount{
		ID:        uuid.New(),
		Type:      models.AccountTypeJIT,
		IsActive:  true,
		ExpiresAt: &future,
	}
	adminAccount := models.AssetAccount{
		ID:       uuid.New(),
		Type:     models.AccountTypeAdmin,
		IsActive: true,
	}

	accounts := &fakeAccountStore{expired: []models.AssetAccount{orphan, stillValid, adminAccount}}
	terminator := &fakeTerminator{}
	reaper := NewReaper(&fakeSessionStore{}, accounts, terminator, nil, time.Minute)

	result := reaper.Sweep(context.Background())

	require.Equal(t, 1, result.OrphansTerminated)
	require.Empty(t, result.OrphanFailures)
	require.Equal(t, []uuid.UUID{orphan.ID}, terminator.orphans)
}

func TestReaper_OrphanFailureReported(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	orphan := models.AssetAccount{
		ID:        uuid.New(),
		AssetID:   uuid.New(),
		Type:      models.AccountTypeJIT,
		IsActive:  true,
		ExpiresAt: &past,
	}

	accounts := &fakeAccountStore{expired: []models.AssetAccount{orphan}}
	terminator := &fakeTerminator{
		failOrphans: map[uuid.UUID]error{orphan.ID: errors.New("admin credential missing")},
	}
	reaper := NewReaper(&fakeSessionStore{}, accounts, terminator, nil, time.Minute)

	result := reaper.Sweep(context.Background())

	require.Zero(t, result.OrphansTerminated)
	require.Len(t, result.OrphanFailures, 1)
	require.Equal(t, orphan.ID, result.OrphanFailures[0].AccountID)
}

func TestReaper_ListFailureYieldsEmptySweep(t *testing.T) {
	sessions := &fakeSessionStore{listErr: errors.New("database down")}
	reaper := NewReaper(sessions, &fakeAccountStore{}, &fakeTerminator{}, nil, time.Minute)

	result := reaper.Sweep(context.Background())

	require.Empty(t, result.Expired)
	require.Empty(t, result.Failed)
	require.Empty(t, sessions.saved)
}

func TestReaper_StartStop(t *testing.T) {
	reaper := NewReaper(&fakeSessionStore{}, &fakeAccountStore{}, &fakeTerminator{}, nil, time.Hour)
	reaper.Start()
	time.Sleep(10 * time.Millisecond)
	reaper.Stop()
}
