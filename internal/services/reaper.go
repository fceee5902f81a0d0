package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/argus-sec/argus/internal/jit"
	"github.com/argus-sec/argus/internal/models"
	"github.com/google/uuid"
)

// Locker provides cluster-wide sweep exclusivity. The sweep itself is
// idempotent, so a lost lock race costs wasted work, not correctness.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// AccountTerminator is the slice of the credential manager the reaper needs.
type AccountTerminator interface {
	TerminateAccount(ctx context.Context, session *models.Session) error
	TerminateOrphan(ctx context.Context, account *models.AssetAccount) error
}

// SessionFailure is one session the sweep could not expire; it stays started
// and the next sweep retries it.
type SessionFailure struct {
	SessionID uuid.UUID `json:"session_id"`
	AssetID   uuid.UUID `json:"asset_id"`
	Err       error     `json:"-"`
	Error     string    `json:"error"`
}

// AccountFailure is one orphaned account the sweep could not terminate.
type AccountFailure struct {
	AccountID uuid.UUID `json:"account_id"`
	AssetID   uuid.UUID `json:"asset_id"`
	Err       error     `json:"-"`
	Error     string    `json:"error"`
}

// SweepResult collects per-item outcomes of one sweep so callers can decide
// on alerting instead of scraping logs.
type SweepResult struct {
	Expired           []uuid.UUID      `json:"expired"`
	Failed            []SessionFailure `json:"failed"`
	OrphansTerminated int              `json:"orphans_terminated"`
	OrphanFailures    []AccountFailure `json:"orphan_failures"`
}

// Reaper is the scheduled sweep that expires overdue sessions and cleans up
// orphaned JIT accounts. One instance runs cluster-wide per tick, guarded by
// the locker.
type Reaper struct {
	sessions jit.SessionStore
	accounts jit.AccountStore
	manager  AccountTerminator
	locker   Locker
	interval time.Duration
	stop     chan struct{}
}

func NewReaper(sessions jit.SessionStore, accounts jit.AccountStore, manager AccountTerminator, locker Locker, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		sessions: sessions,
		accounts: accounts,
		manager:  manager,
		locker:   locker,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	go r.loop()
	slog.Info("Session reaper started", "interval", r.interval)
}

func (r *Reaper) Stop() {
	close(r.stop)
	slog.Info("Session reaper stopped")
}

func (r *Reaper) loop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.run()

	for {
		select {
		case <-ticker.C:
			r.run()
		case <-r.stop:
			return
		}
	}
}

func (r *Reaper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	if r.locker != nil {
		acquired, err := r.locker.TryLock(ctx)
		if err != nil {
			slog.Error("reaper lock acquisition failed", "error", err)
			return
		}
		if !acquired {
			slog.Debug("reaper sweep skipped, another instance holds the lock")
			return
		}
		defer r.locker.Unlock(ctx)
	}

	result := r.Sweep(ctx)
	slog.Info("reaper sweep finished",
		"expired", len(result.Expired),
		"failed", len(result.Failed),
		"orphans_terminated", result.OrphansTerminated,
		"orphan_failures", len(result.OrphanFailures),
	)
}

// Sweep runs both passes once. Pass one expires overdue started sessions;
// pass two terminates active JIT accounts past expiry regardless of session
// linkage, the backstop for partially failed terminations and deleted
// sessions. Every item is processed independently.
func (r *Reaper) Sweep(ctx context.Context) SweepResult {
	var result SweepResult
	now := time.Now()

	sessions, err := r.sessions.OverdueStarted(ctx, now)
	if err != nil {
		slog.Error("reaper could not list overdue sessions", "error", err)
	}
	for i := range sessions {
		session := &sessions[i]
		if err := r.expire(ctx, session); err != nil {
			slog.Error("failed to expire session",
				"session_id", session.ID, "asset_id", session.AssetID, "error", err)
			result.Failed = append(result.Failed, SessionFailure{
				SessionID: session.ID,
				AssetID:   session.AssetID,
				Err:       err,
				Error:     err.Error(),
			})
			continue
		}
		slog.Info("session expired",
			"session_id", session.ID, "asset_id", session.AssetID)
		result.Expired = append(result.Expired, session.ID)
	}

	accounts, err := r.accounts.ExpiredActiveJIT(ctx, now)
	if err != nil {
		slog.Error("reaper could not list orphaned accounts", "error", err)
	}
	for i := range accounts {
		account := &accounts[i]
		if err := r.manager.TerminateOrphan(ctx, account); err != nil {
			slog.Error("failed to terminate orphaned jit account",
				"account_id", account.ID, "asset_id", account.AssetID, "error", err)
			result.OrphanFailures = append(result.OrphanFailures, AccountFailure{
				AccountID: account.ID,
				AssetID:   account.AssetID,
				Err:       err,
				Error:     err.Error(),
			})
			continue
		}
		slog.Info("orphaned jit account terminated",
			"account_id", account.ID, "username", account.Username)
		result.OrphansTerminated++
	}

	return result
}

// expire terminates the session's JIT account and transitions it to expired.
// The session's end is pinned to the scheduled end, not the sweep time.
func (r *Reaper) expire(ctx context.Context, session *models.Session) error {
	if err := r.manager.TerminateAccount(ctx, session); err != nil {
		return err
	}

	endAt := session.ScheduledEndAt
	session.Status = models.SessionExpired
	session.EndAt = &endAt
	if session.StartAt != nil {
		session.ActualDuration = int(session.ScheduledEndAt.Sub(*session.StartAt).Minutes())
	}
	return r.sessions.SaveSession(ctx, session)
}
