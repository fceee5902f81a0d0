package jit

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Credentials is a connection credential set for a remote asset. Database is
// the database the connection is opened against; Databases lists the
// databases the account may touch (empty means all).
type Credentials struct {
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Database  string   `json:"database"`
	Databases []string `json:"databases"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
}

// Driver executes engine-specific account lifecycle operations against one
// remote database server using an admin connection.
type Driver interface {
	// CreateUser provisions a scoped user expiring at expiresAt. Safe to
	// retry: an already-existing user is re-granted, not an error.
	CreateUser(ctx context.Context, username, password string, databases []string, scope Scope, expiresAt time.Time) error

	// TerminateUser drops the user and kills its live connections. An
	// already-absent user is success.
	TerminateUser(ctx context.Context, username string, databases []string) error

	// TestAdminConnection probes reachability with the admin credentials.
	// Never returns an error; any failure is false.
	TestAdminConnection(ctx context.Context) bool

	// TestConnection probes reachability with arbitrary credentials.
	TestConnection(ctx context.Context, creds Credentials) bool

	// RetrieveUserQueryLogs returns the aggregated query log attributable to
	// username since logging was enabled, newest first.
	RetrieveUserQueryLogs(ctx context.Context, username string) ([]Query, error)

	IsQueryLoggingEnabled(ctx context.Context) (bool, error)
	EnableQueryLogging(ctx context.Context) error
	// DisableQueryLogging is best-effort and succeeds when already disabled.
	DisableQueryLogging(ctx context.Context) error

	// ValidateScope reports whether this engine maps scope to a grant set.
	// Pure, no I/O.
	ValidateScope(scope Scope) bool

	GenerateUsername() string
	GeneratePassword() string

	// GetAllDatabases lists databases visible to the admin connection.
	GetAllDatabases(ctx context.Context) ([]string, error)

	// Close releases the admin connection.
	Close() error
}

// identRegexp validates database identifiers before they are spliced into
// DDL, which the engines refuse to parameterize.
var identRegexp = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_$-]*$`)

func validIdent(name string) bool {
	return name != "" && len(name) <= 64 && identRegexp.MatchString(name)
}

// driverBase carries what both engine variants share: the admin credential
// set, a lazily opened connection, the credential generator, and the
// per-operation timeout.
type driverBase struct {
	engine  Engine
	creds   Credentials
	gen     *Generator
	timeout time.Duration

	mu sync.Mutex
	db *gorm.DB
}

func (b *driverBase) GenerateUsername() string { return b.gen.Username() }
func (b *driverBase) GeneratePassword() string { return b.gen.Password() }

// conn returns the cached admin connection, opening it on first use.
func (b *driverBase) conn(ctx context.Context, open func(Credentials) (*gorm.DB, error)) (*gorm.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		db, err := open(b.creds)
		if err != nil {
			return nil, b.fail("connect", err, true)
		}
		b.db = db
	}
	return b.db.WithContext(ctx), nil
}

func (b *driverBase) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	sqlDB, err := b.db.DB()
	b.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// opCtx bounds an operation so one unreachable asset cannot stall a whole
// sweep.
func (b *driverBase) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

func (b *driverBase) fail(op string, err error, transient bool) error {
	slog.Error("driver operation failed",
		"engine", string(b.engine),
		"op", op,
		"host", b.creds.Host,
		"error", err,
	)
	return &DriverError{Engine: b.engine, Op: op, Err: err, Transient: transient}
}

func (b *driverBase) scopeError(op string, scope Scope) error {
	return &DriverError{
		Engine:    b.engine,
		Op:        op,
		Err:       fmt.Errorf("%w: %s", ErrUnsupportedScope, scope),
		Transient: false,
	}
}

// gormConfig silences GORM's own logger; driver failures are logged with
// slog where they are classified.
func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Discard}
}

func normalizeDatabases(databases []string) []string {
	out := make([]string, 0, len(databases))
	for _, db := range databases {
		if db != "" {
			out = append(out, db)
		}
	}
	return out
}
