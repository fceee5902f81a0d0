package jit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgreSQLDriver manages ephemeral roles on a remote PostgreSQL server.
// Expiry is set engine-side with VALID UNTIL in addition to the reaper's
// sweep. Query logs come from pg_stat_statements plus live pg_stat_activity
// rows.
type PostgreSQLDriver struct {
	driverBase
}

func NewPostgreSQLDriver(creds Credentials, gen *Generator, timeout time.Duration) *PostgreSQLDriver {
	return &PostgreSQLDriver{driverBase: driverBase{
		engine:  EnginePostgreSQL,
		creds:   creds,
		gen:     gen,
		timeout: timeout,
	}}
}

func (d *PostgreSQLDriver) open(creds Credentials) (*gorm.DB, error) {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(creds.Username, creds.Password),
		Host:     fmt.Sprintf("%s:%d", creds.Host, creds.Port),
		Path:     creds.Database,
		RawQuery: fmt.Sprintf("sslmode=disable&connect_timeout=%d", int(d.timeout.Seconds())),
	}
	return gorm.Open(postgres.Open(u.String()), gormConfig())
}

func (d *PostgreSQLDriver) ValidateScope(scope Scope) bool {
	_, ok := postgresTablePrivileges[scope]
	return ok
}

// pgPermanent reports whether the server rejected the statement for a reason
// no retry can fix. SQLSTATE class 42 covers syntax errors and insufficient
// privilege, class 28 invalid authorization.
func pgPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "42", "28":
		return true
	}
	return false
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func pgTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05+00")
}

// CreateUser creates the role with VALID UNTIL set to the session's
// scheduled end. A role left behind by an earlier ambiguous failure is
// altered instead of recreated, so retries converge.
func (d *PostgreSQLDriver) CreateUser(ctx context.Context, username, password string, databases []string, scope Scope, expiresAt time.Time) error {
	if !d.ValidateScope(scope) {
		return d.scopeError("createUser", scope)
	}
	databases = normalizeDatabases(databases)
	for _, name := range databases {
		if !validIdent(name) {
			return &DriverError{Engine: EnginePostgreSQL, Op: "createUser", Err: fmt.Errorf("invalid database name %q", name)}
		}
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return err
	}

	exists, err := d.roleExists(db, username)
	if err != nil {
		return d.fail("createUser", err, !pgPermanent(err))
	}

	user := quoteIdent(username)
	password = strings.ReplaceAll(password, "'", "''")
	verb := "CREATE"
	if exists {
		verb = "ALTER"
	}
	stmt := fmt.Sprintf("%s USER %s WITH PASSWORD '%s' VALID UNTIL '%s'",
		verb, user, password, pgTimestamp(expiresAt))
	if err := db.Exec(stmt).Error; err != nil {
		return d.fail("createUser", err, !pgPermanent(err))
	}

	if err := d.grantPermissions(db, username, databases, scope); err != nil {
		return d.fail("createUser", err, !pgPermanent(err))
	}
	return nil
}

func (d *PostgreSQLDriver) roleExists(db *gorm.DB, username string) (bool, error) {
	var count int64
	err := db.Raw("SELECT count(*) FROM pg_roles WHERE rolname = ?", username).Scan(&count).Error
	return count > 0, err
}

// grantPermissions applies the scope's grant set. Schema-level grants land on
// the connected database; CONNECT is granted per target database. Scoping
// objects in other databases would need a connection per database, which the
// factory arranges by connecting to the first requested database.
func (d *PostgreSQLDriver) grantPermissions(db *gorm.DB, username string, databases []string, scope Scope) error {
	user := quoteIdent(username)

	for _, name := range databases {
		grant := fmt.Sprintf("GRANT CONNECT ON DATABASE %s TO %s", quoteIdent(name), user)
		if err := db.Exec(grant).Error; err != nil {
			return err
		}
	}

	stmts := []string{
		fmt.Sprintf("GRANT USAGE ON SCHEMA public TO %s", user),
		fmt.Sprintf("GRANT %s ON ALL TABLES IN SCHEMA public TO %s", postgresTablePrivileges[scope], user),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT %s ON TABLES TO %s", postgresTablePrivileges[scope], user),
	}
	switch scope {
	case ScopeReadWrite, ScopeDML:
		stmts = append(stmts,
			fmt.Sprintf("GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO %s", user),
			fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT USAGE, SELECT ON SEQUENCES TO %s", user),
		)
	case ScopeDDL:
		stmts = append(stmts,
			fmt.Sprintf("GRANT CREATE ON SCHEMA public TO %s", user),
			fmt.Sprintf("GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO %s", user),
			fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT USAGE, SELECT ON SEQUENCES TO %s", user),
		)
	case ScopeAll:
		stmts = append(stmts,
			fmt.Sprintf("GRANT ALL PRIVILEGES ON SCHEMA public TO %s", user),
			fmt.Sprintf("GRANT ALL PRIVILEGES ON ALL SEQUENCES IN SCHEMA public TO %s", user),
		)
	}

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// TerminateUser kicks the role's backends, strips its privileges, and drops
// it. An already-absent role is success.
func (d *PostgreSQLDriver) TerminateUser(ctx context.Context, username string, databases []string) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return err
	}

	exists, err := d.roleExists(db, username)
	if err != nil {
		return d.fail("terminateUser", err, true)
	}
	if !exists {
		return nil
	}

	db.Exec("SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE usename = ? AND pid <> pg_backend_pid()", username)

	// Best-effort privilege strip; DROP OWNED catches whatever the explicit
	// revokes miss.
	user := quoteIdent(username)
	for _, name := range normalizeDatabases(databases) {
		db.Exec(fmt.Sprintf("REVOKE ALL PRIVILEGES ON DATABASE %s FROM %s", quoteIdent(name), user))
	}
	db.Exec(fmt.Sprintf("REVOKE ALL PRIVILEGES ON SCHEMA public FROM %s", user))
	db.Exec(fmt.Sprintf("REVOKE ALL PRIVILEGES ON ALL TABLES IN SCHEMA public FROM %s", user))
	db.Exec(fmt.Sprintf("REVOKE ALL PRIVILEGES ON ALL SEQUENCES IN SCHEMA public FROM %s", user))
	db.Exec(fmt.Sprintf("DROP OWNED BY %s", user))

	if err := db.Exec(fmt.Sprintf("DROP USER IF EXISTS %s", user)).Error; err != nil {
		return d.fail("terminateUser", err, true)
	}
	return nil
}

func (d *PostgreSQLDriver) TestAdminConnection(ctx context.Context) bool {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return false
	}
	return db.Exec("SELECT 1").Error == nil
}

func (d *PostgreSQLDriver) TestConnection(ctx context.Context, creds Credentials) bool {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	db, err := d.open(creds)
	if err != nil {
		return false
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()
	return db.WithContext(ctx).Exec("SELECT 1").Error == nil
}

func (d *PostgreSQLDriver) GetAllDatabases(ctx context.Context) ([]string, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := db.Raw("SELECT datname FROM pg_database WHERE datistemplate = false").Scan(&names).Error; err != nil {
		return nil, d.fail("getAllDatabases", err, true)
	}
	return names, nil
}

func (d *PostgreSQLDriver) IsQueryLoggingEnabled(ctx context.Context) (bool, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return false, err
	}

	var count int64
	if err := db.Raw("SELECT count(*) FROM pg_extension WHERE extname = 'pg_stat_statements'").Scan(&count).Error; err != nil {
		return false, d.fail("isQueryLoggingEnabled", err, true)
	}
	return count > 0, nil
}

func (d *PostgreSQLDriver) EnableQueryLogging(ctx context.Context) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return err
	}

	// Needs pg_stat_statements in shared_preload_libraries; the extension
	// itself can be created on the fly.
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS pg_stat_statements").Error; err != nil {
		return d.fail("enableQueryLogging", err, true)
	}
	return nil
}

func (d *PostgreSQLDriver) DisableQueryLogging(ctx context.Context) error {
	// Dropping the extension would discard collected statistics mid-audit, so
	// disabling is a no-op for this engine.
	return nil
}

func (d *PostgreSQLDriver) RetrieveUserQueryLogs(ctx context.Context, username string) ([]Query, error) {
	enabled, err := d.IsQueryLoggingEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, &DriverError{Engine: EnginePostgreSQL, Op: "retrieveUserQueryLogs", Err: ErrQueryLoggingDisabled}
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Calls     int    `gorm:"column:calls"`
		QueryText string `gorm:"column:query"`
	}
	err = db.Raw(`
		SELECT s.calls, s.query
		FROM pg_stat_statements s
		JOIN pg_user u ON u.usesysid = s.userid
		WHERE u.usename = ?
		  AND s.query NOT LIKE 'BEGIN%'
		  AND s.query NOT LIKE 'COMMIT%'
		  AND s.query NOT LIKE 'ROLLBACK%'
		ORDER BY s.calls DESC
	`, username).Scan(&rows).Error
	if err != nil {
		return nil, d.fail("retrieveUserQueryLogs", err, true)
	}

	// pg_stat_statements aggregates without per-statement timestamps; stamp
	// entries with retrieval time.
	now := time.Now()
	queries := make([]Query, 0, len(rows))
	for _, r := range rows {
		queries = append(queries, Query{
			UserHost:    username + "@" + d.creds.Host,
			FirstSeen:   now,
			LastSeen:    now,
			CommandType: commandType(r.QueryText),
			Count:       r.Calls,
			Text:        r.QueryText,
		})
	}

	// Statements still in flight have not reached pg_stat_statements yet.
	var active []struct {
		QueryStart time.Time `gorm:"column:query_start"`
		QueryText  string    `gorm:"column:query"`
		ClientAddr string    `gorm:"column:client_addr"`
	}
	err = db.Raw(`
		SELECT query_start, query, COALESCE(client_addr::text, '') AS client_addr
		FROM pg_stat_activity
		WHERE usename = ?
		  AND query <> ''
		  AND query NOT LIKE 'BEGIN%'
		  AND query NOT LIKE 'COMMIT%'
		  AND query NOT LIKE 'ROLLBACK%'
		ORDER BY query_start DESC
	`, username).Scan(&active).Error
	if err == nil {
		for _, r := range active {
			host := r.ClientAddr
			if host == "" {
				host = d.creds.Host
			}
			queries = append(queries, Query{
				UserHost:    username + "@" + host,
				FirstSeen:   r.QueryStart,
				LastSeen:    r.QueryStart,
				CommandType: commandType(r.QueryText),
				Count:       1,
				Text:        r.QueryText,
			})
		}
	}
	return queries, nil
}

// commandType classifies a statement by its leading keyword, mirroring the
// command_type column MySQL's general log provides natively.
func commandType(query string) string {
	fields := strings.Fields(strings.TrimSpace(query))
	if len(fields) == 0 {
		return "Query"
	}
	return strings.ToUpper(fields[0])
}
