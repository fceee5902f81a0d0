package jit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// MySQLDriver manages ephemeral users on a remote MySQL server. Query logs
// come from the general query log written to the mysql.general_log table.
type MySQLDriver struct {
	driverBase
}

func NewMySQLDriver(creds Credentials, gen *Generator, timeout time.Duration) *MySQLDriver {
	return &MySQLDriver{driverBase: driverBase{
		engine:  EngineMySQL,
		creds:   creds,
		gen:     gen,
		timeout: timeout,
	}}
}

func (d *MySQLDriver) open(creds Credentials) (*gorm.DB, error) {
	secs := int(d.timeout.Seconds())
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		creds.Username, creds.Password, creds.Host, creds.Port, creds.Database, secs, secs, secs)
	return gorm.Open(mysql.Open(dsn), gormConfig())
}

func (d *MySQLDriver) ValidateScope(scope Scope) bool {
	_, ok := mysqlPrivileges[scope]
	return ok
}

// mysqlPermanent reports whether the server rejected the statement for a
// reason no retry can fix: syntax, missing privileges on the admin account,
// or a user-creation restriction.
func mysqlPermanent(err error) bool {
	var myErr *gomysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case 1044, 1045, 1064, 1142, 1227, 1410:
		return true
	}
	return false
}

// CreateUser issues CREATE USER IF NOT EXISTS plus scope-limited grants.
// MySQL auto-commits DDL, so there is no transaction; the IF NOT EXISTS form
// makes a retry after partial failure converge instead of erroring. MySQL has
// no per-user VALID UNTIL, so expiry is enforced by the reaper alone.
func (d *MySQLDriver) CreateUser(ctx context.Context, username, password string, databases []string, scope Scope, expiresAt time.Time) error {
	if !d.ValidateScope(scope) {
		return d.scopeError("createUser", scope)
	}
	databases = normalizeDatabases(databases)
	for _, name := range databases {
		if !validIdent(name) {
			return &DriverError{Engine: EngineMySQL, Op: "createUser", Err: fmt.Errorf("invalid database name %q", name)}
		}
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return err
	}

	userHost := fmt.Sprintf("'%s'@'%%'", username)
	create := fmt.Sprintf("CREATE USER IF NOT EXISTS %s IDENTIFIED BY '%s'",
		userHost, strings.ReplaceAll(password, "'", "''"))
	if err := db.Exec(create).Error; err != nil {
		return d.fail("createUser", err, !mysqlPermanent(err))
	}

	privileges := mysqlPrivileges[scope]
	if len(databases) == 0 {
		if err := db.Exec(fmt.Sprintf("GRANT %s ON *.* TO %s", privileges, userHost)).Error; err != nil {
			return d.fail("createUser", err, !mysqlPermanent(err))
		}
	} else {
		for _, name := range databases {
			grant := fmt.Sprintf("GRANT %s ON `%s`.* TO %s", privileges, name, userHost)
			if err := db.Exec(grant).Error; err != nil {
				return d.fail("createUser", err, !mysqlPermanent(err))
			}
		}
	}

	if err := db.Exec("FLUSH PRIVILEGES").Error; err != nil {
		return d.fail("createUser", err, !mysqlPermanent(err))
	}
	return nil
}

// TerminateUser kills the user's live connections, then drops the user.
// DROP USER IF EXISTS makes a second termination a no-op success.
func (d *MySQLDriver) TerminateUser(ctx context.Context, username string, databases []string) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return err
	}

	var processIDs []int64
	if err := db.Raw("SELECT id FROM information_schema.processlist WHERE user = ?", username).
		Scan(&processIDs).Error; err == nil {
		for _, id := range processIDs {
			// The connection may already be gone.
			db.Exec(fmt.Sprintf("KILL %d", id))
		}
	}

	userHost := fmt.Sprintf("'%s'@'%%'", username)
	if err := db.Exec("DROP USER IF EXISTS " + userHost).Error; err != nil {
		return d.fail("terminateUser", err, true)
	}
	if err := db.Exec("FLUSH PRIVILEGES").Error; err != nil {
		return d.fail("terminateUser", err, true)
	}
	return nil
}

func (d *MySQLDriver) TestAdminConnection(ctx context.Context) bool {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return false
	}
	return db.Exec("SELECT 1").Error == nil
}

func (d *MySQLDriver) TestConnection(ctx context.Context, creds Credentials) bool {
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

func (d *MySQLDriver) GetAllDatabases(ctx context.Context) ([]string, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := db.Raw("SHOW DATABASES").Scan(&names).Error; err != nil {
		return nil, d.fail("getAllDatabases", err, true)
	}
	return names, nil
}

type mysqlVariable struct {
	VariableName string `gorm:"column:Variable_name"`
	Value        string `gorm:"column:Value"`
}

func (d *MySQLDriver) IsQueryLoggingEnabled(ctx context.Context) (bool, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return false, err
	}

	var generalLog, logOutput mysqlVariable
	if err := db.Raw("SHOW VARIABLES LIKE 'general_log'").Scan(&generalLog).Error; err != nil {
		return false, d.fail("isQueryLoggingEnabled", err, true)
	}
	if err := db.Raw("SHOW VARIABLES LIKE 'log_output'").Scan(&logOutput).Error; err != nil {
		return false, d.fail("isQueryLoggingEnabled", err, true)
	}
	return generalLog.Value == "ON" && strings.Contains(logOutput.Value, "TABLE"), nil
}

func (d *MySQLDriver) EnableQueryLogging(ctx context.Context) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return err
	}

	if err := db.Exec("SET GLOBAL general_log = ON").Error; err != nil {
		return d.fail("enableQueryLogging", err, true)
	}
	if err := db.Exec("SET GLOBAL log_output = 'TABLE'").Error; err != nil {
		return d.fail("enableQueryLogging", err, true)
	}
	return nil
}

func (d *MySQLDriver) DisableQueryLogging(ctx context.Context) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return err
	}

	// Best-effort: disabling an already-disabled log is fine.
	db.Exec("SET GLOBAL general_log = OFF")
	db.Exec("SET GLOBAL log_output = 'FILE'")
	return nil
}

// mysqlLogNoise filters connection housekeeping out of the general log so the
// audit trail holds only statements the user actually ran.
const mysqlLogNoise = `(SET NAMES|SET sql_quote_show_create|SET CHARACTER SET|SET character_set|SET collation_connection|SET lc_messages|SELECT USER\(\)|CONNECTION_ID|current_user|SELECT @@|SHOW |information_schema|performance_schema|SELECT DATABASE|SET autocommit)`

func (d *MySQLDriver) RetrieveUserQueryLogs(ctx context.Context, username string) ([]Query, error) {
	enabled, err := d.IsQueryLoggingEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, &DriverError{Engine: EngineMySQL, Op: "retrieveUserQueryLogs", Err: ErrQueryLoggingDisabled}
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	db, err := d.conn(ctx, d.open)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		UserHost       string    `gorm:"column:user_host"`
		FirstTimestamp time.Time `gorm:"column:first_timestamp"`
		LastTimestamp  time.Time `gorm:"column:last_timestamp"`
		CommandType    string    `gorm:"column:command_type"`
		Count          int       `gorm:"column:count"`
		Argument       string    `gorm:"column:argument"`
	}
	err = db.Raw(`
		SELECT
			MIN(user_host) AS user_host,
			MIN(event_time) AS first_timestamp,
			MAX(event_time) AS last_timestamp,
			command_type,
			COUNT(*) AS count,
			CAST(argument AS CHAR) AS argument
		FROM mysql.general_log
		WHERE command_type NOT IN ('Quit', 'Close stmt', 'Init DB', 'Connect')
		  AND user_host LIKE ?
		  AND CAST(argument AS CHAR) NOT REGEXP ?
		GROUP BY CAST(argument AS CHAR), command_type
		ORDER BY MAX(event_time) DESC
	`, username+"%", mysqlLogNoise).Scan(&rows).Error
	if err != nil {
		return nil, d.fail("retrieveUserQueryLogs", err, true)
	}

	queries := make([]Query, 0, len(rows))
	for _, r := range rows {
		queries = append(queries, Query{
			UserHost:    r.UserHost,
			FirstSeen:   r.FirstTimestamp,
			LastSeen:    r.LastTimestamp,
			CommandType: r.CommandType,
			Count:       r.Count,
			Text:        r.Argument,
		})
	}
	return queries, nil
}
