package jit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testDriverPair() (*MySQLDriver, *PostgreSQLDriver) {
	gen := NewGenerator(GeneratorConfig{})
	creds := Credentials{Host: "db.internal", Port: 3306, Username: "root", Password: "x"}
	return NewMySQLDriver(creds, gen, time.Second),
		NewPostgreSQLDriver(creds, gen, time.Second)
}

func TestValidateScope_KnownScopes(t *testing.T) {
	mysql, postgres := testDriverPair()

	for _, scope := range Scopes() {
		require.True(t, mysql.ValidateScope(scope), "mysql rejected %s", scope)
		require.True(t, postgres.ValidateScope(scope), "postgresql rejected %s", scope)
	}
}

func TestValidateScope_UnknownScopes(t *testing.T) {
	mysql, postgres := testDriverPair()

	for _, scope := range []Scope{"", "sudo", "admin", "READ_ONLY"} {
		require.False(t, mysql.ValidateScope(scope), "mysql accepted %s", scope)
		require.False(t, postgres.ValidateScope(scope), "postgresql accepted %s", scope)
	}
}

func TestScope_Known(t *testing.T) {
	for _, scope := range Scopes() {
		require.True(t, scope.Known())
	}
	require.False(t, Scope("superuser").Known())
	require.False(t, Scope("").Known())
}

func TestScopePrivileges_EveryScopeMapped(t *testing.T) {
	for _, scope := range Scopes() {
		require.Contains(t, mysqlPrivileges, scope)
		require.Contains(t, postgresTablePrivileges, scope)
	}
}

func TestScopePrivileges_ReadOnlyIsSelectOnly(t *testing.T) {
	require.Equal(t, "SELECT", mysqlPrivileges[ScopeReadOnly])
	require.Equal(t, "SELECT", postgresTablePrivileges[ScopeReadOnly])
}
