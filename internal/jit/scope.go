package jit

// Engine identifies a supported database engine. Adding an engine means
// adding a constant here, a driver variant, and a factory table entry.
type Engine string

const (
	EngineMySQL      Engine = "mysql"
	EnginePostgreSQL Engine = "postgresql"
)

// Scope is the permission tier granted to a JIT account. Each driver maps a
// scope to its engine's grant dialect; a driver rejects scopes it does not
// map.
type Scope string

const (
	ScopeReadOnly  Scope = "read_only"
	ScopeReadWrite Scope = "read_write"
	ScopeDML       Scope = "dml"
	ScopeDDL       Scope = "ddl"
	ScopeAll       Scope = "all"
)

// Scopes lists every scope known to the system, in ascending privilege order.
func Scopes() []Scope {
	return []Scope{ScopeReadOnly, ScopeReadWrite, ScopeDML, ScopeDDL, ScopeAll}
}

func (s Scope) Known() bool {
	switch s {
	case ScopeReadOnly, ScopeReadWrite, ScopeDML, ScopeDDL, ScopeAll:
		return true
	}
	return false
}

// mysqlPrivileges maps a scope to the MySQL privilege list used in GRANT
// statements.
var mysqlPrivileges = map[Scope]string{
	ScopeReadOnly:  "SELECT",
	ScopeReadWrite: "SELECT, INSERT, UPDATE, DELETE",
	ScopeDML:       "SELECT, INSERT, UPDATE, DELETE",
	ScopeDDL:       "SELECT, INSERT, UPDATE, DELETE, CREATE, DROP, ALTER, INDEX",
	ScopeAll:       "ALL PRIVILEGES",
}

// postgresTablePrivileges maps a scope to the PostgreSQL table-level
// privilege list. Sequence and schema grants are handled per scope in the
// driver.
var postgresTablePrivileges = map[Scope]string{
	ScopeReadOnly:  "SELECT",
	ScopeReadWrite: "SELECT, INSERT, UPDATE, DELETE",
	ScopeDML:       "SELECT, INSERT, UPDATE, DELETE",
	ScopeDDL:       "SELECT, INSERT, UPDATE, DELETE, TRUNCATE, REFERENCES, TRIGGER",
	ScopeAll:       "ALL PRIVILEGES",
}
