package jit

import (
	"time"

	"github.com/argus-sec/argus/internal/models"
)

// engineDefaultDatabase is the connection database used when the credential
// set names none, which only happens for all-database-scope connections.
var engineDefaultDatabase = map[Engine]string{
	EngineMySQL:      "mysql",
	EnginePostgreSQL: "postgres",
}

// FactoryConfig carries what every driver variant needs beyond the
// credential set.
type FactoryConfig struct {
	Generator GeneratorConfig
	Timeout   time.Duration
}

// DriverFactory builds the driver variant for an asset's engine. New engines
// register a constructor here; callers never branch on engine type.
type DriverFactory struct {
	cfg FactoryConfig
	gen *Generator
}

func NewDriverFactory(cfg FactoryConfig) *DriverFactory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &DriverFactory{cfg: cfg, gen: NewGenerator(cfg.Generator)}
}

// Create resolves the connection database and constructs the driver for the
// asset's engine.
func (f *DriverFactory) Create(asset *models.Asset, creds Credentials) (Driver, error) {
	engine := Engine(asset.Engine)

	database, err := resolveDatabase(engine, creds)
	if err != nil {
		return nil, err
	}

	creds.Host = asset.Host
	creds.Port = asset.Port
	creds.Database = database

	switch engine {
	case EngineMySQL:
		return NewMySQLDriver(creds, f.gen, f.cfg.Timeout), nil
	case EnginePostgreSQL:
		return NewPostgreSQLDriver(creds, f.gen, f.cfg.Timeout), nil
	default:
		return nil, &ConfigError{Msg: "engine " + asset.Engine, Err: ErrUnsupportedEngine}
	}
}

// resolveDatabase picks the connection database: explicit database field
// first, then the first entry of the databases list, then the engine default.
func resolveDatabase(engine Engine, creds Credentials) (string, error) {
	if creds.Database != "" {
		return creds.Database, nil
	}
	if len(creds.Databases) > 0 && creds.Databases[0] != "" {
		return creds.Databases[0], nil
	}
	if name, ok := engineDefaultDatabase[engine]; ok {
		return name, nil
	}
	return "", &ConfigError{Msg: "no connection database resolvable for engine " + string(engine)}
}
