package database

import (
	"database/sql"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eternallink/arlink/internal/config"
)

// Manager handles database connections for the local video cache.
type Manager struct {
	DB      *gorm.DB
	SqlDB   *sql.DB
	IsValid bool
	// Backend is the dialector actually in use: "postgres" or "sqlite".
	Backend string
	Logger  zerolog.Logger

	cfg config.CacheConfig
}

// NewManager creates a new database manager.
func NewManager(cfg config.CacheConfig, log zerolog.Logger) *Manager {
	return &Manager{
		Logger: log,
		cfg:    cfg,
	}
}

// Connect establishes a database connection. A postgres cache falls back
// to SQLite when Postgres is unreachable.
func (m *Manager) Connect() error {
	var err error

	if m.cfg.Type == "postgres" {
		m.DB, err = m.GetPostgresDB()
		if err == nil {
			m.SqlDB, err = m.DB.DB()
		}
		if err == nil {
			err = m.SqlDB.Ping()
		}
		if err == nil {
			m.Backend = "postgres"
			m.IsValid = true
			m.SqlDB.SetMaxOpenConns(10)
			m.Logger.Info().Msg("Connected to Postgres cache")
			return nil
		}
		m.Logger.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")
	}

	m.DB, err = m.GetSqliteDB(m.cfg.SQLitePath)
	if err != nil || m.DB == nil {
		m.IsValid = false
		return fmt.Errorf("failed to get local SQLite DB: %w", err)
	}
	m.SqlDB, err = m.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := m.SqlDB.Ping(); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to validate SQLite connection: %w", err)
	}
	// SQLite allows one writer; serialise through a single connection.
	m.SqlDB.SetMaxOpenConns(1)
	m.Backend = "sqlite"
	m.IsValid = true
	return nil
}

// GetPostgresDB returns a connection to the configured Postgres database.
func (m *Manager) GetPostgresDB() (*gorm.DB, error) {
	if m.cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres DSN not configured")
	}
	m.Logger.Debug().Msg("Connecting to Postgres DB")

	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  m.cfg.PostgresDSN,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// GetSqliteDB returns a connection to a SQLite database.
// If path is empty, uses a private in-memory database.
func (m *Manager) GetSqliteDB(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		m.IsValid = false
		return nil, err
	}
	if path != "" {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite cache")
	} else {
		m.Logger.Info().Msg("Using in-memory SQLite cache")
	}

	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL;")
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %s", err)
		}
	}

	return db, nil
}

// Setup migrates the given models.
func (m *Manager) Setup(models ...any) error {
	m.Logger.Info().Msg("Migrating cache schema")
	if err := m.DB.AutoMigrate(models...); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	return m.SqlDB.Close()
}
