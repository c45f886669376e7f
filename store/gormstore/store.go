package gormstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore/store"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the SQL driver and connection string.
type Config struct {
	Driver string
	// DSN is the driver-specific connection string. An empty sqlite DSN opens
	// a shared in-memory database.
	DSN string
	// Logger overrides GORM's logger. Defaults to silent.
	Logger logger.Interface
}

// Open connects to the configured database.
func Open(cfg Config) (*gorm.DB, error) {
	gormLogger := cfg.Logger
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}
	gormCfg := &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverSQLite, "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("gormstore: open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("gormstore: sqlite handle: %w", err)
		}
		// sqlite serialises writers; one connection avoids SQLITE_BUSY/locked
		// errors under concurrent conditional updates.
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case DriverPostgres, "postgresql", "pg":
		if cfg.DSN == "" {
			return nil, errors.New("gormstore: postgres requires a DSN")
		}
		db, err := gorm.Open(postgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("gormstore: open postgres: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("gormstore: unsupported driver %q", cfg.Driver)
	}
}

// Store implements the store repositories with GORM.
type Store struct {
	db *gorm.DB
}

// New migrates the schema and returns a Store.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("gormstore: db is required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// AutoMigrate creates or updates the auth tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&userModel{}, &refreshTokenModel{}, &ephemeralTokenModel{}); err != nil {
		return fmt.Errorf("gormstore: migrate: %w", err)
	}
	return nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Stores exposes s as the engine's persistence bundle.
func (s *Store) Stores() store.Stores {
	return store.Stores{
		Users:         s,
		RefreshTokens: s,
		Ephemeral:     s,
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") || strings.Contains(lower, "duplicate")
}
