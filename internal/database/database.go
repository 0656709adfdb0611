package database

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"fx-signal-auditor/internal/config"
	"fx-signal-auditor/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// StatusChannel is the pg_notify channel the status trigger publishes on.
const StatusChannel = "signal_status_changes"

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// NewDatabase opens the configured database and migrates the schema.
// Existing rows are never dropped; signals and market state belong to other jobs.
func NewDatabase(cfg config.Database) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Open connects without migrating.
func Open(cfg config.Database) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if isInMemory(cfg) {
		// every new connection to :memory: is a fresh empty database
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		return db, nil
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// AutoMigrate creates missing tables and indexes. On postgres it also installs
// the status-change trigger used by the pgnotify audit feed.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Signal{}, &models.Outcome{}, &models.MarketState{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return applyPostgresMigrations(db)
}

func applyPostgresMigrations(db *gorm.DB) error {
	entries, err := fs.ReadDir(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("read embedded postgres migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(postgresMigrations, "migrations/postgres/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if err := db.Exec(string(data)).Error; err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}

func isInMemory(cfg config.Database) bool {
	return (cfg.Driver == "" || cfg.Driver == "sqlite") && strings.Contains(cfg.DSN, ":memory:")
}
