// Package db opens the gateway's durable store. It selects the gorm driver
// from configuration and owns schema migration for the models the gateway
// persists.
package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/config"
)

// Connect opens a gorm DB for the configured database type. Supported types
// are "sqlite" (default), "mysql" and "postgres".
func Connect(cfg config.DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = slog.Default()
	}

	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Type {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "formulario-servico.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	case "mysql":
		dsn, nerr := normalizeMySQLDSN(cfg.DSN)
		if nerr != nil {
			return nil, nerr
		}
		db, err = gorm.Open(mysql.Open(dsn), gormCfg)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres requires a non-empty DSN")
		}
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access underlying connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Debug("database connected", "type", cfg.Type)
	return db, nil
}

// normalizeMySQLDSN parses the DSN and forces parseTime so DATETIME columns
// scan into time.Time.
func normalizeMySQLDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("mysql requires a non-empty DSN")
	}
	parsed, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("failed to parse mysql DSN: %w", err)
	}
	parsed.ParseTime = true
	return parsed.FormatDSN(), nil
}

// Migrate runs AutoMigrate for the given models.
func Migrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
