package db

import (
	"fmt"

	"github.com/smallbiznis/stayledger/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect picks the gorm dialector for DATABASE_TYPE. Only postgres and
// sqlite are accepted: repositories rely on ON CONFLICT and the availability
// table on a btree_gist EXCLUDE constraint.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch cfg.DBType {
	case "postgres":
		return postgres.Open(DSN(cfg)), nil
	case "sqlite":
		name := cfg.DBName
		if name == "" {
			name = "stayledger.db"
		}
		return sqlite.Open(name), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q: use postgres or sqlite", cfg.DBType)
	}
}

// DSN renders the postgres keyword/value connection string.
func DSN(cfg config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)
}
