package migration

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/pkg/db"
)

// Up opens a dedicated connection and applies pending migrations. Used by
// the ops CLI where no fx graph or gorm pool exists.
func Up(cfg config.Config) error {
	if cfg.DBType != "postgres" {
		return fmt.Errorf("migrations require postgres, got %q", cfg.DBType)
	}

	conn, err := sql.Open("postgres", db.DSN(cfg))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	if err := conn.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return RunMigrations(conn)
}
