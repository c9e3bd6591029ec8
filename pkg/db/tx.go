package db

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// Serializable runs fn inside a SERIALIZABLE transaction. SQLite transactions
// are already serializable and its drivers reject explicit isolation levels.
func Serializable(ctx context.Context, conn *gorm.DB, fn func(tx *gorm.DB) error) error {
	conn = conn.WithContext(ctx)
	if conn.Dialector != nil && conn.Dialector.Name() == "sqlite" {
		return conn.Transaction(fn)
	}
	return conn.Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
}
