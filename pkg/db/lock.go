package db

import "gorm.io/gorm"

// ForUpdate returns the row-locking suffix for dialects that support it.
// SQLite locks the whole database per write transaction and gets none.
func ForUpdate(conn *gorm.DB) string {
	if supportsRowLocks(conn) {
		return " FOR UPDATE"
	}
	return ""
}

func supportsRowLocks(conn *gorm.DB) bool {
	if conn == nil || conn.Dialector == nil {
		return false
	}
	switch conn.Dialector.Name() {
	case "postgres":
		return true
	default:
		return false
	}
}
