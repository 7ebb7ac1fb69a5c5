package repo

import (
	"database/sql"
	"strconv"
)

// checkpoint reads a sync cursor. Missing keys read as zero.
func checkpoint(db *sql.DB, key string) int64 {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return 0
	}
	ts, _ := strconv.ParseInt(value, 10, 64)
	return ts
}

// setCheckpoint advances a sync cursor.
func setCheckpoint(db *sql.DB, key string, ts int64) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, strconv.FormatInt(ts, 10), nowMilli())
	return err
}
