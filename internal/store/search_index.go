package store

import (
	"database/sql"

	"go.uber.org/zap"
)

// Statements kept in sync: the triggers are only valid while the virtual
// table exists, so they are created and dropped together.
var searchIndexUp = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(content, content='messages', content_rowid='rowid')`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_au AFTER UPDATE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
	END`,
}

var searchIndexDown = []string{
	`DROP TRIGGER IF EXISTS messages_fts_ai`,
	`DROP TRIGGER IF EXISTS messages_fts_ad`,
	`DROP TRIGGER IF EXISTS messages_fts_au`,
	`DROP TABLE IF EXISTS messages_fts`,
}

// setupSearchIndex creates the full-text message index. FTS5 is a sqlite
// compile-time option (the driver needs the sqlite_fts5 build tag), so this
// runs outside the migration chain and is best-effort: without FTS5 the
// index is torn down and message search falls back to a content scan.
func (m *Manager) setupSearchIndex(db *sql.DB) {
	for _, stmt := range searchIndexUp {
		if _, err := db.Exec(stmt); err != nil {
			m.logger.Warn("search index unavailable, content scan fallback in use", zap.Error(err))
			m.dropSearchIndex(db)
			return
		}
	}
}

// dropSearchIndex removes the index and its triggers so message writes do
// not hit a half-created or missing virtual table.
func (m *Manager) dropSearchIndex(db *sql.DB) {
	for _, stmt := range searchIndexDown {
		if _, err := db.Exec(stmt); err != nil {
			m.logger.Warn("search index teardown failed", zap.Error(err))
		}
	}
}
