package store

import (
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// maintain prunes aged rows and refreshes planner statistics. Every step is
// best-effort: a failure is logged and skipped, never propagated, so a full
// disk or locked table cannot take down initialization.
func (m *Manager) maintain(db *sql.DB) {
	now := time.Now()

	if days := m.opts.MessageRetentionDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days).UnixMilli()
		if res, err := db.Exec(`DELETE FROM messages WHERE created_at > 0 AND created_at < ?`, cutoff); err != nil {
			m.logger.Warn("message retention prune failed", zap.Error(err))
		} else if n, _ := res.RowsAffected(); n > 0 {
			m.logger.Info("pruned aged messages", zap.Int64("rows", n))
		}
	}

	if days := m.opts.SearchRetentionDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days).UnixMilli()
		if _, err := db.Exec(`DELETE FROM search_history WHERE created_at > 0 AND created_at < ?`, cutoff); err != nil {
			m.logger.Warn("search history prune failed", zap.Error(err))
		}
		if _, err := db.Exec(`DELETE FROM location_cache WHERE updated_at > 0 AND updated_at < ?`, cutoff); err != nil {
			m.logger.Warn("location cache prune failed", zap.Error(err))
		}
	}

	if _, err := db.Exec(`ANALYZE`); err != nil {
		m.logger.Warn("analyze failed", zap.Error(err))
	}
}
