package repo

import (
	"github.com/google/uuid"
	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/store"
	"go.uber.org/zap"
)

// SearchHistory is the repository for recorded searches. Append-mostly;
// rows beyond the retention window are pruned by store maintenance.
type SearchHistory struct {
	base
}

// NewSearchHistory creates the search history repository.
func NewSearchHistory(m *store.Manager, b *bus.Bus, logger *zap.Logger) *SearchHistory {
	return &SearchHistory{base{store: m, bus: b, logger: logger}}
}

// Record appends a search entry and returns its id.
func (r *SearchHistory) Record(payload string) string {
	db, ok := r.conn()
	if !ok {
		return ""
	}
	id := uuid.New().String()
	now := nowMilli()
	if payload == "" {
		payload = "{}"
	}
	_, err := db.Exec(`
		INSERT INTO search_history (id, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?)`, id, payload, now, now)
	if err != nil {
		r.logger.Error("record search failed", zap.Error(err))
		return ""
	}
	r.notify(bus.SearchChanged, "search", id)
	return id
}

// List returns the most recent entries.
func (r *SearchHistory) List(limit int) []SearchEntry {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, payload, created_at, updated_at
		FROM search_history
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		r.logger.Error("list search history failed", zap.Error(err))
		return nil
	}
	defer func() { _ = rows.Close() }()

	var out []SearchEntry
	for rows.Next() {
		var e SearchEntry
		if err := rows.Scan(&e.ID, &e.Payload, &e.CreatedAt, &e.UpdatedAt); err != nil {
			r.logger.Error("scan search entry failed", zap.Error(err))
			return out
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("iterate search history failed", zap.Error(err))
	}
	return out
}

// DeleteOne removes a search entry.
func (r *SearchHistory) DeleteOne(id string) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	if _, err := db.Exec(`DELETE FROM search_history WHERE id = ?`, id); err != nil {
		r.logger.Error("delete search entry failed", zap.Error(err), zap.String("id", id))
		return false
	}
	r.notify(bus.SearchChanged, "search", id)
	return true
}

// Clear removes all search history.
func (r *SearchHistory) Clear() bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	if _, err := db.Exec(`DELETE FROM search_history`); err != nil {
		r.logger.Error("clear search history failed", zap.Error(err))
		return false
	}
	r.notify(bus.SearchChanged, "search")
	return true
}

// SearchMessages searches message content, full-text when the FTS index is
// present and a plain content scan otherwise (FTS5 is a sqlite compile-time
// option, so the index may be missing at runtime).
func (r *Messages) SearchMessages(query string, conversationID string, limit int) []SearchResult {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.kind, m.status,
		       m.metadata, COALESCE(m.idempotency_key, ''), m.is_synced, m.created_at, m.updated_at,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		rows, err = db.Query(r.contentScanQuery(conversationID), r.contentScanArgs(query, conversationID, limit)...)
	}
	if err != nil {
		r.logger.Error("search messages failed", zap.Error(err))
		return nil
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var res SearchResult
		var synced int
		if err := rows.Scan(
			&res.Message.ID, &res.Message.ConversationID, &res.Message.SenderID,
			&res.Message.Content, &res.Message.Kind, &res.Message.Status,
			&res.Message.Metadata, &res.Message.IdempotencyKey, &synced,
			&res.Message.CreatedAt, &res.Message.UpdatedAt, &res.Snippet,
		); err != nil {
			r.logger.Error("scan search result failed", zap.Error(err))
			return results
		}
		res.Message.Synced = synced != 0
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("iterate search results failed", zap.Error(err))
	}
	return results
}

// contentScanQuery is the FTS-less fallback: a LIKE scan over message
// content with the content itself standing in for the snippet.
func (r *Messages) contentScanQuery(conversationID string) string {
	q := `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.kind, m.status,
		       m.metadata, COALESCE(m.idempotency_key, ''), m.is_synced, m.created_at, m.updated_at,
		       m.content
		FROM messages m
		WHERE m.content LIKE ?`
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
	}
	return q + " ORDER BY m.created_at DESC LIMIT ?"
}

func (r *Messages) contentScanArgs(query, conversationID string, limit int) []any {
	args := []any{"%" + query + "%"}
	if conversationID != "" {
		args = append(args, conversationID)
	}
	return append(args, limit)
}
