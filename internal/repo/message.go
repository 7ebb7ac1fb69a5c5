package repo

import (
	"context"
	"database/sql"

	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/store"
	"go.uber.org/zap"
)

// Messages is the repository for message rows.
type Messages struct {
	base
}

// NewMessages creates the message repository.
func NewMessages(m *store.Manager, b *bus.Bus, logger *zap.Logger) *Messages {
	return &Messages{base{store: m, bus: b, logger: logger}}
}

const messageUpsert = `
	INSERT INTO messages (id, conversation_id, sender_id, content, kind, status, metadata, idempotency_key, is_synced, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		content = excluded.content,
		kind = excluded.kind,
		status = excluded.status,
		metadata = excluded.metadata,
		is_synced = excluded.is_synced,
		updated_at = excluded.updated_at`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func execMessageUpsert(e execer, m *Message, now int64) error {
	meta := m.Metadata
	if meta == "" {
		meta = "{}"
	}
	created := m.CreatedAt
	if created == 0 {
		created = now
	}
	_, err := e.Exec(messageUpsert,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.Kind, m.Status, meta,
		nullable(m.IdempotencyKey), boolToInt(m.Synced), created, now)
	return err
}

// touchConversation keeps the owning conversation's snippet, activity
// timestamp and unread counter current, creating the row if the message
// arrived before its conversation did.
func touchConversation(e execer, conversationID, snippet string, at int64, bumpUnread bool) error {
	unread := 0
	if bumpUnread {
		unread = 1
	}
	_, err := e.Exec(`
		INSERT INTO conversations (id, last_message_snippet, last_message_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_snippet = CASE WHEN excluded.last_message_at >= conversations.last_message_at
				THEN excluded.last_message_snippet ELSE conversations.last_message_snippet END,
			unread_count = conversations.unread_count + ?,
			updated_at = excluded.updated_at`,
		conversationID, snippet, at, unread, nowMilli(), unread)
	return err
}

func snippet(s string) string {
	const max = 100
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// UpsertOne inserts or updates a message, idempotent on id, and touches the
// owning conversation. Inbound rows (not from the local account) bump the
// unread counter.
func (r *Messages) UpsertOne(m *Message, inbound bool) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	now := nowMilli()
	if err := execMessageUpsert(db, m, now); err != nil {
		r.logger.Error("upsert message failed", zap.Error(err), zap.String("id", m.ID))
		return false
	}
	at := m.CreatedAt
	if at == 0 {
		at = now
	}
	if err := touchConversation(db, m.ConversationID, snippet(m.Content), at, inbound); err != nil {
		r.logger.Error("touch conversation failed", zap.Error(err), zap.String("conversation_id", m.ConversationID))
	}
	r.notify(bus.MessageChanged, "message", m.ID)
	r.notify(bus.ConversationChanged, "conversation", m.ConversationID)
	return true
}

// UpsertMany upserts a batch in one transaction. Returns rows written.
func (r *Messages) UpsertMany(ms []*Message) int {
	db, ok := r.conn()
	if !ok || len(ms) == 0 {
		return 0
	}
	tx, err := db.Begin()
	if err != nil {
		r.logger.Error("begin message batch failed", zap.Error(err))
		return 0
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMilli()
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		if err := execMessageUpsert(tx, m, now); err != nil {
			r.logger.Error("upsert message in batch failed", zap.Error(err), zap.String("id", m.ID))
			return 0
		}
		at := m.CreatedAt
		if at == 0 {
			at = now
		}
		if err := touchConversation(tx, m.ConversationID, snippet(m.Content), at, false); err != nil {
			r.logger.Error("touch conversation in batch failed", zap.Error(err))
			return 0
		}
		ids = append(ids, m.ID)
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error("commit message batch failed", zap.Error(err))
		return 0
	}
	r.notify(bus.MessageChanged, "message", ids...)
	return len(ids)
}

const messageSelect = `
	SELECT id, conversation_id, sender_id, content, kind, status, metadata,
	       COALESCE(idempotency_key, ''), is_synced, created_at, updated_at
	FROM messages`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	var synced int
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Kind, &m.Status,
		&m.Metadata, &m.IdempotencyKey, &synced, &m.CreatedAt, &m.UpdatedAt)
	m.Synced = synced != 0
	return m, err
}

func (r *Messages) queryMany(query string, args ...any) []Message {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		r.logger.Error("query messages failed", zap.Error(err))
		return nil
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			r.logger.Error("scan message failed", zap.Error(err))
			return out
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("iterate messages failed", zap.Error(err))
	}
	return out
}

// ListByConversation returns a conversation's messages ascending by
// creation time, which is the order the timeline projects them in.
func (r *Messages) ListByConversation(conversationID string, limit int) []Message {
	if limit <= 0 {
		limit = 500
	}
	return r.queryMany(messageSelect+`
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`, conversationID, limit)
}

// Get returns a single message, nil when absent.
func (r *Messages) Get(id string) *Message {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	m, err := scanMessage(db.QueryRow(messageSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		r.logger.Error("get message failed", zap.Error(err), zap.String("id", id))
		return nil
	}
	return &m
}

// GetByIdempotencyKey returns the message carrying a client key, nil when
// absent. Used by reconciliation to locate optimistic placeholders.
func (r *Messages) GetByIdempotencyKey(key string) *Message {
	if key == "" {
		return nil
	}
	db, ok := r.conn()
	if !ok {
		return nil
	}
	m, err := scanMessage(db.QueryRow(messageSelect+` WHERE idempotency_key = ?`, key))
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		r.logger.Error("get message by key failed", zap.Error(err))
		return nil
	}
	return &m
}

// DeleteOne removes a message row.
func (r *Messages) DeleteOne(id string) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	if _, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id); err != nil {
		r.logger.Error("delete message failed", zap.Error(err), zap.String("id", id))
		return false
	}
	r.notify(bus.MessageChanged, "message", id)
	return true
}

// Unsynced returns locally-originated messages awaiting acknowledgment,
// oldest first. This is the message outbox.
func (r *Messages) Unsynced(limit int) []Message {
	if limit <= 0 {
		limit = 100
	}
	return r.queryMany(messageSelect+`
		WHERE is_synced = 0
		ORDER BY created_at ASC
		LIMIT ?`, limit)
}

// MarkSynced flips the outbox flag after remote acknowledgment.
func (r *Messages) MarkSynced(ids ...string) bool {
	db, ok := r.conn()
	if !ok || len(ids) == 0 {
		return false
	}
	now := nowMilli()
	for _, id := range ids {
		if _, err := db.Exec(`UPDATE messages SET is_synced = 1, status = 'sent', updated_at = ? WHERE id = ?`, now, id); err != nil {
			r.logger.Error("mark message synced failed", zap.Error(err), zap.String("id", id))
			return false
		}
	}
	r.notify(bus.MessageChanged, "message", ids...)
	return true
}

// SyncFromRemote pulls authoritative messages for one conversation since
// the stored checkpoint and upserts them marked synced.
func (r *Messages) SyncFromRemote(ctx context.Context, conversationID string, fetch func(ctx context.Context, conversationID string, since int64) ([]*Message, error)) int {
	db, ok := r.conn()
	if !ok {
		return 0
	}
	key := "messages.synced_at." + conversationID
	since := checkpoint(db, key)

	fetched, err := fetch(ctx, conversationID, since)
	if err != nil {
		r.logger.Warn("message sync fetch failed", zap.Error(err), zap.String("conversation_id", conversationID))
		return 0
	}
	var max int64
	for _, m := range fetched {
		m.Synced = true
		if m.CreatedAt > max {
			max = m.CreatedAt
		}
	}
	n := r.UpsertMany(fetched)
	if n > 0 && max > since {
		if err := setCheckpoint(db, key, max); err != nil {
			r.logger.Warn("advance message checkpoint failed", zap.Error(err))
		}
	}
	return n
}
