package repo

import (
	"context"
	"database/sql"

	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/store"
	"go.uber.org/zap"
)

// Conversations is the repository for conversation rows.
type Conversations struct {
	base
}

// NewConversations creates the conversation repository.
func NewConversations(m *store.Manager, b *bus.Bus, logger *zap.Logger) *Conversations {
	return &Conversations{base{store: m, bus: b, logger: logger}}
}

const conversationUpsert = `
	INSERT INTO conversations (id, name, is_group, last_message_snippet, last_message_at, unread_count, icon_url, metadata, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		is_group = excluded.is_group,
		last_message_snippet = excluded.last_message_snippet,
		last_message_at = excluded.last_message_at,
		unread_count = excluded.unread_count,
		icon_url = excluded.icon_url,
		metadata = excluded.metadata,
		updated_at = excluded.updated_at`

// UpsertOne inserts or updates a conversation, idempotent on id.
func (r *Conversations) UpsertOne(c *Conversation) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	meta := c.Metadata
	if meta == "" {
		meta = "{}"
	}
	_, err := db.Exec(conversationUpsert,
		c.ID, nullable(c.Name), c.IsGroup, c.LastMessageSnippet, c.LastMessageAt,
		c.UnreadCount, c.IconURL, meta, nowMilli())
	if err != nil {
		r.logger.Error("upsert conversation failed", zap.Error(err), zap.String("id", c.ID))
		return false
	}
	r.notify(bus.ConversationChanged, "conversation", c.ID)
	return true
}

// UpsertMany upserts a batch in one transaction. Returns rows written.
func (r *Conversations) UpsertMany(cs []*Conversation) int {
	db, ok := r.conn()
	if !ok || len(cs) == 0 {
		return 0
	}
	tx, err := db.Begin()
	if err != nil {
		r.logger.Error("begin conversation batch failed", zap.Error(err))
		return 0
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMilli()
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		meta := c.Metadata
		if meta == "" {
			meta = "{}"
		}
		if _, err := tx.Exec(conversationUpsert,
			c.ID, nullable(c.Name), c.IsGroup, c.LastMessageSnippet, c.LastMessageAt,
			c.UnreadCount, c.IconURL, meta, now); err != nil {
			r.logger.Error("upsert conversation in batch failed", zap.Error(err), zap.String("id", c.ID))
			return 0
		}
		ids = append(ids, c.ID)
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error("commit conversation batch failed", zap.Error(err))
		return 0
	}
	r.notify(bus.ConversationChanged, "conversation", ids...)
	return len(ids)
}

// Display-name fallback: conversation name, then the earliest member's
// display name, then the id. Resolved here so call sites never re-derive it.
const conversationSelect = `
	SELECT c.id,
		COALESCE(NULLIF(c.name, ''),
			(SELECT m.display_name FROM conversation_members m
			 WHERE m.conversation_id = c.id AND m.display_name != ''
			 ORDER BY m.joined_at LIMIT 1),
			c.id) AS display_name,
		c.is_group, c.last_message_snippet, c.last_message_at,
		c.unread_count, c.icon_url, c.metadata, c.updated_at
	FROM conversations c`

// List returns conversations ordered by most recent activity.
func (r *Conversations) List(limit, offset int) []Conversation {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(conversationSelect+` ORDER BY c.last_message_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		r.logger.Error("list conversations failed", zap.Error(err))
		return nil
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.LastMessageSnippet, &c.LastMessageAt,
			&c.UnreadCount, &c.IconURL, &c.Metadata, &c.UpdatedAt); err != nil {
			r.logger.Error("scan conversation failed", zap.Error(err))
			return out
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("iterate conversations failed", zap.Error(err))
	}
	return out
}

// Get returns a single conversation, nil when absent.
func (r *Conversations) Get(id string) *Conversation {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	var c Conversation
	err := db.QueryRow(conversationSelect+` WHERE c.id = ?`, id).
		Scan(&c.ID, &c.Name, &c.IsGroup, &c.LastMessageSnippet, &c.LastMessageAt,
			&c.UnreadCount, &c.IconURL, &c.Metadata, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		r.logger.Error("get conversation failed", zap.Error(err), zap.String("id", id))
		return nil
	}
	return &c
}

// DeleteOne removes a conversation; members cascade.
func (r *Conversations) DeleteOne(id string) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	if _, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		r.logger.Error("delete conversation failed", zap.Error(err), zap.String("id", id))
		return false
	}
	r.notify(bus.ConversationChanged, "conversation", id)
	return true
}

// MarkRead clears the unread counter.
func (r *Conversations) MarkRead(id string) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	if _, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`, nowMilli(), id); err != nil {
		r.logger.Error("mark conversation read failed", zap.Error(err), zap.String("id", id))
		return false
	}
	r.notify(bus.ConversationChanged, "conversation", id)
	return true
}

// SyncFromRemote pulls authoritative conversations through the injected
// fetch function and upserts them. Returns rows written; zero on any error.
func (r *Conversations) SyncFromRemote(ctx context.Context, fetch func(ctx context.Context) ([]*Conversation, error)) int {
	fetched, err := fetch(ctx)
	if err != nil {
		r.logger.Warn("conversation sync fetch failed", zap.Error(err))
		return 0
	}
	n := r.UpsertMany(fetched)
	if db, ok := r.conn(); ok && n > 0 {
		var max int64
		for _, c := range fetched {
			if c.LastMessageAt > max {
				max = c.LastMessageAt
			}
		}
		if err := setCheckpoint(db, "conversations.synced_at", max); err != nil {
			r.logger.Warn("advance conversation checkpoint failed", zap.Error(err))
		}
	}
	return n
}
