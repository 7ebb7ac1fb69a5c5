package repo

import (
	"context"

	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/store"
	"go.uber.org/zap"
)

// Members is the repository for conversation membership rows.
type Members struct {
	base
}

// NewMembers creates the membership repository.
func NewMembers(m *store.Manager, b *bus.Bus, logger *zap.Logger) *Members {
	return &Members{base{store: m, bus: b, logger: logger}}
}

const memberUpsert = `
	INSERT INTO conversation_members (conversation_id, participant_id, role, display_name, avatar_url, participant_kind, joined_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_id, participant_id) DO UPDATE SET
		role = excluded.role,
		display_name = excluded.display_name,
		avatar_url = excluded.avatar_url,
		participant_kind = excluded.participant_kind`

// UpsertOne inserts or updates a member, idempotent on the composite key.
func (r *Members) UpsertOne(m *Member) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	_, err := db.Exec(memberUpsert,
		m.ConversationID, m.ParticipantID, m.Role, m.DisplayName, m.AvatarURL, m.ParticipantKind, m.JoinedAt)
	if err != nil {
		r.logger.Error("upsert member failed", zap.Error(err),
			zap.String("conversation_id", m.ConversationID), zap.String("participant_id", m.ParticipantID))
		return false
	}
	r.notify(bus.ConversationChanged, "member", m.ConversationID)
	return true
}

// UpsertMany upserts a batch in one transaction. Returns rows written.
func (r *Members) UpsertMany(ms []*Member) int {
	db, ok := r.conn()
	if !ok || len(ms) == 0 {
		return 0
	}
	tx, err := db.Begin()
	if err != nil {
		r.logger.Error("begin member batch failed", zap.Error(err))
		return 0
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range ms {
		if _, err := tx.Exec(memberUpsert,
			m.ConversationID, m.ParticipantID, m.Role, m.DisplayName, m.AvatarURL, m.ParticipantKind, m.JoinedAt); err != nil {
			r.logger.Error("upsert member in batch failed", zap.Error(err),
				zap.String("participant_id", m.ParticipantID))
			return 0
		}
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error("commit member batch failed", zap.Error(err))
		return 0
	}
	if len(ms) > 0 {
		r.notify(bus.ConversationChanged, "member", ms[0].ConversationID)
	}
	return len(ms)
}

// ListByConversation returns members of one conversation, join order.
func (r *Members) ListByConversation(conversationID string) []Member {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	rows, err := db.Query(`
		SELECT conversation_id, participant_id, role, display_name, avatar_url, participant_kind, joined_at
		FROM conversation_members
		WHERE conversation_id = ?
		ORDER BY joined_at`, conversationID)
	if err != nil {
		r.logger.Error("list members failed", zap.Error(err), zap.String("conversation_id", conversationID))
		return nil
	}
	defer func() { _ = rows.Close() }()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ConversationID, &m.ParticipantID, &m.Role, &m.DisplayName,
			&m.AvatarURL, &m.ParticipantKind, &m.JoinedAt); err != nil {
			r.logger.Error("scan member failed", zap.Error(err))
			return out
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("iterate members failed", zap.Error(err))
	}
	return out
}

// DeleteOne removes a single membership pair.
func (r *Members) DeleteOne(conversationID, participantID string) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	_, err := db.Exec(`DELETE FROM conversation_members WHERE conversation_id = ? AND participant_id = ?`,
		conversationID, participantID)
	if err != nil {
		r.logger.Error("delete member failed", zap.Error(err), zap.String("participant_id", participantID))
		return false
	}
	r.notify(bus.ConversationChanged, "member", conversationID)
	return true
}

// SyncFromRemote pulls authoritative members for one conversation.
func (r *Members) SyncFromRemote(ctx context.Context, conversationID string, fetch func(ctx context.Context, conversationID string) ([]*Member, error)) int {
	fetched, err := fetch(ctx, conversationID)
	if err != nil {
		r.logger.Warn("member sync fetch failed", zap.Error(err), zap.String("conversation_id", conversationID))
		return 0
	}
	return r.UpsertMany(fetched)
}
