package repo

import (
	"context"
	"database/sql"

	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Transactions is the repository for transaction rows.
type Transactions struct {
	base
}

// NewTransactions creates the transaction repository.
func NewTransactions(m *store.Manager, b *bus.Bus, logger *zap.Logger) *Transactions {
	return &Transactions{base{store: m, bus: b, logger: logger}}
}

const transactionUpsert = `
	INSERT INTO transactions (id, conversation_id, from_account, to_account, amount, currency_id, status, kind, description, reversal_ref, from_participant, to_participant, idempotency_key, is_synced, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		amount = excluded.amount,
		status = excluded.status,
		kind = excluded.kind,
		description = excluded.description,
		reversal_ref = excluded.reversal_ref,
		is_synced = excluded.is_synced`

func execTransactionUpsert(e execer, t *Transaction, now int64) error {
	created := t.CreatedAt
	if created == 0 {
		created = now
	}
	_, err := e.Exec(transactionUpsert,
		t.ID, t.ConversationID, t.FromAccount, t.ToAccount, t.Amount.String(), t.CurrencyID,
		t.Status, t.Kind, t.Description, t.ReversalRef, t.FromParticipant, t.ToParticipant,
		nullable(t.IdempotencyKey), boolToInt(t.Synced), created)
	return err
}

// UpsertOne inserts or updates a transaction, idempotent on id, and touches
// the owning conversation's activity timestamp.
func (r *Transactions) UpsertOne(t *Transaction) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	now := nowMilli()
	if err := execTransactionUpsert(db, t, now); err != nil {
		r.logger.Error("upsert transaction failed", zap.Error(err), zap.String("id", t.ID))
		return false
	}
	if t.ConversationID != "" {
		at := t.CreatedAt
		if at == 0 {
			at = now
		}
		if err := touchConversation(db, t.ConversationID, snippet(t.Description), at, false); err != nil {
			r.logger.Error("touch conversation failed", zap.Error(err), zap.String("conversation_id", t.ConversationID))
		}
	}
	r.notify(bus.TransactionChanged, "transaction", t.ID)
	return true
}

// UpsertMany upserts a batch in one transaction. Returns rows written.
func (r *Transactions) UpsertMany(ts []*Transaction) int {
	db, ok := r.conn()
	if !ok || len(ts) == 0 {
		return 0
	}
	tx, err := db.Begin()
	if err != nil {
		r.logger.Error("begin transaction batch failed", zap.Error(err))
		return 0
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMilli()
	ids := make([]string, 0, len(ts))
	for _, t := range ts {
		if err := execTransactionUpsert(tx, t, now); err != nil {
			r.logger.Error("upsert transaction in batch failed", zap.Error(err), zap.String("id", t.ID))
			return 0
		}
		ids = append(ids, t.ID)
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error("commit transaction batch failed", zap.Error(err))
		return 0
	}
	r.notify(bus.TransactionChanged, "transaction", ids...)
	return len(ids)
}

const transactionSelect = `
	SELECT id, conversation_id, from_account, to_account, amount, currency_id,
	       status, kind, description, reversal_ref, from_participant, to_participant,
	       COALESCE(idempotency_key, ''), is_synced, created_at
	FROM transactions`

func scanTransaction(row interface{ Scan(...any) error }) (Transaction, error) {
	var t Transaction
	var amount string
	var synced int
	err := row.Scan(&t.ID, &t.ConversationID, &t.FromAccount, &t.ToAccount, &amount, &t.CurrencyID,
		&t.Status, &t.Kind, &t.Description, &t.ReversalRef, &t.FromParticipant, &t.ToParticipant,
		&t.IdempotencyKey, &synced, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	t.Synced = synced != 0
	t.Amount, err = decimal.NewFromString(amount)
	return t, err
}

func (r *Transactions) queryMany(query string, args ...any) []Transaction {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		r.logger.Error("query transactions failed", zap.Error(err))
		return nil
	}
	defer func() { _ = rows.Close() }()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			r.logger.Error("scan transaction failed", zap.Error(err))
			return out
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("iterate transactions failed", zap.Error(err))
	}
	return out
}

// ListByConversation returns a conversation's transactions ascending by
// creation time for timeline projection.
func (r *Transactions) ListByConversation(conversationID string, limit int) []Transaction {
	if limit <= 0 {
		limit = 500
	}
	return r.queryMany(transactionSelect+`
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`, conversationID, limit)
}

// ListRecent returns the most recent transactions across conversations.
func (r *Transactions) ListRecent(limit int) []Transaction {
	if limit <= 0 {
		limit = 20
	}
	return r.queryMany(transactionSelect+`
		ORDER BY created_at DESC
		LIMIT ?`, limit)
}

// Get returns a single transaction, nil when absent.
func (r *Transactions) Get(id string) *Transaction {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	t, err := scanTransaction(db.QueryRow(transactionSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		r.logger.Error("get transaction failed", zap.Error(err), zap.String("id", id))
		return nil
	}
	return &t
}

// GetByIdempotencyKey returns the transaction carrying a client key.
func (r *Transactions) GetByIdempotencyKey(key string) *Transaction {
	if key == "" {
		return nil
	}
	db, ok := r.conn()
	if !ok {
		return nil
	}
	t, err := scanTransaction(db.QueryRow(transactionSelect+` WHERE idempotency_key = ?`, key))
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		r.logger.Error("get transaction by key failed", zap.Error(err))
		return nil
	}
	return &t
}

// DeleteOne removes a transaction row.
func (r *Transactions) DeleteOne(id string) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	if _, err := db.Exec(`DELETE FROM transactions WHERE id = ?`, id); err != nil {
		r.logger.Error("delete transaction failed", zap.Error(err), zap.String("id", id))
		return false
	}
	r.notify(bus.TransactionChanged, "transaction", id)
	return true
}

// Unsynced returns locally-originated transactions awaiting acknowledgment,
// oldest first. This is the transaction outbox.
func (r *Transactions) Unsynced(limit int) []Transaction {
	if limit <= 0 {
		limit = 100
	}
	return r.queryMany(transactionSelect+`
		WHERE is_synced = 0
		ORDER BY created_at ASC
		LIMIT ?`, limit)
}

// MarkSynced flips the outbox flag after remote acknowledgment.
func (r *Transactions) MarkSynced(ids ...string) bool {
	db, ok := r.conn()
	if !ok || len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if _, err := db.Exec(`UPDATE transactions SET is_synced = 1 WHERE id = ?`, id); err != nil {
			r.logger.Error("mark transaction synced failed", zap.Error(err), zap.String("id", id))
			return false
		}
	}
	r.notify(bus.TransactionChanged, "transaction", ids...)
	return true
}

// SyncFromRemote pulls authoritative transactions since the stored
// checkpoint and upserts them marked synced.
func (r *Transactions) SyncFromRemote(ctx context.Context, fetch func(ctx context.Context, since int64) ([]*Transaction, error)) int {
	db, ok := r.conn()
	if !ok {
		return 0
	}
	const key = "transactions.synced_at"
	since := checkpoint(db, key)

	fetched, err := fetch(ctx, since)
	if err != nil {
		r.logger.Warn("transaction sync fetch failed", zap.Error(err))
		return 0
	}
	var max int64
	for _, t := range fetched {
		t.Synced = true
		if t.CreatedAt > max {
			max = t.CreatedAt
		}
	}
	n := r.UpsertMany(fetched)
	if n > 0 && max > since {
		if err := setCheckpoint(db, key, max); err != nil {
			r.logger.Warn("advance transaction checkpoint failed", zap.Error(err))
		}
	}
	return n
}
