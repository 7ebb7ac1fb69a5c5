package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Wallets is the repository for multi-currency wallet rows. The schema
// enforces one wallet per (account, currency); the single-primary rule is
// enforced here because the primary switch is a two-step optimistic
// operation that cannot live in a constraint.
type Wallets struct {
	base
}

// NewWallets creates the wallet repository.
func NewWallets(m *store.Manager, b *bus.Bus, logger *zap.Logger) *Wallets {
	return &Wallets{base{store: m, bus: b, logger: logger}}
}

const walletUpsert = `
	INSERT INTO currency_wallets (id, account_id, currency_id, currency_code, currency_symbol, balance, reserved_balance, available_balance, is_active, is_primary, is_synced, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		currency_code = excluded.currency_code,
		currency_symbol = excluded.currency_symbol,
		balance = excluded.balance,
		reserved_balance = excluded.reserved_balance,
		available_balance = excluded.available_balance,
		is_active = excluded.is_active,
		is_primary = excluded.is_primary,
		is_synced = excluded.is_synced,
		updated_at = excluded.updated_at
	ON CONFLICT(account_id, currency_id) DO UPDATE SET
		id = excluded.id,
		currency_code = excluded.currency_code,
		currency_symbol = excluded.currency_symbol,
		balance = excluded.balance,
		reserved_balance = excluded.reserved_balance,
		available_balance = excluded.available_balance,
		is_active = excluded.is_active,
		is_primary = excluded.is_primary,
		is_synced = excluded.is_synced,
		updated_at = excluded.updated_at`

func execWalletUpsert(e execer, w *Wallet, now int64) error {
	updated := w.UpdatedAt
	if updated == 0 {
		updated = now
	}
	_, err := e.Exec(walletUpsert,
		w.ID, w.AccountID, w.CurrencyID, w.CurrencyCode, w.CurrencySymbol,
		w.Balance.String(), w.ReservedBalance.String(), w.AvailableBalance.String(),
		boolToInt(w.Active), boolToInt(w.Primary), boolToInt(w.Synced), updated)
	return err
}

// UpsertOne inserts or updates a wallet, idempotent on id.
func (r *Wallets) UpsertOne(w *Wallet) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	if err := execWalletUpsert(db, w, nowMilli()); err != nil {
		r.logger.Error("upsert wallet failed", zap.Error(err), zap.String("id", w.ID))
		return false
	}
	r.notify(bus.WalletChanged, "wallet", w.ID)
	return true
}

// UpsertMany upserts a batch in one transaction. Returns rows written.
func (r *Wallets) UpsertMany(ws []*Wallet) int {
	db, ok := r.conn()
	if !ok || len(ws) == 0 {
		return 0
	}
	tx, err := db.Begin()
	if err != nil {
		r.logger.Error("begin wallet batch failed", zap.Error(err))
		return 0
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMilli()
	ids := make([]string, 0, len(ws))
	for _, w := range ws {
		if err := execWalletUpsert(tx, w, now); err != nil {
			r.logger.Error("upsert wallet in batch failed", zap.Error(err), zap.String("id", w.ID))
			return 0
		}
		ids = append(ids, w.ID)
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error("commit wallet batch failed", zap.Error(err))
		return 0
	}
	r.notify(bus.WalletChanged, "wallet", ids...)
	return len(ids)
}

const walletSelect = `
	SELECT id, account_id, currency_id, currency_code, currency_symbol,
	       balance, reserved_balance, available_balance,
	       is_active, is_primary, is_synced, updated_at
	FROM currency_wallets`

func scanWallet(row interface{ Scan(...any) error }) (Wallet, error) {
	var w Wallet
	var balance, reserved, available string
	var active, primary, synced int
	err := row.Scan(&w.ID, &w.AccountID, &w.CurrencyID, &w.CurrencyCode, &w.CurrencySymbol,
		&balance, &reserved, &available, &active, &primary, &synced, &w.UpdatedAt)
	if err != nil {
		return w, err
	}
	w.Active = active != 0
	w.Primary = primary != 0
	w.Synced = synced != 0
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return w, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	if w.ReservedBalance, err = decimal.NewFromString(reserved); err != nil {
		return w, fmt.Errorf("parse reserved balance %q: %w", reserved, err)
	}
	if w.AvailableBalance, err = decimal.NewFromString(available); err != nil {
		return w, fmt.Errorf("parse available balance %q: %w", available, err)
	}
	return w, nil
}

// ListByAccount returns an account's wallets, primary first.
func (r *Wallets) ListByAccount(accountID string) []Wallet {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	rows, err := db.Query(walletSelect+`
		WHERE account_id = ?
		ORDER BY is_primary DESC, currency_code ASC`, accountID)
	if err != nil {
		r.logger.Error("list wallets failed", zap.Error(err), zap.String("account_id", accountID))
		return nil
	}
	defer func() { _ = rows.Close() }()

	var out []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			r.logger.Error("scan wallet failed", zap.Error(err))
			return out
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("iterate wallets failed", zap.Error(err))
	}
	return out
}

// Get returns a single wallet, nil when absent.
func (r *Wallets) Get(id string) *Wallet {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	w, err := scanWallet(db.QueryRow(walletSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		r.logger.Error("get wallet failed", zap.Error(err), zap.String("id", id))
		return nil
	}
	return &w
}

// GetPrimary returns the account's primary wallet, nil when none is marked.
func (r *Wallets) GetPrimary(accountID string) *Wallet {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	w, err := scanWallet(db.QueryRow(walletSelect+` WHERE account_id = ? AND is_primary = 1`, accountID))
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		r.logger.Error("get primary wallet failed", zap.Error(err), zap.String("account_id", accountID))
		return nil
	}
	return &w
}

// SetPrimary marks one wallet primary and demotes the rest of the account's
// wallets in a single transaction, preserving the single-primary rule.
func (r *Wallets) SetPrimary(accountID, walletID string) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	tx, err := db.Begin()
	if err != nil {
		r.logger.Error("begin set primary failed", zap.Error(err))
		return false
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMilli()
	if _, err := tx.Exec(`UPDATE currency_wallets SET is_primary = 0, updated_at = ? WHERE account_id = ? AND is_primary = 1`, now, accountID); err != nil {
		r.logger.Error("demote primary failed", zap.Error(err), zap.String("account_id", accountID))
		return false
	}
	res, err := tx.Exec(`UPDATE currency_wallets SET is_primary = 1, updated_at = ? WHERE id = ? AND account_id = ?`, now, walletID, accountID)
	if err != nil {
		r.logger.Error("promote primary failed", zap.Error(err), zap.String("id", walletID))
		return false
	}
	if n, _ := res.RowsAffected(); n == 0 {
		r.logger.Warn("set primary target not found", zap.String("id", walletID), zap.String("account_id", accountID))
		return false
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error("commit set primary failed", zap.Error(err))
		return false
	}
	r.notify(bus.WalletChanged, "wallet", walletID)
	return true
}

// DeleteOne removes a wallet row.
func (r *Wallets) DeleteOne(id string) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	if _, err := db.Exec(`DELETE FROM currency_wallets WHERE id = ?`, id); err != nil {
		r.logger.Error("delete wallet failed", zap.Error(err), zap.String("id", id))
		return false
	}
	r.notify(bus.WalletChanged, "wallet", id)
	return true
}

// SyncFromRemote pulls an account's authoritative wallets and upserts them
// marked synced.
func (r *Wallets) SyncFromRemote(ctx context.Context, accountID string, fetch func(ctx context.Context, accountID string) ([]*Wallet, error)) int {
	fetched, err := fetch(ctx, accountID)
	if err != nil {
		r.logger.Warn("wallet sync fetch failed", zap.Error(err), zap.String("account_id", accountID))
		return 0
	}
	for _, w := range fetched {
		w.Synced = true
	}
	return r.UpsertMany(fetched)
}
