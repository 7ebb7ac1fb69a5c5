// Package repo provides one repository per entity family over the shared
// store. Repositories are fail-soft: a store error is logged and an empty
// result (or false) returned, because a cache miss must never crash the
// calling feature. Every successful mutation publishes a change event.
package repo

import (
	"database/sql"
	"time"

	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/store"
	"go.uber.org/zap"
)

type base struct {
	store  *store.Manager
	bus    *bus.Bus
	logger *zap.Logger
}

// Available reports whether the underlying store is ready for use.
func (b *base) Available() bool {
	return b.store.Ready()
}

// conn fetches the shared connection, logging once when the store is not
// ready. Callers treat ok=false as an empty cache.
func (b *base) conn() (*sql.DB, bool) {
	db, err := b.store.Conn()
	if err != nil {
		b.logger.Warn("store not ready", zap.Error(err))
		return nil, false
	}
	return db, true
}

func (b *base) notify(topic bus.Topic, kind string, ids ...string) {
	if b.bus != nil {
		b.bus.Emit(topic, bus.Change{Kind: kind, IDs: ids})
	}
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// nullable maps empty strings to NULL so partial unique indexes on optional
// columns (idempotency_key) skip rows without a value.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
