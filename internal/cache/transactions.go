package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/kekpa/swap-core/internal/repo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TransactionFetcher pulls transactions changed since a unix-milli cursor.
type TransactionFetcher func(ctx context.Context, since int64) ([]*repo.Transaction, error)

// RecentTransactions serves the account's recent activity feed cache-first.
type RecentTransactions struct {
	txns   *repo.Transactions
	fetch  TransactionFetcher
	limit  int
	logger *zap.Logger
	group  singleflight.Group

	mu    sync.Mutex
	stale bool
}

// NewRecentTransactions creates the recent-activity manager. limit caps the
// returned feed.
func NewRecentTransactions(txns *repo.Transactions, fetch TransactionFetcher, limit int, logger *zap.Logger) *RecentTransactions {
	if limit <= 0 {
		limit = 50
	}
	return &RecentTransactions{txns: txns, fetch: fetch, limit: limit, logger: logger}
}

// Get returns recent transactions, newest first. Cached rows are served
// immediately with any warranted refresh running in the background; an empty
// cache waits on the remote and surfaces its error.
func (c *RecentTransactions) Get(ctx context.Context, force bool) ([]repo.Transaction, error) {
	cached := c.txns.ListRecent(c.limit)
	if len(cached) == 0 {
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
		return c.txns.ListRecent(c.limit), nil
	}

	if force || c.takeStale() {
		go func() {
			if err := c.refresh(context.Background()); err != nil {
				c.logger.Warn("background transaction refresh failed", zap.Error(err))
			}
		}()
	}
	return cached, nil
}

// CatchUp marks the feed stale so the next read refreshes.
func (c *RecentTransactions) CatchUp() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

func (c *RecentTransactions) refresh(ctx context.Context) error {
	if c.fetch == nil {
		return nil
	}
	_, err, _ := c.group.Do("transactions:recent", func() (any, error) {
		var fetchErr error
		c.txns.SyncFromRemote(ctx, func(ctx context.Context, since int64) ([]*repo.Transaction, error) {
			ts, err := c.fetch(ctx, since)
			fetchErr = err
			return ts, err
		})
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch recent transactions: %w", fetchErr)
		}
		return nil, nil
	})
	return err
}

func (c *RecentTransactions) takeStale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale {
		c.stale = false
		return true
	}
	return false
}
