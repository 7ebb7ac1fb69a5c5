// Package cache implements the cache-then-refresh read managers. Reads are
// answered from the local store immediately; remote refreshes run coalesced
// in the background and land through the repositories, so readers observe
// them via bus notifications.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kekpa/swap-core/internal/breaker"
	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/repo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrSwitchInFlight rejects a primary-wallet switch while one is
	// outstanding.
	ErrSwitchInFlight = errors.New("wallet switch already in flight")
	// ErrBreakerOpen rejects a switch while the retry breaker cools down.
	ErrBreakerOpen = errors.New("wallet switch cooling down after repeated failures")
)

// BalanceFetcher pulls an account's authoritative wallets from the backend.
type BalanceFetcher func(ctx context.Context, accountID string) ([]*repo.Wallet, error)

// PrimarySwitcher asks the backend to change an account's primary wallet.
type PrimarySwitcher func(ctx context.Context, accountID, walletID string) error

// Balances serves wallet balances cache-first. A primary-wallet switch is
// optimistic: an in-memory overlay flips the primary immediately, the remote
// call runs, and the overlay either settles into the store or rolls back.
type Balances struct {
	wallets     *repo.Wallets
	fetch       BalanceFetcher
	switchCall  PrimarySwitcher
	breaker     *breaker.Breaker
	settleAfter time.Duration
	bus         *bus.Bus
	logger      *zap.Logger
	group       singleflight.Group

	mu      sync.Mutex
	overlay map[string]string // accountID -> walletID shown as primary
	stale   map[string]bool
	settle  map[string]*time.Timer
}

// NewBalances creates the balance manager.
func NewBalances(wallets *repo.Wallets, fetch BalanceFetcher, switchCall PrimarySwitcher, brk *breaker.Breaker, settleAfter time.Duration, b *bus.Bus, logger *zap.Logger) *Balances {
	return &Balances{
		wallets:     wallets,
		fetch:       fetch,
		switchCall:  switchCall,
		breaker:     brk,
		settleAfter: settleAfter,
		bus:         b,
		logger:      logger,
		overlay:     make(map[string]string),
		stale:       make(map[string]bool),
		settle:      make(map[string]*time.Timer),
	}
}

// Get returns the account's wallets, primary first. Cached rows are served
// immediately; a refresh runs in the background when forced or when a
// catch-up marked the account stale. Only an empty cache waits on the remote,
// and only then does a remote failure surface as an error.
func (c *Balances) Get(ctx context.Context, accountID string, force bool) ([]repo.Wallet, error) {
	cached := c.wallets.ListByAccount(accountID)
	if len(cached) == 0 {
		if err := c.refresh(ctx, accountID); err != nil {
			return nil, err
		}
		return c.withOverlay(accountID, c.wallets.ListByAccount(accountID)), nil
	}

	if force || c.takeStale(accountID) {
		go func() {
			if err := c.refresh(context.Background(), accountID); err != nil {
				c.logger.Warn("background balance refresh failed",
					zap.Error(err), zap.String("account_id", accountID))
			}
		}()
	}
	return c.withOverlay(accountID, cached), nil
}

// CatchUp marks an account stale so the next read refreshes. Wired to the
// connectivity monitor's recovery signal.
func (c *Balances) CatchUp(accountID string) {
	c.mu.Lock()
	c.stale[accountID] = true
	c.mu.Unlock()
}

// SwitchPrimary changes the account's primary wallet optimistically. The
// overlay makes reads reflect the switch at once; on remote failure it rolls
// back and the error is returned. One switch may be outstanding at a time.
func (c *Balances) SwitchPrimary(ctx context.Context, accountID, walletID string) error {
	if err := c.breaker.Attempt(); err != nil {
		switch {
		case errors.Is(err, breaker.ErrInFlight):
			return ErrSwitchInFlight
		case errors.Is(err, breaker.ErrCoolingDown):
			return ErrBreakerOpen
		}
		return err
	}

	c.mu.Lock()
	c.overlay[accountID] = walletID
	c.mu.Unlock()
	c.notify(accountID)

	if err := c.switchCall(ctx, accountID, walletID); err != nil {
		c.dropOverlay(accountID)
		c.breaker.Fail()
		c.notify(accountID)
		return fmt.Errorf("switch primary wallet: %w", err)
	}
	if !c.wallets.SetPrimary(accountID, walletID) {
		c.dropOverlay(accountID)
		c.breaker.Fail()
		c.notify(accountID)
		return fmt.Errorf("persist primary wallet %s for account %s", walletID, accountID)
	}
	c.breaker.Succeed()

	// Keep the overlay until the next authoritative refresh settles, so a
	// stale background fetch landing mid-switch cannot flip the primary back.
	// One timer per account: a switch on another account must not disturb
	// this one's settle window.
	c.mu.Lock()
	if t := c.settle[accountID]; t != nil {
		t.Stop()
	}
	c.settle[accountID] = time.AfterFunc(c.settleAfter, func() {
		c.mu.Lock()
		delete(c.settle, accountID)
		delete(c.overlay, accountID)
		c.stale[accountID] = true
		c.mu.Unlock()
		c.notify(accountID)
	})
	c.mu.Unlock()
	return nil
}

// Close stops every pending settle timer.
func (c *Balances) Close() {
	c.mu.Lock()
	for id, t := range c.settle {
		t.Stop()
		delete(c.settle, id)
	}
	c.mu.Unlock()
}

func (c *Balances) refresh(ctx context.Context, accountID string) error {
	if c.fetch == nil {
		return nil
	}
	_, err, _ := c.group.Do("balances:"+accountID, func() (any, error) {
		var fetchErr error
		c.wallets.SyncFromRemote(ctx, accountID, func(ctx context.Context, accountID string) ([]*repo.Wallet, error) {
			ws, err := c.fetch(ctx, accountID)
			fetchErr = err
			return ws, err
		})
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch balances: %w", fetchErr)
		}
		return nil, nil
	})
	return err
}

func (c *Balances) takeStale(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale[accountID] {
		delete(c.stale, accountID)
		return true
	}
	return false
}

func (c *Balances) dropOverlay(accountID string) {
	c.mu.Lock()
	delete(c.overlay, accountID)
	c.mu.Unlock()
}

// withOverlay rewrites the primary flag to match a pending switch and moves
// the overlaid wallet to the front.
func (c *Balances) withOverlay(accountID string, ws []repo.Wallet) []repo.Wallet {
	c.mu.Lock()
	target, ok := c.overlay[accountID]
	c.mu.Unlock()
	if !ok {
		return ws
	}
	out := make([]repo.Wallet, 0, len(ws))
	var primary *repo.Wallet
	for i := range ws {
		w := ws[i]
		w.Primary = w.ID == target
		if w.Primary {
			primary = &w
			continue
		}
		out = append(out, w)
	}
	if primary == nil {
		return ws
	}
	return append([]repo.Wallet{*primary}, out...)
}

func (c *Balances) notify(accountID string) {
	if c.bus != nil {
		c.bus.Emit(bus.WalletChanged, bus.Change{Kind: "wallet", IDs: []string{accountID}})
	}
}
