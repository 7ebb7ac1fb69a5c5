// Package daemon composes the data core with fx: every repository, manager
// and background worker is provided once and torn down in reverse order.
package daemon

import (
	"context"
	"fmt"

	"github.com/kekpa/swap-core/internal/breaker"
	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/cache"
	"github.com/kekpa/swap-core/internal/config"
	"github.com/kekpa/swap-core/internal/connectivity"
	"github.com/kekpa/swap-core/internal/lock"
	"github.com/kekpa/swap-core/internal/logging"
	"github.com/kekpa/swap-core/internal/outbox"
	"github.com/kekpa/swap-core/internal/profile"
	"github.com/kekpa/swap-core/internal/repo"
	"github.com/kekpa/swap-core/internal/store"
	"github.com/kekpa/swap-core/internal/timeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved runtime configuration passed to the fx module.
type Params struct {
	DataDir string // optional override; empty = profile default
}

// Remote bundles the backend integration points. The core never talks to the
// network directly; the embedding app supplies these.
type Remote struct {
	FetchConversations      func(ctx context.Context) ([]*repo.Conversation, error)
	FetchMessages           func(ctx context.Context, conversationID string, since int64) ([]*repo.Message, error)
	FetchBalances           cache.BalanceFetcher
	FetchRecentTransactions cache.TransactionFetcher
	SwitchPrimaryWallet     cache.PrimarySwitcher
	Pusher                  outbox.Pusher
	Probe                   connectivity.Probe
}

// Module returns the fx module for the data core, composing all providers
// and lifecycle hooks.
func Module(p Params, remote Remote) fx.Option {
	return fx.Module("core",
		fx.Supply(p, remote),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			repo.NewConversations,
			repo.NewMembers,
			repo.NewMessages,
			repo.NewTransactions,
			repo.NewWallets,
			repo.NewSearchHistory,
			repo.NewLocations,
			timeline.NewArena,
			provideMonitor,
			provideBalances,
			provideRecentTransactions,
			provideSweeper,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	base := p.DataDir
	if base == "" {
		base = profile.BaseDir()
	}
	cfg, err := config.Load(profile.ConfigPath(base))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.DataDir = base
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	if err := profile.EnsureDir(cfg.DataDir); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(cfg.DataDir))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) *store.Manager {
	return store.NewManager(store.Options{
		Path:                 profile.DBPath(cfg.DataDir),
		MessageRetentionDays: cfg.MessageRetentionDays,
		SearchRetentionDays:  cfg.SearchRetentionDays,
		CacheSizeKiB:         cfg.CacheSizeKiB,
	}, logger)
}

func provideMonitor(remote Remote, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *connectivity.Monitor {
	return connectivity.NewMonitor(remote.Probe, cfg.ProbeInterval(), cfg.Debounce(), b, logger)
}

func provideBalances(remote Remote, wallets *repo.Wallets, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *cache.Balances {
	brk := breaker.New(cfg.MaxRetryFailures, cfg.RetryCooldown())
	return cache.NewBalances(wallets, remote.FetchBalances, remote.SwitchPrimaryWallet, brk, cfg.Debounce(), b, logger)
}

func provideRecentTransactions(remote Remote, txns *repo.Transactions, logger *zap.Logger) *cache.RecentTransactions {
	return cache.NewRecentTransactions(txns, remote.FetchRecentTransactions, 50, logger)
}

func provideSweeper(remote Remote, msgs *repo.Messages, txns *repo.Transactions, monitor *connectivity.Monitor, cfg *config.Config, logger *zap.Logger) *outbox.Sweeper {
	return outbox.NewSweeper(msgs, txns, remote.Pusher, monitor.OfflineMode, cfg.SweepInterval(), 50, logger)
}

func registerLifecycle(lc fx.Lifecycle, m *store.Manager, monitor *connectivity.Monitor, sweeper *outbox.Sweeper, balances *cache.Balances, recent *cache.RecentTransactions, conversations *repo.Conversations, remote Remote, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := m.Initialize(ctx); err != nil {
				return fmt.Errorf("initialize store: %w", err)
			}

			// Drain the outbox, refresh the activity feed and pull
			// conversation heads whenever reachability comes back.
			monitor.OnCatchUp(sweeper.Kick)
			monitor.OnCatchUp(recent.CatchUp)
			if remote.FetchConversations != nil {
				monitor.OnCatchUp(func() {
					go conversations.SyncFromRemote(context.Background(), remote.FetchConversations)
				})
			}
			monitor.Start(context.Background())
			sweeper.Start(context.Background())

			logger.Info("core started")
			return nil
		},
		OnStop: func(context.Context) error {
			sweeper.Stop()
			monitor.Stop()
			balances.Close()
			if err := m.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("core stopped")
			return nil
		},
	})
}
