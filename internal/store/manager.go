package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// InitState tracks the lifecycle of the embedded store.
type InitState string

const (
	NotStarted InitState = "NOT_STARTED"
	InProgress InitState = "IN_PROGRESS"
	Completed  InitState = "COMPLETED"
	Failed     InitState = "FAILED"
)

// ErrNotReady is returned by Conn until initialization has completed.
var ErrNotReady = errors.New("store not initialized")

// Options configures the store manager.
type Options struct {
	Path string
	// MessageRetentionDays bounds how long message rows are kept; older rows
	// are pruned during maintenance. Zero disables pruning.
	MessageRetentionDays int
	// SearchRetentionDays bounds search history and location cache rows.
	SearchRetentionDays int
	// CacheSizeKiB is the sqlite page cache size. Zero uses 8192.
	CacheSizeKiB int
}

// Manager owns the single sqlite connection shared by all repositories.
// Initialization is single-flight: concurrent callers await the same
// underlying attempt, so the schema is applied exactly once. A Failed state
// sticks until RetryInitialization.
type Manager struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	state    InitState
	db       *sql.DB
	initErr  error
	inflight chan struct{}
}

// NewManager creates a store manager. The store is not opened until
// Initialize is called.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if opts.CacheSizeKiB <= 0 {
		opts.CacheSizeKiB = 8192
	}
	return &Manager{opts: opts, logger: logger, state: NotStarted}
}

// Initialize opens the store, applies migrations and runs maintenance.
// Safe to call concurrently: all callers observe the result of one attempt.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Completed:
		m.mu.Unlock()
		return nil
	case Failed:
		err := m.initErr
		m.mu.Unlock()
		return err
	case InProgress:
		done := m.inflight
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		err := m.initErr
		m.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	m.state = InProgress
	m.inflight = done
	m.mu.Unlock()

	db, err := m.open(ctx)

	m.mu.Lock()
	if err != nil {
		m.state = Failed
		m.initErr = err
	} else {
		m.state = Completed
		m.db = db
		m.initErr = nil
	}
	m.inflight = nil
	close(done)
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("store initialization failed", zap.Error(err))
		return err
	}

	// Maintenance failures must never fail initialization.
	m.maintain(db)
	return nil
}

// RetryInitialization resets a Failed store and runs initialization again.
func (m *Manager) RetryInitialization(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Failed {
		m.state = NotStarted
		m.initErr = nil
	}
	m.mu.Unlock()
	return m.Initialize(ctx)
}

// Ready reports whether the store has completed initialization.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Completed
}

// State returns the current initialization state.
func (m *Manager) State() InitState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Conn returns the shared connection. It refuses until initialization has
// completed so callers cannot use a half-migrated store.
func (m *Manager) Conn() (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Completed {
		return nil, ErrNotReady
	}
	return m.db, nil
}

// Close closes the connection and returns the manager to NotStarted.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		m.state = NotStarted
		return nil
	}
	err := m.db.Close()
	m.db = nil
	m.state = NotStarted
	m.initErr = nil
	return err
}

func (m *Manager) open(ctx context.Context) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_cache_size=-%d",
		m.opts.Path, m.opts.CacheSizeKiB)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	result, err := migrateUp(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if result.Changed {
		m.logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		m.logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	m.setupSearchIndex(db)
	m.logger.Info("store initialized", zap.String("path", m.opts.Path))
	return db, nil
}
