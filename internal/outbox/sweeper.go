// Package outbox drains locally-created rows that have not been acknowledged
// by the backend. Anything written with is_synced=0 is outbox work; the
// sweeper pushes it and flips the flag on ack.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/kekpa/swap-core/internal/repo"
	"go.uber.org/zap"
)

// Pusher delivers one unsynced row to the backend. A nil return is an ack.
type Pusher interface {
	PushMessage(ctx context.Context, m *repo.Message) error
	PushTransaction(ctx context.Context, t *repo.Transaction) error
}

// Sweeper periodically scans the unsynced messages and transactions and
// pushes them oldest-first. It stands down while the device is offline and
// can be kicked immediately on connectivity recovery.
type Sweeper struct {
	messages     *repo.Messages
	transactions *repo.Transactions
	pusher       Pusher
	offline      func() bool
	interval     time.Duration
	batch        int
	logger       *zap.Logger

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper. offline gates each pass; batch caps rows per
// family per pass.
func NewSweeper(messages *repo.Messages, transactions *repo.Transactions, pusher Pusher, offline func() bool, interval time.Duration, batch int, logger *zap.Logger) *Sweeper {
	if batch <= 0 {
		batch = 50
	}
	return &Sweeper{
		messages:     messages,
		transactions: transactions,
		pusher:       pusher,
		offline:      offline,
		interval:     interval,
		batch:        batch,
		logger:       logger,
		kick:         make(chan struct{}, 1),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.kick:
				s.Sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Kick requests an immediate pass. Wired to the connectivity monitor's
// catch-up signal. Non-blocking; a pending kick is enough.
func (s *Sweeper) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Stop halts the loop and waits for an in-progress pass.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Sweep runs one pass and returns how many rows were acknowledged. A push
// failure abandons the rest of that family's batch; the rows stay unsynced
// and the next pass retries them.
func (s *Sweeper) Sweep(ctx context.Context) int {
	if s.pusher == nil || (s.offline != nil && s.offline()) {
		return 0
	}

	acked := 0
	var msgIDs []string
	for _, m := range s.messages.Unsynced(s.batch) {
		m := m
		if err := s.pusher.PushMessage(ctx, &m); err != nil {
			s.logger.Warn("push message failed", zap.Error(err), zap.String("id", m.ID))
			break
		}
		msgIDs = append(msgIDs, m.ID)
	}
	if len(msgIDs) > 0 && s.messages.MarkSynced(msgIDs...) {
		acked += len(msgIDs)
	}

	var txnIDs []string
	for _, t := range s.transactions.Unsynced(s.batch) {
		t := t
		if err := s.pusher.PushTransaction(ctx, &t); err != nil {
			s.logger.Warn("push transaction failed", zap.Error(err), zap.String("id", t.ID))
			break
		}
		txnIDs = append(txnIDs, t.ID)
	}
	if len(txnIDs) > 0 && s.transactions.MarkSynced(txnIDs...) {
		acked += len(txnIDs)
	}

	if acked > 0 {
		s.logger.Info("outbox swept", zap.Int("acked", acked))
	}
	return acked
}
