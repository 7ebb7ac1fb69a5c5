package timeline

import (
	"sync"

	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/repo"
	"go.uber.org/zap"
)

// Arena hands out one lazily-created Projector per conversation id.
type Arena struct {
	messages     *repo.Messages
	transactions *repo.Transactions
	bus          *bus.Bus
	logger       *zap.Logger

	mu         sync.Mutex
	projectors map[string]*Projector
}

// NewArena creates the projector arena.
func NewArena(messages *repo.Messages, transactions *repo.Transactions, b *bus.Bus, logger *zap.Logger) *Arena {
	return &Arena{
		messages:     messages,
		transactions: transactions,
		bus:          b,
		logger:       logger,
		projectors:   make(map[string]*Projector),
	}
}

// For returns the projector for a conversation, creating it on first use.
func (a *Arena) For(conversationID string) *Projector {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.projectors[conversationID]
	if !ok {
		p = newProjector(conversationID, a.messages, a.transactions, a.bus, a.logger)
		a.projectors[conversationID] = p
	}
	return p
}

// Drop evicts a conversation's projector, e.g. after deletion.
func (a *Arena) Drop(conversationID string) {
	a.mu.Lock()
	delete(a.projectors, conversationID)
	a.mu.Unlock()
}
