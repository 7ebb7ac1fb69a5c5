package timeline

import (
	"sort"
	"sync"

	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/repo"
	"go.uber.org/zap"
)

// entry pairs an item with its arrival order, which breaks creation-time
// ties deterministically.
type entry struct {
	item Item
	seq  uint64
}

// Projector maintains one conversation's merged message + transaction
// timeline in memory. Reads are served from the cached sequence; the store
// is only re-queried on Refresh. If a load fails the last known-good
// sequence keeps being served.
type Projector struct {
	conversationID string
	messages       *repo.Messages
	transactions   *repo.Transactions
	bus            *bus.Bus
	logger         *zap.Logger

	mu      sync.Mutex
	entries []entry
	loaded  bool
	seq     uint64
}

func newProjector(conversationID string, messages *repo.Messages, transactions *repo.Transactions, b *bus.Bus, logger *zap.Logger) *Projector {
	return &Projector{
		conversationID: conversationID,
		messages:       messages,
		transactions:   transactions,
		bus:            b,
		logger:         logger,
	}
}

// Items returns the cached ordered sequence with date separators injected
// at UTC day boundaries, loading from the store on first use.
func (p *Projector) Items(filter Filter) []Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLoaded()

	out := make([]Item, 0, len(p.entries)+8)
	var lastDay int64 = -1
	for _, e := range p.entries {
		switch filter {
		case FilterMessages:
			if e.item.Kind != KindMessage {
				continue
			}
		case FilterTransactions:
			if e.item.Kind != KindTransaction {
				continue
			}
		}
		day := dayOf(e.item.CreatedAt)
		if ms := day.UnixMilli(); ms != lastDay {
			out = append(out, separator(day))
			lastDay = ms
		}
		out = append(out, e.item)
	}
	return out
}

// AddOptimistic persists a locally-created item marked unsynced and inserts
// it into the cached sequence immediately, ahead of any server ack.
func (p *Projector) AddOptimistic(item Item) {
	switch item.Kind {
	case KindMessage:
		m := *item.Message
		m.Synced = false
		p.messages.UpsertOne(&m, false)
	case KindTransaction:
		t := *item.Transaction
		t.Synced = false
		p.transactions.UpsertOne(&t)
	default:
		return
	}

	p.mu.Lock()
	p.ensureLoaded()
	// Re-adding the same identity replaces rather than duplicates.
	if idx := p.identityIndexLocked(item); idx >= 0 {
		p.entries[idx].item = item
		p.sortLocked()
	} else {
		p.insertLocked(item)
	}
	p.mu.Unlock()
	p.notify()
}

// Reconcile merges a server-confirmed item into the timeline. Matching is
// identity first, then idempotency key; a matched optimistic placeholder is
// replaced in position, never duplicated. An unmatched item is inserted at
// its chronological position.
func (p *Projector) Reconcile(server Item) {
	if server.Kind != KindMessage && server.Kind != KindTransaction {
		return
	}

	p.mu.Lock()
	p.ensureLoaded()

	idx := p.matchLocked(server)
	var replacedID string
	if idx >= 0 {
		replacedID = p.entries[idx].item.ID()
		p.entries[idx].item = server
		p.sortLocked()
	} else {
		p.insertLocked(server)
	}
	p.mu.Unlock()

	// Persist the authoritative row; drop the placeholder row when the
	// server assigned a different identity.
	if replacedID != "" && replacedID != server.ID() {
		switch server.Kind {
		case KindMessage:
			p.messages.DeleteOne(replacedID)
		case KindTransaction:
			p.transactions.DeleteOne(replacedID)
		}
	}
	switch server.Kind {
	case KindMessage:
		m := *server.Message
		m.Synced = true
		p.messages.UpsertOne(&m, false)
	case KindTransaction:
		t := *server.Transaction
		t.Synced = true
		p.transactions.UpsertOne(&t)
	}
	p.notify()
}

// Refresh reloads the sequence from the store, keeping the current one on
// failure.
func (p *Projector) Refresh() {
	p.mu.Lock()
	p.loadLocked()
	p.mu.Unlock()
	p.notify()
}

func (p *Projector) ensureLoaded() {
	if !p.loaded {
		p.loadLocked()
	}
}

func (p *Projector) loadLocked() {
	if !p.messages.Available() {
		if p.loaded {
			p.logger.Warn("store unavailable, keeping cached timeline",
				zap.String("conversation_id", p.conversationID))
		}
		return
	}

	msgs := p.messages.ListByConversation(p.conversationID, 0)
	txns := p.transactions.ListByConversation(p.conversationID, 0)

	entries := make([]entry, 0, len(msgs)+len(txns))
	var seq uint64
	for i := range msgs {
		entries = append(entries, entry{item: MessageItem(&msgs[i]), seq: seq})
		seq++
	}
	for i := range txns {
		entries = append(entries, entry{item: TransactionItem(&txns[i]), seq: seq})
		seq++
	}
	p.entries = entries
	p.seq = seq
	p.loaded = true
	p.sortLocked()
}

func (p *Projector) identityIndexLocked(item Item) int {
	id := item.ID()
	for i, e := range p.entries {
		if e.item.Kind == item.Kind && e.item.ID() == id {
			return i
		}
	}
	return -1
}

// matchLocked finds the index of the entry the server item supersedes:
// identity first, then idempotency key. Returns -1 when nothing matches.
func (p *Projector) matchLocked(server Item) int {
	if i := p.identityIndexLocked(server); i >= 0 {
		return i
	}
	if key := server.IdempotencyKey(); key != "" {
		for i, e := range p.entries {
			if e.item.Kind == server.Kind && e.item.IdempotencyKey() == key {
				return i
			}
		}
	}
	return -1
}

func (p *Projector) insertLocked(item Item) {
	p.entries = append(p.entries, entry{item: item, seq: p.seq})
	p.seq++
	p.sortLocked()
}

func (p *Projector) sortLocked() {
	sort.SliceStable(p.entries, func(i, j int) bool {
		a, b := p.entries[i], p.entries[j]
		if a.item.CreatedAt != b.item.CreatedAt {
			return a.item.CreatedAt < b.item.CreatedAt
		}
		return a.seq < b.seq
	})
}

func (p *Projector) notify() {
	if p.bus != nil {
		p.bus.Emit(bus.TimelineChanged, bus.Change{Kind: "timeline", IDs: []string{p.conversationID}})
	}
}
