package timeline

import (
	"time"

	"github.com/kekpa/swap-core/internal/repo"
)

// ItemKind discriminates the timeline union.
type ItemKind string

const (
	KindMessage       ItemKind = "message"
	KindTransaction   ItemKind = "transaction"
	KindDateSeparator ItemKind = "date_separator"
)

// Filter selects which entity kinds a projection returns.
type Filter string

const (
	FilterAll          Filter = "all"
	FilterMessages     Filter = "messages"
	FilterTransactions Filter = "transactions"
)

// Item is a tagged union over the timeline entry kinds. Exactly one of
// Message and Transaction is set for entity items; Day is set for
// separators. Items are read-only projections, never persisted.
type Item struct {
	Kind        ItemKind
	CreatedAt   int64
	Message     *repo.Message
	Transaction *repo.Transaction
	Day         time.Time
}

// MessageItem wraps a message row as a timeline item.
func MessageItem(m *repo.Message) Item {
	return Item{Kind: KindMessage, CreatedAt: m.CreatedAt, Message: m}
}

// TransactionItem wraps a transaction row as a timeline item.
func TransactionItem(t *repo.Transaction) Item {
	return Item{Kind: KindTransaction, CreatedAt: t.CreatedAt, Transaction: t}
}

// ID returns the entity identity, empty for separators.
func (it Item) ID() string {
	switch it.Kind {
	case KindMessage:
		return it.Message.ID
	case KindTransaction:
		return it.Transaction.ID
	}
	return ""
}

// IdempotencyKey returns the client-generated key, empty when absent.
func (it Item) IdempotencyKey() string {
	switch it.Kind {
	case KindMessage:
		return it.Message.IdempotencyKey
	case KindTransaction:
		return it.Transaction.IdempotencyKey
	}
	return ""
}

// dayOf truncates an instant to its UTC calendar day.
func dayOf(ms int64) time.Time {
	t := time.UnixMilli(ms).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// separator builds a date-separator item for the given day.
func separator(day time.Time) Item {
	return Item{Kind: KindDateSeparator, CreatedAt: day.UnixMilli(), Day: day}
}
