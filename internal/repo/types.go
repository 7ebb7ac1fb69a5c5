package repo

import "github.com/shopspring/decimal"

// Conversation is a chat or payment thread. Name may be empty for direct
// conversations; display resolution falls back to the first member's
// display name, then the conversation id (resolved in List/Get queries).
type Conversation struct {
	ID                 string
	Name               string
	IsGroup            bool
	LastMessageSnippet string
	LastMessageAt      int64
	UnreadCount        int
	IconURL            string
	Metadata           string
	UpdatedAt          int64
}

// Member is one (conversation, participant) pair.
type Member struct {
	ConversationID  string
	ParticipantID   string
	Role            string
	DisplayName     string
	AvatarURL       string
	ParticipantKind string // person or business
	JoinedAt        int64
}

// Message is a chat message. Synced=false marks a locally-originated row
// awaiting remote acknowledgment (the implicit outbox).
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Kind           string // text, media, system
	Status         string // sending, sent, delivered, read, failed
	Metadata       string
	IdempotencyKey string
	Synced         bool
	CreatedAt      int64
	UpdatedAt      int64
}

// Transaction is a money movement shown inside a conversation. Amounts are
// exact decimals, stored as text.
type Transaction struct {
	ID              string
	ConversationID  string
	FromAccount     string
	ToAccount       string
	Amount          decimal.Decimal
	CurrencyID      string
	Status          string // pending, completed, failed, reversed
	Kind            string // payment, request, refund
	Description     string
	ReversalRef     string
	FromParticipant string
	ToParticipant   string
	IdempotencyKey  string
	Synced          bool
	CreatedAt       int64
}

// Wallet is one currency balance owned by an account. At most one wallet
// exists per (account, currency); at most one per account is primary.
type Wallet struct {
	ID               string
	AccountID        string
	CurrencyID       string
	CurrencyCode     string
	CurrencySymbol   string
	Balance          decimal.Decimal
	ReservedBalance  decimal.Decimal
	AvailableBalance decimal.Decimal
	Active           bool
	Primary          bool
	Synced           bool
	UpdatedAt        int64
}

// SearchEntry is a recorded search, payload serialized by the caller.
type SearchEntry struct {
	ID        string
	Payload   string
	CreatedAt int64
	UpdatedAt int64
}

// LocationRecord is a cached place lookup, payload serialized by the caller.
type LocationRecord struct {
	ID        string
	Payload   string
	CreatedAt int64
	UpdatedAt int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
