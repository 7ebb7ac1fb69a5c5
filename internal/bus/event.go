package bus

// Topic names are coarse-grained, one per entity family. Subscribers that
// need finer granularity inspect the Change payload.
type Topic string

const (
	ConversationChanged Topic = "conversation_changed"
	MessageChanged      Topic = "message_changed"
	TransactionChanged  Topic = "transaction_changed"
	WalletChanged       Topic = "wallet_changed"
	SearchChanged       Topic = "search_changed"
	LocationChanged     Topic = "location_changed"
	TimelineChanged     Topic = "timeline_changed"
	ConnectivityChanged Topic = "connectivity_changed"
)

// Change is the payload carried by entity change events.
type Change struct {
	Kind string
	IDs  []string
}
