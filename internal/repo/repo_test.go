package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testStore(t *testing.T) *store.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	m := store.NewManager(store.Options{Path: path}, zap.NewNop())
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestConversationUpsertIdempotent(t *testing.T) {
	r := NewConversations(testStore(t), bus.New(), zap.NewNop())

	c := &Conversation{ID: "c1", Name: "Alice", LastMessageAt: 1000}
	if !r.UpsertOne(c) {
		t.Fatal("first upsert failed")
	}
	c.Name = "Alice Updated"
	if !r.UpsertOne(c) {
		t.Fatal("second upsert failed")
	}

	got := r.List(10, 0)
	if len(got) != 1 {
		t.Fatalf("got %d conversations, want 1", len(got))
	}
	if got[0].Name != "Alice Updated" {
		t.Errorf("name = %q, want Alice Updated", got[0].Name)
	}
}

func TestConversationUpsertManyLastWriteWins(t *testing.T) {
	r := NewConversations(testStore(t), bus.New(), zap.NewNop())

	n := r.UpsertMany([]*Conversation{
		{ID: "a", Name: "first"},
		{ID: "a", Name: "updated"},
	})
	if n != 2 {
		t.Fatalf("UpsertMany wrote %d, want 2", n)
	}

	got := r.List(10, 0)
	if len(got) != 1 {
		t.Fatalf("got %d rows for id a, want 1", len(got))
	}
	if got[0].Name != "updated" {
		t.Errorf("name = %q, want updated", got[0].Name)
	}
}

func TestConversationDisplayNameFallback(t *testing.T) {
	m := testStore(t)
	convs := NewConversations(m, bus.New(), zap.NewNop())
	members := NewMembers(m, bus.New(), zap.NewNop())

	// Direct conversation with no name falls back to the first member.
	if !convs.UpsertOne(&Conversation{ID: "c1"}) {
		t.Fatal("upsert failed")
	}
	if !members.UpsertOne(&Member{ConversationID: "c1", ParticipantID: "p1", DisplayName: "Bob", JoinedAt: 10}) {
		t.Fatal("member upsert failed")
	}

	got := convs.Get("c1")
	if got == nil || got.Name != "Bob" {
		t.Errorf("resolved name = %v, want Bob", got)
	}

	// No members at all falls back to the id.
	if !convs.UpsertOne(&Conversation{ID: "c2"}) {
		t.Fatal("upsert failed")
	}
	if got := convs.Get("c2"); got == nil || got.Name != "c2" {
		t.Errorf("resolved name = %v, want c2", got)
	}
}

func TestRepositoriesFailSoftWhenStoreNotReady(t *testing.T) {
	m := store.NewManager(store.Options{Path: filepath.Join(t.TempDir(), "never.db")}, zap.NewNop())
	r := NewMessages(m, bus.New(), zap.NewNop())

	if r.Available() {
		t.Error("Available() = true on uninitialized store")
	}
	if got := r.ListByConversation("c1", 10); got != nil {
		t.Errorf("ListByConversation = %v, want nil", got)
	}
	if r.UpsertOne(&Message{ID: "m1", ConversationID: "c1"}, false) {
		t.Error("UpsertOne succeeded on uninitialized store")
	}
}

func TestMessageUpsertTouchesConversation(t *testing.T) {
	m := testStore(t)
	convs := NewConversations(m, bus.New(), zap.NewNop())
	msgs := NewMessages(m, bus.New(), zap.NewNop())

	ok := msgs.UpsertOne(&Message{
		ID: "m1", ConversationID: "c1", SenderID: "p2",
		Content: "hello there", Kind: "text", Status: "delivered", CreatedAt: 5000,
	}, true)
	if !ok {
		t.Fatal("upsert failed")
	}

	c := convs.Get("c1")
	if c == nil {
		t.Fatal("conversation was not created by message upsert")
	}
	if c.LastMessageSnippet != "hello there" {
		t.Errorf("snippet = %q, want hello there", c.LastMessageSnippet)
	}
	if c.LastMessageAt != 5000 {
		t.Errorf("last_message_at = %d, want 5000", c.LastMessageAt)
	}
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 for inbound message", c.UnreadCount)
	}

	// A stale update must not move the activity timestamp backwards.
	msgs.UpsertOne(&Message{ID: "m0", ConversationID: "c1", Content: "old", CreatedAt: 1000}, false)
	c = convs.Get("c1")
	if c.LastMessageAt != 5000 {
		t.Errorf("last_message_at = %d after stale upsert, want 5000", c.LastMessageAt)
	}
	if c.LastMessageSnippet != "hello there" {
		t.Errorf("snippet = %q after stale upsert, want hello there", c.LastMessageSnippet)
	}
}

func TestMessageUnsyncedOutbox(t *testing.T) {
	msgs := NewMessages(testStore(t), bus.New(), zap.NewNop())

	msgs.UpsertOne(&Message{ID: "m1", ConversationID: "c1", Content: "queued", Status: "sending", IdempotencyKey: "k1", Synced: false, CreatedAt: 100}, false)
	msgs.UpsertOne(&Message{ID: "m2", ConversationID: "c1", Content: "acked", Status: "sent", Synced: true, CreatedAt: 200}, false)

	pending := msgs.Unsynced(10)
	if len(pending) != 1 || pending[0].ID != "m1" {
		t.Fatalf("unsynced = %v, want [m1]", pending)
	}

	if !msgs.MarkSynced("m1") {
		t.Fatal("MarkSynced failed")
	}
	if pending := msgs.Unsynced(10); len(pending) != 0 {
		t.Errorf("unsynced after ack = %d rows, want 0", len(pending))
	}
	if got := msgs.Get("m1"); got == nil || got.Status != "sent" {
		t.Errorf("message after ack = %v, want status sent", got)
	}
}

func TestMessageGetByIdempotencyKey(t *testing.T) {
	msgs := NewMessages(testStore(t), bus.New(), zap.NewNop())

	msgs.UpsertOne(&Message{ID: "m1", ConversationID: "c1", IdempotencyKey: "key-1", CreatedAt: 100}, false)

	if got := msgs.GetByIdempotencyKey("key-1"); got == nil || got.ID != "m1" {
		t.Errorf("by key = %v, want m1", got)
	}
	if got := msgs.GetByIdempotencyKey("missing"); got != nil {
		t.Errorf("by missing key = %v, want nil", got)
	}
	if got := msgs.GetByIdempotencyKey(""); got != nil {
		t.Errorf("by empty key = %v, want nil", got)
	}
}

func TestMessageSyncFromRemoteAdvancesCheckpoint(t *testing.T) {
	msgs := NewMessages(testStore(t), bus.New(), zap.NewNop())

	var gotSince []int64
	fetch := func(_ context.Context, _ string, since int64) ([]*Message, error) {
		gotSince = append(gotSince, since)
		if since >= 300 {
			return nil, nil
		}
		return []*Message{
			{ID: "m1", ConversationID: "c1", Content: "one", CreatedAt: 100},
			{ID: "m2", ConversationID: "c1", Content: "two", CreatedAt: 300},
		}, nil
	}

	if n := msgs.SyncFromRemote(context.Background(), "c1", fetch); n != 2 {
		t.Fatalf("first sync wrote %d, want 2", n)
	}
	msgs.SyncFromRemote(context.Background(), "c1", fetch)

	if len(gotSince) != 2 || gotSince[0] != 0 || gotSince[1] != 300 {
		t.Errorf("since cursors = %v, want [0 300]", gotSince)
	}
	// Synced rows are not outbox candidates.
	if pending := msgs.Unsynced(10); len(pending) != 0 {
		t.Errorf("unsynced after sync = %d, want 0", len(pending))
	}
}

func TestSyncFromRemoteFetchFailureIsSoft(t *testing.T) {
	msgs := NewMessages(testStore(t), bus.New(), zap.NewNop())

	n := msgs.SyncFromRemote(context.Background(), "c1",
		func(context.Context, string, int64) ([]*Message, error) {
			return nil, errors.New("network down")
		})
	if n != 0 {
		t.Errorf("sync wrote %d on fetch failure, want 0", n)
	}
}

func TestTransactionUpsertIdempotent(t *testing.T) {
	txns := NewTransactions(testStore(t), bus.New(), zap.NewNop())

	tx := &Transaction{
		ID: "t1", ConversationID: "c1",
		Amount: decimal.RequireFromString("12.50"), CurrencyID: "usd",
		Status: "pending", Kind: "payment", CreatedAt: 100,
	}
	if !txns.UpsertOne(tx) {
		t.Fatal("first upsert failed")
	}
	tx.Status = "completed"
	tx.Amount = decimal.RequireFromString("12.50")
	if !txns.UpsertOne(tx) {
		t.Fatal("second upsert failed")
	}

	got := txns.ListByConversation("c1", 10)
	if len(got) != 1 {
		t.Fatalf("got %d transactions, want 1", len(got))
	}
	if got[0].Status != "completed" {
		t.Errorf("status = %q, want completed", got[0].Status)
	}
	if !got[0].Amount.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("amount = %s, want 12.50", got[0].Amount)
	}
}

func TestTransactionListRecentOrder(t *testing.T) {
	txns := NewTransactions(testStore(t), bus.New(), zap.NewNop())

	for _, tt := range []struct {
		id string
		at int64
	}{{"t1", 100}, {"t2", 300}, {"t3", 200}} {
		txns.UpsertOne(&Transaction{ID: tt.id, Amount: decimal.New(1, 0), CreatedAt: tt.at})
	}

	got := txns.ListRecent(2)
	if len(got) != 2 || got[0].ID != "t2" || got[1].ID != "t3" {
		t.Errorf("recent = %v, want [t2 t3]", got)
	}
}

func TestWalletUpsertAndPrimarySwitch(t *testing.T) {
	wallets := NewWallets(testStore(t), bus.New(), zap.NewNop())

	wallets.UpsertOne(&Wallet{
		ID: "w1", AccountID: "a1", CurrencyID: "usd", CurrencyCode: "USD",
		Balance: decimal.RequireFromString("100.25"), Primary: true, Active: true,
	})
	wallets.UpsertOne(&Wallet{
		ID: "w2", AccountID: "a1", CurrencyID: "eur", CurrencyCode: "EUR",
		Balance: decimal.RequireFromString("50"), Active: true,
	})

	if p := wallets.GetPrimary("a1"); p == nil || p.ID != "w1" {
		t.Fatalf("primary = %v, want w1", p)
	}

	if !wallets.SetPrimary("a1", "w2") {
		t.Fatal("SetPrimary failed")
	}
	if p := wallets.GetPrimary("a1"); p == nil || p.ID != "w2" {
		t.Errorf("primary = %v, want w2", p)
	}

	// Exactly one primary row.
	list := wallets.ListByAccount("a1")
	primaries := 0
	for _, w := range list {
		if w.Primary {
			primaries++
		}
	}
	if primaries != 1 {
		t.Errorf("primary wallets = %d, want 1", primaries)
	}
	// Primary sorts first.
	if list[0].ID != "w2" {
		t.Errorf("first wallet = %s, want w2", list[0].ID)
	}
}

func TestWalletSetPrimaryUnknownTarget(t *testing.T) {
	wallets := NewWallets(testStore(t), bus.New(), zap.NewNop())

	wallets.UpsertOne(&Wallet{ID: "w1", AccountID: "a1", CurrencyID: "usd", Primary: true})
	if wallets.SetPrimary("a1", "nope") {
		t.Error("SetPrimary succeeded for unknown wallet")
	}
	// The previous primary must survive the rolled-back transaction.
	if p := wallets.GetPrimary("a1"); p == nil || p.ID != "w1" {
		t.Errorf("primary = %v, want w1", p)
	}
}

// A server row can carry a fresh id for an existing (account, currency)
// wallet; the upsert must take over that row instead of tripping the
// uniqueness constraint and aborting the batch.
func TestWalletUpsertReplacesOnCurrencyConflict(t *testing.T) {
	wallets := NewWallets(testStore(t), bus.New(), zap.NewNop())

	wallets.UpsertOne(&Wallet{
		ID: "w1", AccountID: "a1", CurrencyID: "usd", CurrencyCode: "USD",
		Balance: decimal.RequireFromString("100"), Active: true,
	})

	n := wallets.UpsertMany([]*Wallet{
		{
			ID: "srv-w9", AccountID: "a1", CurrencyID: "usd", CurrencyCode: "USD",
			Balance: decimal.RequireFromString("250"), Active: true, Synced: true,
		},
		{
			ID: "w2", AccountID: "a1", CurrencyID: "eur", CurrencyCode: "EUR",
			Balance: decimal.RequireFromString("50"), Active: true, Synced: true,
		},
	})
	if n != 2 {
		t.Fatalf("UpsertMany = %d, want 2", n)
	}

	got := wallets.ListByAccount("a1")
	if len(got) != 2 {
		t.Fatalf("wallets = %v, want one usd and one eur row", got)
	}
	if wallets.Get("w1") != nil {
		t.Error("stale usd row survived under its old id")
	}
	usd := wallets.Get("srv-w9")
	if usd == nil || !usd.Balance.Equal(decimal.RequireFromString("250")) {
		t.Errorf("usd wallet = %v, want srv-w9 with balance 250", usd)
	}
}

func TestWalletBalancePrecision(t *testing.T) {
	wallets := NewWallets(testStore(t), bus.New(), zap.NewNop())

	wallets.UpsertOne(&Wallet{
		ID: "w1", AccountID: "a1", CurrencyID: "btc",
		Balance:          decimal.RequireFromString("0.000000012345"),
		AvailableBalance: decimal.RequireFromString("0.000000012345"),
	})
	got := wallets.Get("w1")
	if got == nil || !got.Balance.Equal(decimal.RequireFromString("0.000000012345")) {
		t.Errorf("balance = %v, want 0.000000012345", got)
	}
}

func TestMutationsPublishBusEvents(t *testing.T) {
	m := testStore(t)
	b := bus.New()

	var walletEvents, messageEvents int
	b.On(bus.WalletChanged, func(any) { walletEvents++ })
	b.On(bus.MessageChanged, func(any) { messageEvents++ })

	NewWallets(m, b, zap.NewNop()).UpsertOne(&Wallet{ID: "w1", AccountID: "a1", CurrencyID: "usd"})
	NewMessages(m, b, zap.NewNop()).UpsertOne(&Message{ID: "m1", ConversationID: "c1"}, false)

	if walletEvents != 1 {
		t.Errorf("wallet events = %d, want 1", walletEvents)
	}
	if messageEvents != 1 {
		t.Errorf("message events = %d, want 1", messageEvents)
	}
}

func TestSearchHistoryRecordAndClear(t *testing.T) {
	sh := NewSearchHistory(testStore(t), bus.New(), zap.NewNop())

	id := sh.Record(`{"q":"coffee"}`)
	if id == "" {
		t.Fatal("Record returned empty id")
	}
	if got := sh.List(10); len(got) != 1 || got[0].Payload != `{"q":"coffee"}` {
		t.Fatalf("list = %v, want one coffee entry", got)
	}
	if !sh.Clear() {
		t.Fatal("Clear failed")
	}
	if got := sh.List(10); len(got) != 0 {
		t.Errorf("list after clear = %d, want 0", len(got))
	}
}

func TestSearchMessages(t *testing.T) {
	msgs := NewMessages(testStore(t), bus.New(), zap.NewNop())

	msgs.UpsertOne(&Message{ID: "m1", ConversationID: "c1", Content: "lunch tomorrow", CreatedAt: 100}, false)
	msgs.UpsertOne(&Message{ID: "m2", ConversationID: "c1", Content: "paid you back", CreatedAt: 200}, false)

	results := msgs.SearchMessages("lunch", "", 10)
	if len(results) != 1 || results[0].Message.ID != "m1" {
		t.Fatalf("results = %v, want [m1]", results)
	}
}

// Without the FTS index (a sqlite compile-time option), search degrades to a
// content scan instead of erroring out.
func TestSearchMessagesWithoutIndex(t *testing.T) {
	st := testStore(t)
	msgs := NewMessages(st, bus.New(), zap.NewNop())

	msgs.UpsertOne(&Message{ID: "m1", ConversationID: "c1", Content: "lunch tomorrow", CreatedAt: 100}, false)
	msgs.UpsertOne(&Message{ID: "m2", ConversationID: "c2", Content: "lunch friday", CreatedAt: 200}, false)

	db, err := st.Conn()
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		`DROP TRIGGER IF EXISTS messages_fts_ai`,
		`DROP TRIGGER IF EXISTS messages_fts_ad`,
		`DROP TRIGGER IF EXISTS messages_fts_au`,
		`DROP TABLE IF EXISTS messages_fts`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}

	results := msgs.SearchMessages("lunch", "c1", 10)
	if len(results) != 1 || results[0].Message.ID != "m1" {
		t.Fatalf("results = %v, want [m1]", results)
	}
	if results[0].Snippet == "" {
		t.Error("content-scan result carries no snippet")
	}
}

func TestLocationUpsertAndPrune(t *testing.T) {
	locs := NewLocations(testStore(t), bus.New(), zap.NewNop())

	locs.UpsertOne(&LocationRecord{ID: "l1", Payload: `{"lat":1}`})
	locs.UpsertOne(&LocationRecord{ID: "l1", Payload: `{"lat":2}`})

	got := locs.Get("l1")
	if got == nil || got.Payload != `{"lat":2}` {
		t.Errorf("location = %v, want lat 2", got)
	}
	if list := locs.List(10); len(list) != 1 {
		t.Errorf("list = %d rows, want 1", len(list))
	}
	if !locs.DeleteOne("l1") {
		t.Fatal("delete failed")
	}
	if got := locs.Get("l1"); got != nil {
		t.Errorf("location after delete = %v, want nil", got)
	}
}
