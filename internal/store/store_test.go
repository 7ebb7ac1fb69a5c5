package store

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	m := NewManager(Options{Path: path, MessageRetentionDays: 90, SearchRetentionDays: 30}, zap.NewNop())
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestInitializeAppliesSchema(t *testing.T) {
	m := testManager(t)

	db, err := m.Conn()
	if err != nil {
		t.Fatal(err)
	}

	// These inserts must succeed for the repositories to work.
	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"conversation", "INSERT INTO conversations (id, name, is_group, last_message_at) VALUES (?, ?, ?, ?)", []any{"c1", "Test", false, 1000}},
		{"member", "INSERT INTO conversation_members (conversation_id, participant_id, role) VALUES (?, ?, ?)", []any{"c1", "p1", "member"}},
		{"message", "INSERT INTO messages (id, conversation_id, sender_id, content, created_at) VALUES (?, ?, ?, ?, ?)", []any{"m1", "c1", "p1", "hello", 1000}},
		{"transaction", "INSERT INTO transactions (id, conversation_id, amount, currency_id, created_at) VALUES (?, ?, ?, ?, ?)", []any{"t1", "c1", "12.50", "usd", 1000}},
		{"wallet", "INSERT INTO currency_wallets (id, account_id, currency_id, balance) VALUES (?, ?, ?, ?)", []any{"w1", "a1", "usd", "10"}},
		{"search entry", "INSERT INTO search_history (id, payload, created_at) VALUES (?, ?, ?)", []any{"s1", "{}", 1000}},
		{"location record", "INSERT INTO location_cache (id, payload, updated_at) VALUES (?, ?, ?)", []any{"l1", "{}", 1000}},
		{"sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
	}
	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}

	// Timeline view unions both source tables with a discriminant.
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM timeline_items WHERE conversation_id = 'c1'`).Scan(&count); err != nil {
		t.Fatalf("timeline view query failed: %v", err)
	}
	if count != 2 {
		t.Errorf("timeline view rows = %d, want 2", count)
	}

}

// The FTS index depends on a sqlite compile-time option, so it lives outside
// the migration chain. Message writes must keep working with the index torn
// down, as on a build without FTS5.
func TestMessageWritesSurviveSearchIndexTeardown(t *testing.T) {
	m := testManager(t)

	db, err := m.Conn()
	if err != nil {
		t.Fatal(err)
	}
	m.dropSearchIndex(db)

	if _, err := db.Exec(`INSERT INTO conversations (id, name, is_group, last_message_at) VALUES ('c1', 'Test', 0, 1000)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO messages (id, conversation_id, sender_id, content, created_at) VALUES ('m1', 'c1', 'p1', 'hello', 1000)`); err != nil {
		t.Fatalf("message insert after index teardown failed: %v", err)
	}
	if _, err := db.Exec(`UPDATE messages SET content = 'hello again' WHERE id = 'm1'`); err != nil {
		t.Fatalf("message update after index teardown failed: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM messages WHERE id = 'm1'`); err != nil {
		t.Fatalf("message delete after index teardown failed: %v", err)
	}
}

func TestMemberCascadeOnConversationDelete(t *testing.T) {
	m := testManager(t)
	db, _ := m.Conn()

	if _, err := db.Exec(`INSERT INTO conversations (id) VALUES ('c1')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO conversation_members (conversation_id, participant_id) VALUES ('c1', 'p1')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`DELETE FROM conversations WHERE id = 'c1'`); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM conversation_members WHERE conversation_id = 'c1'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("members after cascade = %d, want 0", count)
	}
}

func TestWalletUniquePerAccountCurrency(t *testing.T) {
	m := testManager(t)
	db, _ := m.Conn()

	if _, err := db.Exec(`INSERT INTO currency_wallets (id, account_id, currency_id) VALUES ('w1', 'a1', 'usd')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO currency_wallets (id, account_id, currency_id) VALUES ('w2', 'a1', 'usd')`); err == nil {
		t.Error("second wallet for same (account, currency) inserted, want constraint violation")
	}
}

func TestConnRefusesBeforeInitialize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	m := NewManager(Options{Path: path}, zap.NewNop())

	if _, err := m.Conn(); err != ErrNotReady {
		t.Errorf("Conn() error = %v, want ErrNotReady", err)
	}
	if m.Ready() {
		t.Error("Ready() = true before Initialize")
	}
}

func TestConcurrentInitializeSingleSchemaPass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	m := NewManager(Options{Path: path}, zap.NewNop())
	t.Cleanup(func() { _ = m.Close() })

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Initialize(context.Background()); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := failures.Load(); n != 0 {
		t.Fatalf("%d of 8 concurrent Initialize calls failed", n)
	}
	if m.State() != Completed {
		t.Errorf("state = %s, want COMPLETED", m.State())
	}

	// A second pass is a no-op; the migration version table must be clean.
	db, err := m.Conn()
	if err != nil {
		t.Fatal(err)
	}
	var dirty bool
	if err := db.QueryRow(`SELECT dirty FROM schema_migrations`).Scan(&dirty); err != nil {
		t.Fatal(err)
	}
	if dirty {
		t.Error("schema_migrations dirty after concurrent initialization")
	}
}

func TestFailedStateSticksUntilRetry(t *testing.T) {
	// A directory path cannot be opened as a database file.
	dir := t.TempDir()
	m := NewManager(Options{Path: dir}, zap.NewNop())

	if err := m.Initialize(context.Background()); err == nil {
		t.Fatal("Initialize succeeded on a directory path")
	}
	if m.State() != Failed {
		t.Fatalf("state = %s, want FAILED", m.State())
	}

	// Plain Initialize must not restart the attempt.
	if err := m.Initialize(context.Background()); err == nil {
		t.Error("second Initialize returned nil while FAILED")
	}
	if _, err := m.Conn(); err != ErrNotReady {
		t.Errorf("Conn() error = %v, want ErrNotReady", err)
	}

	// RetryInitialization against a now-valid path recovers.
	m.opts.Path = filepath.Join(dir, "retry.db")
	if err := m.RetryInitialization(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !m.Ready() {
		t.Error("Ready() = false after successful retry")
	}
	_ = m.Close()
}

func TestMaintenancePrunesAgedMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	m := NewManager(Options{Path: path, MessageRetentionDays: 30}, zap.NewNop())
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	db, _ := m.Conn()

	old := int64(1000) // 1970, far beyond any retention window
	if _, err := db.Exec(`INSERT INTO messages (id, conversation_id, created_at) VALUES ('old', 'c1', ?)`, old); err != nil {
		t.Fatal(err)
	}
	m.maintain(db)

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE id = 'old'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Error("aged message survived maintenance prune")
	}
	_ = m.Close()
}
