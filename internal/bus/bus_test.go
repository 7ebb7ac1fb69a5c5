package bus

import "testing"

func TestEmitDeliversInSubscriptionOrder(t *testing.T) {
	b := New()
	var order []int
	b.On(MessageChanged, func(any) { order = append(order, 1) })
	b.On(MessageChanged, func(any) { order = append(order, 2) })
	b.On(MessageChanged, func(any) { order = append(order, 3) })

	b.Emit(MessageChanged, Change{Kind: "message"})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", order)
	}
}

func TestEmitIsSynchronous(t *testing.T) {
	b := New()
	got := false
	b.On(WalletChanged, func(any) { got = true })

	b.Emit(WalletChanged, Change{Kind: "wallet"})

	if !got {
		t.Error("handler did not run before Emit returned")
	}
}

func TestTopicIsolation(t *testing.T) {
	b := New()
	calls := 0
	b.On(MessageChanged, func(any) { calls++ })

	b.Emit(ConversationChanged, Change{Kind: "conversation"})

	if calls != 0 {
		t.Errorf("handler ran for a different topic, calls = %d", calls)
	}
}

func TestOff(t *testing.T) {
	b := New()
	calls := 0
	id := b.On(MessageChanged, func(any) { calls++ })
	b.Off(MessageChanged, id)

	b.Emit(MessageChanged, nil)

	if calls != 0 {
		t.Errorf("handler ran after Off, calls = %d", calls)
	}
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	b := New()
	calls := 0
	b.Once(MessageChanged, func(any) { calls++ })

	b.Emit(MessageChanged, nil)
	b.Emit(MessageChanged, nil)

	if calls != 1 {
		t.Errorf("once handler ran %d times, want 1", calls)
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := New()
	got := false
	b.On(MessageChanged, func(any) { panic("bad subscriber") })
	b.On(MessageChanged, func(any) { got = true })

	b.Emit(MessageChanged, nil)

	if !got {
		t.Error("second handler did not run after first panicked")
	}
}

func TestPayloadDelivered(t *testing.T) {
	b := New()
	var got Change
	b.On(TransactionChanged, func(p any) {
		if c, ok := p.(Change); ok {
			got = c
		}
	})

	b.Emit(TransactionChanged, Change{Kind: "transaction", IDs: []string{"t1"}})

	if got.Kind != "transaction" || len(got.IDs) != 1 || got.IDs[0] != "t1" {
		t.Errorf("payload = %+v, want transaction/[t1]", got)
	}
}
