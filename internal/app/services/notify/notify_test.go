package notify

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/tip_settlement/internal/logging"
)

func TestMemoryBrokerDelivers(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "bob")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := b.NotifyTipReceived(ctx, TipReceived{TipID: "t1", ReceiverID: "alice"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := b.NotifyTipReceived(ctx, TipReceived{TipID: "t2", ReceiverID: "bob", NetAmountMinor: 854}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case n := <-ch:
		if n.TipID != "t2" || n.NetAmountMinor != 854 {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("notification not delivered")
	}
}

func TestMemoryBrokerCancel(t *testing.T) {
	b := NewMemoryBroker()
	ctx, stop := context.WithCancel(context.Background())

	ch, cancel, _ := b.Subscribe(ctx, "bob")
	_, cancel2, _ := b.Subscribe(context.Background(), "bob")
	if b.Subscribers("bob") != 2 {
		t.Fatalf("expected two subscribers")
	}

	stop()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription not closed on context cancel")
	}
	cancel()
	cancel2()
	if b.Subscribers("bob") != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Subscribers("bob"))
	}
}

type flakyNotifier struct {
	calls atomic.Int32
	mode  string
}

func (f *flakyNotifier) NotifyTipReceived(ctx context.Context, n TipReceived) error {
	f.calls.Add(1)
	switch f.mode {
	case "panic":
		panic("boom")
	case "block":
		<-ctx.Done()
		return ctx.Err()
	}
	return errors.New("unavailable")
}

func TestDispatcherAbsorbsFailures(t *testing.T) {
	for _, mode := range []string{"error", "panic", "block"} {
		t.Run(mode, func(t *testing.T) {
			n := &flakyNotifier{mode: mode}
			d := NewDispatcher(n, 20*time.Millisecond, logging.NewDiscard())
			d.Dispatch(TipReceived{TipID: "t1", ReceiverID: "bob"})
			d.Wait()
			if n.calls.Load() != 1 {
				t.Fatalf("expected one call, got %d", n.calls.Load())
			}
		})
	}
}

func TestDispatcherNilSafe(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(TipReceived{})
	d.Wait()
	NewDispatcher(nil, 0, logging.NewDiscard()).Dispatch(TipReceived{})
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := NewRedisBroker(client, logging.NewDiscard())
	ch, unsubscribe, err := b.Subscribe(ctx, "redis-bob")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if err := b.NotifyTipReceived(ctx, TipReceived{TipID: "t9", ReceiverID: "redis-bob", NetAmountMinor: 100}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case n := <-ch:
		if n.TipID != "t9" || n.NetAmountMinor != 100 {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-ctx.Done():
		t.Fatalf("notification not received")
	}
}
