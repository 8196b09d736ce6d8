package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/creditline/internal/domain"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestChannelBus(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := b.Subscribe(ctx, tenantID, domain.TopicLoanDecided, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := b.Publish(ctx, tenantID, domain.TopicLoanDecided, []byte(`{"approved":true}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-got:
			if string(msg.Payload) != `{"approved":true}` {
				t.Errorf("unexpected payload %s", msg.Payload)
			}
			if msg.TenantID != tenantID {
				t.Errorf("expected tenant %s, got %s", tenantID, msg.TenantID)
			}
			if msg.Topic != domain.TopicLoanDecided || msg.ID == "" || msg.Timestamp == 0 {
				t.Errorf("envelope not filled: %+v", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32
		b.Subscribe(ctx, "tenant-a", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		b.Subscribe(ctx, "tenant-b", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		b.Publish(ctx, "tenant-a", "isolation.topic", []byte("m"))

		if !waitFor(t, func() bool { return received1.Load() == 1 }) {
			t.Errorf("tenant-a should receive 1 message, got %d", received1.Load())
		}
		time.Sleep(20 * time.Millisecond)
		if received2.Load() != 0 {
			t.Errorf("tenant-b should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("GlobalSubscriberSeesEveryTenant", func(t *testing.T) {
		var tenants atomic.Int32
		b.Subscribe(ctx, domain.GlobalTenant, "global.topic", func(ctx context.Context, msg *domain.Message) error {
			if msg.TenantID == "t-x" || msg.TenantID == "t-y" {
				tenants.Add(1)
			}
			return nil
		})

		b.Publish(ctx, "t-x", "global.topic", nil)
		b.Publish(ctx, "t-y", "global.topic", nil)

		if !waitFor(t, func() bool { return tenants.Load() == 2 }) {
			t.Errorf("expected 2 messages on global subscription, got %d", tenants.Load())
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := b.Publish(ctx, "", "topic", []byte("data")); err == nil {
			t.Error("expected error for empty tenantID")
		}
		_, err := b.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error { return nil })
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := b.Request(ctx, "", "topic", nil); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, _ := b.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		b.Publish(ctx, tenantID, "unsub.topic", []byte("msg1"))
		if !waitFor(t, func() bool { return count.Load() == 1 }) {
			t.Fatalf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		_ = sub.Unsubscribe()
		if n := b.SubscriberCount(tenantID, "unsub.topic"); n != 0 {
			t.Errorf("expected subscription removed, %d left", n)
		}

		b.Publish(ctx, tenantID, "unsub.topic", []byte("msg2"))
		time.Sleep(30 * time.Millisecond)
		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		b.Subscribe(ctx, tenantID, "quote.topic", func(ctx context.Context, msg *domain.Message) error {
			return Reply(ctx, b, msg, append([]byte("re:"), msg.Payload...))
		})

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		reply, err := b.Request(reqCtx, tenantID, "quote.topic", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "re:ping" {
			t.Errorf("expected 're:ping', got %q", reply)
		}
	})

	t.Run("RequestTimesOut", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		if _, err := b.Request(reqCtx, tenantID, "nobody.listens", nil); err == nil {
			t.Error("expected timeout error")
		}
	})

	t.Run("ReplyWithoutReplyTopicIsNoop", func(t *testing.T) {
		msg := &domain.Message{TenantID: tenantID, Metadata: map[string]string{}}
		if err := Reply(ctx, b, msg, []byte("x")); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := b.Subscribe(ctx, tenantID, domain.TopicLoanApproved, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != domain.TopicLoanApproved {
			t.Errorf("expected topic %s, got %s", domain.TopicLoanApproved, sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(100)
	ctx := context.Background()

	b.Subscribe(ctx, "tenant-001", "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := b.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
	if err := b.Publish(ctx, "tenant-001", "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	b := NewChannelBus(1000)
	defer b.Close()

	ctx := context.Background()
	const messageCount = 200

	var received atomic.Int32
	b.Subscribe(ctx, "tenant-load", domain.TopicLoanRequested, func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		return nil
	})

	for i := 0; i < messageCount; i++ {
		b.Publish(ctx, "tenant-load", domain.TopicLoanRequested, []byte("msg"))
	}

	deadline := time.Now().Add(5 * time.Second)
	for received.Load() < messageCount && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if received.Load() != messageCount {
		t.Fatalf("received %d/%d messages", received.Load(), messageCount)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()
		if _, ok := b.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestMakeSubject(t *testing.T) {
	if got := makeSubject("tenant-001", domain.TopicLoanDecided); got != "creditline.tenant-001.creditline.loan.decided" {
		t.Errorf("unexpected subject %s", got)
	}
	if got := makeSubject(domain.GlobalTenant, domain.TopicLoanRequested); got != "creditline.*.creditline.loan.requested" {
		t.Errorf("unexpected global subject %s", got)
	}
}

func TestChannelBusQueueGroup(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	ctx := context.Background()
	const messageCount = 30

	var first, second, plain atomic.Int32
	if _, err := b.QueueSubscribe(ctx, "tenant-q", domain.TopicLoanRequested, "workers", func(ctx context.Context, msg *domain.Message) error {
		first.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("queue subscribe failed: %v", err)
	}
	// A global member shares the same group.
	if _, err := b.QueueSubscribe(ctx, domain.GlobalTenant, domain.TopicLoanRequested, "workers", func(ctx context.Context, msg *domain.Message) error {
		second.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("queue subscribe failed: %v", err)
	}
	b.Subscribe(ctx, "tenant-q", domain.TopicLoanRequested, func(ctx context.Context, msg *domain.Message) error {
		plain.Add(1)
		return nil
	})

	for i := 0; i < messageCount; i++ {
		b.Publish(ctx, "tenant-q", domain.TopicLoanRequested, []byte("msg"))
	}

	if !waitFor(t, func() bool { return first.Load()+second.Load() == messageCount && plain.Load() == messageCount }) {
		t.Fatalf("group got %d, plain subscriber got %d, want %d each",
			first.Load()+second.Load(), plain.Load(), messageCount)
	}
	if first.Load() == 0 || second.Load() == 0 {
		t.Errorf("expected both members to receive work, got %d and %d", first.Load(), second.Load())
	}

	if _, err := b.QueueSubscribe(ctx, "tenant-q", domain.TopicLoanRequested, "", nil); err == nil {
		t.Error("expected error for an empty queue name")
	}
}
