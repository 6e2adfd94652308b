package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/domain"
)

func newBus(maxDeliveries int) *bus.Bus {
	return bus.New(bus.Config{
		Partitions:    4,
		BufferSize:    64,
		MaxDeliveries: maxDeliveries,
	}, zap.NewNop())
}

func job(siteID uuid.UUID, messageID string) domain.DeliveryJob {
	return domain.DeliveryJob{
		MessageID: messageID,
		SiteID:    siteID,
		Channel:   domain.ChannelEmail,
	}
}

func TestBus_PerSiteOrdering(t *testing.T) {
	b := newBus(3)
	siteID := uuid.New()

	const n = 50
	for i := 0; i < n; i++ {
		if err := b.Publish(context.Background(), job(siteID, msgID(i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})

	go func() {
		b.Consume(ctx, domain.ChannelEmail, func(_ context.Context, j domain.DeliveryJob) error {
			mu.Lock()
			seen = append(seen, j.MessageID)
			if len(seen) == n {
				cancel()
			}
			mu.Unlock()
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for consumption")
	}

	if len(seen) != n {
		t.Fatalf("consumed %d jobs, want %d", len(seen), n)
	}
	for i, id := range seen {
		if id != msgID(i) {
			t.Fatalf("order violated at %d: got %s", i, id)
		}
	}
}

func msgID(i int) string {
	return string(rune('a'+i/26)) + string(rune('a'+i%26))
}

func TestBus_RedeliveryThenSuccess(t *testing.T) {
	b := newBus(5)
	siteID := uuid.New()
	if err := b.Publish(context.Background(), job(siteID, "m1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})

	go func() {
		b.Consume(ctx, domain.ChannelEmail, func(_ context.Context, _ domain.DeliveryJob) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				return errors.New("flaky")
			}
			cancel()
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}

	if attempts != 3 {
		t.Fatalf("expected 3 deliveries, got %d", attempts)
	}
	if depths := b.DLQDepths(); depths[domain.ChannelEmail] != 0 {
		t.Fatalf("expected empty DLQ, got %d", depths[domain.ChannelEmail])
	}
}

func TestBus_PoisonJobGoesToDLQ(t *testing.T) {
	b := newBus(2)
	siteID := uuid.New()
	if err := b.Publish(context.Background(), job(siteID, "poison")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})

	go func() {
		b.Consume(ctx, domain.ChannelEmail, func(_ context.Context, _ domain.DeliveryJob) error {
			mu.Lock()
			attempts++
			if attempts == 2 {
				// Ceiling reached after this failure; let the consumer park
				// the job, then stop.
				go func() {
					time.Sleep(50 * time.Millisecond)
					cancel()
				}()
			}
			mu.Unlock()
			return errors.New("always broken")
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}

	entries := b.DLQEntries(domain.ChannelEmail)
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
	if entries[0].Job.MessageID != "poison" || entries[0].Code != "MAX_DELIVERIES" {
		t.Fatalf("unexpected DLQ entry: %+v", entries[0])
	}
}

func TestBus_PublishAfterCloseFails(t *testing.T) {
	b := newBus(3)
	b.Close()
	err := b.Publish(context.Background(), job(uuid.New(), "m1"))
	if !errors.Is(err, domain.ErrBusUnavailable) {
		t.Fatalf("expected ErrBusUnavailable, got %v", err)
	}
}

func TestBus_SaturatedPartitionFails(t *testing.T) {
	b := bus.New(bus.Config{Partitions: 1, BufferSize: 1, MaxDeliveries: 3}, zap.NewNop())
	siteID := uuid.New()

	if err := b.Publish(context.Background(), job(siteID, "m1")); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	err := b.Publish(context.Background(), job(siteID, "m2"))
	if !errors.Is(err, domain.ErrBusUnavailable) {
		t.Fatalf("expected ErrBusUnavailable on saturated partition, got %v", err)
	}
}

func TestBus_Depths(t *testing.T) {
	b := bus.New(bus.Config{
		Topics:     map[domain.Channel]string{domain.ChannelEmail: "notif.email"},
		Partitions: 2,
		BufferSize: 8,
	}, zap.NewNop())

	for i := 0; i < 3; i++ {
		if err := b.Publish(context.Background(), job(uuid.New(), msgID(i))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if depth := b.Depths()["notif.email"]; depth != 3 {
		t.Fatalf("expected depth 3, got %d", depth)
	}
}
