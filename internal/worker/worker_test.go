package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/adapter"
	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/credentials"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/lifecycle"
	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/ratelimiter"
	"github.com/heraldhq/herald/internal/repository"
	"github.com/heraldhq/herald/internal/retry"
	"github.com/heraldhq/herald/internal/worker"
)

// scriptedAdapter returns its results in order and records call counts.
type scriptedAdapter struct {
	results []adapter.NormalizedResult
	calls   int
}

func (a *scriptedAdapter) Send(context.Context, adapter.SiteCredentials, adapter.NormalizedRequest) adapter.NormalizedResult {
	res := a.results[a.calls%len(a.results)]
	a.calls++
	return res
}

type fixture struct {
	worker  *worker.Worker
	repo    *repository.MockMessageRepository
	sites   *repository.MockSiteRepository
	bus     *bus.Bus
	adapter *scriptedAdapter
	siteID  uuid.UUID
}

func newFixture(t *testing.T, results ...adapter.NormalizedResult) *fixture {
	t.Helper()
	logger := zap.NewNop()
	repo := repository.NewMockMessageRepository()
	sites := repository.NewMockSiteRepository()
	siteID := uuid.New()

	_ = sites.UpsertChannelConfig(context.Background(), &domain.TenantChannelConfig{
		SiteID:  siteID,
		Channel: domain.ChannelEmail,
		APIKey:  "site-key",
	})

	m := metrics.New(prometheus.NewRegistry())
	onTransition, onInvalid := m.TransitionHooks()
	machine := lifecycle.NewMachine(repo, lifecycle.Hooks{OnTransition: onTransition, OnInvalid: onInvalid}, logger)

	b := bus.New(bus.Config{Partitions: 2, BufferSize: 16}, logger)
	scripted := &scriptedAdapter{results: results}

	w := worker.New(domain.ChannelEmail, worker.Deps{
		Repo:     repo,
		Machine:  machine,
		Resolver: credentials.New(sites, nil, nil, time.Minute, logger),
		Adapter:  scripted,
		Limiter:  ratelimiter.New(1000),
		Policy: retry.NewPolicy(retry.Options{
			MaxAttempts: map[domain.Channel]int{domain.ChannelEmail: 3},
			BackoffBase: time.Second,
			BackoffCap:  time.Minute,
		}),
		Bus:     b,
		Metrics: m,
		Timeout: time.Second,
		Logger:  logger,
	})
	return &fixture{worker: w, repo: repo, sites: sites, bus: b, adapter: scripted, siteID: siteID}
}

func (f *fixture) insertPending(t *testing.T, messageID string) {
	t.Helper()
	_, _, err := f.repo.Insert(context.Background(), &domain.MessageLog{
		SiteID:    f.siteID,
		MessageID: messageID,
		Channel:   domain.ChannelEmail,
		Recipient: "user@example.com",
		Payload:   domain.Payload{Subject: "hi", Body: "there"},
		Status:    domain.StatusPending,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func (f *fixture) job(messageID string, attempt int) domain.DeliveryJob {
	return domain.DeliveryJob{
		MessageID: messageID,
		SiteID:    f.siteID,
		Channel:   domain.ChannelEmail,
		Attempt:   attempt,
	}
}

func (f *fixture) status(t *testing.T, messageID string) domain.DeliveryStatus {
	t.Helper()
	msg, err := f.repo.Find(context.Background(), f.siteID, messageID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	return msg.Status
}

func TestHandle_AcceptedBecomesSent(t *testing.T) {
	f := newFixture(t, adapter.NormalizedResult{Status: adapter.ResultAccepted})
	f.insertPending(t, "m1")

	if err := f.worker.Handle(context.Background(), f.job("m1", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := f.status(t, "m1"); got != domain.StatusSent {
		t.Fatalf("expected SENT, got %s", got)
	}
}

func TestHandle_SyncDeliveryWalksThroughSent(t *testing.T) {
	f := newFixture(t, adapter.NormalizedResult{Status: adapter.ResultDelivered})
	f.insertPending(t, "m1")

	if err := f.worker.Handle(context.Background(), f.job("m1", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := f.status(t, "m1"); got != domain.StatusDelivered {
		t.Fatalf("expected DELIVERED, got %s", got)
	}

	// The history must show PENDING -> SENT -> DELIVERED, never a jump.
	history, _ := f.repo.History(context.Background(), f.siteID, "m1")
	var statuses []domain.DeliveryStatus
	for _, e := range history {
		statuses = append(statuses, e.Status)
	}
	want := []domain.DeliveryStatus{domain.StatusPending, domain.StatusSent, domain.StatusDelivered}
	if len(statuses) != len(want) {
		t.Fatalf("history %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("history %v, want %v", statuses, want)
		}
	}
}

func TestHandle_TransientFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t, adapter.NormalizedResult{
		Status:         adapter.ResultFailure,
		Classification: adapter.ClassTransient,
		Code:           "HTTP_503",
		Message:        "upstream flapping",
	})
	f.insertPending(t, "m1")

	if err := f.worker.Handle(context.Background(), f.job("m1", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	msg, _ := f.repo.Find(context.Background(), f.siteID, "m1")
	if msg.Status != domain.StatusRetrying {
		t.Fatalf("expected RETRYING, got %s", msg.Status)
	}
	if msg.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", msg.RetryCount)
	}
	if msg.NextRetryAt == nil || !msg.NextRetryAt.After(time.Now()) {
		t.Fatalf("expected a future next_retry_at, got %v", msg.NextRetryAt)
	}
	if msg.LastError == nil || *msg.LastError != "HTTP_503: upstream flapping" {
		t.Fatalf("unexpected last_error: %v", msg.LastError)
	}
}

func TestHandle_AuthFailureIsTerminal(t *testing.T) {
	f := newFixture(t, adapter.NormalizedResult{
		Status:         adapter.ResultFailure,
		Classification: adapter.ClassAuth,
		Code:           "HTTP_401",
		Message:        "bad provider key",
	})
	f.insertPending(t, "m1")

	if err := f.worker.Handle(context.Background(), f.job("m1", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	msg, _ := f.repo.Find(context.Background(), f.siteID, "m1")
	if msg.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", msg.Status)
	}
	if msg.RetryCount != 0 {
		t.Fatalf("auth failures must not bump retry_count, got %d", msg.RetryCount)
	}
	if entries := f.bus.DLQEntries(domain.ChannelEmail); len(entries) != 0 {
		t.Fatal("auth failures must not dead-letter")
	}
}

func TestHandle_CeilingExhaustionFailsAndDeadLetters(t *testing.T) {
	f := newFixture(t, adapter.NormalizedResult{
		Status:         adapter.ResultFailure,
		Classification: adapter.ClassTransient,
		Code:           "HTTP_500",
		Message:        "still broken",
	})
	f.insertPending(t, "m1")

	// Walk the message to the ceiling (max attempts 3 in the fixture).
	for attempt := 0; attempt < 3; attempt++ {
		if err := f.worker.Handle(context.Background(), f.job("m1", attempt)); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
	}

	msg, _ := f.repo.Find(context.Background(), f.siteID, "m1")
	if msg.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED after ceiling, got %s", msg.Status)
	}
	entries := f.bus.DLQEntries(domain.ChannelEmail)
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
	if entries[0].Code != "HTTP_500" {
		t.Fatalf("DLQ entry must carry the last classification, got %+v", entries[0])
	}
}

func TestHandle_MissingMessageAcks(t *testing.T) {
	f := newFixture(t, adapter.NormalizedResult{Status: adapter.ResultAccepted})
	if err := f.worker.Handle(context.Background(), f.job("ghost", 0)); err != nil {
		t.Fatalf("expected ack for missing message, got %v", err)
	}
	if f.adapter.calls != 0 {
		t.Fatal("no provider call for a missing message")
	}
}

func TestHandle_TerminalMessageAcksWithoutSend(t *testing.T) {
	f := newFixture(t, adapter.NormalizedResult{Status: adapter.ResultAccepted})
	f.insertPending(t, "m1")
	ctx := context.Background()
	_, _ = f.repo.Transition(ctx, f.siteID, "m1", domain.StatusRejected, repository.TransitionOpts{})

	if err := f.worker.Handle(ctx, f.job("m1", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.adapter.calls != 0 {
		t.Fatal("redelivery of a settled message must not call the provider")
	}
}

func TestHandle_StaleAttemptAcks(t *testing.T) {
	f := newFixture(t,
		adapter.NormalizedResult{
			Status:         adapter.ResultFailure,
			Classification: adapter.ClassTransient,
			Code:           "HTTP_503",
		},
		adapter.NormalizedResult{Status: adapter.ResultAccepted},
	)
	f.insertPending(t, "m1")
	ctx := context.Background()

	// First attempt fails and schedules a retry; retry_count is now 1.
	if err := f.worker.Handle(ctx, f.job("m1", 0)); err != nil {
		t.Fatalf("first attempt: %v", err)
	}

	// A redelivered copy of the original job is stale and must be dropped.
	if err := f.worker.Handle(ctx, f.job("m1", 0)); err != nil {
		t.Fatalf("stale redelivery: %v", err)
	}
	if f.adapter.calls != 1 {
		t.Fatalf("stale redelivery must not call the provider, calls=%d", f.adapter.calls)
	}

	// The real retry job carries the bumped attempt and goes through.
	if err := f.worker.Handle(ctx, f.job("m1", 1)); err != nil {
		t.Fatalf("retry attempt: %v", err)
	}
	if got := f.status(t, "m1"); got != domain.StatusSent {
		t.Fatalf("expected SENT after retry, got %s", got)
	}
}

func TestHandle_MissingCredentialsFails(t *testing.T) {
	f := newFixture(t, adapter.NormalizedResult{Status: adapter.ResultAccepted})
	f.insertPending(t, "m1")
	ctx := context.Background()

	// Drop the tenant config; there are no platform defaults in the fixture.
	_ = f.sites.DeleteChannelConfig(ctx, f.siteID, domain.ChannelEmail)

	if err := f.worker.Handle(ctx, f.job("m1", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	msg, _ := f.repo.Find(ctx, f.siteID, "m1")
	if msg.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", msg.Status)
	}
	if msg.LastError == nil || *msg.LastError == "" {
		t.Fatal("expected last_error to carry the credentials code")
	}
	if f.adapter.calls != 0 {
		t.Fatal("no provider call without credentials")
	}
}
