package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/lifecycle"
	"github.com/heraldhq/herald/internal/repository"
	"github.com/heraldhq/herald/internal/service"
	"github.com/heraldhq/herald/internal/tenant"
)

func newService() (*service.NotificationService, *repository.MockMessageRepository, *bus.Bus) {
	repo := repository.NewMockMessageRepository()
	b := bus.New(bus.Config{Partitions: 2, BufferSize: 64}, zap.NewNop())
	machine := lifecycle.NewMachine(repo, lifecycle.Hooks{}, zap.NewNop())
	svc := service.NewNotificationService(repo, b, machine, zap.NewNop())
	return svc, repo, b
}

func siteCtx(siteID uuid.UUID) context.Context {
	return tenant.WithPrincipal(context.Background(), tenant.Principal{SiteID: siteID})
}

func validReq() domain.SubmitRequest {
	return domain.SubmitRequest{
		MessageID: "order-42",
		Channel:   domain.ChannelEmail,
		Recipient: "user@example.com",
		Payload: domain.Payload{
			Subject: "Order shipped",
			Body:    "Your order is on its way.",
		},
	}
}

func TestSubmit_PersistsAndPublishes(t *testing.T) {
	svc, _, b := newService()
	siteID := uuid.New()

	res, err := svc.Submit(siteCtx(siteID), validReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Replay {
		t.Fatal("expected replay=false for a new intent")
	}
	if res.Message.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", res.Message.Status)
	}
	if res.Message.SiteID != siteID {
		t.Fatal("message must carry the principal's site")
	}

	total := 0
	for _, d := range b.Depths() {
		total += d
	}
	if total != 1 {
		t.Fatalf("expected 1 job on the bus, got %d", total)
	}
}

func TestSubmit_GeneratesMessageIDWhenAbsent(t *testing.T) {
	svc, _, _ := newService()
	req := validReq()
	req.MessageID = ""

	res, err := svc.Submit(siteCtx(uuid.New()), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message.MessageID == "" {
		t.Fatal("expected a generated message ID")
	}
}

func TestSubmit_IdempotentReplay(t *testing.T) {
	svc, _, b := newService()
	ctx := siteCtx(uuid.New())

	first, err := svc.Submit(ctx, validReq())
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// Same pair with different content must return the stored row unchanged.
	changed := validReq()
	changed.Payload.Body = "completely different"
	second, err := svc.Submit(ctx, changed)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !second.Replay {
		t.Fatal("expected replay=true")
	}
	if second.Message.Payload.Body != first.Message.Payload.Body {
		t.Fatal("replay must not mutate the stored payload")
	}

	// Replay of a PENDING row re-publishes the job.
	total := 0
	for _, d := range b.Depths() {
		total += d
	}
	if total != 2 {
		t.Fatalf("expected 2 jobs on the bus, got %d", total)
	}
}

func TestSubmit_SameMessageIDDifferentSites(t *testing.T) {
	svc, _, _ := newService()

	a, err := svc.Submit(siteCtx(uuid.New()), validReq())
	if err != nil {
		t.Fatalf("site A: %v", err)
	}
	bRes, err := svc.Submit(siteCtx(uuid.New()), validReq())
	if err != nil {
		t.Fatalf("site B: %v", err)
	}
	if a.Replay || bRes.Replay {
		t.Fatal("identical message IDs on different sites are independent intents")
	}
}

func TestSubmit_Unauthenticated(t *testing.T) {
	svc, _, _ := newService()
	_, err := svc.Submit(context.Background(), validReq())
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestSubmit_ValidationFailure(t *testing.T) {
	svc, _, b := newService()
	req := validReq()
	req.Recipient = "not-an-email"

	_, err := svc.Submit(siteCtx(uuid.New()), req)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, d := range b.Depths() {
		if d != 0 {
			t.Fatal("invalid intent must not reach the bus")
		}
	}
}

func TestSubmitScheduled_FutureAccepted(t *testing.T) {
	svc, _, b := newService()
	req := validReq()
	at := time.Now().Add(time.Hour)
	req.ScheduledAt = &at

	res, err := svc.SubmitScheduled(siteCtx(uuid.New()), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message.Status != domain.StatusScheduled {
		t.Fatalf("expected SCHEDULED, got %s", res.Message.Status)
	}
	for _, d := range b.Depths() {
		if d != 0 {
			t.Fatal("scheduled intents must not be published at intake")
		}
	}
}

func TestSubmitScheduled_PastRejected(t *testing.T) {
	svc, _, _ := newService()
	req := validReq()
	at := time.Now().Add(-time.Minute)
	req.ScheduledAt = &at

	_, err := svc.SubmitScheduled(siteCtx(uuid.New()), req)
	if !errors.Is(err, domain.ErrScheduleInPast) {
		t.Fatalf("expected ErrScheduleInPast, got %v", err)
	}
}

func TestSubmitBulk_MixedOutcomes(t *testing.T) {
	svc, _, _ := newService()

	good := validReq()
	bad := validReq()
	bad.MessageID = "order-43"
	bad.Recipient = "broken"

	results, err := svc.SubmitBulk(siteCtx(uuid.New()), domain.BulkRequest{
		Notifications: []domain.SubmitRequest{good, bad},
	}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Error != "" || results[0].MessageID != "order-42" {
		t.Fatalf("entry 0 should succeed: %+v", results[0])
	}
	if results[1].Code != domain.CodeValidationFailed {
		t.Fatalf("entry 1 should fail validation: %+v", results[1])
	}
}

func TestSubmitBulk_SizeLimits(t *testing.T) {
	svc, _, _ := newService()
	ctx := siteCtx(uuid.New())

	if _, err := svc.SubmitBulk(ctx, domain.BulkRequest{}, false); !errors.Is(err, domain.ErrBulkEmpty) {
		t.Fatalf("expected ErrBulkEmpty, got %v", err)
	}

	over := make([]domain.SubmitRequest, service.MaxBulkSize+1)
	if _, err := svc.SubmitBulk(ctx, domain.BulkRequest{Notifications: over}, false); !errors.Is(err, domain.ErrBulkTooLarge) {
		t.Fatalf("expected ErrBulkTooLarge, got %v", err)
	}
}

func TestCancel_PendingMessage(t *testing.T) {
	svc, repo, _ := newService()
	siteID := uuid.New()
	ctx := siteCtx(siteID)

	if _, err := svc.Submit(ctx, validReq()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	msg, err := svc.Cancel(ctx, "order-42")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if msg.Status != domain.StatusRejected {
		t.Fatalf("expected REJECTED, got %s", msg.Status)
	}

	history, _ := repo.History(ctx, siteID, "order-42")
	last := history[len(history)-1]
	if last.Status != domain.StatusRejected || last.ErrorMessage == nil || *last.ErrorMessage != "CANCELLED" {
		t.Fatalf("unexpected final history entry: %+v", last)
	}
}

func TestCancel_TerminalConflict(t *testing.T) {
	svc, repo, _ := newService()
	siteID := uuid.New()
	ctx := siteCtx(siteID)

	if _, err := svc.Submit(ctx, validReq()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Drive the row to a terminal status behind the service's back.
	if _, err := repo.Transition(ctx, siteID, "order-42", domain.StatusSent, repository.TransitionOpts{}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := repo.Transition(ctx, siteID, "order-42", domain.StatusDelivered, repository.TransitionOpts{}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	_, err := svc.Cancel(ctx, "order-42")
	if !errors.Is(err, domain.ErrTerminalConflict) {
		t.Fatalf("expected ErrTerminalConflict, got %v", err)
	}
}

func TestCancel_NotFound(t *testing.T) {
	svc, _, _ := newService()
	_, err := svc.Cancel(siteCtx(uuid.New()), "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_CrossTenantIsNotFound(t *testing.T) {
	svc, _, _ := newService()

	owner := uuid.New()
	if _, err := svc.Submit(siteCtx(owner), validReq()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err := svc.Get(siteCtx(uuid.New()), "order-42")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cross-tenant read must look like a miss, got %v", err)
	}
}

func TestHistory_MissingMessageIsNotFound(t *testing.T) {
	svc, _, _ := newService()
	_, err := svc.History(siteCtx(uuid.New()), "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
