package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/lifecycle"
	"github.com/heraldhq/herald/internal/repository"
)

type recorded struct {
	transitions []domain.DeliveryStatus
	invalid     int
}

func newMachine(t *testing.T) (*lifecycle.Machine, *repository.MockMessageRepository, *recorded) {
	t.Helper()
	repo := repository.NewMockMessageRepository()
	rec := &recorded{}
	m := lifecycle.NewMachine(repo, lifecycle.Hooks{
		OnTransition: func(_ domain.Channel, status domain.DeliveryStatus) {
			rec.transitions = append(rec.transitions, status)
		},
		OnInvalid: func(domain.Channel) { rec.invalid++ },
	}, zap.NewNop())
	return m, repo, rec
}

func seed(t *testing.T, repo *repository.MockMessageRepository, siteID uuid.UUID, status domain.DeliveryStatus) {
	t.Helper()
	msg := &domain.MessageLog{
		SiteID:    siteID,
		MessageID: "m1",
		Channel:   domain.ChannelEmail,
		Status:    status,
	}
	if _, _, err := repo.Insert(context.Background(), msg); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestTransition_ValidEmitsMetricOnce(t *testing.T) {
	m, repo, rec := newMachine(t)
	siteID := uuid.New()
	seed(t, repo, siteID, domain.StatusPending)

	res, err := m.Transition(context.Background(), siteID, "m1", domain.ChannelEmail, domain.StatusSent, repository.TransitionOpts{})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !res.Applied {
		t.Fatal("expected transition to apply")
	}
	if len(rec.transitions) != 1 || rec.transitions[0] != domain.StatusSent {
		t.Fatalf("expected one SENT emission, got %v", rec.transitions)
	}
	if rec.invalid != 0 {
		t.Fatal("no invalid emission for a valid transition")
	}
}

func TestTransition_InvalidKeepsStatusButAppendsHistory(t *testing.T) {
	m, repo, rec := newMachine(t)
	siteID := uuid.New()
	seed(t, repo, siteID, domain.StatusPending)

	res, err := m.Transition(context.Background(), siteID, "m1", domain.ChannelEmail, domain.StatusDelivered, repository.TransitionOpts{})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if res.Applied {
		t.Fatal("PENDING -> DELIVERED must not apply")
	}

	msg, _ := repo.Find(context.Background(), siteID, "m1")
	if msg.Status != domain.StatusPending {
		t.Fatalf("status must be unchanged, got %s", msg.Status)
	}
	history, _ := repo.History(context.Background(), siteID, "m1")
	last := history[len(history)-1]
	if last.Status != domain.StatusDelivered {
		t.Fatal("the attempted status must still land in the history stream")
	}
	if rec.invalid != 1 || len(rec.transitions) != 0 {
		t.Fatalf("expected one invalid emission, got invalid=%d transitions=%v", rec.invalid, rec.transitions)
	}
}

func TestPromoteDue_EmitsPerPromotedRow(t *testing.T) {
	m, repo, rec := newMachine(t)
	siteID := uuid.New()
	past := time.Now().Add(-time.Minute)

	for _, id := range []string{"s1", "s2"} {
		msg := &domain.MessageLog{
			SiteID:      siteID,
			MessageID:   id,
			Channel:     domain.ChannelSMS,
			Status:      domain.StatusScheduled,
			ScheduledAt: &past,
		}
		if _, _, err := repo.Insert(context.Background(), msg); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	promoted, err := m.PromoteDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if len(promoted) != 2 {
		t.Fatalf("expected 2 promotions, got %d", len(promoted))
	}
	if len(rec.transitions) != 2 {
		t.Fatalf("expected 2 PENDING emissions, got %v", rec.transitions)
	}
	for _, s := range rec.transitions {
		if s != domain.StatusPending {
			t.Fatalf("expected PENDING emissions, got %v", rec.transitions)
		}
	}
}
