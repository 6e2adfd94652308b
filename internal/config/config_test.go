package config_test

import (
	"testing"
	"time"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/domain"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected an error without DATABASE_URL")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/herald")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTPPort != "8080" {
		t.Errorf("HTTPPort = %q", cfg.HTTPPort)
	}
	if cfg.BusPartitions != 8 || cfg.BusBufferSize != 1024 {
		t.Errorf("bus defaults: partitions=%d buffer=%d", cfg.BusPartitions, cfg.BusBufferSize)
	}
	for _, ch := range domain.Channels {
		if cfg.MaxAttempts[ch] != 5 {
			t.Errorf("%s: max attempts = %d", ch, cfg.MaxAttempts[ch])
		}
		if cfg.BusTopics[ch] == "" || cfg.BusDLQTopics[ch] == "" {
			t.Errorf("%s: missing topic defaults", ch)
		}
	}
	if cfg.BusTopics[domain.ChannelEmail] != "notif.email" {
		t.Errorf("email topic = %q", cfg.BusTopics[domain.ChannelEmail])
	}
	if cfg.BackoffBase != 3*time.Second || cfg.RateLimitCap != 15*time.Minute {
		t.Errorf("retry defaults: base=%v rlcap=%v", cfg.BackoffBase, cfg.RateLimitCap)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/herald")
	t.Setenv("RETRY_MAX_ATTEMPTS_SMS", "2")
	t.Setenv("BUS_TOPIC_EMAIL", "custom.email")
	t.Setenv("RETRY_BACKOFF_BASE_MS", "500")
	t.Setenv("SCHEDULER_TICK_INTERVAL_MS", "250ms")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxAttempts[domain.ChannelSMS] != 2 {
		t.Errorf("sms max attempts = %d", cfg.MaxAttempts[domain.ChannelSMS])
	}
	if cfg.BusTopics[domain.ChannelEmail] != "custom.email" {
		t.Errorf("email topic = %q", cfg.BusTopics[domain.ChannelEmail])
	}
	// Bare integers on *_MS keys are read as milliseconds; duration strings
	// are accepted too.
	if cfg.BackoffBase != 500*time.Millisecond {
		t.Errorf("backoff base = %v", cfg.BackoffBase)
	}
	if cfg.SchedulerTick != 250*time.Millisecond {
		t.Errorf("scheduler tick = %v", cfg.SchedulerTick)
	}
}
