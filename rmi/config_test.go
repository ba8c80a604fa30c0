package rmi

import (
	"testing"
	"time"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LatencyTime != 10*time.Second {
		t.Errorf("LatencyTime = %v, want 10s", cfg.LatencyTime)
	}
	if cfg.LeaseTime != 10*time.Minute {
		t.Errorf("LeaseTime = %v, want 10m", cfg.LeaseTime)
	}
	if cfg.InvocationCacheCap != 50 {
		t.Errorf("InvocationCacheCap = %d, want 50", cfg.InvocationCacheCap)
	}
	if !cfg.AutoReferencing {
		t.Error("AutoReferencing should default to true")
	}
	if cfg.IdentifierPrefix != "###" {
		t.Errorf("IdentifierPrefix = %q, want ###", cfg.IdentifierPrefix)
	}
	if cfg.WorkerPoolSize != 32 {
		t.Errorf("WorkerPoolSize = %d, want 32", cfg.WorkerPoolSize)
	}
	if cfg.OutboundQueueSize != 64 {
		t.Errorf("OutboundQueueSize = %d, want 64", cfg.OutboundQueueSize)
	}
	if cfg.ReconnectAttempts != 3 {
		t.Errorf("ReconnectAttempts = %d, want 3", cfg.ReconnectAttempts)
	}
	if cfg.ReconnectBudget != 5*time.Second {
		t.Errorf("ReconnectBudget = %v, want 5s", cfg.ReconnectBudget)
	}
	if cfg.MultiConnection {
		t.Error("MultiConnection should default to false")
	}
	if cfg.SuppressFaults {
		t.Error("SuppressFaults should default to false")
	}
	if cfg.FaultHandler == nil {
		t.Error("FaultHandler should default to a non-nil LoggingFaultHandler")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	cfg := applyOptions(DefaultConfig(), []Option{
		WithLatencyTime(time.Second),
		WithReconnectAttempts(9),
		WithMultiConnection(true),
		WithCredentials("alice", "s3cret"),
	})
	if cfg.LatencyTime != time.Second {
		t.Errorf("LatencyTime = %v, want 1s", cfg.LatencyTime)
	}
	if cfg.ReconnectAttempts != 9 {
		t.Errorf("ReconnectAttempts = %d, want 9", cfg.ReconnectAttempts)
	}
	if !cfg.MultiConnection {
		t.Error("MultiConnection should be true after WithMultiConnection(true)")
	}
	if cfg.LocalAuthID != "alice" || cfg.LocalPass != "s3cret" {
		t.Errorf("credentials = (%q, %q), want (alice, s3cret)", cfg.LocalAuthID, cfg.LocalPass)
	}
}
