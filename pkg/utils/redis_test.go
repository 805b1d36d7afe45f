package utils

import (
	"context"
	"testing"
	"time"
)

func TestOpenRedisRequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestMarkOnceValidatesArgs(t *testing.T) {
	if _, err := MarkOnce(context.Background(), nil, "k", time.Minute); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestClearOnceValidatesArgs(t *testing.T) {
	if err := ClearOnce(context.Background(), nil, "k"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
