package redis

import (
	"context"
	"os"
	"testing"
)

func TestNewClientRequiresAddress(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without address")
	}
}

func TestNewClientPing(t *testing.T) {
	addr := os.Getenv("SWAPPILOT_TEST_REDIS")
	if addr == "" {
		t.Skip("SWAPPILOT_TEST_REDIS not set")
	}
	client, err := NewClient(context.Background(), Config{Address: addr})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
}
