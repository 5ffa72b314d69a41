package postgrescatalog

import (
	"context"
	"testing"
)

func TestNewPool_InvalidDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), "://bad"); err == nil {
		t.Fatalf("expected error for invalid dsn")
	}
}

func TestNewPool_EmptyDSN(t *testing.T) {
	_, err := NewPool(context.Background(), "")
	if err != nil {
		t.Logf("got expected error for empty dsn: %v", err)
	}
}
