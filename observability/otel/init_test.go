package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken, =skip,tenant=custody")
	if len(got) != 2 {
		t.Fatalf("expected 2 headers, got %v", got)
	}
	if got["api-key"] != "abc" || got["tenant"] != "custody" {
		t.Fatalf("unexpected headers: %v", got)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitWithoutExportersOnlySetsPropagator(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "custodyd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
