package logging

import (
	"context"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if len(id) != 8 {
		t.Errorf("GenerateRequestID() length = %d, want 8", len(id))
	}

	id2 := GenerateRequestID()
	if id == id2 {
		t.Errorf("GenerateRequestID() generated duplicate IDs: %s", id)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID(empty context) = %q, want empty string", got)
	}

	ctx = WithRequestID(ctx, "test1234")
	if got := GetRequestID(ctx); got != "test1234" {
		t.Errorf("GetRequestID() = %q, want %q", got, "test1234")
	}
}

func TestSweepIDContext(t *testing.T) {
	ctx := WithSweepID(context.Background(), "sweep-1")
	if got := GetSweepID(ctx); got != "sweep-1" {
		t.Errorf("GetSweepID() = %q, want sweep-1", got)
	}
	if got := GetSweepID(context.Background()); got != "" {
		t.Errorf("GetSweepID(empty) = %q", got)
	}
}
