package healing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/auth/token"
)

type fakeRefresher struct {
	calls chan time.Duration
}

func (f *fakeRefresher) RefreshExpiring(_ context.Context, within time.Duration) (token.RefreshResult, error) {
	select {
	case f.calls <- within:
	default:
	}
	return token.RefreshResult{}, nil
}

type fakeHealer struct{}

func (fakeHealer) HealAll(context.Context) SweepResult { return SweepResult{Success: true} }

func TestSchedulerRunsRefreshAndStops(t *testing.T) {
	ref := &fakeRefresher{calls: make(chan time.Duration, 1)}
	s := NewScheduler(fakeHealer{}, ref, SchedulerConfig{
		HealingCron:     "0 3 * * *",
		RefreshInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	select {
	case within := <-ref.calls:
		if within != 2*time.Hour {
			t.Fatalf("within = %v, want 2h", within)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("token refresh did not run on start")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerRejectsInvalidCron(t *testing.T) {
	s := NewScheduler(fakeHealer{}, nil, SchedulerConfig{HealingCron: "every tuesday"})
	if err := s.Serve(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}
