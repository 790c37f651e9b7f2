package task

import (
	"context"
	"errors"
	"testing"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/swap"
)

type failingProducer struct{ err error }

func (p failingProducer) Publish(context.Context, string) error { return p.err }
func (p failingProducer) Close() error                          { return nil }

func TestServiceSubmitIsIdempotentOnID(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	svc := NewService(store, queue, 0)
	ctx := context.Background()

	first, err := svc.Submit(ctx, swap.Request{ID: " abc ", Text: " swap 1 eth ", Wallet: walletA})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.ID != "abc" || first.Request.ID != "abc" || first.Request.Text != "swap 1 eth" {
		t.Fatalf("unexpected job: %+v", first)
	}
	if first.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected default max attempts, got %d", first.MaxAttempts)
	}

	second, err := svc.Submit(ctx, swap.Request{ID: "abc", Text: "something else", Wallet: walletA})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Request.Text != "swap 1 eth" {
		t.Fatalf("expected original job, got %+v", second)
	}
	if got := len(queue.jobs); got != 1 {
		t.Fatalf("expected exactly one publish, got %d", got)
	}
}

func TestServiceSubmitGeneratesID(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryQueue(8), 1)
	job, err := svc.Submit(context.Background(), swap.Request{Text: "swap", Wallet: walletA})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID == "" || job.Request.ID != job.ID {
		t.Fatalf("expected generated id, got %+v", job)
	}
}

func TestServiceSubmitValidation(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryQueue(8), 1)
	cases := []swap.Request{
		{Text: "   ", Wallet: walletA},
		{Text: "swap", Wallet: "not-a-wallet"},
	}
	for _, req := range cases {
		_, err := svc.Submit(context.Background(), req)
		if !xerrors.HasCode(err, CodeJobValidation) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}

	var uninitialised Service
	if _, err := uninitialised.Submit(context.Background(), swap.Request{Text: "swap", Wallet: walletA}); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestServiceSubmitPublishFailureMarksJobFailed(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, failingProducer{err: errors.New("broker down")}, 1)

	_, err := svc.Submit(context.Background(), swap.Request{ID: "p1", Text: "swap", Wallet: walletA})
	if !xerrors.HasCode(err, CodeJobPublish) {
		t.Fatalf("expected publish error, got %v", err)
	}
	job, getErr := store.Get(context.Background(), "p1")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if job.Status != StatusFailed || job.ErrorCode != string(CodeJobPublish) {
		t.Fatalf("unexpected job state: %+v", job)
	}
}

func TestServiceHistory(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, NewMemoryQueue(8), 1)
	ctx := context.Background()

	other := "0x00000000000000000000000000000000000000bb"
	for _, req := range []swap.Request{
		{ID: "h1", Text: "swap", Wallet: walletA},
		{ID: "h2", Text: "swap", Wallet: other},
		{ID: "h3", Text: "swap", Wallet: walletA},
	} {
		if _, err := svc.Submit(ctx, req); err != nil {
			t.Fatalf("submit %s: %v", req.ID, err)
		}
	}

	jobs, err := svc.History(ctx, "0x00000000000000000000000000000000000000AA", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	for _, job := range jobs {
		if job.Request.Wallet != walletA {
			t.Fatalf("unexpected wallet in history: %+v", job)
		}
	}

	if _, err := svc.History(ctx, "bogus", 10); !xerrors.HasCode(err, CodeJobValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
