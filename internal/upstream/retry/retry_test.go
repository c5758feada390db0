package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"ensemblegateway/internal/gwerrors"
)

func fastOptions() Options {
	return Options{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      1.5,
		MaxElapsedTime:  200 * time.Millisecond,
	}
}

func TestSweepSucceedsOnFirstModel(t *testing.T) {
	var attempts []string
	attempt := func(_ context.Context, modelID string) error {
		attempts = append(attempts, modelID)
		return nil
	}
	if err := Sweep(context.Background(), fastOptions(), []string{"0", "1"}, attempt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 1 || attempts[0] != "0" {
		t.Fatalf("expected a single attempt on model 0, got %v", attempts)
	}
}

func TestSweepFallsBackOnRetryableError(t *testing.T) {
	var attempts []string
	attempt := func(_ context.Context, modelID string) error {
		attempts = append(attempts, modelID)
		if modelID == "0" {
			return gwerrors.New(gwerrors.KindEmptyStream, "no chunks")
		}
		return nil
	}
	if err := Sweep(context.Background(), fastOptions(), []string{"0", "1"}, attempt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) < 2 || attempts[0] != "0" || attempts[1] != "1" {
		t.Fatalf("expected model 0 then model 1, got %v", attempts)
	}
}

func TestSweepAbortsOnNonRetryableError(t *testing.T) {
	var attempts []string
	wantErr := gwerrors.New(gwerrors.KindNoUpstreamsFound, "bad request")
	attempt := func(_ context.Context, modelID string) error {
		attempts = append(attempts, modelID)
		return wantErr
	}
	err := Sweep(context.Background(), fastOptions(), []string{"0", "1"}, attempt)
	if err != wantErr {
		t.Fatalf("expected the permanent error to pass through unwrapped, got %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected exactly one attempt before aborting, got %v", attempts)
	}
}

func TestSweepEmptyModelListErrors(t *testing.T) {
	err := Sweep(context.Background(), fastOptions(), nil, func(context.Context, string) error {
		t.Fatal("attempt should never be called for an empty model list")
		return nil
	})
	var ge *gwerrors.Error
	if err == nil {
		t.Fatal("expected an error for an empty model list")
	}
	if !errors.As(err, &ge) || ge.Message.Kind != gwerrors.KindNoUpstreamsFound {
		t.Fatalf("expected KindNoUpstreamsFound, got %v", err)
	}
}
