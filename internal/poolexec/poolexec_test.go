package poolexec

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubmit_ReturnsResult(t *testing.T) {
	p, err := New(4)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	defer p.Release()

	got, err := Submit(context.Background(), p, func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Submit() err = %v", err)
	}

	if got != 42 {
		t.Fatalf("Submit() = %d, want 42", got)
	}
}

func TestSubmit_PropagatesTaskError(t *testing.T) {
	p, err := New(4)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	defer p.Release()

	wantErr := errors.New("boom")

	_, err = Submit(context.Background(), p, func() (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Submit() err = %v, want %v", err, wantErr)
	}
}

func TestSubmit_CancelledContextReturnsEarly(t *testing.T) {
	p, err := New(1)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})

	_, err = Submit(ctx, p, func() (int, error) {
		<-release

		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit() err = %v, want context.Canceled", err)
	}

	close(release)
	time.Sleep(10 * time.Millisecond)
}

func TestNew_DefaultsSizeWhenNonPositive(t *testing.T) {
	p, err := New(0)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	defer p.Release()

	if _, err := Submit(context.Background(), p, func() (int, error) { return 1, nil }); err != nil {
		t.Fatalf("Submit() err = %v", err)
	}
}
