package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConflictClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: try again"), true},
		{errors.New("exec: database is locked"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := IsSQLiteConflictError(tt.err); got != tt.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryOnConflictRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), "test", 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("constraint failed")
	calls := 0
	err := RetryOnConflict(context.Background(), "test", 5, time.Millisecond, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestRetryOnConflictGivesUp(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), "test", 2, time.Millisecond, func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if !IsSQLiteBusyError(err) || calls != 2 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}
