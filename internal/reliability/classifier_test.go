package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryableStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		if got := IsRetryableStatus(tc.code); got != tc.want {
			t.Fatalf("IsRetryableStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	limit := 700 * time.Millisecond
	if got := Backoff(0, base, limit); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := Backoff(1, base, limit); got != 200*time.Millisecond {
		t.Fatalf("attempt 1 = %v, want 200ms", got)
	}
	if got := Backoff(10, base, limit); got != limit {
		t.Fatalf("attempt 10 = %v, want %v", got, limit)
	}
}

func TestDo(t *testing.T) {
	transient := errors.New("transient")
	fatal := errors.New("fatal")
	retryable := func(err error) bool { return errors.Is(err, transient) }
	policy := Policy{Attempts: 3, Base: time.Millisecond, Limit: time.Millisecond}

	cases := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{name: "first try", errs: []error{nil}, wantCalls: 1},
		{name: "recovers", errs: []error{transient, nil}, wantCalls: 2},
		{name: "gives up", errs: []error{transient, transient, transient}, wantCalls: 3, wantErr: transient},
		{name: "fatal stops", errs: []error{fatal, nil}, wantCalls: 1, wantErr: fatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), policy, retryable, func(attempt int) error {
				calls++
				return tc.errs[attempt]
			})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Do() error = %v, want %v", err, tc.wantErr)
			}
			if calls != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tc.wantCalls)
			}
		})
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	transient := errors.New("transient")
	calls := 0
	err := Do(ctx, Policy{Attempts: 5, Base: time.Hour, Limit: time.Hour}, func(error) bool { return true }, func(int) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) || calls != 1 {
		t.Fatalf("Do() = %v after %d calls, want transient after 1", err, calls)
	}
}
