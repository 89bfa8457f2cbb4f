package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/punchamoorthee/dropledger/internal/store"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestGuardRecordsReturnedError(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	err := Guard(context.Background(), st, quietLogger(), "cleanup", func(context.Context) error {
		return errors.New("store unreachable")
	})
	if err != nil {
		t.Fatalf("guard returned %v, want nil", err)
	}
	got := st.SystemErrors()
	if len(got) != 1 || got[0].Job != "cleanup" || got[0].Message != "store unreachable" {
		t.Fatalf("system errors = %+v", got)
	}
}

func TestGuardRecoversPanic(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	err := Guard(context.Background(), st, quietLogger(), "payout", func(context.Context) error {
		panic("nil account")
	})
	if err != nil {
		t.Fatalf("guard returned %v, want nil", err)
	}
	got := st.SystemErrors()
	if len(got) != 1 || !strings.Contains(got[0].Message, "nil account") || got[0].Stack == "" {
		t.Fatalf("system errors = %+v", got)
	}
}

func TestGuardSuccessLeavesNoRecord(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	_ = Guard(context.Background(), st, quietLogger(), "notify", func(context.Context) error { return nil })
	if n := len(st.SystemErrors()); n != 0 {
		t.Fatalf("system errors = %d", n)
	}
}

type fixedLease struct {
	grant    bool
	released int
}

func (f *fixedLease) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	if !f.grant {
		return nil, false, nil
	}
	return func() { f.released++ }, true, nil
}

func TestRunOnceHonoursLease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	runs := 0
	job := Job{Name: "cleanup", Schedule: "@hourly", Run: func(context.Context) error { runs++; return nil }}

	held := &fixedLease{grant: false}
	if NewScheduler(ctx, st, held, quietLogger()).RunOnce(ctx, job) {
		t.Fatalf("job ran without the lease")
	}
	free := &fixedLease{grant: true}
	if !NewScheduler(ctx, st, free, quietLogger()).RunOnce(ctx, job) {
		t.Fatalf("job did not run with the lease")
	}
	if runs != 1 || free.released != 1 {
		t.Fatalf("runs=%d released=%d", runs, free.released)
	}
}

func TestAddRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	s := NewScheduler(context.Background(), store.NewMemory(), nil, quietLogger())
	if err := s.Add(Job{Name: "payout", Schedule: "every tuesday", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := s.Add(Job{Name: "payout", Schedule: "0 9 * * MON", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("weekly schedule rejected: %v", err)
	}
}
