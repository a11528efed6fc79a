package concurrency_test

import (
	"context"
	"errors"
	"testing"

	"github.com/momentics/hioload-poll/internal/concurrency"
)

func TestClosureListRunsInOrderIncludingNested(t *testing.T) {
	l := concurrency.NewClosureList()
	var order []int
	l.Add(nil, nil)
	l.Add(func(context.Context, error) {
		order = append(order, 1)
		l.Add(func(context.Context, error) { order = append(order, 3) }, nil)
	}, nil)
	l.Add(func(context.Context, error) { order = append(order, 2) }, nil)
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (nil callbacks are dropped)", l.Len())
	}
	if n := l.Run(context.Background()); n != 3 {
		t.Fatalf("Run = %d, want 3", n)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v", order)
	}
	if !l.Empty() {
		t.Fatal("list not empty after Run")
	}
}

func TestClosureListMoveToPreservesErrors(t *testing.T) {
	src, dst := concurrency.NewClosureList(), concurrency.NewClosureList()
	boom := errors.New("boom")
	var got error
	src.Add(func(_ context.Context, err error) { got = err }, boom)
	src.MoveTo(dst)
	if !src.Empty() || dst.Len() != 1 {
		t.Fatalf("src=%d dst=%d", src.Len(), dst.Len())
	}
	dst.Run(context.Background())
	if got != boom {
		t.Fatalf("callback got %v, want %v", got, boom)
	}
}

type ctxKey struct{}

func TestExecCtxFlushHandsContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), ctxKey{}, "worker-1")
	ec := concurrency.NewExecCtx(ctx)
	if ec.Flush() {
		t.Fatal("Flush on empty context reported work")
	}
	var seen any
	ec.Sched(func(ctx context.Context, _ error) { seen = ctx.Value(ctxKey{}) }, nil)
	if !ec.Pending() {
		t.Fatal("Pending = false after Sched")
	}
	if !ec.Flush() {
		t.Fatal("Flush reported no work")
	}
	if seen != "worker-1" {
		t.Fatalf("callback saw %v", seen)
	}
	if ec.Pending() {
		t.Fatal("Pending after Flush")
	}
}

func TestExecCtxSchedListDrainsSource(t *testing.T) {
	idle := concurrency.NewClosureList()
	ran := 0
	for i := 0; i < 3; i++ {
		idle.Add(func(context.Context, error) { ran++ }, nil)
	}
	ec := concurrency.NewExecCtx(nil)
	ec.SchedList(idle)
	if !idle.Empty() {
		t.Fatal("source list not drained")
	}
	ec.Flush()
	if ran != 3 {
		t.Fatalf("ran %d callbacks, want 3", ran)
	}
}

func TestBackgroundGoRuns(t *testing.T) {
	done := make(chan struct{})
	concurrency.Go(func() { close(done) })
	<-done
}
