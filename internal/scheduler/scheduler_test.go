package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coursebot/internal/queue"
)

// blockingRunner records started tasks and holds each until released.
type blockingRunner struct {
	mu      sync.Mutex
	started []string
	release map[string]chan error
	q       *queue.Queue
}

func newBlockingRunner(q *queue.Queue) *blockingRunner {
	return &blockingRunner{release: make(map[string]chan error), q: q}
}

func (r *blockingRunner) gate(id string) chan error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.release[id]
	if !ok {
		ch = make(chan error, 1)
		r.release[id] = ch
	}
	return ch
}

func (r *blockingRunner) Run(ctx context.Context, task queue.Task) error {
	r.mu.Lock()
	r.started = append(r.started, task.ID)
	r.mu.Unlock()

	select {
	case err := <-r.gate(task.ID):
		if err != nil {
			return err
		}
		r.q.Remove(task.ID)
		return nil
	case <-ctx.Done():
		r.q.Remove(task.ID)
		return ctx.Err()
	}
}

func (r *blockingRunner) finish(id string, err error) {
	r.gate(id) <- err
}

func (r *blockingRunner) startedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestScheduler(t *testing.T) (*Scheduler, *queue.Queue, *blockingRunner, *ManualSource) {
	t.Helper()
	q := queue.New()
	runner := newBlockingRunner(q)
	src := NewManualSource()
	sched := New(Config{Concurrency: 3}, q, runner.Run, WithTickSource(src))
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})
	return sched, q, runner, src
}

func TestScheduler_Defaults(t *testing.T) {
	sched := New(Config{}, queue.New(), nil)
	cfg := sched.Config()
	if cfg.Concurrency != DefaultConcurrency || cfg.TickInterval != DefaultTickInterval {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, ok := sched.source.(*CronSource); !ok {
		t.Fatalf("expected cron source for whole-second interval, got %T", sched.source)
	}
}

func TestScheduler_AddItemWakesIdleSource(t *testing.T) {
	sched, _, _, src := newTestScheduler(t)
	if src.Active() {
		t.Fatal("source should be idle with an empty queue")
	}

	if _, err := sched.AddItem("a", queue.Request{Prompt: "hi"}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := sched.AddItem("b", queue.Request{Prompt: "hi"}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if !src.Active() {
		t.Fatal("source should be active after AddItem")
	}
	if src.Starts() != 1 {
		t.Fatalf("source started %d times, want 1", src.Starts())
	}
}

func TestScheduler_DuplicateID(t *testing.T) {
	sched, _, _, _ := newTestScheduler(t)
	if _, err := sched.AddItem("a", queue.Request{}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := sched.AddItem("a", queue.Request{}); !errors.Is(err, queue.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestScheduler_ConcurrencyBoundAndOrder(t *testing.T) {
	sched, q, runner, src := newTestScheduler(t)
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		if _, err := sched.AddItem(id, queue.Request{Prompt: id}); err != nil {
			t.Fatalf("AddItem %s: %v", id, err)
		}
	}

	src.Fire()
	waitFor(t, func() bool { return len(runner.startedIDs()) == 3 })
	if got := q.ProcessingCount(); got != 3 {
		t.Fatalf("processing = %d, want 3", got)
	}
	task, ok := q.Get("t4")
	if !ok || task.Status.Processing {
		t.Fatal("t4 must stay pending while slots are full")
	}
	if task.Status.Position != 3 {
		t.Fatalf("t4 position = %d, want 3", task.Status.Position)
	}

	// A full tick launches nothing.
	if n := sched.Tick(context.Background()); n != 0 {
		t.Fatalf("tick launched %d runners with no free slot", n)
	}

	runner.finish("t2", nil)
	waitFor(t, func() bool { _, ok := q.Get("t2"); return !ok })

	src.Fire()
	waitFor(t, func() bool { return len(runner.startedIDs()) == 4 })

	want := []string{"t1", "t2", "t3", "t4"}
	got := runner.startedIDs()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("start order = %v, want %v", got, want)
		}
	}
	if task, ok := q.Get("t4"); !ok || task.Status.Position != 2 {
		t.Fatalf("t4 position = %+v, want 2", task.Status)
	}
}

func TestScheduler_EmptyQueueStopsSource(t *testing.T) {
	sched, q, runner, src := newTestScheduler(t)
	if _, err := sched.AddItem("only", queue.Request{}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	src.Fire()
	waitFor(t, func() bool { return len(runner.startedIDs()) == 1 })
	runner.finish("only", nil)
	waitFor(t, q.IsEmpty)

	src.Fire()
	if src.Active() {
		t.Fatal("tick over an empty queue should stop the source")
	}

	if _, err := sched.AddItem("next", queue.Request{}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if !src.Active() || src.Starts() != 2 {
		t.Fatalf("source should restart, active=%v starts=%d", src.Active(), src.Starts())
	}
}

func TestScheduler_SafetyNetRemovesFailedTask(t *testing.T) {
	sched, q, runner, src := newTestScheduler(t)
	if _, err := sched.AddItem("bad", queue.Request{}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	src.Fire()
	waitFor(t, func() bool { return len(runner.startedIDs()) == 1 })

	runner.finish("bad", errors.New("channel create failed"))
	waitFor(t, func() bool { _, ok := q.Get("bad"); return !ok })
}

func TestScheduler_SafetyNetRemovesPanickedTask(t *testing.T) {
	q := queue.New()
	src := NewManualSource()
	done := make(chan struct{})
	sched := New(Config{Concurrency: 1}, q, func(context.Context, queue.Task) error {
		defer close(done)
		panic("boom")
	}, WithTickSource(src))
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(context.Background())

	if _, err := sched.AddItem("p", queue.Request{}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	src.Fire()
	<-done
	waitFor(t, q.IsEmpty)
}

func TestScheduler_StopCancelsRunners(t *testing.T) {
	q := queue.New()
	runner := newBlockingRunner(q)
	src := NewManualSource()
	sched := New(Config{Concurrency: 2}, q, runner.Run, WithTickSource(src))
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := sched.AddItem(id, queue.Request{}); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
	}
	src.Fire()
	waitFor(t, func() bool { return len(runner.startedIDs()) == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-sched.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
	if !q.IsEmpty() {
		t.Fatalf("runners should have cleaned up, %d left", q.Len())
	}
	if src.Active() {
		t.Fatal("source should be stopped")
	}
	if _, err := sched.AddItem("late", queue.Request{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestScheduler_StartContextCancelsRunners(t *testing.T) {
	q := queue.New()
	runner := newBlockingRunner(q)
	src := NewManualSource()
	sched := New(Config{Concurrency: 1}, q, runner.Run, WithTickSource(src))

	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(context.Background())

	if _, err := sched.AddItem("a", queue.Request{}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	src.Fire()
	waitFor(t, func() bool { return len(runner.startedIDs()) == 1 })
	cancel()
	waitFor(t, q.IsEmpty)
}

type recordingMetrics struct {
	mu     sync.Mutex
	exits  []error
	depths [][2]int
}

func (m *recordingMetrics) QueueDepth(pending, processing int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths = append(m.depths, [2]int{pending, processing})
}

func (m *recordingMetrics) RunnerExited(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exits = append(m.exits, err)
}

func TestScheduler_ReportsMetrics(t *testing.T) {
	q := queue.New()
	runner := newBlockingRunner(q)
	src := NewManualSource()
	metrics := &recordingMetrics{}
	sched := New(Config{Concurrency: 1}, q, runner.Run, WithTickSource(src), WithMetrics(metrics))
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(context.Background())

	if _, err := sched.AddItem("a", queue.Request{}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	src.Fire()
	waitFor(t, func() bool { return len(runner.startedIDs()) == 1 })
	runner.finish("a", nil)

	waitFor(t, func() bool {
		metrics.mu.Lock()
		defer metrics.mu.Unlock()
		return len(metrics.exits) == 1
	})
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.exits[0] != nil {
		t.Fatalf("unexpected exit error: %v", metrics.exits[0])
	}
	if metrics.depths[0] != [2]int{1, 0} {
		t.Fatalf("first depth = %v, want [1 0]", metrics.depths[0])
	}
}
