package wrench

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// startDetector runs a detector in the background and waits for the loop.
func startDetector(t *testing.T, cfg Config) (*Detector, context.CancelFunc, <-chan error) {
	t.Helper()

	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	waitFor(t, "run loop", d.Running)
	t.Cleanup(cancel)
	return d, cancel, errCh
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitResult(t *testing.T, g *Goal) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := g.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait(%s): %v", g.ID(), err)
	}
	return res
}

func TestFixedROI(t *testing.T) {
	want := []Point{
		{0, 0, 0},
		{10, 0, 0},
		{10, 10, 0},
		{0, 10, 0},
	}

	got := FixedROI().Points()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		shouldErr bool
	}{
		{"default", DefaultConfig(), false},
		{"zero_queue", Config{QueueSize: 0, HistorySize: 10}, true},
		{"zero_history", Config{QueueSize: 10, HistorySize: 0}, true},
		{"minimal", Config{QueueSize: 1, HistorySize: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.shouldErr && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("New with zero config should fail")
	}
}

func TestDetector_FramesBeforeGoalProduceNothing(t *testing.T) {
	d, _, _ := startDetector(t, DefaultConfig())

	for i := 0; i < 3; i++ {
		if !d.HandleFrame(Frame{Data: []byte("frame")}) {
			t.Fatalf("frame %d not queued", i)
		}
	}

	waitFor(t, "ignored frames", func() bool { return d.Stats().FramesIgnored == 3 })

	stats := d.Stats()
	if stats.ResultsProduced != 0 {
		t.Errorf("ResultsProduced = %d, want 0", stats.ResultsProduced)
	}
	if stats.Enabled {
		t.Error("detector should stay on standby without a goal")
	}
}

func TestDetector_GoalThenFrame(t *testing.T) {
	d, _, _ := startDetector(t, DefaultConfig())

	g, err := d.Submit(context.Background(), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if g.ID() == "" {
		t.Fatal("generated goal ID is empty")
	}

	waitFor(t, "enabled", func() bool { return d.Stats().Enabled })
	if g.Status() != StatusActive {
		t.Errorf("Status = %s, want active", g.Status())
	}

	d.HandleFrame(Frame{Source: "test", Data: []byte{0xff, 0xd8}})

	res := waitResult(t, g)
	if res.ROI != FixedROI() {
		t.Errorf("ROI = %+v, want %+v", res.ROI, FixedROI())
	}
	if g.Status() != StatusSucceeded {
		t.Errorf("Status = %s, want succeeded", g.Status())
	}

	// A second frame without a new goal must not produce anything.
	d.HandleFrame(Frame{Source: "test"})
	waitFor(t, "ignored frame", func() bool { return d.Stats().FramesIgnored == 1 })

	stats := d.Stats()
	if stats.ResultsProduced != 1 {
		t.Errorf("ResultsProduced = %d, want 1", stats.ResultsProduced)
	}
	if stats.Enabled {
		t.Error("detector should return to standby after a result")
	}
}

func TestDetector_ArrivalOrderIsPreserved(t *testing.T) {
	d, _, _ := startDetector(t, DefaultConfig())

	// Frame queued before the goal cannot satisfy it.
	d.HandleFrame(Frame{})
	g, err := d.Submit(context.Background(), "ordered")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.HandleFrame(Frame{})

	res := waitResult(t, g)
	if res.FrameSeq != 2 {
		t.Errorf("FrameSeq = %d, want 2", res.FrameSeq)
	}
}

func TestDetector_OnlyFirstFrameWhileEnabled(t *testing.T) {
	d, _, _ := startDetector(t, DefaultConfig())

	g, err := d.Submit(context.Background(), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.HandleFrame(Frame{SourceSeq: 10})
	d.HandleFrame(Frame{SourceSeq: 11})

	res := waitResult(t, g)
	if res.FrameSeq != 1 {
		t.Errorf("FrameSeq = %d, want 1", res.FrameSeq)
	}

	waitFor(t, "second frame ignored", func() bool { return d.Stats().FramesIgnored == 1 })
	if got := d.Stats().ResultsProduced; got != 1 {
		t.Errorf("ResultsProduced = %d, want 1", got)
	}
}

func TestDetector_MultipleGoalsShareCycle(t *testing.T) {
	d, _, _ := startDetector(t, DefaultConfig())

	g1, err := d.Submit(context.Background(), "first")
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	g2, err := d.Submit(context.Background(), "second")
	if err != nil {
		t.Fatalf("Submit second: %v", err)
	}

	waitFor(t, "both active", func() bool {
		return g1.Status() == StatusActive && g2.Status() == StatusActive
	})
	if !d.Stats().Enabled {
		t.Error("detector should remain enabled")
	}

	d.HandleFrame(Frame{})

	r1 := waitResult(t, g1)
	r2 := waitResult(t, g2)
	if r1 != r2 {
		t.Errorf("goals got different results: %+v vs %+v", r1, r2)
	}
	if got := d.Stats().ResultsProduced; got != 1 {
		t.Errorf("ResultsProduced = %d, want 1", got)
	}
}

func TestDetector_SeqIsAssignedOnArrival(t *testing.T) {
	d, _, _ := startDetector(t, DefaultConfig())

	var (
		mu   sync.Mutex
		seqs []uint64
	)
	d.OnResult(func(res Result, _ []GoalInfo) {
		mu.Lock()
		seqs = append(seqs, res.FrameSeq)
		mu.Unlock()
	})

	// Two cameras numbering their frames independently.
	for _, source := range []string{"left", "right"} {
		g, err := d.Submit(context.Background(), "")
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		d.HandleFrame(Frame{Seq: 5, SourceSeq: 5, Source: source})
		waitResult(t, g)
	}

	waitFor(t, "both results", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("FrameSeqs = %v, want [1 2]", seqs)
	}
}

func TestDetector_Ready(t *testing.T) {
	d, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	select {
	case <-d.Ready():
		t.Fatal("Ready closed before Run")
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	select {
	case <-d.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Ready not closed after Run")
	}
	if _, err := d.Submit(context.Background(), ""); err != nil {
		t.Errorf("Submit after Ready: %v", err)
	}
}

func TestDetector_SubmitWhenNotRunning(t *testing.T) {
	d, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := d.Submit(context.Background(), ""); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Submit error = %v, want ErrNotRunning", err)
	}
	if d.HandleFrame(Frame{}) {
		t.Error("HandleFrame should drop frames while not running")
	}
	if got := d.Stats().FramesDropped; got != 1 {
		t.Errorf("FramesDropped = %d, want 1", got)
	}
}

func TestDetector_RunTwice(t *testing.T) {
	d, _, _ := startDetector(t, DefaultConfig())

	if err := d.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run error = %v, want ErrAlreadyRunning", err)
	}
}

func TestDetector_ShutdownAbortsWaitingGoals(t *testing.T) {
	d, cancel, errCh := startDetector(t, DefaultConfig())

	g, err := d.Submit(context.Background(), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "active", func() bool { return g.Status() == StatusActive })

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	if _, err := g.Wait(ctx); !errors.Is(err, ErrGoalAborted) {
		t.Errorf("Wait error = %v, want ErrGoalAborted", err)
	}
	if g.Status() != StatusAborted {
		t.Errorf("Status = %s, want aborted", g.Status())
	}
	if d.Running() {
		t.Error("Running should be false after shutdown")
	}
}

func TestDetector_DropsFramesWhenQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	d, _, _ := startDetector(t, cfg)

	// Run loop is parked with one frame queued: the next one drops.
	unpark := parkRunLoop(t, d)
	if d.HandleFrame(Frame{}) {
		t.Error("frame should be dropped while the queue is full")
	}
	unpark()

	if got := d.Stats().FramesDropped; got != 1 {
		t.Errorf("FramesDropped = %d, want 1", got)
	}
}

// parkRunLoop fills a one-slot queue while the run loop is blocked in a
// result listener. The returned func releases the loop.
func parkRunLoop(t *testing.T, d *Detector) func() {
	t.Helper()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	d.OnResult(func(Result, []GoalInfo) {
		once.Do(func() { close(entered) })
		<-release
	})

	if _, err := d.Submit(context.Background(), ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.HandleFrame(Frame{})

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}
	if !d.HandleFrame(Frame{}) {
		t.Fatal("frame should fill the queue")
	}

	var releaseOnce sync.Once
	unpark := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unpark)
	return unpark
}

func TestDetector_SubmitBlockedUntilContextDone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	d, _, _ := startDetector(t, cfg)
	parkRunLoop(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := d.Submit(ctx, "blocked"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Error("Submit returned before the context expired")
	}
	if _, err := d.Goal("blocked"); !errors.Is(err, ErrGoalNotFound) {
		t.Errorf("Goal error = %v, want ErrGoalNotFound", err)
	}
	if got := d.Stats().GoalsAccepted; got != 1 {
		t.Errorf("GoalsAccepted = %d, want 1", got)
	}
}

func TestDetector_SubmitBlockedUntilShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	d, cancel, errCh := startDetector(t, cfg)
	unpark := parkRunLoop(t, d)

	submitErr := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), "late")
		submitErr <- err
	}()

	waitFor(t, "goal registered", func() bool {
		_, err := d.Goal("late")
		return err == nil
	})

	cancel()
	unpark()

	select {
	case err := <-submitErr:
		if !errors.Is(err, ErrNotRunning) {
			t.Errorf("Submit error = %v, want ErrNotRunning", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit still blocked after shutdown")
	}
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
	if _, err := d.Goal("late"); !errors.Is(err, ErrGoalNotFound) {
		t.Errorf("Goal error = %v, want ErrGoalNotFound", err)
	}
}

func TestDetector_GoalLookup(t *testing.T) {
	d, _, _ := startDetector(t, DefaultConfig())

	g, err := d.Submit(context.Background(), "lookup-me")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	found, err := d.Goal("lookup-me")
	if err != nil {
		t.Fatalf("Goal: %v", err)
	}
	if found != g {
		t.Error("Goal returned a different handle")
	}

	if _, err := d.Goal("missing"); !errors.Is(err, ErrGoalNotFound) {
		t.Errorf("Goal(missing) error = %v, want ErrGoalNotFound", err)
	}

	if _, err := d.Submit(context.Background(), "lookup-me"); !errors.Is(err, ErrDuplicateGoal) {
		t.Errorf("duplicate Submit error = %v, want ErrDuplicateGoal", err)
	}
}

func TestDetector_HistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 2
	d, _, _ := startDetector(t, cfg)

	var last *Goal
	for i := 0; i < 4; i++ {
		g, err := d.Submit(context.Background(), "")
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		d.HandleFrame(Frame{})
		waitResult(t, g)
		last = g
	}

	// Pruning runs right after the goals are completed.
	waitFor(t, "history pruned", func() bool { return len(d.Goals()) == 2 })

	infos := d.Goals()
	if infos[len(infos)-1].ID != last.ID() {
		t.Errorf("newest remembered goal = %s, want %s", infos[len(infos)-1].ID, last.ID())
	}
}

func TestDetector_OnResultListener(t *testing.T) {
	d, _, _ := startDetector(t, DefaultConfig())

	got := make(chan []GoalInfo, 1)
	d.OnResult(func(res Result, goals []GoalInfo) {
		got <- goals
	})

	g, err := d.Submit(context.Background(), "listened")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.HandleFrame(Frame{})

	select {
	case goals := <-got:
		if len(goals) != 1 || goals[0].ID != g.ID() {
			t.Errorf("listener goals = %+v", goals)
		}
		if goals[0].Status != StatusSucceeded || goals[0].Result == nil {
			t.Errorf("listener saw unfinished goal: %+v", goals[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}
}

func TestGoal_WaitRespectsContext(t *testing.T) {
	g := newGoal("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want DeadlineExceeded", err)
	}
	if g.Status() != StatusPending {
		t.Errorf("Status = %s, want pending", g.Status())
	}
}

func TestGoal_FinishOnce(t *testing.T) {
	g := newGoal("once")
	res := Result{ROI: FixedROI()}

	if !g.finish(StatusSucceeded, &res) {
		t.Fatal("first finish should take effect")
	}
	if g.finish(StatusAborted, nil) {
		t.Error("second finish should be ignored")
	}
	if g.Status() != StatusSucceeded {
		t.Errorf("Status = %s, want succeeded", g.Status())
	}
}
