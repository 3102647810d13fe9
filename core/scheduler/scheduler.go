package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/fleetcast/core/logger"
	"github.com/kilianp07/fleetcast/core/metrics"
	"github.com/kilianp07/fleetcast/core/monitoring"
)

var (
	// ErrUnknownTask is returned by RunOnce for unregistered names.
	ErrUnknownTask = errors.New("unknown task")
	// ErrBusy is returned by RunOnce when the task is already running.
	ErrBusy = errors.New("task already running")
)

// Task is a named unit of periodic work.
type Task struct {
	Name     string
	Interval time.Duration
	// Timeout bounds one run. Zero leaves the run unbounded.
	Timeout    time.Duration
	RunAtStart bool
	Run        func(ctx context.Context) error
}

type taskState struct {
	Task
	running atomic.Bool
	skipped atomic.Uint64
	runs    atomic.Uint64
}

// Deps are the collaborators of a Scheduler. Nil fields get no-op defaults.
type Deps struct {
	Clock   Clock
	Logger  logger.Logger
	Metrics metrics.MetricsSink
	Monitor monitoring.Monitor
}

// Scheduler runs tasks on independent tickers.
type Scheduler struct {
	clock Clock
	log   logger.Logger
	sink  metrics.MetricsSink
	mon   monitoring.Monitor

	mu      sync.Mutex
	tasks   map[string]*taskState
	order   []string
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// New creates an empty scheduler.
func New(d Deps) *Scheduler {
	s := &Scheduler{
		clock: d.Clock,
		log:   logger.OrNop(d.Logger),
		sink:  d.Metrics,
		mon:   monitoring.OrNop(d.Monitor),
		tasks: make(map[string]*taskState),
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.sink == nil {
		s.sink = metrics.NopSink{}
	}
	return s
}

// Add registers a task. It must be called before Start.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return errors.New("task needs a name and a run function")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("task %s: scheduler already started", t.Name)
	}
	if _, ok := s.tasks[t.Name]; ok {
		return fmt.Errorf("task %s already registered", t.Name)
	}
	s.tasks[t.Name] = &taskState{Task: t}
	s.order = append(s.order, t.Name)
	return nil
}

// Tasks lists task names in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start launches one loop per task. The loops end when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	for _, name := range s.order {
		ts := s.tasks[name]
		s.wg.Add(1)
		go s.loop(ctx, ts)
	}
	s.log.Infof("scheduler started with %d tasks", len(s.order))
}

// Stop prevents new ticks and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// RunOnce executes a task synchronously, outside of its ticker. It honours
// the overlap rule and returns the task error.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	ts, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if !ts.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer ts.running.Store(false)
	return s.execute(ctx, ts)
}

// Skipped reports how many ticks of a task were dropped because the previous
// run had not finished.
func (s *Scheduler) Skipped(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.tasks[name]; ok {
		return ts.skipped.Load()
	}
	return 0
}

// Runs reports how many runs of a task completed.
func (s *Scheduler) Runs(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.tasks[name]; ok {
		return ts.runs.Load()
	}
	return 0
}

func (s *Scheduler) loop(ctx context.Context, ts *taskState) {
	defer s.wg.Done()
	ticker := time.NewTicker(ts.Interval)
	defer ticker.Stop()
	if ts.RunAtStart {
		s.fire(ctx, ts)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, ts)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, ts *taskState) {
	if ctx.Err() != nil {
		return
	}
	if !ts.running.CompareAndSwap(false, true) {
		n := ts.skipped.Add(1)
		s.log.Warnf("task %s: previous run still in flight, tick skipped (%d total)", ts.Name, n)
		_ = s.sink.RecordTick(metrics.TickEvent{Task: ts.Name, Skipped: true, Time: s.clock.Now()})
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ts.running.Store(false)
		_ = s.execute(ctx, ts)
	}()
}

// execute detaches the run from cancellation so shutdown never interrupts a
// write half way; only the task timeout bounds it.
func (s *Scheduler) execute(parent context.Context, ts *taskState) (err error) {
	ctx := context.WithoutCancel(parent)
	if ts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ts.Timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", ts.Name, r)
		}
		ts.runs.Add(1)
		d := time.Since(start)
		if err != nil {
			s.log.Errorf("task %s failed after %s: %v", ts.Name, d, err)
			s.mon.CaptureException(err, map[string]string{"task": ts.Name})
		} else {
			s.log.Debugf("task %s done in %s", ts.Name, d)
		}
		_ = s.sink.RecordTick(metrics.TickEvent{Task: ts.Name, Duration: d, Err: err, Time: s.clock.Now()})
	}()
	return ts.Run(ctx)
}
