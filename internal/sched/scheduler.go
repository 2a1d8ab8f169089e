// Package sched implements a cooperative N:M scheduler:
// worker goroutines pulling runnable tasks (fibers or callbacks) from a
// shared queue, with optional thread affinity and a use-caller mode where
// the constructing goroutine itself becomes a worker. IOManager (L3) is
// built by composing a Scheduler with a custom idle routine rather than by
// subclassing, since Go has no inheritance — the idiomatic substitute the
// rest of this module's concurrency primitives (channels, composition)
// already lean on.
package sched

import (
	"context"
	"sync"

	"github.com/weftline/corenet/internal/fiber"
	"github.com/weftline/corenet/internal/metrics"
)

// AnyThread is the affinity value meaning "any worker may run this task".
const AnyThread = -1

// Task is either a fiber reference or a bare callback that will be wrapped
// in a fresh (or recycled) fiber on first dispatch — FiberOrCallback in
// Tasks are consumed once.
type Task struct {
	Fiber    *fiber.Fiber
	Callback fiber.Entry
	Thread   int
}

// IdleFunc is the per-worker idle routine run as a dedicated fiber when no
// task is ready. The default loops yielding to hold until Stopping(); the
// IOManager supplies one that drives epoll_wait instead.
type IdleFunc func(ctx context.Context, s *Scheduler, workerID int)

func defaultIdle(ctx context.Context, s *Scheduler, workerID int) {
	for !s.Stopping() {
		fiber.YieldToHold(ctx)
	}
}

// Scheduler is N worker goroutines sharing one ready queue.
type Scheduler struct {
	name        string
	workerCount int
	useCaller   bool
	idleFn      IdleFunc

	// extraStopping lets a composing layer (IOManager) add conditions to
	// Stopping(), e.g. "no pending epoll events and no armed timers".
	extraStopping func() bool

	metrics *metrics.Collectors

	mu          sync.Mutex
	cond        *sync.Cond
	queue       []Task
	activeCount int
	idleCount   int
	stopping    bool
	rootFiber   *fiber.Fiber
	wg          sync.WaitGroup
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithIdleFunc overrides the idle routine (IOManager uses this to splice
// in epoll_wait).
func WithIdleFunc(fn IdleFunc) Option {
	return func(s *Scheduler) { s.idleFn = fn }
}

// WithExtraStopping ANDs an additional predicate into Stopping().
func WithExtraStopping(fn func() bool) Option {
	return func(s *Scheduler) { s.extraStopping = fn }
}

// WithMetrics attaches a Collectors set that Schedule/ScheduleBatch and the
// per-worker run loop report against. Nil (the default) disables metrics.
func WithMetrics(m *metrics.Collectors) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a scheduler with the given worker count and use-caller mode.
// It starts in the stopped state; call Start to spawn workers.
func New(workers int, useCaller bool, name string, opts ...Option) *Scheduler {
	if workers < 1 {
		panic("sched: workers must be >= 1")
	}
	s := &Scheduler{
		name:        name,
		workerCount: workers,
		useCaller:   useCaller,
		idleFn:      defaultIdle,
		stopping:    true,
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the scheduler's name.
func (s *Scheduler) Name() string { return s.name }

// WorkerCount returns the configured worker count (including the caller's
// own slot when use-caller is set).
func (s *Scheduler) WorkerCount() int { return s.workerCount }

// Start spawns the worker goroutines. Idempotent: calling Start twice
// while already running is a no-op. With use-caller, one fewer goroutine
// is spawned — that slot only runs when Stop is called from the
// constructing goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if !s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = false
	s.mu.Unlock()

	n := s.workerCount
	base := 0
	if s.useCaller {
		n--
		base = 1
		s.rootFiber = fiber.New(func(c context.Context) { s.runWorker(c, 0) }, 0)
	}
	for i := 0; i < n; i++ {
		id := base + i
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runWorker(ctx, id)
		}()
	}
}

// Stop sets the stop flag, wakes every worker (and, in use-caller mode,
// runs the root worker loop on this very call before returning), then
// joins all spawned worker goroutines.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.cond.Broadcast()

	if s.useCaller && s.rootFiber != nil {
		s.rootFiber.Call(ctx)
	}
	s.wg.Wait()
}

// Schedule enqueues one task. If the ready queue was empty before this
// insertion, an idle worker is tickled.
func (s *Scheduler) Schedule(task Task) {
	s.mu.Lock()
	wasEmpty := len(s.queue) == 0
	s.queue = append(s.queue, task)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.FibersScheduled.Inc()
	}
	if wasEmpty {
		s.Tickle()
	}
}

// ScheduleBatch enqueues many tasks, tickling at most once.
func (s *Scheduler) ScheduleBatch(tasks []Task) {
	if len(tasks) == 0 {
		return
	}
	s.mu.Lock()
	wasEmpty := len(s.queue) == 0
	s.queue = append(s.queue, tasks...)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.FibersScheduled.Add(float64(len(tasks)))
	}
	if wasEmpty {
		s.Tickle()
	}
}

// Tickle nudges an idle worker. A no-op if no worker is currently idle.
func (s *Scheduler) Tickle() {
	s.mu.Lock()
	idle := s.idleCount > 0
	s.mu.Unlock()
	if idle {
		s.cond.Broadcast()
	}
}

// SwitchTo moves the calling fiber onto a specific worker and yields.
func SwitchTo(ctx context.Context, s *Scheduler, thread int) {
	f, ok := fiber.FromContext(ctx)
	if !ok {
		panic("sched: SwitchTo called outside a fiber")
	}
	s.Schedule(Task{Fiber: f, Thread: thread})
	fiber.YieldToHold(ctx)
}

// Stopping reports whether the scheduler may fully wind down: the stop
// flag is set, the ready queue is empty, nothing is actively executing,
// and any extra condition (IOManager's pending-event/timer checks) holds.
func (s *Scheduler) Stopping() bool {
	s.mu.Lock()
	base := s.stopping && len(s.queue) == 0 && s.activeCount == 0
	s.mu.Unlock()
	if !base {
		return false
	}
	if s.extraStopping != nil {
		return s.extraStopping()
	}
	return true
}

// dequeue pops the first task whose affinity permits workerID, reporting
// whether another worker should be tickled because work remains.
func (s *Scheduler) dequeue(workerID int) (Task, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tickleMe := false
	idx := -1
	var chosen Task
	for i, t := range s.queue {
		if t.Thread != AnyThread && t.Thread != workerID {
			tickleMe = true
			continue
		}
		chosen = t
		idx = i
		break
	}
	if idx < 0 {
		return Task{}, tickleMe, false
	}
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	s.activeCount++
	if len(s.queue) > 0 {
		tickleMe = true
	}
	return chosen, tickleMe, true
}

func (s *Scheduler) decActive() {
	s.mu.Lock()
	s.activeCount--
	s.mu.Unlock()
}

func (s *Scheduler) incIdle() {
	s.mu.Lock()
	s.idleCount++
	s.mu.Unlock()
}

func (s *Scheduler) decIdle() {
	s.mu.Lock()
	s.idleCount--
	s.mu.Unlock()
}

// runWorker is the per-worker scheduler fiber loop.
func (s *Scheduler) runWorker(ctx context.Context, workerID int) {
	var cbCarrier *fiber.Fiber
	idleFiber := fiber.New(func(c context.Context) { s.idleFn(c, s, workerID) }, 0)

	for {
		task, tickleMe, found := s.dequeue(workerID)
		if tickleMe {
			s.Tickle()
		}

		if found {
			s.runTask(ctx, task, &cbCarrier)
			continue
		}

		st := idleFiber.State()
		if st == fiber.StateTerm || st == fiber.StateExcept {
			return
		}

		s.incIdle()
		idleFiber.SwapIn(ctx)
		s.decIdle()
	}
}

func (s *Scheduler) runTask(ctx context.Context, task Task, cbCarrier **fiber.Fiber) {
	defer s.decActive()

	if task.Fiber != nil {
		st := task.Fiber.State()
		if st == fiber.StateTerm || st == fiber.StateExcept {
			return
		}
		if st == fiber.StateExec {
			// Enqueued by SwitchTo and still finishing its yield on the
			// worker it left; requeue instead of swapping into it.
			s.Schedule(task)
			return
		}
		s.swapInMetered(task.Fiber, ctx)
		if task.Fiber.State() == fiber.StateReady {
			if s.metrics != nil {
				s.metrics.FiberYields.Inc()
			}
			s.Schedule(Task{Fiber: task.Fiber, Thread: task.Thread})
		}
		return
	}

	if *cbCarrier == nil {
		*cbCarrier = fiber.New(task.Callback, 0)
	} else {
		(*cbCarrier).Reset(task.Callback)
	}
	s.swapInMetered(*cbCarrier, ctx)
	switch (*cbCarrier).State() {
	case fiber.StateReady:
		if s.metrics != nil {
			s.metrics.FiberYields.Inc()
		}
		s.Schedule(Task{Fiber: *cbCarrier})
		*cbCarrier = nil
	case fiber.StateTerm, fiber.StateExcept:
		// cached for reuse on this worker's next callback dispatch
	default:
		*cbCarrier = nil
	}
}

// swapInMetered wraps Fiber.SwapIn with FibersRunning bookkeeping: the
// gauge only counts the window between a worker handing control to a
// fiber and getting it back, not time spent waiting in the ready queue.
func (s *Scheduler) swapInMetered(f *fiber.Fiber, ctx context.Context) {
	if s.metrics != nil {
		s.metrics.FibersRunning.Inc()
		defer s.metrics.FibersRunning.Dec()
	}
	f.SwapIn(ctx)
}
