// Package iomanager layers epoll-driven readiness on top of the cooperative
// scheduler: fibers and callbacks register interest in a
// (fd, event) pair and are dispatched when epoll_wait reports readiness,
// with a self-pipe used to break a blocked wait from another goroutine — the
// idiomatic substitute for composing a Scheduler with epoll_wait as its idle
// routine rather than subclassing it, the way the gaio teacher's watcher
// composes a poller with its own request/result loop.
package iomanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/weftline/corenet/internal/fiber"
	"github.com/weftline/corenet/internal/metrics"
	"github.com/weftline/corenet/internal/sched"
	"github.com/weftline/corenet/internal/timer"
)

const (
	maxEpollEvents = 256
	// maxIdleWaitMillis bounds how long a worker blocks in epoll_wait with
	// no timer armed, a periodic safety net independent of the self-pipe
	// wake-up so a stuck or missed wake still gets noticed within 3s.
	maxIdleWaitMillis = 3000
)

// ErrInvalidArgument is returned by RegisterFiber/RegisterCallback when the
// same interest is already armed on that fd.
var ErrInvalidArgument = errors.New("iomanager: event already registered for this fd")

type ctxKey struct{}

// WithManager returns a context carrying m as "the current IOManager", the
// context-propagated substitute for IOManager::GetThis()'s thread-local.
func WithManager(ctx context.Context, m *IOManager) context.Context {
	return context.WithValue(ctx, ctxKey{}, m)
}

// FromContext returns the IOManager stashed by WithManager, if any.
func FromContext(ctx context.Context) (*IOManager, bool) {
	m, ok := ctx.Value(ctxKey{}).(*IOManager)
	return m, ok
}

// IOManager composes a Scheduler with an epoll instance and a timer heap. It
// composes a Scheduler the way "IOManager extends Scheduler" reads in C++;
// since Go has no inheritance, composition plus a custom IdleFunc plays the
// same role.
type IOManager struct {
	*sched.Scheduler

	epfd    int
	wakeR   int
	wakeW   int
	timers  *timer.Heap
	mu      sync.Mutex
	table   *fdTable
	pending int32 // outstanding event handlers, used by Stopping()

	metrics *metrics.Collectors

	closed bool
}

// Option configures an IOManager at construction.
type Option func(*IOManager)

// WithMetrics attaches a Collectors set that the epoll idle loop and event
// table report against. Nil (the default) disables metrics.
func WithMetrics(c *metrics.Collectors) Option {
	return func(m *IOManager) { m.metrics = c }
}

// New creates an IOManager with the given worker count and use-caller mode,
// mirroring sched.New's signature.
func New(workers int, useCaller bool, name string, opts ...Option) (*IOManager, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("iomanager: epoll_create1: %w", err)
	}

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("iomanager: pipe2: %w", err)
	}

	m := &IOManager{
		epfd:   epfd,
		wakeR:  fds[0],
		wakeW:  fds[1],
		timers: timer.New(),
		table:  newFDTable(128),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, m.wakeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(m.wakeR),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, fmt.Errorf("iomanager: epoll_ctl add wake pipe: %w", err)
	}

	m.Scheduler = sched.New(workers, useCaller, name,
		sched.WithIdleFunc(m.idle),
		sched.WithExtraStopping(func() bool {
			m.mu.Lock()
			n := m.pending
			t := m.timers.Len()
			m.mu.Unlock()
			return n == 0 && t == 0
		}),
		sched.WithMetrics(m.metrics),
	)

	// the timer heap breaks a blocked epoll_wait whenever a new timer
	// becomes the soonest deadline
	m.timers.SetOnFrontInserted(m.wake)

	return m, nil
}

// Close releases the epoll instance and self-pipe. The scheduler should be
// stopped first.
func (m *IOManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	unix.Close(m.wakeR)
	unix.Close(m.wakeW)
	return unix.Close(m.epfd)
}

// Start spawns the worker goroutines, tagging ctx so every fiber and
// callback running under this IOManager can recover it via FromContext.
func (m *IOManager) Start(ctx context.Context) {
	m.Scheduler.Start(WithManager(ctx, m))
}

// Stop winds the scheduler down, tagging ctx the same way Start does so a
// use-caller root fiber driven from Stop still sees the manager in context.
// It wakes the self-pipe first: a worker idling with no armed timers is
// blocked in epoll_wait for up to maxIdleWaitMillis and would otherwise
// notice the stop flag only when that wait ran out or unrelated readiness
// arrived.
func (m *IOManager) Stop(ctx context.Context) {
	m.wake()
	m.Scheduler.Stop(WithManager(ctx, m))
}

// Schedule enqueues task on the embedded scheduler, then writes to the
// self-pipe so a worker blocked in epoll_wait picks the task up at once
// instead of after its idle wait runs out.
func (m *IOManager) Schedule(task sched.Task) {
	m.Scheduler.Schedule(task)
	m.wake()
}

// wake breaks a blocked epoll_wait by writing one byte to the self-pipe.
func (m *IOManager) wake() {
	var b [1]byte
	for {
		_, err := unix.Write(m.wakeW, b[:])
		if err == unix.EINTR {
			continue
		}
		return
	}
}

// incPending/decPending keep m.pending and the PendingFDEvents gauge in
// sync; callers must already hold m.mu.
func (m *IOManager) incPending() {
	m.pending++
	if m.metrics != nil {
		m.metrics.PendingFDEvents.Set(float64(m.pending))
	}
}

func (m *IOManager) decPending() {
	m.pending--
	if m.metrics != nil {
		m.metrics.PendingFDEvents.Set(float64(m.pending))
	}
}

func (m *IOManager) drainWake() {
	var buf [64]byte
	for {
		_, err := unix.Read(m.wakeR, buf[:])
		if err != nil {
			return
		}
	}
}

// RegisterFiber arms interest in ev on fd and parks the calling fiber until
// it fires (or the IOManager is stopped). It must be called from inside a
// fiber (the AddEvent(fd, event) contract paired with Fiber::YieldToHold).
func (m *IOManager) RegisterFiber(ctx context.Context, fd int, ev Event) error {
	f, ok := fiber.FromContext(ctx)
	if !ok {
		return fmt.Errorf("iomanager: RegisterFiber called outside a fiber")
	}
	if err := m.addEvent(fd, ev, &eventCtx{fb: f}); err != nil {
		return err
	}
	fiber.YieldToHold(ctx)
	return nil
}

// RegisterCallback arms interest in ev on fd and runs cb on the worker that
// observes readiness, without involving a fiber.
func (m *IOManager) RegisterCallback(fd int, ev Event, cb func()) error {
	return m.addEvent(fd, ev, &eventCtx{cb: cb})
}

// DelEvent disarms a previously registered interest without triggering its
// waiter, returning whether anything was removed. Unlike CancelEvent, the
// parked fiber or callback is simply discarded: a caller reaches for this
// when it knows the waiter no longer cares about the outcome (it has
// moved on through some other path), not when it wants to unblock it.
func (m *IOManager) DelEvent(fd int, ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.table.get(fd)
	if c == nil || c.events&ev == 0 {
		return false
	}
	*c.ctxFor(ev) = eventCtx{}
	c.events &^= ev
	m.decPending()
	m.applyInterest(c)
	return true
}

// CancelEvent disarms a previously registered interest and synchronously
// triggers its waiter — the fiber or callback is scheduled exactly as if
// readiness had arrived, so a fiber parked in RegisterFiber always wakes
// up instead of hanging forever once its deadline is cancelled out from
// under it. Returns whether anything was cancelled.
func (m *IOManager) CancelEvent(fd int, ev Event) bool {
	m.mu.Lock()
	c := m.table.get(fd)
	if c == nil || c.events&ev == 0 {
		m.mu.Unlock()
		return false
	}
	handler := *c.ctxFor(ev)
	*c.ctxFor(ev) = eventCtx{}
	c.events &^= ev
	m.decPending()
	m.applyInterest(c)
	m.mu.Unlock()

	m.scheduleHandler(handler)
	return true
}

// CancelAll disarms every interest registered on fd and triggers both
// waiters, if present, the same way CancelEvent does for one.
func (m *IOManager) CancelAll(fd int) {
	m.mu.Lock()
	c := m.table.get(fd)
	if c == nil || c.events == EventNone {
		m.mu.Unlock()
		return
	}
	var handlers []eventCtx
	if c.events&EventRead != 0 {
		handlers = append(handlers, c.read)
		m.decPending()
	}
	if c.events&EventWrite != 0 {
		handlers = append(handlers, c.write)
		m.decPending()
	}
	c.reset()
	unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	m.mu.Unlock()

	for _, h := range handlers {
		m.scheduleHandler(h)
	}
}

// scheduleHandler hands a disarmed waiter to the scheduler, the same
// dispatch a readiness event would have performed.
func (m *IOManager) scheduleHandler(h eventCtx) {
	switch {
	case h.fb != nil:
		m.Schedule(sched.Task{Fiber: h.fb})
	case h.cb != nil:
		m.Schedule(sched.Task{Callback: func(ctx context.Context) { h.cb() }})
	}
}

func (m *IOManager) addEvent(fd int, ev Event, handler *eventCtx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.table.ensure(fd)
	if c.events&ev != 0 {
		return ErrInvalidArgument
	}
	wasArmed := c.events != EventNone
	m.incPending()
	*c.ctxFor(ev) = *handler
	c.events |= ev
	c.valid = true

	op := unix.EPOLL_CTL_MOD
	if !wasArmed {
		op = unix.EPOLL_CTL_ADD
	}
	events := epollMaskFor(c.events)
	if err := unix.EpollCtl(m.epfd, op, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)}); err != nil {
		return fmt.Errorf("iomanager: epoll_ctl: %w", err)
	}
	return nil
}

func (m *IOManager) applyInterest(c *fdContext) {
	if c.events == EventNone {
		unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
		return
	}
	unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, c.fd, &unix.EpollEvent{
		Events: epollMaskFor(c.events),
		Fd:     int32(c.fd),
	})
}

func epollMaskFor(ev Event) uint32 {
	var mask uint32
	if ev&EventRead != 0 {
		mask |= unix.EPOLLIN
	}
	if ev&EventWrite != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

// AddTimer arms a one-shot or periodic callback on the IOManager's shared
// timer heap.
func (m *IOManager) AddTimer(d time.Duration, cb func(), periodic bool) *timer.Timer {
	return m.timers.Add(d, cb, periodic)
}

// AddConditionTimer arms a callback gated on cond staying alive until fired.
func (m *IOManager) AddConditionTimer(d time.Duration, cb func(), cond *timer.Condition, periodic bool) *timer.Timer {
	return m.timers.AddCondition(d, cb, cond, periodic)
}

// idle is the scheduler IdleFunc: block in epoll_wait for however long until
// the next timer deadline (capped at maxIdleWaitMillis when none is
// armed), dispatch whatever fires, then yield back to the scheduler loop
// so it can re-check the ready queue.
func (m *IOManager) idle(ctx context.Context, s *sched.Scheduler, workerID int) {
	events := make([]unix.EpollEvent, maxEpollEvents)
	for !s.Stopping() {
		timeout := maxIdleWaitMillis
		if d, ok := m.timers.NextDeadline(); ok {
			if d < 0 {
				d = 0
			}
			ms := d.Milliseconds()
			if ms > maxIdleWaitMillis {
				ms = maxIdleWaitMillis
			}
			timeout = int(ms)
		}

		n, err := unix.EpollWait(m.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				fiber.YieldToReady(ctx)
				continue
			}
			fiber.YieldToReady(ctx)
			continue
		}

		var expired []func()
		expired = m.timers.CollectExpired(expired)
		for _, cb := range expired {
			cb()
			if m.metrics != nil {
				m.metrics.TimerFires.Inc()
			}
		}

		for i := 0; i < n; i++ {
			e := events[i]
			fd := int(e.Fd)
			if fd == m.wakeR {
				m.drainWake()
				continue
			}
			if m.metrics != nil {
				m.metrics.EpollEvents.Inc()
			}
			m.dispatch(fd, e.Events)
		}

		fiber.YieldToReady(ctx)
	}
}

func (m *IOManager) dispatch(fd int, mask uint32) {
	m.mu.Lock()
	c := m.table.get(fd)
	if c == nil {
		m.mu.Unlock()
		return
	}

	var handlers []eventCtx
	if mask&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 && c.events&EventRead != 0 {
		handlers = append(handlers, c.read)
		c.read = eventCtx{}
		c.events &^= EventRead
		m.decPending()
	}
	if mask&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 && c.events&EventWrite != 0 {
		handlers = append(handlers, c.write)
		c.write = eventCtx{}
		c.events &^= EventWrite
		m.decPending()
	}
	m.applyInterest(c)
	m.mu.Unlock()

	for _, h := range handlers {
		m.scheduleHandler(h)
	}
}
