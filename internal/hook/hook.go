// Package hook adapts blocking-style socket calls to the cooperative
// scheduler: instead of truly intercepting libc via dlsym(RTLD_NEXT, ...)
// (no such facility exists for a statically linked Go binary), callers that
// want the original's "normal blocking code, fiber-scheduled underneath"
// experience go through these wrappers explicitly. A fiber.FromContext +
// iomanager.FromContext pair stands in for GetThis(); a context.Context
// "hook enabled" flag stands in for the thread_local toggle.
package hook

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/weftline/corenet/internal/fiber"
	"github.com/weftline/corenet/internal/iomanager"
	"github.com/weftline/corenet/internal/sched"
	"github.com/weftline/corenet/internal/timer"
)

// ErrTimeout is returned when a hooked call's deadline elapses before the
// underlying fd becomes ready.
var ErrTimeout = errors.New("hook: i/o timeout")

type enableKey struct{}

// WithEnabled marks ctx as hook-enabled, the context-carried replacement for
// set_hook_enable(true): call sites that build their context from this one
// get fiber-yielding I/O; everything else keeps calling the plain syscall
// directly.
func WithEnabled(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, enableKey{}, enabled)
}

// Enabled reports whether ctx opted into hooked I/O.
func Enabled(ctx context.Context) bool {
	v, _ := ctx.Value(enableKey{}).(bool)
	return v
}

// Socket creates a socket fd and registers it with the hook layer's
// descriptor table so subsequent Read/Write/Accept calls know it is a
// socket with configurable timeouts.
func Socket(domain, typ, protocol int) (int, error) {
	fd, err := unix.Socket(domain, typ, protocol)
	if err != nil {
		return -1, err
	}
	globalFdManager.Get(fd, true)
	return fd, nil
}

// Close releases fd's hook bookkeeping and cancels any outstanding
// IOManager interest before closing the descriptor, mirroring hook.cc's
// close(): cancelAll(fd) then the real close.
func Close(ctx context.Context, fd int) error {
	if c := globalFdManager.Get(fd, false); c != nil {
		c.markClosed()
		if m, ok := iomanager.FromContext(ctx); ok {
			m.CancelAll(fd)
		}
		Forget(fd)
	}
	return unix.Close(fd)
}

// timerInfo is the Go stand-in for the original's timer_info: a flag a
// condition-gated timeout timer can flip to tell the retry loop it fired.
type timerInfo struct {
	cancelled error
}

// doIO retries fn (a syscall.Read/Write/Accept-style call returning n and an
// EAGAIN-capable error) until it succeeds, fails with a real error, or a
// timeout elapses — parking the current fiber via the IOManager between
// attempts instead of blocking the OS thread.
func doIO(ctx context.Context, fd int, event iomanager.Event, kind TimeoutKind, fn func() (int, error)) (int, error) {
	if !Enabled(ctx) {
		return fn()
	}

	c := globalFdManager.Get(fd, false)
	if c == nil {
		return fn()
	}
	if c.isClosed() {
		return -1, unix.EBADF
	}
	if c.getUserNonblock() {
		return fn()
	}

	m, ok := iomanager.FromContext(ctx)
	if !ok {
		return fn()
	}
	if _, ok := fiber.FromContext(ctx); !ok {
		return fn()
	}

	to := c.getTimeout(kind)

	for {
		n, err := fn()
		if err == nil || !errors.Is(err, unix.EAGAIN) {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return n, err
		}

		info := &timerInfo{}
		var cond *timer.Condition
		var t *timer.Timer
		if to > 0 {
			cond = timer.NewCondition()
			t = m.AddConditionTimer(to, func() {
				info.cancelled = ErrTimeout
				m.CancelEvent(fd, event)
			}, cond, false)
		}

		regErr := m.RegisterFiber(ctx, fd, event)

		if cond != nil {
			cond.Disarm()
			t.Cancel()
		}

		if regErr != nil {
			return -1, regErr
		}
		if info.cancelled != nil {
			return -1, info.cancelled
		}
		// back from the yield: retry the syscall
	}
}

// Read performs a fiber-yielding read, falling back to a direct blocking
// read when ctx did not opt into hooking.
func Read(ctx context.Context, fd int, buf []byte) (int, error) {
	return doIO(ctx, fd, iomanager.EventRead, RecvTimeout, func() (int, error) {
		return unix.Read(fd, buf)
	})
}

// Write performs a fiber-yielding write.
func Write(ctx context.Context, fd int, buf []byte) (int, error) {
	return doIO(ctx, fd, iomanager.EventWrite, SendTimeout, func() (int, error) {
		return unix.Write(fd, buf)
	})
}

// Accept performs a fiber-yielding accept on a listening socket, registering
// the accepted fd with the hook layer.
func Accept(ctx context.Context, listenFD int) (int, unix.Sockaddr, error) {
	var connFD int
	var sa unix.Sockaddr
	_, err := doIO(ctx, listenFD, iomanager.EventRead, RecvTimeout, func() (int, error) {
		fd, addr, aerr := unix.Accept(listenFD)
		if aerr != nil {
			return -1, aerr
		}
		connFD, sa = fd, addr
		return fd, nil
	})
	if err != nil {
		return -1, nil, err
	}
	globalFdManager.Get(connFD, true)
	return connFD, sa, nil
}

// Connect performs a fiber-yielding connect with an optional timeout (0
// means wait indefinitely, matching tcp.connect.timeout's "no value
// configured" case being treated as a real caller-provided deadline
// instead).
func Connect(ctx context.Context, fd int, addr unix.Sockaddr, timeout time.Duration) error {
	err := unix.Connect(fd, addr)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINPROGRESS) {
		return err
	}
	if !Enabled(ctx) {
		return err
	}

	m, ok := iomanager.FromContext(ctx)
	if !ok {
		return err
	}

	info := &timerInfo{}
	var cond *timer.Condition
	var t *timer.Timer
	if timeout > 0 {
		cond = timer.NewCondition()
		t = m.AddConditionTimer(timeout, func() {
			info.cancelled = ErrTimeout
			m.CancelEvent(fd, iomanager.EventWrite)
		}, cond, false)
	}

	regErr := m.RegisterFiber(ctx, fd, iomanager.EventWrite)
	if cond != nil {
		cond.Disarm()
		t.Cancel()
	}
	if regErr != nil {
		return regErr
	}
	if info.cancelled != nil {
		return info.cancelled
	}

	soErr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		return gerr
	}
	if soErr != 0 {
		return unix.Errno(soErr)
	}
	return nil
}

// Sleep parks the current fiber for d without blocking its worker thread:
// an IOManager timer reschedules the fiber once d elapses.
func Sleep(ctx context.Context, d time.Duration) {
	f, ok := fiber.FromContext(ctx)
	if !ok {
		time.Sleep(d)
		return
	}
	m, ok := iomanager.FromContext(ctx)
	if !ok {
		time.Sleep(d)
		return
	}
	m.AddTimer(d, func() {
		m.Schedule(sched.Task{Fiber: f, Thread: sched.AnyThread})
	}, false)
	fiber.YieldToHold(ctx)
}
