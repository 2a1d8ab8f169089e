package iomanager

import "github.com/weftline/corenet/internal/fiber"

// Event identifies one epoll interest.
type Event uint32

const (
	EventNone  Event = 0
	EventRead  Event = 1
	EventWrite Event = 2
)

// eventCtx is the per-(fd,event) handler: either a fiber to resume or a
// callback to run, exactly one of which is set.
type eventCtx struct {
	fb *fiber.Fiber
	cb func()
}

func (e *eventCtx) trigger(dispatch func(*fiber.Fiber), runInline func(func())) {
	if e == nil {
		return
	}
	if e.fb != nil {
		dispatch(e.fb)
		return
	}
	if e.cb != nil {
		runInline(e.cb)
	}
}

// fdContext holds the registered handlers for one file descriptor, mirroring
// the dense per-fd table used to track per-descriptor interest (FdContext).
type fdContext struct {
	fd     int
	events Event // currently armed interest mask
	read   eventCtx
	write  eventCtx
	valid  bool
}

func (c *fdContext) ctxFor(ev Event) *eventCtx {
	switch ev {
	case EventRead:
		return &c.read
	case EventWrite:
		return &c.write
	default:
		return nil
	}
}

func (c *fdContext) reset() {
	c.events = EventNone
	c.read = eventCtx{}
	c.write = eventCtx{}
	c.valid = false
}

// fdTable is the dense, index-by-fd table of per-descriptor state, grown by
// 1.5x whenever a registered fd would fall outside its current bounds.
type fdTable struct {
	slots []*fdContext
}

func newFDTable(initial int) *fdTable {
	if initial < 32 {
		initial = 32
	}
	return &fdTable{slots: make([]*fdContext, initial)}
}

func (t *fdTable) ensure(fd int) *fdContext {
	if fd >= len(t.slots) {
		newCap := len(t.slots)
		for fd >= newCap {
			newCap = newCap + newCap/2 + 1
		}
		grown := make([]*fdContext, newCap)
		copy(grown, t.slots)
		t.slots = grown
	}
	c := t.slots[fd]
	if c == nil {
		c = &fdContext{fd: fd}
		t.slots[fd] = c
	}
	return c
}

func (t *fdTable) get(fd int) *fdContext {
	if fd < 0 || fd >= len(t.slots) {
		return nil
	}
	return t.slots[fd]
}
