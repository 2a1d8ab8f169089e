package hook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFdManagerAutoCreateAndLookup(t *testing.T) {
	m := &fdManager{data: make(map[int]*fdCtx)}
	assert.Nil(t, m.Get(99, false))

	c := m.Get(99, true)
	assert.NotNil(t, c)
	assert.Same(t, c, m.Get(99, false))

	m.Del(99)
	assert.Nil(t, m.Get(99, false))
}

func TestFdCtxTimeoutsAreIndependentPerKind(t *testing.T) {
	c := newFdCtx(5, true)
	c.setTimeout(RecvTimeout, 10*time.Millisecond)
	c.setTimeout(SendTimeout, 20*time.Millisecond)

	assert.Equal(t, 10*time.Millisecond, c.getTimeout(RecvTimeout))
	assert.Equal(t, 20*time.Millisecond, c.getTimeout(SendTimeout))
}

func TestFdCtxUserNonblockAndClosedFlags(t *testing.T) {
	c := newFdCtx(5, true)
	assert.False(t, c.getUserNonblock())
	assert.False(t, c.isClosed())

	c.setUserNonblock(true)
	assert.True(t, c.getUserNonblock())

	c.markClosed()
	assert.True(t, c.isClosed())
}
