package locks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kernel "github.com/joeycumines/go-kernel"
)

func newTestKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	k, err := kernel.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func TestLock(t *testing.T) {
	k := newTestKernel(t)
	l := NewLock(k)

	require.ErrorIs(t, l.Release(), ErrNotHeld)

	t1, err := k.Spawn(func(c *kernel.Context) (any, error) {
		return nil, l.Acquire(c)
	})
	require.NoError(t, err)
	_, err = k.Run(nil, time.Second)
	require.NoError(t, err)
	require.True(t, t1.Completed())
	require.NoError(t, t1.ErrNow())
	assert.Zero(t, k.Stats().Blocked)

	t2, err := k.Spawn(func(c *kernel.Context) (any, error) {
		return nil, l.Acquire(c)
	})
	require.NoError(t, err)
	t3, err := k.Spawn(func(c *kernel.Context) (any, error) {
		return nil, l.Acquire(c)
	})
	require.NoError(t, err)

	_, err = k.Run(nil, 0)
	require.ErrorIs(t, err, kernel.ErrKernelTimeout)
	assert.Equal(t, 2, k.Stats().Blocked)
	assert.False(t, t2.Completed())
	assert.False(t, t3.Completed())

	require.NoError(t, l.Release())
	_, err = k.Run(nil, 0)
	require.ErrorIs(t, err, kernel.ErrKernelTimeout)
	assert.Equal(t, 1, k.Stats().Blocked)
	assert.True(t, t2.Completed())
	assert.False(t, t3.Completed())

	require.NoError(t, l.Release())
	_, err = k.Run(nil, time.Second)
	require.NoError(t, err)
	assert.True(t, t3.Completed())
	require.NoError(t, l.Release())
}

func TestLockTryAcquire(t *testing.T) {
	k := newTestKernel(t)
	l := NewLock(k)

	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	require.NoError(t, l.Release())
	assert.True(t, l.TryAcquire())
}

func TestLockFIFO(t *testing.T) {
	k := newTestKernel(t)
	l := NewLock(k)

	// Waiters acquire in the order they queued, regardless of how long
	// they hold the lock.
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := k.Spawn(func(c *kernel.Context) (any, error) {
			if err := l.Acquire(c); err != nil {
				return nil, err
			}
			defer l.Release()
			order = append(order, i)
			return nil, c.Sleep(time.Millisecond)
		})
		require.NoError(t, err)
	}
	_, err := k.Run(nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLockDo(t *testing.T) {
	k := newTestKernel(t)
	l := NewLock(k)

	var ran bool
	_, err := k.Run(func(c *kernel.Context) (any, error) {
		return nil, l.Do(c, func() error {
			ran = true
			assert.False(t, l.TryAcquire())
			return nil
		})
	}, time.Second)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.True(t, l.TryAcquire())
}

func TestBoundedSemaphore(t *testing.T) {
	k := newTestKernel(t)
	s := NewBoundedSemaphore(k, 2)

	assert.True(t, s.TryAcquire())
	assert.True(t, s.TryAcquire())
	assert.False(t, s.TryAcquire())

	blocked, err := k.Spawn(func(c *kernel.Context) (any, error) {
		return nil, s.Acquire(c)
	})
	require.NoError(t, err)
	_, err = k.Run(nil, 0)
	require.ErrorIs(t, err, kernel.ErrKernelTimeout)
	assert.False(t, blocked.Completed())

	require.NoError(t, s.Release())
	_, err = k.Run(nil, time.Second)
	require.NoError(t, err)
	assert.True(t, blocked.Completed())

	require.NoError(t, s.Release())
	require.NoError(t, s.Release())
	require.ErrorIs(t, s.Release(), ErrNotHeld)
}

func TestSemaphoreLimitsConcurrency(t *testing.T) {
	k := newTestKernel(t)
	s := NewBoundedSemaphore(k, 2)

	var active, peak int
	for i := 0; i < 6; i++ {
		_, err := k.Spawn(func(c *kernel.Context) (any, error) {
			if err := s.Acquire(c); err != nil {
				return nil, err
			}
			defer s.Release()
			active++
			if active > peak {
				peak = active
			}
			if err := c.Sleep(time.Millisecond); err != nil {
				return nil, err
			}
			active--
			return nil, nil
		})
		require.NoError(t, err)
	}
	_, err := k.Run(nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, peak)
	assert.Zero(t, active)
}

func TestCondition(t *testing.T) {
	k := newTestKernel(t)
	cv := NewCondition(k)

	var returned int
	for i := 0; i < 3; i++ {
		_, err := k.Spawn(func(c *kernel.Context) (any, error) {
			if err := cv.Acquire(c); err != nil {
				return nil, err
			}
			defer cv.Release()
			if err := cv.Wait(c); err != nil {
				return nil, err
			}
			returned++
			return nil, nil
		})
		require.NoError(t, err)
	}

	_, err := k.Run(nil, 0)
	require.ErrorIs(t, err, kernel.ErrKernelTimeout)
	assert.Zero(t, returned)

	require.True(t, cv.TryAcquire())
	cv.Notify(1)
	require.NoError(t, cv.Release())
	_, err = k.Run(nil, 0)
	require.ErrorIs(t, err, kernel.ErrKernelTimeout)
	assert.Equal(t, 1, returned)

	require.True(t, cv.TryAcquire())
	cv.NotifyAll()
	require.NoError(t, cv.Release())
	_, err = k.Run(nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, returned)
}

func TestEvent(t *testing.T) {
	k := newTestKernel(t)
	e := NewEvent(k)

	var woken int
	for i := 0; i < 2; i++ {
		_, err := k.Spawn(func(c *kernel.Context) (any, error) {
			if err := e.Wait(c); err != nil {
				return nil, err
			}
			woken++
			return nil, nil
		})
		require.NoError(t, err)
	}

	_, err := k.Run(nil, 0)
	require.ErrorIs(t, err, kernel.ErrKernelTimeout)
	assert.Zero(t, woken)
	assert.False(t, e.IsSet())

	e.Set()
	assert.True(t, e.IsSet())
	_, err = k.Run(nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, woken)

	// Once set, Wait does not suspend.
	_, err = k.Run(func(c *kernel.Context) (any, error) {
		return nil, e.Wait(c)
	}, time.Second)
	require.NoError(t, err)

	e.Clear()
	assert.False(t, e.IsSet())
}

func TestGate(t *testing.T) {
	k := newTestKernel(t)
	g := NewGate(k)

	waiter, err := k.Spawn(func(c *kernel.Context) (any, error) {
		return nil, g.Wait(c)
	})
	require.NoError(t, err)
	_, err = k.Run(nil, 0)
	require.ErrorIs(t, err, kernel.ErrKernelTimeout)
	assert.False(t, waiter.Completed())

	g.Unblock()
	_, err = k.Run(nil, time.Second)
	require.NoError(t, err)
	assert.True(t, waiter.Completed())
}
