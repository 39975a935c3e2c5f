package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/fichabot/internal/driver"
	"github.com/soyeahso/fichabot/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func newTestPool(max int, timeout time.Duration, opener driver.Opener) *Pool {
	if opener == nil {
		opener = &driver.MockOpener{}
	}
	return NewPool(PoolConfig{
		MaxSessions:    max,
		SessionTimeout: timeout,
		SweepInterval:  time.Minute,
	}, opener, nil, testLogger())
}

func TestPool_AcquireCreatesOnce(t *testing.T) {
	opener := &driver.MockOpener{}
	p := newTestPool(5, time.Minute, opener)

	s1, err := p.Acquire(context.Background(), "alice")
	require.NoError(t, err)

	before := s1.LastActivity()
	time.Sleep(2 * time.Millisecond)

	s2, err := p.Acquire(context.Background(), "alice")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.True(t, s2.LastActivity().After(before), "reacquire must refresh activity")
	assert.Equal(t, []string{"alice"}, opener.Opened(), "one handle per user")
}

func TestPool_CapacityNeverExceeded(t *testing.T) {
	p := newTestPool(3, time.Minute, nil)

	for _, u := range []string{"u1", "u2", "u3", "u4", "u5"} {
		_, err := p.Acquire(context.Background(), u)
		require.NoError(t, err)
		assert.LessOrEqual(t, p.Size(), 3)
	}
	assert.Equal(t, 3, p.Stats().ActiveSessions)
}

func TestPool_EvictsLeastRecentlyActive(t *testing.T) {
	var evicted []string
	p := NewPool(PoolConfig{MaxSessions: 2, SessionTimeout: time.Minute, SweepInterval: time.Minute},
		&driver.MockOpener{},
		func(ev Event) {
			if ev.Type == EventEvicted {
				evicted = append(evicted, ev.UserID)
			}
		},
		testLogger())

	sa, err := p.Acquire(context.Background(), "alice")
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), "bob")
	require.NoError(t, err)

	// age alice
	sa.lastActivity.Store(time.Now().Add(-time.Hour).UnixNano())

	_, err = p.Acquire(context.Background(), "carol")
	require.NoError(t, err)

	assert.Equal(t, []string{"alice"}, evicted)
	assert.True(t, sa.Closed())
	assert.ElementsMatch(t, []string{"bob", "carol"}, p.Stats().Users)
}

func TestPool_InFlightSessionNotEvicted(t *testing.T) {
	p := newTestPool(1, time.Minute, nil)

	busy, err := p.Acquire(context.Background(), "alice")
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	go busy.Run(func() {
		close(started)
		<-release
	})
	<-started

	_, err = p.Acquire(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.False(t, busy.Closed())

	close(release)
}

func TestPool_ConcurrentAcquireAtCapacity(t *testing.T) {
	// Pool of 3 with two sessions mid-batch (not evictable) and one free
	// slot. Two new users race for it: exactly one wins, the other is
	// refused with ErrPoolExhausted.
	p := newTestPool(3, time.Minute, nil)

	release := make(chan struct{})
	for _, u := range []string{"busy1", "busy2"} {
		s, err := p.Acquire(context.Background(), u)
		require.NoError(t, err)
		started := make(chan struct{})
		go s.Run(func() {
			close(started)
			<-release
		})
		<-started
	}
	defer close(release)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, u := range []string{"new1", "new2"} {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			_, errs[i] = p.Acquire(context.Background(), u)
		}(i, u)
	}
	wg.Wait()

	var ok, exhausted int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrPoolExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, exhausted)
	assert.LessOrEqual(t, p.Size(), 3)
}

func TestPool_ConcurrentAcquireSameUserOpensOneHandle(t *testing.T) {
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) {
			time.Sleep(10 * time.Millisecond) // simulate slow browser startup
			return &driver.MockHandle{}, nil
		},
	}
	p := newTestPool(5, time.Minute, opener)

	var wg sync.WaitGroup
	sessions := make([]*Session, 4)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := p.Acquire(context.Background(), "alice")
			require.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, []string{"alice"}, opener.Opened())
}

func TestPool_OpenFailureLeavesNoEntry(t *testing.T) {
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) {
			return nil, driver.NewError(driver.KindInfra, "open", errors.New("browser did not start"))
		},
	}
	p := newTestPool(5, time.Minute, opener)

	_, err := p.Acquire(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrSessionInit)
	assert.Equal(t, 0, p.Size())

	// a later attempt is a fresh creation, not a cached failure
	opener.OpenFunc = nil
	_, err = p.Acquire(context.Background(), "alice")
	assert.NoError(t, err)
}

func TestPool_SweepRemovesExpired(t *testing.T) {
	p := newTestPool(5, time.Minute, nil)

	stale, err := p.Acquire(context.Background(), "stale")
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), "fresh")
	require.NoError(t, err)

	stale.lastActivity.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	removed := p.Sweep(context.Background())
	assert.Equal(t, 1, removed)
	assert.True(t, stale.Closed())
	assert.Equal(t, []string{"fresh"}, p.Stats().Users)
}

func TestPool_SweepSkipsInFlight(t *testing.T) {
	p := newTestPool(5, time.Minute, nil)

	s, err := p.Acquire(context.Background(), "alice")
	require.NoError(t, err)
	s.lastActivity.Store(time.Now().Add(-time.Hour).UnixNano())

	started := make(chan struct{})
	release := make(chan struct{})
	go s.Run(func() {
		close(started)
		<-release
	})
	<-started

	assert.Equal(t, 0, p.Sweep(context.Background()))
	assert.False(t, s.Closed())

	close(release)
}

func TestPool_SweepClosesOutsideLock(t *testing.T) {
	closing := make(chan struct{})
	release := make(chan struct{})
	slow := &driver.MockHandle{
		CloseFunc: func(ctx context.Context) error {
			close(closing)
			<-release
			return nil
		},
	}
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) {
			if userID == "alice" {
				return slow, nil
			}
			return &driver.MockHandle{}, nil
		},
	}
	p := newTestPool(3, time.Minute, opener)

	s, err := p.Acquire(context.Background(), "alice")
	require.NoError(t, err)
	s.lastActivity.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	go p.Sweep(context.Background())
	<-closing

	// The pool lock must be free while the slow close is in flight.
	acquired := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), "bob")
		acquired <- err
	}()
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Acquire blocked behind a sweep closing a handle")
	}
	close(release)
}

func TestPool_Release(t *testing.T) {
	p := newTestPool(5, time.Minute, nil)

	s, err := p.Acquire(context.Background(), "alice")
	require.NoError(t, err)

	assert.True(t, p.Release(context.Background(), "alice"))
	assert.True(t, s.Closed())
	assert.False(t, p.Release(context.Background(), "alice"))
	assert.Equal(t, 0, p.Size())
}

func TestPool_Stats(t *testing.T) {
	p := newTestPool(10, time.Minute, nil)
	for _, u := range []string{"bob", "alice"} {
		_, err := p.Acquire(context.Background(), u)
		require.NoError(t, err)
	}

	st := p.Stats()
	assert.Equal(t, 2, st.ActiveSessions)
	assert.Equal(t, 10, st.MaxSessions)
	assert.Equal(t, []string{"alice", "bob"}, st.Users) // sorted
}

func TestPool_CloseAllDuringOpenClosesHandle(t *testing.T) {
	handle := &driver.MockHandle{}
	opening := make(chan struct{})
	release := make(chan struct{})
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) {
			close(opening)
			<-release
			return handle, nil
		},
	}
	p := newTestPool(3, time.Minute, opener)

	acquired := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), "alice")
		acquired <- err
	}()
	<-opening

	p.CloseAll(context.Background())
	close(release)

	err := <-acquired
	require.ErrorIs(t, err, ErrSessionInit)
	assert.True(t, handle.Closed(), "handle opened into a discarded entry must be closed")
	assert.Equal(t, 0, p.Size())
}
