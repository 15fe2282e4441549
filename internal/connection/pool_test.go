package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-file-engine/internal/model"
	"go-file-engine/internal/retry"
)

type fakeSession struct {
	id        int
	closed    atomic.Bool
	keepAlive error
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSession) KeepAlive(context.Context) error {
	return s.keepAlive
}

type fakeDialer struct {
	count    atomic.Int32
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
}

func (d *fakeDialer) dial(context.Context) (Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	n := d.count.Add(1)
	s := &fakeSession{id: int(n)}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func testConfig(max int) PoolConfig {
	return PoolConfig{
		MaxConcurrency: max,
		AcquireTimeout: 50 * time.Millisecond,
		Retry:          retry.Config{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond},
	}
}

func TestPoolReusesReleasedSessions(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	pool := NewPool("smb-1", model.ProtocolSMB, testConfig(2), dialer.dial)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	first := lease.Session
	lease.Release()
	lease.Release()

	lease, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Same(t, first, lease.Session)
	lease.Release()

	require.Equal(t, int32(1), dialer.count.Load())
	stats := pool.Stats()
	require.Equal(t, 0, stats.InUse)
	require.Equal(t, 1, stats.Idle)
}

func TestPoolAcquireTimesOutWhenSaturated(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	pool := NewPool("sftp-1", model.ProtocolSFTP, testConfig(1), dialer.dial)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	_, err = pool.Acquire(context.Background())
	require.Equal(t, model.KindTimeout, model.KindOf(err))
}

func TestPoolAcquireNTakesSessionsTogether(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	pool := NewPool("ftp-1", model.ProtocolFTP, testConfig(2), dialer.dial)

	leases, err := pool.AcquireN(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, leases, 2)
	require.NotSame(t, leases[0].Session, leases[1].Session)
	require.Equal(t, 2, pool.Stats().InUse)

	leases[0].Release()
	leases[1].Release()
	require.Zero(t, pool.Stats().InUse)
	require.Equal(t, 2, pool.Stats().Idle)
}

func TestPoolAcquireNNeverHoldsHalfAPair(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	pool := NewPool("ftp-1", model.ProtocolFTP, testConfig(2), dialer.dial)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	_, err = pool.AcquireN(context.Background(), 2)
	require.Equal(t, model.KindTimeout, model.KindOf(err))
	require.Equal(t, 1, pool.Stats().InUse)

	held.Release()
	leases, err := pool.AcquireN(context.Background(), 2)
	require.NoError(t, err)
	for _, lease := range leases {
		lease.Release()
	}
}

func TestPoolAcquireNConcurrentPairsDoNotStarve(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	cfg := testConfig(3)
	cfg.AcquireTimeout = time.Second
	pool := NewPool("smb-1", model.ProtocolSMB, cfg, dialer.dial)

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			leases, err := pool.AcquireN(context.Background(), 2)
			if err == nil {
				time.Sleep(5 * time.Millisecond)
				for _, lease := range leases {
					lease.Release()
				}
			}
			errs <- err
		}()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-errs)
	}
	require.Zero(t, pool.Stats().InUse)
}

func TestPoolAcquireNLargerThanPool(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	pool := NewPool("sftp-1", model.ProtocolSFTP, testConfig(1), dialer.dial)

	_, err := pool.AcquireN(context.Background(), 2)
	require.ErrorIs(t, err, ErrPoolTooSmall)
	require.Zero(t, dialer.count.Load())
}

func TestPoolAcquireCancelled(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	pool := NewPool("sftp-1", model.ProtocolSFTP, testConfig(1), dialer.dial)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	require.Equal(t, model.KindCancelled, model.KindOf(err))
}

func TestLeaseDoneEvictsBrokenSessions(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	pool := NewPool("ftp-1", model.ProtocolFTP, testConfig(1), dialer.dial)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	broken := lease.Session.(*fakeSession)
	lease.Done(model.NewOpError(model.KindNetworkUnreachable, "read", "/a", nil))
	require.True(t, broken.closed.Load())

	lease, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotSame(t, broken, lease.Session)
	lease.Done(model.NewOpError(model.KindNotFound, "stat", "/missing", nil))

	stats := pool.Stats()
	require.Equal(t, int64(1), stats.Evictions)
	require.Equal(t, 1, stats.Idle)
}

func TestPoolEvictsSessionsFailingKeepAlive(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	cfg := testConfig(1)
	cfg.KeepAliveInterval = time.Nanosecond
	pool := NewPool("sftp-1", model.ProtocolSFTP, cfg, dialer.dial)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	stale := lease.Session.(*fakeSession)
	stale.keepAlive = errors.New("connection reset")
	lease.Release()

	time.Sleep(time.Millisecond)
	lease, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	require.True(t, stale.closed.Load())
	require.NotSame(t, stale, lease.Session)
	require.Equal(t, int32(2), dialer.count.Load())
}

func TestThrottleReturnsRetryableWithBackoff(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	cfg := testConfig(4)
	cfg.RatePerSecond = 1
	cfg.Burst = 1
	pool := NewPool("gdrive-1", model.ProtocolGDrive, cfg, dialer.dial)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()

	_, err = pool.Acquire(context.Background())
	require.Equal(t, model.KindRetryable, model.KindOf(err))
	require.Greater(t, model.RetryAfterOf(err), time.Duration(0))
}

func TestDoRetriesOnFreshSession(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	pool := NewPool("smb-1", model.ProtocolSMB, testConfig(1), dialer.dial)

	attempts := 0
	got, err := Do(context.Background(), pool, func(_ context.Context, s Session) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, model.NewOpError(model.KindNetworkUnreachable, "list", "/", nil)
		}
		return s.(*fakeSession).id, nil
	})

	require.NoError(t, err)
	require.Equal(t, 2, got)
	require.Equal(t, 2, attempts)
	require.Equal(t, 0, pool.Stats().InUse)
}

func TestManagerRegisterReplacesPool(t *testing.T) {
	t.Parallel()

	manager := NewManager()
	dialer := &fakeDialer{}

	first := manager.Register("smb-1", model.ProtocolSMB, testConfig(1), dialer.dial)
	lease, err := first.Acquire(context.Background())
	require.NoError(t, err)
	session := lease.Session.(*fakeSession)
	lease.Release()

	second := manager.Register("smb-1", model.ProtocolSMB, testConfig(1), dialer.dial)
	require.NotSame(t, first, second)
	require.True(t, session.closed.Load())

	got, ok := manager.Get("smb-1")
	require.True(t, ok)
	require.Same(t, second, got)
	require.Len(t, manager.Stats(), 1)
	require.NoError(t, manager.Close())
}
