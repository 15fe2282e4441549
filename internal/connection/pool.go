// Package connection pools and throttles sessions to network resources.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"go-file-engine/internal/metrics"
	"go-file-engine/internal/model"
	"go-file-engine/internal/retry"
)

// Session is a live connection to one resource.
type Session interface {
	Close() error
}

// KeepAliver is implemented by sessions that can be probed before reuse.
type KeepAliver interface {
	KeepAlive(ctx context.Context) error
}

type Dialer func(ctx context.Context) (Session, error)

type PoolConfig struct {
	MaxConcurrency    int
	AcquireTimeout    time.Duration
	KeepAliveInterval time.Duration
	// RatePerSecond enables the token bucket when positive.
	RatePerSecond float64
	Burst         int
	Retry         retry.Config
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConcurrency:    4,
		AcquireTimeout:    30 * time.Second,
		KeepAliveInterval: 30 * time.Second,
		Retry:             retry.DefaultConfig(),
	}
}

type idleSession struct {
	session  Session
	lastUsed time.Time
}

type Pool struct {
	resourceID string
	protocol   model.Protocol
	cfg        PoolConfig
	dial       Dialer
	sem        *semaphore.Weighted
	limiter    *rate.Limiter

	mu     sync.Mutex
	idle   []idleSession
	closed bool

	inUse     atomic.Int64
	dials     atomic.Int64
	evictions atomic.Int64
}

type PoolStats struct {
	ResourceID string `json:"resource_id"`
	Max        int    `json:"max"`
	InUse      int    `json:"in_use"`
	Idle       int    `json:"idle"`
	Dials      int64  `json:"dials"`
	Evictions  int64  `json:"evictions"`
}

func NewPool(resourceID string, protocol model.Protocol, cfg PoolConfig, dial Dialer) *Pool {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}

	p := &Pool{
		resourceID: resourceID,
		protocol:   protocol,
		cfg:        cfg,
		dial:       dial,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}

	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return p
}

func (p *Pool) ResourceID() string {
	return p.resourceID
}

func (p *Pool) Config() PoolConfig {
	return p.cfg
}

// ErrPoolTooSmall is returned by AcquireN when n exceeds the pool bound.
var ErrPoolTooSmall = errors.New("request exceeds pool size")

// Acquire leases a session, blocking up to AcquireTimeout while the pool is
// saturated. The returned lease must be released on every exit path.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	leases, err := p.AcquireN(ctx, 1)
	if err != nil {
		return nil, err
	}
	return leases[0], nil
}

// AcquireN leases n sessions in a single step. A caller that needs two
// sessions of one pool at once must use this: taking them one at a time lets
// concurrent callers each hold one and wait forever for the second.
func (p *Pool) AcquireN(ctx context.Context, n int) ([]*Lease, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > p.cfg.MaxConcurrency {
		return nil, &model.OpError{
			Kind:     model.KindUnknown,
			Op:       "acquire",
			Protocol: p.protocol,
			Detail:   fmt.Sprintf("%d sessions requested, %s allows %d", n, p.resourceID, p.cfg.MaxConcurrency),
			Err:      ErrPoolTooSmall,
		}
	}

	if err := p.throttle(n); err != nil {
		return nil, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	if err := p.sem.Acquire(acquireCtx, int64(n)); err != nil {
		if ctx.Err() != nil {
			return nil, &model.OpError{Kind: model.KindCancelled, Op: "acquire", Protocol: p.protocol, Err: ctx.Err()}
		}
		return nil, &model.OpError{
			Kind:     model.KindTimeout,
			Op:       "acquire",
			Protocol: p.protocol,
			Detail:   fmt.Sprintf("no free session for %s after %s", p.resourceID, p.cfg.AcquireTimeout),
			Err:      err,
		}
	}

	leases := make([]*Lease, 0, n)
	for len(leases) < n {
		session, err := p.checkout(ctx)
		if err != nil {
			for _, lease := range leases {
				lease.Release()
			}
			p.sem.Release(int64(n - len(leases)))
			return nil, err
		}

		metrics.SetPoolInUse(p.resourceID, int(p.inUse.Add(1)))
		leases = append(leases, &Lease{pool: p, ResourceID: p.resourceID, Session: session, AcquiredAt: time.Now()})
	}
	return leases, nil
}

func (p *Pool) checkout(ctx context.Context) (Session, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, &model.OpError{Kind: model.KindNetworkUnreachable, Op: "acquire", Protocol: p.protocol, Detail: "pool closed"}
		}
		if len(p.idle) == 0 {
			p.mu.Unlock()
			break
		}
		candidate := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.mu.Unlock()

		if !p.needsProbe(candidate) {
			return candidate.session, nil
		}

		prober, ok := candidate.session.(KeepAliver)
		if !ok {
			return candidate.session, nil
		}
		if err := prober.KeepAlive(ctx); err != nil {
			slog.Warn("evicting session after failed keepalive", "resource_id", p.resourceID, "error", err)
			p.discard(candidate.session)
			continue
		}
		return candidate.session, nil
	}

	session, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.dials.Add(1)
	return session, nil
}

func (p *Pool) needsProbe(candidate idleSession) bool {
	return p.cfg.KeepAliveInterval > 0 && time.Since(candidate.lastUsed) >= p.cfg.KeepAliveInterval
}

// throttle reserves n tokens without blocking. A reservation that would have
// to wait is returned as RETRYABLE with the wait as the recommended backoff.
func (p *Pool) throttle(n int) error {
	if p.limiter == nil {
		return nil
	}

	// A paired lease is one logical request; never ask for more than a burst.
	if burst := p.limiter.Burst(); n > burst {
		n = burst
	}

	reservation := p.limiter.ReserveN(time.Now(), n)
	if !reservation.OK() {
		metrics.RecordPoolThrottled(p.resourceID)
		return &model.OpError{Kind: model.KindRetryable, Op: "throttle", Protocol: p.protocol, Detail: "rate limit exceeded", RetryAfter: time.Second}
	}

	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}

	reservation.Cancel()
	metrics.RecordPoolThrottled(p.resourceID)
	return &model.OpError{
		Kind:       model.KindRetryable,
		Op:         "throttle",
		Protocol:   p.protocol,
		Detail:     fmt.Sprintf("rate limit exceeded for %s", p.resourceID),
		RetryAfter: delay,
	}
}

func (p *Pool) put(session Session) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = session.Close()
		return
	}
	p.idle = append(p.idle, idleSession{session: session, lastUsed: time.Now()})
	p.mu.Unlock()
}

func (p *Pool) discard(session Session) {
	p.evictions.Add(1)
	metrics.RecordPoolEviction(p.resourceID)
	if err := session.Close(); err != nil {
		slog.Debug("closing evicted session", "resource_id", p.resourceID, "error", err)
	}
}

func (p *Pool) release() {
	metrics.SetPoolInUse(p.resourceID, int(p.inUse.Add(-1)))
	p.sem.Release(1)
}

// Close drops idle sessions; leased sessions are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, entry := range idle {
		if err := entry.session.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()

	return PoolStats{
		ResourceID: p.resourceID,
		Max:        p.cfg.MaxConcurrency,
		InUse:      int(p.inUse.Load()),
		Idle:       idle,
		Dials:      p.dials.Load(),
		Evictions:  p.evictions.Load(),
	}
}

// Lease is a scoped hold on one session.
type Lease struct {
	pool       *Pool
	once       sync.Once
	ResourceID string
	Session    Session
	AcquiredAt time.Time
}

// Release returns the session to the idle queue. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.put(l.Session)
		l.pool.release()
	})
}

// Invalidate closes the session instead of returning it.
func (l *Lease) Invalidate() {
	l.once.Do(func() {
		l.pool.discard(l.Session)
		l.pool.release()
	})
}

// Done releases or invalidates depending on whether err means the session broke.
func (l *Lease) Done(err error) {
	if SessionBroken(err) {
		l.Invalidate()
		return
	}
	l.Release()
}

// SessionBroken reports whether err leaves a session unfit for reuse.
// Errors scoped to one path (NOT_FOUND, ALREADY_EXISTS, ...) do not.
func SessionBroken(err error) bool {
	if err == nil {
		return false
	}
	switch model.KindOf(err) {
	case model.KindNetworkUnreachable, model.KindTimeout, model.KindAuthFailed,
		model.KindCancelled, model.KindUnknown:
		return true
	default:
		return false
	}
}
