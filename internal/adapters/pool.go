package adapters

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Pool bounds the number of concurrent leases against a single endpoint
// (default 4, per §5) and discards entries on authentication/transport
// failure. It is generic over the connection type so SSH, Docker and
// Kubernetes adapters can each keep one pool per endpoint name without
// duplicating the bookkeeping.
type Pool[T any] struct {
	mu        sync.Mutex
	maxLeases int
	limiter   *rate.Limiter
	conns     map[string]T
	dial      func(ctx context.Context, endpoint string) (T, error)
	sem       map[string]chan struct{}
}

// NewPool builds a pool with maxLeases concurrent leases permitted per
// endpoint name, and one rate limiter, shared by all endpoints, bounding
// how often a new connection may be dialed (protects a flapping endpoint
// from being hammered with reconnect attempts).
func NewPool[T any](maxLeases int, dialRatePerSecond float64, dial func(ctx context.Context, endpoint string) (T, error)) *Pool[T] {
	if maxLeases <= 0 {
		maxLeases = 4
	}
	return &Pool[T]{
		maxLeases: maxLeases,
		limiter:   rate.NewLimiter(rate.Limit(dialRatePerSecond), maxLeases),
		conns:     make(map[string]T),
		dial:      dial,
		sem:       make(map[string]chan struct{}),
	}
}

func (p *Pool[T]) semaphoreFor(endpoint string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sem[endpoint]
	if !ok {
		s = make(chan struct{}, p.maxLeases)
		for i := 0; i < p.maxLeases; i++ {
			s <- struct{}{}
		}
		p.sem[endpoint] = s
	}
	return s
}

// Acquire blocks until a lease slot is free (or ctx is cancelled), then
// returns a connection for endpoint, dialing lazily and reusing a cached
// connection across calls within the lease budget.
func (p *Pool[T]) Acquire(ctx context.Context, endpoint string) (T, func(discard bool), error) {
	sem := p.semaphoreFor(endpoint)

	select {
	case <-sem:
	case <-ctx.Done():
		var zero T
		return zero, nil, ctx.Err()
	}

	release := func(discard bool) {
		if discard {
			p.mu.Lock()
			delete(p.conns, endpoint)
			p.mu.Unlock()
		}
		sem <- struct{}{}
	}

	p.mu.Lock()
	conn, ok := p.conns[endpoint]
	p.mu.Unlock()
	if ok {
		return conn, release, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		release(false)
		var zero T
		return zero, nil, fmt.Errorf("adapters: rate limited dialing %s: %w", endpoint, err)
	}

	conn, err := p.dial(ctx, endpoint)
	if err != nil {
		release(false)
		var zero T
		return zero, nil, err
	}

	p.mu.Lock()
	p.conns[endpoint] = conn
	p.mu.Unlock()

	return conn, release, nil
}

// Invalidate discards any cached connection for endpoint, e.g. on an
// Unauthorized AdapterError (§7: "Unauthorized invalidates the cached
// connection for that endpoint in the adapter pool").
func (p *Pool[T]) Invalidate(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, endpoint)
}
