package pool

import (
	"github.com/lni/dragonboat/v4/logger"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("pool")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Leasable is implemented by every object that can be rented from a Pool.
// ResetLeasable must restore every field to its zero value, including nested
// pooled objects, otherwise state leaks between two unrelated leases.
type Leasable interface {
	ResetLeasable()
}

// Releaser is anything that gives a leased object back exactly once.
// Release reports false if the object was already given back.
type Releaser interface {
	Release() bool
}

// StatsProvider exposes the counters of a pool.
type StatsProvider interface {
	Stats() Stats
}

// Stats is a point in time view of the counters of a pool.
// For a quiescent pool Acquired == Released.
type Stats struct {
	Name       string `json:"name"`
	Acquired   int64  `json:"acquired"`
	Released   int64  `json:"released"`
	Violations int64  `json:"violations"`
}

// Outstanding returns the number of leases that have not been given back yet
func (s Stats) Outstanding() int64 {
	return s.Acquired - s.Released
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

// Pool is a typed object pool with lease accounting.
//
// A fake pool keeps the accounting but allocates a fresh object for every
// rent and drops returned objects. This mirrors a server started with pooling
// disabled while keeping the acquired/released invariant observable.
type Pool[T Leasable] struct {
	name       string
	factory    func() T
	items      sync.Pool
	fake       bool
	acquired   atomic.Int64
	released   atomic.Int64
	violations atomic.Int64
}

// New creates a pool. The factory must return a ready to use zero object.
func New[T Leasable](name string, factory func() T, fake bool) *Pool[T] {
	p := &Pool[T]{
		name:    name,
		factory: factory,
		fake:    fake,
	}
	p.items.New = func() any {
		return factory()
	}
	return p
}

// Name returns the name of the pool
func (p *Pool[T]) Name() string {
	return p.name
}

// Rent takes an object from the pool. The caller owns it until Return.
// Prefer Lease or Acquire, which guarantee a single release.
func (p *Pool[T]) Rent() T {
	p.acquired.Add(1)
	if p.fake {
		return p.factory()
	}
	return p.items.Get().(T)
}

// Return resets the object and gives it back to the pool
func (p *Pool[T]) Return(v T) {
	v.ResetLeasable()
	p.released.Add(1)
	if !p.fake {
		p.items.Put(v)
	}
}

// Lease rents an object wrapped in a handle that can only be released once
func (p *Pool[T]) Lease() *Lease[T] {
	return &Lease[T]{pool: p, value: p.Rent()}
}

// Stats returns the counters of the pool
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Name:       p.name,
		Acquired:   p.acquired.Load(),
		Released:   p.released.Load(),
		Violations: p.violations.Load(),
	}
}

// violation records a second release of the same lease
func (p *Pool[T]) violation() {
	p.violations.Add(1)
	Logger.Errorf("pool %s: lease released twice", p.name)
}

// --------------------------------------------------------------------------
// Lease
// --------------------------------------------------------------------------

// Lease is a single borrow of a pooled object
type Lease[T Leasable] struct {
	pool  *Pool[T]
	value T
	done  atomic.Bool
}

// Value returns the leased object. It must not be used after Release.
func (l *Lease[T]) Value() T {
	return l.value
}

// Release gives the object back to its pool. Only the first call has an
// effect, further calls are counted as violations and return false.
func (l *Lease[T]) Release() bool {
	if !l.done.CompareAndSwap(false, true) {
		l.pool.violation()
		return false
	}
	v := l.value
	var zero T
	l.value = zero
	l.pool.Return(v)
	return true
}
