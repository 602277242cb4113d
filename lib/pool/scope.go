package pool

// Scope collects the leases taken while executing one command and releases
// all of them in Close. Close is meant to be deferred right after the scope is
// created, so every exit path (return, error, cancellation, panic) gives the
// objects back exactly once.
//
//	var scope pool.Scope
//	defer scope.Close()
//	flags := pool.Acquire(&scope, pools.BitSets)
type Scope struct {
	leases []Releaser
}

// Track registers a releaser with the scope
func (s *Scope) Track(r Releaser) {
	s.leases = append(s.leases, r)
}

// Len returns the number of leases that are still held by the scope
func (s *Scope) Len() int {
	return len(s.leases)
}

// Close releases all tracked leases in reverse acquisition order.
// Calling Close again is a no-op, the scope can be reused afterwards.
func (s *Scope) Close() {
	for i := len(s.leases) - 1; i >= 0; i-- {
		s.leases[i].Release()
		s.leases[i] = nil
	}
	s.leases = s.leases[:0]
}

// Acquire leases an object from p and ties its release to the scope
func Acquire[T Leasable](s *Scope, p *Pool[T]) T {
	l := p.Lease()
	s.Track(l)
	return l.Value()
}
