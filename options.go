package layoutsync

import (
	"math"
	"runtime"
	"sync"
)

// Config defines configurable GrowableArray and HashTable options.
type Config struct {
	sizeHint    int
	policy      Policy
	maxCapacity int
}

func newConfig(options []func(*Config)) *Config {
	c := &Config{policy: PolicyFastLayout, maxCapacity: math.MaxInt32}
	for _, o := range options {
		o(c)
	}
	return c
}

// WithPresize configures the initial capacity: the number of array slots,
// or enough buckets to hold sizeHint entries below the load factor. If
// sizeHint is zero or negative, the value is ignored.
func WithPresize(sizeHint int) func(*Config) {
	return func(c *Config) {
		c.sizeHint = sizeHint
	}
}

// WithPolicy selects the Lock implementation guarding the container.
// The default is PolicyFastLayout.
func WithPolicy(p Policy) func(*Config) {
	return func(c *Config) {
		c.policy = p
	}
}

// WithMaxCapacity bounds growth. A GrowableArray refuses appends beyond n
// with ErrCapacityExceeded; a HashTable stops adding buckets at the
// largest power of two not above n (and never exceeds 1<<30 buckets).
// Values below one are ignored.
func WithMaxCapacity(n int) func(*Config) {
	return func(c *Config) {
		if n > 0 {
			c.maxCapacity = n
		}
	}
}

// accessorPool lends registered accessors to the convenience methods of a
// container. An accessor dropped by the pool is unregistered once the
// garbage collector frees its wrapper.
type accessorPool struct {
	lock Lock
	pool sync.Pool
}

type pooledAccessor struct {
	Accessor
}

func (p *accessorPool) get() *pooledAccessor {
	if v := p.pool.Get(); v != nil {
		return v.(*pooledAccessor)
	}
	acc := p.lock.Register()
	pa := &pooledAccessor{Accessor: acc}
	runtime.AddCleanup(pa, func(acc Accessor) { acc.Unregister() }, acc)
	return pa
}

func (p *accessorPool) put(pa *pooledAccessor) {
	p.pool.Put(pa)
}
