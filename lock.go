package layoutsync

import (
	"fmt"
)

// Lock coordinates three roles over one container:
//   - Read: optimistic and lock-free for the layout locks; the caller
//     retries whenever FinishRead reports false.
//   - Write: short critical section that changes content but not
//     structure. Writers do not exclude each other.
//   - LayoutChange: exclusive; swaps the structural pointer (buffer,
//     bucket array) after every other accessor has been fenced out.
//
// Every goroutine that uses a Lock does so through its own Accessor.
type Lock interface {
	// Register adds a new accessor. Registration is itself a layout
	// change over the accessor registry.
	Register() Accessor
	// Policy reports which implementation this is.
	Policy() Policy
}

// Accessor is one goroutine's handle into a Lock. An Accessor is not safe
// for concurrent use; it may move between goroutines only while it holds
// no role.
//
// A read is performed as
//
//	for {
//		acc.StartRead()
//		v = load()
//		if acc.FinishRead() {
//			break
//		}
//	}
//
// StartLayoutChange must not be called while the same accessor holds the
// Write role.
type Accessor interface {
	StartRead()
	// FinishRead reports whether the read since StartRead is valid.
	FinishRead() bool
	StartWrite()
	FinishWrite()
	StartLayoutChange()
	FinishLayoutChange()
	// Unregister releases the accessor's slot. The accessor must hold no
	// role and must not be used afterwards.
	Unregister()
}

// Policy selects a Lock implementation at container construction.
type Policy uint8

const (
	// PolicyFastLayout is FastLayoutLock, the default.
	PolicyFastLayout Policy = iota
	// PolicyLayout is the baseline LayoutLock.
	PolicyLayout
	// PolicyMutex serializes every role on one mutex.
	PolicyMutex
	// PolicyReentrant serializes every role on a lock that the holding
	// accessor may take again.
	PolicyReentrant
	// PolicyStamped uses optimistic sequence-validated reads and an
	// exclusive write lock.
	PolicyStamped
	// PolicyBiased is a mutex biased to its first accessor.
	PolicyBiased
	// PolicyAdaptive starts stamped and switches to fast layout locking
	// once writers contend.
	PolicyAdaptive
)

var policyNames = [...]string{
	PolicyFastLayout: "fast-layout",
	PolicyLayout:     "layout",
	PolicyMutex:      "mutex",
	PolicyReentrant:  "reentrant",
	PolicyStamped:    "stamped",
	PolicyBiased:     "biased",
	PolicyAdaptive:   "adaptive",
}

// Policies lists every available policy.
func Policies() []Policy {
	ps := make([]Policy, len(policyNames))
	for i := range ps {
		ps[i] = Policy(i)
	}
	return ps
}

func (p Policy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("Policy(%d)", uint8(p))
}

// ParsePolicy returns the policy with the given name.
func ParsePolicy(name string) (Policy, error) {
	for i, n := range policyNames {
		if n == name {
			return Policy(i), nil
		}
	}
	return 0, fmt.Errorf("layoutsync: unknown policy %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	if int(p) >= len(policyNames) {
		return nil, fmt.Errorf("layoutsync: invalid policy %d", uint8(p))
	}
	return []byte(policyNames[p]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// NewLock returns a new Lock implementing p.
func NewLock(p Policy) Lock {
	switch p {
	case PolicyLayout:
		return NewLayoutLock()
	case PolicyMutex:
		return NewMutexLock()
	case PolicyReentrant:
		return NewReentrantLock()
	case PolicyStamped:
		return NewStampedLock()
	case PolicyBiased:
		return NewBiasedLock()
	case PolicyAdaptive:
		return NewAdaptiveLock(defaultAdaptiveThreshold)
	default:
		return NewFastLayoutLock()
	}
}
