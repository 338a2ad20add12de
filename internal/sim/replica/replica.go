// Package replica models state that has exactly one writer (the authoritative peer) and any
// number of readers. Readers apply whatever the authority last sent; local writes never stick.
package replica

type Role uint8

const (
	// RoleProxy is a peer that neither holds input nor authority for an entity.
	RoleProxy Role = iota
	// RoleInputHolder drives predicted movement for its own player.
	RoleInputHolder
	// RoleAuthority is the only role whose writes are binding.
	RoleAuthority
)

func (r Role) String() string {
	switch r {
	case RoleInputHolder:
		return "input_holder"
	case RoleAuthority:
		return "authority"
	default:
		return "proxy"
	}
}

// Field is a replicated property.
type Field[T comparable] struct {
	val   T
	stamp uint64
}

func (f *Field[T]) Get() T { return f.val }

// Stamp is bumped on every authoritative change; mirrors carry the stamp they last applied.
func (f *Field[T]) Stamp() uint64 { return f.stamp }

// Set writes v if role is the authority. It reports whether the value changed.
func (f *Field[T]) Set(role Role, v T) bool {
	if role != RoleAuthority || f.val == v {
		return false
	}
	f.val = v
	f.stamp++
	return true
}

// Mirror applies an authoritative value on a non-authoritative peer. Values stamped older than
// the last applied one are ignored.
func (f *Field[T]) Mirror(v T, stamp uint64) bool {
	if stamp < f.stamp {
		return false
	}
	f.val = v
	f.stamp = stamp
	return true
}

// Restore loads a value and stamp verbatim (snapshot import).
func (f *Field[T]) Restore(v T, stamp uint64) {
	f.val = v
	f.stamp = stamp
}
