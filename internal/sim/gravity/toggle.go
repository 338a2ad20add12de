// Package gravity holds the gravity-inversion state machines: the input-side toggle, the
// authority's teleport guard and the per-peer visual transition.
package gravity

import (
	"math"

	"upend.gg/internal/sim/tuning"
)

// Toggle turns a held button into at most one request per press. The requesting peer predicts
// the flip locally until the replicated flag catches up or the prediction times out.
type Toggle struct {
	Held      bool
	Pending   bool
	Predicted bool
	SentAt    float64
}

// Press feeds the raw button state for this tick. It returns the value to request and true only
// on a rising edge while no earlier request is still in flight.
func (t *Toggle) Press(down, authoritative bool, now float64) (bool, bool) {
	edge := down && !t.Held
	t.Held = down
	if !edge || t.Pending {
		return false, false
	}
	t.Pending = true
	t.Predicted = !authoritative
	t.SentAt = now
	return t.Predicted, true
}

// Observe reconciles the prediction with the replicated flag. A prediction the authority never
// confirms is abandoned after timeout seconds.
func (t *Toggle) Observe(authoritative bool, now, timeout float64) {
	if !t.Pending {
		return
	}
	if authoritative == t.Predicted || now-t.SentAt > timeout {
		t.Pending = false
	}
}

// Effective is the flag the local motor should integrate with.
func (t *Toggle) Effective(authoritative bool) bool {
	if t.Pending {
		return t.Predicted
	}
	return authoritative
}

// TargetY is the controller center height a player is teleported to when gravity flips: resting
// on the floor when normal, hanging from the ceiling when inverted.
func TargetY(g tuning.Gravity, inverted bool, halfHeight float64) float64 {
	if inverted {
		return g.CeilingY - halfHeight
	}
	return g.FloorY + halfHeight
}

// ClampY keeps a requested teleport height inside the arena.
func ClampY(g tuning.Gravity, y, halfHeight float64) float64 {
	lo, hi := g.FloorY+halfHeight, g.CeilingY-halfHeight
	if math.IsNaN(y) {
		return lo
	}
	return math.Max(lo, math.Min(hi, y))
}
