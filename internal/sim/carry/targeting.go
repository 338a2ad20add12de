package carry

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/time/rate"

	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/physics"
)

const maxCandidates = 32

// Targeter picks the nearest free object around the local player for the highlight. Queries run
// at most once per interval; in between the previous answer stands.
type Targeter struct {
	Radius  float64
	Current model.ObjectID

	limiter *rate.Limiter
	buf     [maxCandidates]physics.ColliderID
}

func NewTargeter(interval time.Duration, radius float64) *Targeter {
	return &Targeter{Radius: radius, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Update refreshes Current if the interval has elapsed at now. It reports whether Current
// changed. A player who is carrying never has a target.
func (t *Targeter) Update(now time.Time, reg Registry, space *physics.Space, p *model.Player) bool {
	prev := t.Current
	if p == nil || p.IsCarrying() {
		t.Current = ""
		return prev != t.Current
	}
	if !t.limiter.AllowN(now, 1) {
		return false
	}
	t.Current, _ = t.Nearest(reg, space, p.Position)
	return prev != t.Current
}

// Nearest runs the proximity query immediately. Objects that are picked up are skipped; ties
// go to the collider registered first.
func (t *Targeter) Nearest(reg Registry, space *physics.Space, center mgl64.Vec3) (model.ObjectID, bool) {
	if space == nil {
		return "", false
	}
	n := space.OverlapSphere(center, t.Radius, physics.LayerCarriable, t.buf[:])
	var best model.ObjectID
	bestD := 0.0
	for _, cid := range t.buf[:n] {
		c := space.Get(cid)
		if c == nil || c.Owner == "" {
			continue
		}
		o := reg.Object(model.ObjectID(c.Owner))
		if o == nil || o.IsPickedUp() {
			continue
		}
		d := o.Net.Current.Position.Sub(center).LenSqr()
		if best == "" || d < bestD {
			best, bestD = o.ID, d
		}
	}
	return best, best != ""
}
