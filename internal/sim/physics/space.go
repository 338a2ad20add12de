package physics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

type Layer uint32

const (
	LayerDefault Layer = 1 << iota
	LayerGround
	LayerCarriable
)

const LayerAll = LayerDefault | LayerGround | LayerCarriable

func ParseLayer(name string) (Layer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return LayerDefault, nil
	case "ground":
		return LayerGround, nil
	case "carriable":
		return LayerCarriable, nil
	}
	return 0, fmt.Errorf("unknown layer: %q", name)
}

func ParseMask(names []string) (Layer, error) {
	var m Layer
	for _, n := range names {
		l, err := ParseLayer(n)
		if err != nil {
			return 0, err
		}
		m |= l
	}
	return m, nil
}

type AABB struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

func BoxAt(center, half mgl64.Vec3) AABB {
	return AABB{Min: center.Sub(half), Max: center.Add(half)}
}

func (b AABB) Center() mgl64.Vec3 { return b.Min.Add(b.Max).Mul(0.5) }

func (b AABB) Overlaps(o AABB) bool {
	for i := 0; i < 3; i++ {
		if b.Max[i] <= o.Min[i] || o.Max[i] <= b.Min[i] {
			return false
		}
	}
	return true
}

func (b AABB) Expand(r float64) AABB {
	d := mgl64.Vec3{r, r, r}
	return AABB{Min: b.Min.Sub(d), Max: b.Max.Add(d)}
}

// Closest returns the point of b nearest to p.
func (b AABB) Closest(p mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{
		mgl64.Clamp(p[0], b.Min[0], b.Max[0]),
		mgl64.Clamp(p[1], b.Min[1], b.Max[1]),
		mgl64.Clamp(p[2], b.Min[2], b.Max[2]),
	}
}

type ColliderID uint32

type Collider struct {
	ID      ColliderID
	Box     AABB
	Layer   Layer
	Enabled bool
	// Trigger colliders are reported by overlaps but never block movement or casts.
	Trigger bool
	Owner   string
}

type Hit struct {
	Point    mgl64.Vec3
	Normal   mgl64.Vec3
	Distance float64
	Collider ColliderID
}

// Space is a flat list of boxes. Level geometry is small enough that linear scans win
// over any broadphase.
type Space struct {
	colliders map[ColliderID]*Collider
	order     []ColliderID
	nextID    ColliderID
}

func NewSpace() *Space {
	return &Space{colliders: map[ColliderID]*Collider{}}
}

func (s *Space) Add(c Collider) ColliderID {
	s.nextID++
	c.ID = s.nextID
	cc := c
	s.colliders[c.ID] = &cc
	s.order = append(s.order, c.ID)
	return c.ID
}

func (s *Space) AddStatic(box AABB, layer Layer) ColliderID {
	return s.Add(Collider{Box: box, Layer: layer, Enabled: true})
}

func (s *Space) Get(id ColliderID) *Collider {
	if s == nil {
		return nil
	}
	return s.colliders[id]
}

func (s *Space) Remove(id ColliderID) {
	if _, ok := s.colliders[id]; !ok {
		return
	}
	delete(s.colliders, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Space) Len() int { return len(s.order) }

// Raycast returns the nearest solid hit along dir within maxDist.
func (s *Space) Raycast(origin, dir mgl64.Vec3, maxDist float64, mask Layer) (Hit, bool) {
	return s.cast(origin, 0, dir, maxDist, mask)
}

// SphereCast sweeps a sphere of radius r. The reported point lies on the struck box.
func (s *Space) SphereCast(origin mgl64.Vec3, r float64, dir mgl64.Vec3, maxDist float64, mask Layer) (Hit, bool) {
	return s.cast(origin, r, dir, maxDist, mask)
}

func (s *Space) cast(origin mgl64.Vec3, r float64, dir mgl64.Vec3, maxDist float64, mask Layer) (Hit, bool) {
	if dir.LenSqr() == 0 || maxDist < 0 {
		return Hit{}, false
	}
	dir = dir.Normalize()
	best := Hit{Distance: math.Inf(1)}
	found := false
	for _, id := range s.order {
		c := s.colliders[id]
		if !c.Enabled || c.Trigger || c.Layer&mask == 0 {
			continue
		}
		t, n, ok := rayBox(origin, dir, c.Box.Expand(r))
		if !ok || t > maxDist || t >= best.Distance {
			continue
		}
		center := origin.Add(dir.Mul(t))
		point := c.Box.Closest(center)
		if r > 0 {
			if d := center.Sub(point); d.LenSqr() > 1e-12 {
				n = d.Normalize()
			}
		}
		best = Hit{Point: point, Normal: n, Distance: t, Collider: id}
		found = true
	}
	return best, found
}

// rayBox is the slab test. A ray starting inside the box hits at t=0 with the normal of the
// nearest face.
func rayBox(origin, dir mgl64.Vec3, b AABB) (float64, mgl64.Vec3, bool) {
	tmin, tmax := math.Inf(-1), math.Inf(1)
	var nmin mgl64.Vec3
	for i := 0; i < 3; i++ {
		if math.Abs(dir[i]) < 1e-12 {
			if origin[i] < b.Min[i] || origin[i] > b.Max[i] {
				return 0, mgl64.Vec3{}, false
			}
			continue
		}
		inv := 1 / dir[i]
		t1 := (b.Min[i] - origin[i]) * inv
		t2 := (b.Max[i] - origin[i]) * inv
		var n mgl64.Vec3
		n[i] = -1
		if t1 > t2 {
			t1, t2 = t2, t1
			n[i] = 1
		}
		if t1 > tmin {
			tmin = t1
			nmin = n
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax {
			return 0, mgl64.Vec3{}, false
		}
	}
	if tmax < 0 {
		return 0, mgl64.Vec3{}, false
	}
	if tmin < 0 {
		return 0, insideNormal(origin, b), true
	}
	return tmin, nmin, true
}

func insideNormal(p mgl64.Vec3, b AABB) mgl64.Vec3 {
	best := math.Inf(1)
	var n mgl64.Vec3
	for i := 0; i < 3; i++ {
		if d := p[i] - b.Min[i]; d < best {
			best = d
			n = mgl64.Vec3{}
			n[i] = -1
		}
		if d := b.Max[i] - p[i]; d < best {
			best = d
			n = mgl64.Vec3{}
			n[i] = 1
		}
	}
	return n
}

// OverlapSphere writes the ids of enabled colliders touching the sphere into out and returns
// how many were written. Triggers are included. It never allocates.
func (s *Space) OverlapSphere(center mgl64.Vec3, r float64, mask Layer, out []ColliderID) int {
	n := 0
	r2 := r * r
	for _, id := range s.order {
		if n >= len(out) {
			break
		}
		c := s.colliders[id]
		if !c.Enabled || c.Layer&mask == 0 {
			continue
		}
		if c.Box.Closest(center).Sub(center).LenSqr() <= r2 {
			out[n] = id
			n++
		}
	}
	return n
}

// solidsOverlapping returns the enabled, non-trigger colliders overlapping box, sorted by id.
func (s *Space) solidsOverlapping(box AABB, mask Layer) []*Collider {
	var out []*Collider
	for _, id := range s.order {
		c := s.colliders[id]
		if !c.Enabled || c.Trigger || c.Layer&mask == 0 {
			continue
		}
		if c.Box.Overlaps(box) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
