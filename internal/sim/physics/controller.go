package physics

import "github.com/go-gl/mathgl/mgl64"

const skin = 1e-3

type CollisionFlags uint8

const (
	CollidedSides CollisionFlags = 1 << iota
	CollidedAbove
	CollidedBelow
)

// Controller is a box-shaped kinematic character mover. Position is the box center.
type Controller struct {
	Position mgl64.Vec3
	Radius   float64
	Height   float64
	Enabled  bool
	Mask     Layer

	space    *Space
	flags    CollisionFlags
	grounded bool
}

func NewController(space *Space, pos mgl64.Vec3, radius, height float64, mask Layer) *Controller {
	return &Controller{
		Position: pos,
		Radius:   radius,
		Height:   height,
		Enabled:  true,
		Mask:     mask,
		space:    space,
	}
}

func (c *Controller) HalfExtents() mgl64.Vec3 {
	return mgl64.Vec3{c.Radius, c.Height / 2, c.Radius}
}

func (c *Controller) Bounds() AABB { return BoxAt(c.Position, c.HalfExtents()) }

// Base is the center of the controller's face pointing along down.
func (c *Controller) Base(down mgl64.Vec3) mgl64.Vec3 {
	return c.Position.Add(down.Mul(c.Height / 2))
}

// IsGrounded reports whether the last Move was blocked along the gravity direction.
func (c *Controller) IsGrounded() bool { return c.grounded }

func (c *Controller) Flags() CollisionFlags { return c.flags }

func (c *Controller) Space() *Space { return c.space }

// Teleport places the controller without sweeping and clears contact state.
func (c *Controller) Teleport(p mgl64.Vec3) {
	c.Position = p
	c.flags = 0
	c.grounded = false
}

// Move sweeps the controller by delta one axis at a time (vertical first) and pushes it out of
// any solid it ends up inside. downSign is -1 for normal gravity and +1 when inverted. A
// disabled controller does not move.
func (c *Controller) Move(delta mgl64.Vec3, downSign float64) CollisionFlags {
	if !c.Enabled {
		return 0
	}
	c.flags = 0
	half := c.HalfExtents()
	for _, axis := range [3]int{1, 0, 2} {
		d := delta[axis]
		if d == 0 {
			continue
		}
		c.Position[axis] += d
		if c.space == nil {
			continue
		}
		for _, col := range c.space.solidsOverlapping(c.Bounds(), c.Mask) {
			if d > 0 {
				c.Position[axis] = col.Box.Min[axis] - half[axis] - skin
			} else {
				c.Position[axis] = col.Box.Max[axis] + half[axis] + skin
			}
			if axis != 1 {
				c.flags |= CollidedSides
				continue
			}
			if d < 0 {
				c.flags |= CollidedBelow
			} else {
				c.flags |= CollidedAbove
			}
		}
	}
	if downSign < 0 {
		c.grounded = c.flags&CollidedBelow != 0
	} else {
		c.grounded = c.flags&CollidedAbove != 0
	}
	return c.flags
}
