package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"upend.gg/internal/sim/peer"
)

// scriptPeriod is the length of one loop of the bot's routine, in ticks.
const scriptPeriod = 600

// scriptInput is the bot's routine: walk a slow circle, hop now and then, pick up whatever is
// targeted, carry it for a while, drop it, then flip to the ceiling and back.
func scriptInput(tick uint64) peer.InputRecord {
	i := tick % scriptPeriod
	var in peer.InputRecord

	angle := 2 * math.Pi * float64(i) / scriptPeriod
	in.Move = mgl64.Vec2{math.Cos(angle), math.Sin(angle)}
	in.Sprint = i >= 200 && i < 260

	switch {
	case i%90 == 45:
		in.Jump = true
	case i == 120:
		in.Pickup = true
	case i == 300:
		in.Drop = true
	case i == 400, i == 500:
		in.ToggleGravity = true
	}
	// Stand still around the pickup so the target does not drift out of reach.
	if i >= 100 && i < 130 {
		in.Move = mgl64.Vec2{}
	}
	return in
}
