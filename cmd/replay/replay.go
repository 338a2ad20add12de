package main

import (
	"errors"
	"fmt"

	"upend.gg/internal/sim/world"
)

var errDone = errors.New("replay: reached to_tick")

// replayer feeds recorded ticks back into a world and checks each digest.
type replayer struct {
	w          *world.World
	startTick  uint64
	verifyFrom uint64
	toTick     uint64
	checked    uint64
}

func newReplayer(w *world.World, fromTick, toTick uint64) *replayer {
	r := &replayer{w: w, startTick: w.CurrentTick(), verifyFrom: fromTick, toTick: toTick}
	if r.verifyFrom == 0 {
		r.verifyFrom = r.startTick
	}
	return r
}

func (r *replayer) step(entry world.TickLogEntry) error {
	if entry.Tick < r.startTick {
		return nil
	}
	if r.toTick != 0 && entry.Tick > r.toTick {
		return errDone
	}
	if entry.Tick != r.w.CurrentTick() {
		return fmt.Errorf("tick mismatch: want=%d got=%d", r.w.CurrentTick(), entry.Tick)
	}

	// Replayed joins have no connection; the reply only confirms the id assignment.
	joins := make([]world.JoinRequest, 0, len(entry.Joins))
	resps := make([]chan world.JoinResponse, 0, len(entry.Joins))
	for _, j := range entry.Joins {
		ch := make(chan world.JoinResponse, 1)
		resps = append(resps, ch)
		joins = append(joins, world.JoinRequest{Name: j.Name, Resp: ch})
	}

	tick, gotDigest := r.w.StepOnce(joins, entry.Leaves, entry.Actions)

	// Sanity check: StepOnce should have stepped the same tick.
	if tick != entry.Tick {
		return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d", tick, entry.Tick)
	}
	for i, ch := range resps {
		resp := <-ch
		if resp.Err != "" || resp.Welcome.PlayerID != entry.Joins[i].PlayerID {
			return fmt.Errorf("tick %d: join %q got id=%q err=%q, recorded %q",
				tick, entry.Joins[i].Name, resp.Welcome.PlayerID, resp.Err, entry.Joins[i].PlayerID)
		}
	}

	if tick >= r.verifyFrom {
		r.checked++
		if gotDigest != entry.Digest {
			return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, gotDigest, entry.Digest)
		}
	}
	return nil
}
