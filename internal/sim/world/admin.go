package world

import (
	"context"
	"errors"

	"upend.gg/internal/protocol"
)

type adminKind uint8

const (
	adminSnapshot adminKind = iota
	adminState
)

type adminReq struct {
	Kind adminKind
	Resp chan adminResp
}

type adminResp struct {
	Tick  uint64
	State protocol.StateMsg
	Err   string
}

// RequestSnapshot asks the world loop goroutine to enqueue a snapshot of the last completed
// tick. It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	r, err := w.adminCall(ctx, adminSnapshot)
	if err != nil {
		return 0, err
	}
	if r.Err != "" {
		return r.Tick, errors.New(r.Err)
	}
	return r.Tick, nil
}

// RequestState returns the replicated view of the last completed tick.
func (w *World) RequestState(ctx context.Context) (protocol.StateMsg, error) {
	r, err := w.adminCall(ctx, adminState)
	if err != nil {
		return protocol.StateMsg{}, err
	}
	return r.State, nil
}

func (w *World) adminCall(ctx context.Context, kind adminKind) (adminResp, error) {
	if w == nil || w.admin == nil {
		return adminResp{}, errors.New("admin not available")
	}
	resp := make(chan adminResp, 1)
	select {
	case w.admin <- adminReq{Kind: kind, Resp: resp}:
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
}

func (w *World) handleAdminRequests(reqs []adminReq) {
	if w == nil || len(reqs) == 0 {
		return
	}
	cur := w.tick.Load()
	last := uint64(0)
	if cur > 0 {
		last = cur - 1
	}

	for _, req := range reqs {
		r := adminResp{Tick: last}
		switch req.Kind {
		case adminState:
			r.State = w.BuildState(last, w.stateDigest(last))
		case adminSnapshot:
			if w.snapshotSink == nil {
				r.Err = "snapshot sink not configured"
				break
			}
			select {
			case w.snapshotSink <- w.ExportSnapshot(last):
			default:
				r.Err = "snapshot sink backpressure"
			}
		}
		if req.Resp == nil {
			continue
		}
		select {
		case req.Resp <- r:
		default:
			// Client timed out; don't block the sim loop.
		}
	}
}
