package world

import "time"

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Players  int `json:"players"`
	Clients  int `json:"clients"`
	Objects  int `json:"objects"`
	Carried  int `json:"carried"`
	Inverted int `json:"inverted"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	Totals Totals `json:"totals"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

// Totals are monotonic counters since process start.
type Totals struct {
	Pickups       uint64 `json:"pickups"`
	Drops         uint64 `json:"drops"`
	Flips         uint64 `json:"flips"`
	Rejections    uint64 `json:"rejections"`
	Kicks         uint64 `json:"kicks"`
	Corrections   uint64 `json:"corrections"`
	SnapshotDrops uint64 `json:"snapshot_drops"`
	EncodeErrors  uint64 `json:"encode_errors"`
}

type counters struct {
	pickups       uint64
	drops         uint64
	flips         uint64
	rejections    uint64
	kicks         uint64
	corrections   uint64
	snapshotDrops uint64
	encodeErrors  uint64
}

func (w *World) storeMetrics(tick uint64, took time.Duration) {
	m := WorldMetrics{
		Tick:    tick,
		Players: len(w.players),
		Clients: len(w.clients),
		Objects: len(w.objects),
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
		},
		StepMS: float64(took.Microseconds()) / 1000,
		Totals: Totals{
			Pickups:       w.stats.pickups,
			Drops:         w.stats.drops,
			Flips:         w.stats.flips,
			Rejections:    w.stats.rejections,
			Kicks:         w.stats.kicks,
			Corrections:   w.stats.corrections,
			SnapshotDrops: w.stats.snapshotDrops,
			EncodeErrors:  w.stats.encodeErrors,
		},
	}
	for _, p := range w.players {
		if p.IsCarrying() {
			m.Carried++
		}
		if p.IsInverted() {
			m.Inverted++
		}
	}
	w.metrics.Store(m)
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}
