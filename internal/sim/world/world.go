package world

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"upend.gg/internal/persistence/snapshot"
	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/carry"
	"upend.gg/internal/sim/gravity"
	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/movement"
	"upend.gg/internal/sim/physics"
	"upend.gg/internal/sim/tuning"
)

type WorldConfig struct {
	ID     string
	Tuning tuning.Tuning
}

type JoinRequest struct {
	Name  string
	Codec string
	// Out carries frames that must arrive (confirmations). A client that lets it fill up is
	// disconnected.
	Out chan []byte
	// State carries the latest STATE frame only; older ones are dropped.
	State chan []byte
	Resp  chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	// Err is a protocol error code when the join was refused.
	Err string
}

// Envelope is one message received from a client, in receive order. Exactly one of Input and
// RPC is set.
type Envelope struct {
	PlayerID string             `json:"player_id"`
	Input    *protocol.InputMsg `json:"input,omitempty"`
	RPC      *protocol.RPCMsg   `json:"rpc,omitempty"`
}

type RecordedJoin struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg    WorldConfig
	dt     float64
	params movement.Params
	carry  carry.Config

	tick atomic.Uint64

	space   *physics.Space
	players map[model.PlayerID]*player
	objects map[model.ObjectID]*model.Object
	clients map[model.PlayerID]*clientState

	// kicked players are removed at the start of the next tick and recorded as leaves.
	kicked []string

	inbox chan Envelope
	join  chan JoinRequest
	leave chan string
	admin chan adminReq
	stop  chan struct{}

	nextPlayerNum atomic.Uint64

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	auditLogger AuditLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	stats   counters
	metrics atomic.Value
}

// player is the authority's view of one avatar: the replicated model plus the input it holds
// and the teleport guard of an in-flight gravity flip.
type player struct {
	*model.Player

	input movement.Input
	// jumpLatest is the jump state of the last INPUT; it is what stays held once the tick
	// that merged several inputs is over.
	jumpLatest bool
	inputSeen  bool
	lastSeq    uint64
	guard      gravity.TeleportGuard
}

type clientState struct {
	Out   chan []byte
	State chan []byte
	Codec protocol.Codec
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type TickLogEntry struct {
	Tick    uint64         `json:"tick"`
	Joins   []RecordedJoin `json:"joins,omitempty"`
	Leaves  []string       `json:"leaves,omitempty"`
	Actions []Envelope     `json:"actions,omitempty"`
	Digest  string         `json:"digest"`
}

type AuditEntry struct {
	Tick   uint64     `json:"tick"`
	Actor  string     `json:"actor"`
	Action string     `json:"action"` // e.g. "PICKUP"
	Object string     `json:"object,omitempty"`
	Pos    [3]float64 `json:"pos"`
	Reason string     `json:"reason,omitempty"`
	Detail string     `json:"detail,omitempty"`
}

func New(cfg WorldConfig) (*World, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	params, err := movement.ParamsFrom(cfg.Tuning.Movement)
	if err != nil {
		return nil, fmt.Errorf("movement: %w", err)
	}
	cc, err := carry.ConfigFrom(cfg.Tuning)
	if err != nil {
		return nil, fmt.Errorf("carry: %w", err)
	}

	w := &World{
		cfg:     cfg,
		dt:      cfg.Tuning.TickSeconds(),
		params:  params,
		carry:   cc,
		space:   physics.NewSpace(),
		players: map[model.PlayerID]*player{},
		clients: map[model.PlayerID]*clientState{},
		inbox:   make(chan Envelope, 1024),
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		admin:   make(chan adminReq, 16),
		stop:    make(chan struct{}),
	}
	objects, err := carry.LoadLevel(w.space, w.carry, cfg.Tuning.Level)
	if err != nil {
		return nil, err
	}
	w.objects = objects
	w.metrics.Store(WorldMetrics{})
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger)   { w.tickLogger = l }
func (w *World) SetAuditLogger(l AuditLogger) { w.auditLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) {
	w.snapshotSink = ch
}

func (w *World) Inbox() chan<- Envelope   { return w.inbox }
func (w *World) Join() chan<- JoinRequest { return w.join }
func (w *World) Leave() chan<- string     { return w.leave }
func (w *World) CurrentTick() uint64      { return w.tick.Load() }
func (w *World) Tuning() tuning.Tuning    { return w.cfg.Tuning }
func (w *World) Space() *physics.Space    { return w.space }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

// Player implements carry.Registry.
func (w *World) Player(id model.PlayerID) *model.Player {
	if p := w.players[id]; p != nil {
		return p.Player
	}
	return nil
}

// Object implements carry.Registry.
func (w *World) Object(id model.ObjectID) *model.Object { return w.objects[id] }

func (w *World) sortedPlayerIDs() []model.PlayerID {
	ids := make([]model.PlayerID, 0, len(w.players))
	for id := range w.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (w *World) sortedObjectIDs() []model.ObjectID {
	ids := make([]model.ObjectID, 0, len(w.objects))
	for id := range w.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// newPlayer builds an avatar at spawn with its controller and motor.
func (w *World) newPlayer(id model.PlayerID, name string, spawn mgl64.Vec3) *player {
	m := w.cfg.Tuning.Movement
	c := physics.NewController(w.space, spawn, m.ControllerRadius, m.ControllerHeight, w.params.GroundMask)
	p := &model.Player{
		ID:         id,
		Position:   spawn,
		Motor:      movement.NewMotor(w.params, c),
		Controller: c,
		Hand:       &model.Bone{Offset: w.carry.HandOffset},
	}
	p.Name.Restore(model.ClampName(name), 0)
	return &player{Player: p}
}

func (w *World) spawnPoint(n uint64) mgl64.Vec3 {
	spawns := w.cfg.Tuning.Level.Spawns
	return mgl64.Vec3(spawns[int((n-1)%uint64(len(spawns)))])
}
