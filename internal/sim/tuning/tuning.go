package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	TickRateHz          int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	BroadcastEveryTicks int `yaml:"broadcast_every_ticks" json:"broadcast_every_ticks"`
	SnapshotEveryTicks  int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`
	MaxPlayers          int `yaml:"max_players" json:"max_players"`

	Movement  Movement  `yaml:"movement" json:"movement"`
	Gravity   Gravity   `yaml:"gravity" json:"gravity"`
	Carry     Carry     `yaml:"carry" json:"carry"`
	Targeting Targeting `yaml:"targeting" json:"targeting"`
	Level     Level     `yaml:"level" json:"level"`
}

type Movement struct {
	MoveSpeed        float64 `yaml:"move_speed" json:"move_speed"`
	SprintMultiplier float64 `yaml:"sprint_multiplier" json:"sprint_multiplier"`
	RotationSpeed    float64 `yaml:"rotation_speed" json:"rotation_speed"`
	// Deceleration is the exponential decay rate (1/s) for horizontal velocity without input.
	// Zero stops instantly.
	Deceleration float64 `yaml:"deceleration" json:"deceleration"`

	JumpForce     float64 `yaml:"jump_force" json:"jump_force"`
	Gravity       float64 `yaml:"gravity" json:"gravity"`
	StickVelocity float64 `yaml:"stick_velocity" json:"stick_velocity"`
	JumpEpsilon   float64 `yaml:"jump_epsilon" json:"jump_epsilon"`
	MoveThreshold float64 `yaml:"move_threshold" json:"move_threshold"`

	CoyoteTime     float64 `yaml:"coyote_time" json:"coyote_time"`
	JumpBufferTime float64 `yaml:"jump_buffer_time" json:"jump_buffer_time"`

	GroundProbeDistance float64  `yaml:"ground_probe_distance" json:"ground_probe_distance"`
	GroundLayers        []string `yaml:"ground_layers" json:"ground_layers"`

	ControllerRadius float64 `yaml:"controller_radius" json:"controller_radius"`
	ControllerHeight float64 `yaml:"controller_height" json:"controller_height"`
}

type Gravity struct {
	ReenableDelay   float64 `yaml:"reenable_delay" json:"reenable_delay"`
	SquashDuration  float64 `yaml:"squash_duration" json:"squash_duration"`
	StretchDuration float64 `yaml:"stretch_duration" json:"stretch_duration"`
	CameraRollSpeed float64 `yaml:"camera_roll_speed" json:"camera_roll_speed"`
	CameraOffsetY   float64 `yaml:"camera_offset_y" json:"camera_offset_y"`
	// PendingTimeout bounds how long a peer keeps a predicted flip the authority never confirmed.
	PendingTimeout float64 `yaml:"pending_timeout" json:"pending_timeout"`

	FloorY   float64 `yaml:"floor_y" json:"floor_y"`
	CeilingY float64 `yaml:"ceiling_y" json:"ceiling_y"`
}

type Carry struct {
	HandOffset        [3]float64 `yaml:"hand_offset" json:"hand_offset"`
	HoldOffset        [3]float64 `yaml:"hold_offset" json:"hold_offset"`
	HoldRotationEuler [3]float64 `yaml:"hold_rotation_euler" json:"hold_rotation_euler"`

	ObjectHalfExtents [3]float64 `yaml:"object_half_extents" json:"object_half_extents"`

	DropCastRadius   float64 `yaml:"drop_cast_radius" json:"drop_cast_radius"`
	DropCastDistance float64 `yaml:"drop_cast_distance" json:"drop_cast_distance"`
	DropSafetyOffset float64 `yaml:"drop_safety_offset" json:"drop_safety_offset"`
	DropAnimDuration float64 `yaml:"drop_anim_duration" json:"drop_anim_duration"`
	// PickupReach is how far from the requester's center the authority still accepts a pickup.
	PickupReach float64 `yaml:"pickup_reach" json:"pickup_reach"`
}

type Targeting struct {
	IntervalMs int     `yaml:"interval_ms" json:"interval_ms"`
	Radius     float64 `yaml:"radius" json:"radius"`
}

type Level struct {
	Boxes   []Box           `yaml:"boxes" json:"boxes"`
	Spawns  [][3]float64    `yaml:"spawns" json:"spawns"`
	Objects []ObjectFixture `yaml:"objects" json:"objects"`
}

type Box struct {
	Min   [3]float64 `yaml:"min" json:"min"`
	Max   [3]float64 `yaml:"max" json:"max"`
	Layer string     `yaml:"layer" json:"layer"`
}

type ObjectFixture struct {
	ID  string     `yaml:"id" json:"id"`
	Pos [3]float64 `yaml:"pos" json:"pos"`
	Yaw float64    `yaml:"yaw" json:"yaw"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:     "1.0",
		TickRateHz:          60,
		BroadcastEveryTicks: 1,
		SnapshotEveryTicks:  36000,
		MaxPlayers:          16,
		Movement: Movement{
			MoveSpeed:           5,
			SprintMultiplier:    2,
			RotationSpeed:       10,
			Deceleration:        12,
			JumpForce:           7,
			Gravity:             20,
			StickVelocity:       -2,
			JumpEpsilon:         0.1,
			MoveThreshold:       0.01,
			CoyoteTime:          0.2,
			JumpBufferTime:      0.2,
			GroundProbeDistance: 0.2,
			GroundLayers:        []string{"default", "ground", "carriable"},
			ControllerRadius:    0.4,
			ControllerHeight:    1.8,
		},
		Gravity: Gravity{
			ReenableDelay:   0.1,
			SquashDuration:  0.15,
			StretchDuration: 0.3,
			CameraRollSpeed: 8,
			CameraOffsetY:   2.5,
			PendingTimeout:  1,
			FloorY:          0,
			CeilingY:        12,
		},
		Carry: Carry{
			HandOffset:        [3]float64{0.35, 1.1, 0.3},
			HoldOffset:        [3]float64{0, 0.1, 0.25},
			HoldRotationEuler: [3]float64{0, 90, 0},
			ObjectHalfExtents: [3]float64{0.25, 0.25, 0.25},
			DropCastRadius:    0.25,
			DropCastDistance:  10,
			DropSafetyOffset:  0.02,
			DropAnimDuration:  0.2,
			PickupReach:       3,
		},
		Targeting: Targeting{
			IntervalMs: 100,
			Radius:     2,
		},
		Level: Level{
			Boxes: []Box{
				{Min: [3]float64{-20, -1, -20}, Max: [3]float64{20, 0, 20}, Layer: "ground"},
				{Min: [3]float64{-20, 12, -20}, Max: [3]float64{20, 13, 20}, Layer: "ground"},
				{Min: [3]float64{4, 0, 4}, Max: [3]float64{8, 1.5, 8}, Layer: "ground"},
				{Min: [3]float64{-8, 9, -8}, Max: [3]float64{-4, 12, -4}, Layer: "ground"},
			},
			Spawns: [][3]float64{
				{0, 0.9, 0},
				{2, 0.9, 0},
				{0, 0.9, 2},
				{2, 0.9, 2},
			},
			Objects: []ObjectFixture{
				{ID: "crate_1", Pos: [3]float64{1, 0.25, 3}},
				{ID: "crate_2", Pos: [3]float64{-3, 0.25, 1}, Yaw: 45},
				{ID: "crate_3", Pos: [3]float64{6, 1.75, 6}},
			},
		},
	}
}

// Load overlays the yaml file on Defaults().
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickRateHz <= 0 || t.TickRateHz > 240 {
		errs = append(errs, fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz))
	}
	if t.BroadcastEveryTicks <= 0 {
		errs = append(errs, fmt.Errorf("broadcast_every_ticks must be > 0"))
	}
	if t.MaxPlayers <= 0 {
		errs = append(errs, fmt.Errorf("max_players must be > 0"))
	}
	m := t.Movement
	if m.MoveSpeed <= 0 || m.SprintMultiplier < 1 {
		errs = append(errs, fmt.Errorf("movement: move_speed must be > 0 and sprint_multiplier >= 1"))
	}
	if m.Gravity <= 0 || m.JumpForce <= 0 {
		errs = append(errs, fmt.Errorf("movement: gravity and jump_force must be > 0"))
	}
	if m.StickVelocity > 0 {
		errs = append(errs, fmt.Errorf("movement: stick_velocity must be <= 0"))
	}
	if m.CoyoteTime < 0 || m.JumpBufferTime < 0 {
		errs = append(errs, fmt.Errorf("movement: coyote_time and jump_buffer_time must be >= 0"))
	}
	if m.ControllerRadius <= 0 || m.ControllerHeight < 2*m.ControllerRadius {
		errs = append(errs, fmt.Errorf("movement: controller must be at least as tall as it is wide"))
	}
	g := t.Gravity
	if g.SquashDuration <= 0 || g.StretchDuration <= 0 {
		errs = append(errs, fmt.Errorf("gravity: squash and stretch durations must be > 0"))
	}
	if g.CeilingY <= g.FloorY {
		errs = append(errs, fmt.Errorf("gravity: ceiling_y must be above floor_y"))
	}
	if t.Carry.DropCastDistance <= 0 || t.Carry.PickupReach <= 0 {
		errs = append(errs, fmt.Errorf("carry: drop_cast_distance and pickup_reach must be > 0"))
	}
	if t.Targeting.IntervalMs <= 0 || t.Targeting.Radius <= 0 {
		errs = append(errs, fmt.Errorf("targeting: interval_ms and radius must be > 0"))
	}
	if len(t.Level.Spawns) == 0 {
		errs = append(errs, fmt.Errorf("level: at least one spawn required"))
	}
	seen := map[string]bool{}
	for _, o := range t.Level.Objects {
		if o.ID == "" || seen[o.ID] {
			errs = append(errs, fmt.Errorf("level: object ids must be unique and non-empty (%q)", o.ID))
		}
		seen[o.ID] = true
	}
	return errors.Join(errs...)
}

// TickSeconds is the fixed simulation step.
func (t Tuning) TickSeconds() float64 {
	return 1.0 / float64(t.TickRateHz)
}

func (t Tuning) Digest() string {
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
