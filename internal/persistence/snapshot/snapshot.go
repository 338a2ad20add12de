package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"upend.gg/internal/sim/tuning"
)

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 is the full authoritative state after Header.Tick has been simulated.
type SnapshotV1 struct {
	Header Header `json:"header"`

	// Tuning is captured so a resumed or replayed world runs with the parameters it was
	// recorded with.
	Tuning       tuning.Tuning `json:"tuning"`
	TuningDigest string        `json:"tuning_digest"`

	NextPlayerNum uint64 `json:"next_player_num"`

	Players []PlayerV1 `json:"players"`
	Objects []ObjectV1 `json:"objects"`
}

type PlayerV1 struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Pos      [3]float64 `json:"pos"`
	Rot      [4]float64 `json:"rot"`
	Vel      [3]float64 `json:"vel"`
	MotorVel [3]float64 `json:"motor_vel"`

	Grounded         bool    `json:"grounded"`
	LastGroundedTime float64 `json:"last_grounded_time"`
	JumpRequestTime  float64 `json:"jump_request_time"`
	JumpHeld         bool    `json:"jump_held"`
	JumpCount        uint32  `json:"jump_count"`
	Walking          bool    `json:"walking"`
	Running          bool    `json:"running"`

	Inverted          bool    `json:"inverted"`
	CarriedObject     string  `json:"carried_object,omitempty"`
	ControllerEnabled bool    `json:"controller_enabled"`
	GuardPhase        uint8   `json:"guard_phase"`
	GuardReenableAt   float64 `json:"guard_reenable_at"`

	// Held input as of the snapshot tick.
	Move         [2]float64 `json:"move"`
	Sprint       bool       `json:"sprint"`
	Jump         bool       `json:"jump"`
	LastInputSeq uint64     `json:"last_input_seq"`
}

type ObjectV1 struct {
	ID          string     `json:"id"`
	PickedUpBy  string     `json:"picked_up_by,omitempty"`
	Pos         [3]float64 `json:"pos"`
	Rot         [4]float64 `json:"rot"`
	NetEnabled  bool       `json:"net_enabled"`
	TeleportSeq uint32     `json:"teleport_seq"`
}

// WriteSnapshot writes snap to path through a temp file, so a crash mid-write never leaves a
// truncated snapshot behind.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != 1 {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader returns only the JSON header line, without decoding the body.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}
