package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// stateDigest hashes everything a replay must reproduce. Players and objects are visited in id
// order so the digest does not depend on map iteration.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteU64(h, &tmp, uint64(len(w.players)))
	for _, id := range w.sortedPlayerIDs() {
		p := w.players[id]
		digestWriteString(h, &tmp, string(id))
		digestWriteString(h, &tmp, p.Name.Get())
		digestWriteVec(h, &tmp, p.Position)
		digestWriteVec(h, &tmp, p.Velocity.Get())
		if p.Motor != nil {
			s := p.Motor.State
			digestWriteVec(h, &tmp, s.Velocity)
			digestWriteQuat(h, &tmp, s.Rotation)
			h.Write([]byte{boolByte(s.Grounded), boolByte(s.JumpHeld)})
		}
		digestWriteU64(h, &tmp, uint64(p.JumpCount.Get()))
		h.Write([]byte{
			boolByte(p.IsInverted()),
			boolByte(p.Walking.Get()),
			boolByte(p.Running.Get()),
			boolByte(p.Controller != nil && p.Controller.Enabled),
			byte(p.guard.Phase),
		})
		digestWriteString(h, &tmp, string(p.CarriedObject.Get()))
	}

	digestWriteU64(h, &tmp, uint64(len(w.objects)))
	for _, id := range w.sortedObjectIDs() {
		o := w.objects[id]
		digestWriteString(h, &tmp, string(id))
		digestWriteString(h, &tmp, string(o.PickedUpBy.Get()))
		digestWriteVec(h, &tmp, o.Net.Current.Position)
		digestWriteQuat(h, &tmp, o.Net.Current.Rotation)
		digestWriteU64(h, &tmp, uint64(o.Net.TeleportSeq))
		h.Write([]byte{boolByte(o.Net.Enabled), boolByte(o.Kinematic)})
	}

	return hex.EncodeToString(h.Sum(nil))
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func digestWriteString(h hashWriter, tmp *[8]byte, s string) {
	digestWriteU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}

func digestWriteVec(h hashWriter, tmp *[8]byte, v mgl64.Vec3) {
	for _, f := range v {
		digestWriteF64(h, tmp, f)
	}
}

func digestWriteQuat(h hashWriter, tmp *[8]byte, q mgl64.Quat) {
	digestWriteF64(h, tmp, q.W)
	digestWriteVec(h, tmp, q.V)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
