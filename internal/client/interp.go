package client

import (
	"github.com/go-gl/mathgl/mgl32"

	"bodynet/internal/protocol"
)

// Interpolator хранит по каждому удаленному телу короткое
// упорядоченное по времени кольцо снапшотов и выдает сглаженное
// состояние на момент renderTime = now - renderDelay.
//
// Позиция интерполируется кубическим Эрмитом с линейными скоростями в
// качестве касательных, ориентация - slerp по кратчайшей дуге,
// скорости - линейной смесью. За пределом новейшего снапшота тело
// недолго экстраполируется с затуханием скорости.
type Interpolator struct {
	buffers map[string]*bodyBuffer
}

type snapshotEntry struct {
	ts    float64
	state protocol.BodyState
}

type bodyBuffer struct {
	entries []snapshotEntry
}

func NewInterpolator() *Interpolator {
	return &Interpolator{buffers: make(map[string]*bodyBuffer)}
}

// Push добавляет снапшот тела. Кольцо держит InterpolationBufferSize+1
// записей: этого хватает на интерполяцию через весь буфер.
func (ip *Interpolator) Push(id string, ts float64, state protocol.BodyState) {
	buf, ok := ip.buffers[id]
	if !ok {
		buf = &bodyBuffer{}
		ip.buffers[id] = buf
	}

	// Снапшоты приходят в порядке тиков; запоздавший просто встает
	// перед хвостом
	i := len(buf.entries)
	for i > 0 && buf.entries[i-1].ts > ts {
		i--
	}
	buf.entries = append(buf.entries, snapshotEntry{})
	copy(buf.entries[i+1:], buf.entries[i:])
	buf.entries[i] = snapshotEntry{ts: ts, state: state}

	if max := protocol.InterpolationBufferSize + 1; len(buf.entries) > max {
		buf.entries = buf.entries[len(buf.entries)-max:]
	}
}

// Remove выбрасывает буфер тела
func (ip *Interpolator) Remove(id string) {
	delete(ip.buffers, id)
}

// Clear сбрасывает все буферы
func (ip *Interpolator) Clear() {
	ip.buffers = make(map[string]*bodyBuffer)
}

// Sample возвращает состояние тела на момент renderTime (мс)
func (ip *Interpolator) Sample(id string, renderTime float64) (protocol.BodyState, bool) {
	buf, ok := ip.buffers[id]
	if !ok || len(buf.entries) == 0 {
		return protocol.BodyState{}, false
	}

	entries := buf.entries
	oldest := entries[0]
	newest := entries[len(entries)-1]

	// До начала буфера отдаем старейший снапшот как есть
	if renderTime <= oldest.ts {
		return oldest.state, true
	}

	// За концом буфера - краткая экстраполяция
	if renderTime >= newest.ts {
		return extrapolate(newest, renderTime), true
	}

	for i := 0; i < len(entries)-1; i++ {
		older := entries[i]
		newer := entries[i+1]
		if renderTime < older.ts || renderTime > newer.ts {
			continue
		}

		span := newer.ts - older.ts
		if span <= 0 {
			return newer.state, true
		}
		t := float32((renderTime - older.ts) / span)
		return interpolate(older.state, newer.state, t, float32(span/1000)), true
	}

	return newest.state, true
}

// interpolate смешивает два соседних снапшота с параметром t
func interpolate(a, b protocol.BodyState, t, spanSeconds float32) protocol.BodyState {
	return protocol.BodyState{
		Position:        protocol.FromMgl(hermite(a.Position.Mgl(), a.LinearVelocity.Mgl(), b.Position.Mgl(), b.LinearVelocity.Mgl(), t, spanSeconds)),
		Rotation:        protocol.FromMglQuat(slerpShortest(a.Rotation.Mgl(), b.Rotation.Mgl(), t)),
		LinearVelocity:  protocol.FromMgl(lerpVec(a.LinearVelocity.Mgl(), b.LinearVelocity.Mgl(), t)),
		AngularVelocity: protocol.FromMgl(lerpVec(a.AngularVelocity.Mgl(), b.AngularVelocity.Mgl(), t)),
	}
}

// extrapolate продвигает новейший снапшот вперед с затуханием:
// скорость сходит на нет примерно за полсекунды, ориентация держится
func extrapolate(e snapshotEntry, renderTime float64) protocol.BodyState {
	dt := float32((renderTime - e.ts) / 1000)
	decay := 1 - 2*dt
	if decay < 0 {
		decay = 0
	}

	out := e.state
	out.Position = protocol.FromMgl(
		e.state.Position.Mgl().Add(e.state.LinearVelocity.Mgl().Mul(dt * decay)))
	out.AngularVelocity = protocol.FromMgl(e.state.AngularVelocity.Mgl().Mul(decay))
	return out
}

// hermite - кубический Эрмит по двум опорным точкам; касательные -
// линейные скорости, отмасштабированные длительностью сегмента
func hermite(p0, v0, p1, v1 mgl32.Vec3, t, spanSeconds float32) mgl32.Vec3 {
	m0 := v0.Mul(spanSeconds)
	m1 := v1.Mul(spanSeconds)

	t2 := t * t
	t3 := t2 * t

	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + t
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2

	return p0.Mul(h00).Add(m0.Mul(h10)).Add(p1.Mul(h01)).Add(m1.Mul(h11))
}

// slerpShortest - сферическая интерполяция по кратчайшей дуге: при
// отрицательном скалярном произведении знак второго кватерниона
// переворачивается; почти коллинеарные кватернионы смешиваются nlerp
func slerpShortest(a, b mgl32.Quat, t float32) mgl32.Quat {
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	if a.Dot(b) > 0.9995 {
		return mgl32.QuatNlerp(a, b, t)
	}
	return mgl32.QuatSlerp(a, b, t).Normalize()
}

func lerpVec(a, b mgl32.Vec3, t float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}
