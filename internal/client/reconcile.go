package client

import (
	"bodynet/internal/protocol"
)

// Reconciler разделяет авторитетное состояние сервера на локальные
// тела (сглаживаются смешиванием к серверной позе) и удаленные
// (питают буфер интерполяции). Подтвержденные сервером пакеты ввода
// выбрасываются из очереди ожидания.
type Reconciler struct {
	local   map[string]bool
	pending []protocol.InputBatch
	interp  *Interpolator
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		local:  make(map[string]bool),
		interp: NewInterpolator(),
	}
}

// Interpolator отдает буфер интерполяции удаленных тел
func (rc *Reconciler) Interpolator() *Interpolator {
	return rc.interp
}

// SetLocal помечает тело локальным (или снимает пометку)
func (rc *Reconciler) SetLocal(id string, local bool) {
	if local {
		rc.local[id] = true
		rc.interp.Remove(id)
	} else {
		delete(rc.local, id)
	}
}

// IsLocal сообщает, считается ли тело локальным
func (rc *Reconciler) IsLocal(id string) bool {
	return rc.local[id]
}

// AddPending ставит отправленный пакет ввода в очередь ожидания
// подтверждения
func (rc *Reconciler) AddPending(batch protocol.InputBatch) {
	rc.pending = append(rc.pending, batch)
	if len(rc.pending) > protocol.MaxInputBuffer {
		rc.pending = rc.pending[len(rc.pending)-protocol.MaxInputBuffer:]
	}
}

// PendingCount возвращает число неподтвержденных пакетов
func (rc *Reconciler) PendingCount() int {
	return len(rc.pending)
}

// ProcessFrame обрабатывает серверный кадр: сбрасывает подтвержденный
// ввод и разделяет тела. Удаленные тела проходят через буфер
// интерполяции; возвращается их сглаженное состояние на момент
// now - renderDelay.
func (rc *Reconciler) ProcessFrame(serverTick uint32, timestamp float64, bodies []protocol.BodySnapshot, now float64) (locals, remotes []protocol.BodySnapshot) {
	// Ввод с тиком не позже серверного уже учтен авторитетом
	kept := rc.pending[:0]
	for _, batch := range rc.pending {
		if batch.Tick > serverTick {
			kept = append(kept, batch)
		}
	}
	rc.pending = kept

	renderTime := now - protocol.RenderDelayMs

	for _, b := range bodies {
		if rc.local[b.ID] {
			locals = append(locals, b)
			continue
		}

		rc.interp.Push(b.ID, timestamp, b.State)
		state, ok := rc.interp.Sample(b.ID, renderTime)
		if !ok {
			state = b.State
		}
		remotes = append(remotes, protocol.BodySnapshot{ID: b.ID, Index: b.Index, State: state})
	}
	return locals, remotes
}

// NeedsCorrection решает, разошлось ли предсказание с авторитетом:
// сравнивается квадрат позиционной ошибки
func NeedsCorrection(predicted, authoritative protocol.BodyState) bool {
	d := authoritative.Position.Mgl().Sub(predicted.Position.Mgl())
	return d.Dot(d) > protocol.ReconciliationThreshold*protocol.ReconciliationThreshold
}

// BlendBodyState мягко подводит текущее состояние к целевому: позиция
// лерпом, ориентация slerp-ом, скорости перенимаются сразу
func BlendBodyState(current, target protocol.BodyState) protocol.BodyState {
	return protocol.BodyState{
		Position:        protocol.FromMgl(lerpVec(current.Position.Mgl(), target.Position.Mgl(), protocol.PositionLerpSpeed)),
		Rotation:        protocol.FromMglQuat(slerpShortest(current.Rotation.Mgl(), target.Rotation.Mgl(), protocol.RotationSlerpSpeed)),
		LinearVelocity:  target.LinearVelocity,
		AngularVelocity: target.AngularVelocity,
	}
}

// Clear сбрасывает очередь ожидания и буферы интерполяции; пометки
// локальных тел сохраняются
func (rc *Reconciler) Clear() {
	rc.pending = nil
	rc.interp.Clear()
}
