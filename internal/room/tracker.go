package room

import (
	"bodynet/internal/physics"
	"bodynet/internal/protocol"
)

// StateTracker отслеживает последнее разосланное состояние каждого тела
// и ведет стабильные числовые индексы для компактности провода.
//
// Индекс назначается при первом наблюдении тела и никогда не
// переиспользуется, даже после удаления: клиент, не видевший удаления,
// не должен спутать новое тело со старым.
type StateTracker struct {
	lastBroadcast map[string]protocol.BodyState
	idToIndex     map[string]uint16
	indexToID     map[uint16]string
	nextIndex     uint16
}

func NewStateTracker() *StateTracker {
	return &StateTracker{
		lastBroadcast: make(map[string]protocol.BodyState),
		idToIndex:     make(map[string]uint16),
		indexToID:     make(map[uint16]string),
	}
}

// EnsureIndex возвращает индекс тела, назначая следующий свободный при
// первом обращении
func (st *StateTracker) EnsureIndex(id string) uint16 {
	if idx, ok := st.idToIndex[id]; ok {
		return idx
	}
	idx := st.nextIndex
	st.nextIndex++
	st.idToIndex[id] = idx
	st.indexToID[idx] = id
	return idx
}

// IDMap возвращает копию карты id -> индекс
func (st *StateTracker) IDMap() map[string]uint16 {
	m := make(map[string]uint16, len(st.idToIndex))
	for id, idx := range st.idToIndex {
		m[id] = idx
	}
	return m
}

// IDByIndex возвращает id тела по его числовому индексу
func (st *StateTracker) IDByIndex(idx uint16) (string, bool) {
	id, ok := st.indexToID[idx]
	return id, ok
}

// Forget удаляет кеш последней рассылки тела. Индекс сохраняется.
func (st *StateTracker) Forget(id string) {
	delete(st.lastBroadcast, id)
}

// Reset сбрасывает кеш рассылки. Карта индексов переживает сброс:
// инвариант "индекс не переиспользуется" действует и через перезапуски
// симуляции.
func (st *StateTracker) Reset() {
	st.lastBroadcast = make(map[string]protocol.BodyState)
}

// Snapshot собирает безусловный полный снимок всех живых тел
func (st *StateTracker) Snapshot(world physics.World, tick uint32, timestampMs float64) protocol.Snapshot {
	ids := world.BodyIDs()
	snap := protocol.Snapshot{
		Tick:      tick,
		Timestamp: timestampMs,
		Bodies:    make([]protocol.BodySnapshot, 0, len(ids)),
	}

	for _, id := range ids {
		state, ok := world.BodyState(id)
		if !ok {
			continue
		}
		snap.Bodies = append(snap.Bodies, protocol.BodySnapshot{
			ID:    id,
			Index: st.EnsureIndex(id),
			State: state,
		})
	}
	return snap
}

// Delta строит дельта-кадр: тела, впервые попавшие в рассылку, идут с
// полной маской; спящие опускаются; остальные сравниваются покомпонентно
// с порогом DiffEpsilon. После отбора кеш освежается текущим состоянием
// всех живых тел, включая спящих: проснувшееся тело диффится против
// актуального состояния, а не против предсонного.
func (st *StateTracker) Delta(world physics.World, tick uint32, timestampMs float64) *protocol.RoomStateFrame {
	frame := &protocol.RoomStateFrame{
		Tick:       tick,
		Timestamp:  timestampMs,
		IsDelta:    true,
		NumericIDs: true,
	}

	ids := world.BodyIDs()
	live := make(map[string]bool, len(ids))

	for _, id := range ids {
		state, ok := world.BodyState(id)
		if !ok {
			continue
		}
		live[id] = true

		prev, seen := st.lastBroadcast[id]
		switch {
		case !seen:
			frame.Bodies = append(frame.Bodies, protocol.BodyUpdate{
				ID:    id,
				Index: st.EnsureIndex(id),
				Mask:  protocol.FieldAll,
				State: state,
			})

		case world.IsSleeping(id):
			// Спящее тело не передается

		default:
			mask := diffMask(prev, state)
			if mask != 0 {
				frame.Bodies = append(frame.Bodies, protocol.BodyUpdate{
					ID:    id,
					Index: st.EnsureIndex(id),
					Mask:  mask,
					State: state,
				})
			}
		}

		st.lastBroadcast[id] = state
	}

	for id := range st.lastBroadcast {
		if !live[id] {
			delete(st.lastBroadcast, id)
		}
	}

	return frame
}

func diffMask(prev, cur protocol.BodyState) uint8 {
	var mask uint8
	if vecChanged(prev.Position, cur.Position) {
		mask |= protocol.FieldPosition
	}
	if quatChanged(prev.Rotation, cur.Rotation) {
		mask |= protocol.FieldRotation
	}
	if vecChanged(prev.LinearVelocity, cur.LinearVelocity) {
		mask |= protocol.FieldLinearVelocity
	}
	if vecChanged(prev.AngularVelocity, cur.AngularVelocity) {
		mask |= protocol.FieldAngularVelocity
	}
	return mask
}

func vecChanged(a, b protocol.Vector3) bool {
	return exceeds(a.X, b.X) || exceeds(a.Y, b.Y) || exceeds(a.Z, b.Z)
}

func quatChanged(a, b protocol.Quaternion) bool {
	return exceeds(a.X, b.X) || exceeds(a.Y, b.Y) || exceeds(a.Z, b.Z) || exceeds(a.W, b.W)
}

func exceeds(a, b float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d > protocol.DiffEpsilon
}
