package client

import (
	"log"
	"testing"

	"bodynet/internal/protocol"
)

// offlineClient собирает фасад без сокета: обработчики кадров сокет не
// трогают
func offlineClient() *Client {
	return &Client{
		logger:     log.Default(),
		clock:      NewClockSync(),
		reconciler: NewReconciler(),
		fullState:  make(map[string]protocol.BodyState),
		idToIndex:  make(map[string]uint16),
		indexToID:  make(map[uint16]string),
		done:       make(chan struct{}),
	}
}

func TestDeltaMergeIntoFullState(t *testing.T) {
	c := offlineClient()
	c.installIDMap(map[string]uint16{"crate": 0})

	full := protocol.BodyState{
		Position:        protocol.Vector3{X: 1, Y: 2, Z: 3},
		Rotation:        protocol.Quaternion{X: 0, Y: 0.7071068, Z: 0, W: 0.7071068},
		LinearVelocity:  protocol.Vector3{X: 5},
		AngularVelocity: protocol.Vector3{Y: 1},
	}

	// Первый кадр: полная маска
	c.handleRoomState(&protocol.RoomStateFrame{
		Tick:       3,
		Timestamp:  1000,
		IsDelta:    true,
		NumericIDs: true,
		Bodies: []protocol.BodyUpdate{
			{Index: 0, Mask: protocol.FieldAll, State: full},
		},
	})

	// Второй кадр: только позиция; скорости и ориентация в кадре
	// дефолтные и не должны затереть кеш
	c.handleRoomState(&protocol.RoomStateFrame{
		Tick:       6,
		Timestamp:  1050,
		IsDelta:    true,
		NumericIDs: true,
		Bodies: []protocol.BodyUpdate{
			{Index: 0, Mask: protocol.FieldPosition, State: protocol.BodyState{
				Position: protocol.Vector3{X: 9, Y: 2, Z: 3},
				Rotation: protocol.QuaternionIdentity(),
			}},
		},
	})

	got := c.fullState["crate"]
	if got.Position.X != 9 {
		t.Errorf("position not merged: %v", got.Position)
	}
	if got.LinearVelocity != full.LinearVelocity {
		t.Errorf("linear velocity must survive a position-only delta: %v", got.LinearVelocity)
	}
	if got.Rotation != full.Rotation {
		t.Errorf("rotation must survive a position-only delta: %v", got.Rotation)
	}
}

func TestUnknownIndexSkipped(t *testing.T) {
	c := offlineClient()
	// Карта индексов пуста: кадр с числовым id пропускается без паники
	c.handleRoomState(&protocol.RoomStateFrame{
		NumericIDs: true,
		Bodies: []protocol.BodyUpdate{
			{Index: 42, Mask: protocol.FieldAll, State: protocol.NewBodyState()},
		},
	})

	if len(c.fullState) != 0 {
		t.Errorf("unknown index must not create state: %v", c.fullState)
	}
}

func TestSimulationStartedRebuildsState(t *testing.T) {
	c := offlineClient()
	c.installIDMap(map[string]uint16{"old": 0})
	c.fullState["old"] = stateAt(100, 0, 0)
	c.reconciler.AddPending(pendingAt(3))

	snap := protocol.Snapshot{
		Tick: 0,
		Bodies: []protocol.BodySnapshot{
			{ID: "cube", Index: 1, State: stateAt(0, 10, 0)},
		},
	}
	c.handleSimulationStarted(&protocol.SimulationStartedMessage{
		Type:      protocol.MsgSimulationStarted,
		Snapshot:  snap,
		BodyIDMap: map[string]uint16{"cube": 1},
	})

	if _, ok := c.fullState["old"]; ok {
		t.Error("stale body must be dropped on simulation restart")
	}
	got, ok := c.fullState["cube"]
	if !ok || got.Position.Y != 10 {
		t.Errorf("snapshot body missing or wrong: %v", got)
	}
	if c.reconciler.PendingCount() != 0 {
		t.Error("pending inputs must be cleared on restart")
	}
	if id, ok := c.indexToID[1]; !ok || id != "cube" {
		t.Error("id map must be reinstalled")
	}
}

func TestAddRemoveBodyBookkeeping(t *testing.T) {
	c := offlineClient()

	idx := uint16(4)
	c.handleAddBody(&protocol.AddBodyMessage{
		Type: protocol.MsgAddBody,
		Body: protocol.BodyDescriptor{
			ID:       "crate",
			Position: protocol.Vector3{X: 2},
			Rotation: protocol.QuaternionIdentity(),
		},
		BodyIndex: &idx,
	})

	if c.idToIndex["crate"] != 4 {
		t.Errorf("index not installed: %v", c.idToIndex)
	}
	if c.fullState["crate"].Position.X != 2 {
		t.Errorf("descriptor pose not cached: %v", c.fullState["crate"])
	}

	c.handleRemoveBody(&protocol.RemoveBodyMessage{Type: protocol.MsgRemoveBody, BodyID: "crate"})
	if _, ok := c.fullState["crate"]; ok {
		t.Error("removed body must leave the cache")
	}
	// Индекс остается закрепленным за телом
	if id, ok := c.indexToID[4]; !ok || id != "crate" {
		t.Error("index mapping must survive removal")
	}
}
