package room

import (
	"sync"
	"testing"

	"bodynet/internal/physics/engine"
	"bodynet/internal/protocol"
)

// fakeSender копит разосланные кадры для проверок
type fakeSender struct {
	id string

	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeSender) ID() string { return f.id }

func (f *fakeSender) Send(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
}

func (f *fakeSender) decoded(t *testing.T) []interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]interface{}, 0, len(f.frames))
	for _, data := range f.frames {
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("broadcast frame failed to decode: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func newTestRoom(t *testing.T, bodies []protocol.BodyDescriptor, gravity *protocol.Vector3) *Room {
	t.Helper()
	r, err := New("test", engine.NewWorld(), bodies, nil, gravity, InputPolicyImmediate, nil)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return r
}

func TestGravitySceneBroadcastsStateAndCollision(t *testing.T) {
	cube := protocol.BodyDescriptor{
		ID:       "cube",
		Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeBox, Box: &protocol.BoxParams{HalfExtents: protocol.Vector3{X: 0.5, Y: 0.5, Z: 0.5}}},
		Motion:   protocol.MotionDynamic,
		Position: protocol.Vector3{Y: 10},
		Rotation: protocol.QuaternionIdentity(),
		Mass:     1,
	}
	ground := protocol.BodyDescriptor{
		ID:       "ground",
		Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeBox, Box: &protocol.BoxParams{HalfExtents: protocol.Vector3{X: 50, Y: 0.5, Z: 50}}},
		Motion:   protocol.MotionStatic,
		Position: protocol.Vector3{Y: -0.5},
		Rotation: protocol.QuaternionIdentity(),
	}

	r := newTestRoom(t, []protocol.BodyDescriptor{cube, ground}, &protocol.Vector3{Y: -9.81})
	client := &fakeSender{id: "c1"}
	r.AddClient(client)

	for i := 0; i < 150; i++ {
		r.Tick()
	}

	snap := r.Snapshot()
	var cubeY float32 = 999
	for _, b := range snap.Bodies {
		if b.ID == "cube" {
			cubeY = b.State.Position.Y
		}
	}
	if cubeY >= 10 {
		t.Errorf("cube did not fall: y=%f", cubeY)
	}

	var sawState, sawCollision bool
	for _, msg := range client.decoded(t) {
		switch m := msg.(type) {
		case *protocol.RoomStateFrame:
			sawState = true
		case *protocol.CollisionEventsMessage:
			for _, ev := range m.Events {
				if ev.Type == protocol.CollisionStarted &&
					((ev.BodyA == "cube" && ev.BodyB == "ground") || (ev.BodyA == "ground" && ev.BodyB == "cube")) {
					sawCollision = true
					if ev.Point == nil || ev.Normal == nil {
						t.Error("started collision must carry point and normal")
					}
				}
			}
		}
	}
	if !sawState {
		t.Error("expected at least one room_state broadcast")
	}
	if !sawCollision {
		t.Error("expected COLLISION_STARTED between cube and ground")
	}
}

func TestBufferedImpulseVisibleWithinBroadcastInterval(t *testing.T) {
	box := protocol.BodyDescriptor{
		ID:       "shared-box",
		Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeBox, Box: &protocol.BoxParams{HalfExtents: protocol.Vector3{X: 0.5, Y: 0.5, Z: 0.5}}},
		Motion:   protocol.MotionDynamic,
		Position: protocol.Vector3{},
		Rotation: protocol.QuaternionIdentity(),
		Mass:     1,
	}

	r := newTestRoom(t, []protocol.BodyDescriptor{box}, &protocol.Vector3{})
	c1 := &fakeSender{id: "c1"}
	c2 := &fakeSender{id: "c2"}
	_, idMap, _ := r.AddClient(c1)
	r.AddClient(c2)

	r.BufferInput("c1", protocol.InputBatch{
		Actions: []protocol.InputAction{
			{Kind: protocol.ActionApplyImpulse, BodyID: "shared-box", Vector: protocol.Vector3{X: 20}},
		},
	})

	// Один интервал рассылки
	for i := 0; i < protocol.BroadcastInterval; i++ {
		r.Tick()
	}

	boxIndex, ok := idMap["shared-box"]
	if !ok {
		t.Fatal("shared-box missing from id map")
	}

	for _, client := range []*fakeSender{c1, c2} {
		found := false
		for _, msg := range client.decoded(t) {
			frame, ok := msg.(*protocol.RoomStateFrame)
			if !ok {
				continue
			}
			for _, b := range frame.Bodies {
				if b.Index == boxIndex && b.Mask&protocol.FieldLinearVelocity != 0 && b.State.LinearVelocity.X > 0 {
					found = true
				}
			}
		}
		if !found {
			t.Errorf("client %s did not observe positive linVel.x", client.id)
		}
	}
}

func TestBroadcastCadence(t *testing.T) {
	// Тело с ненулевой скоростью меняется каждый тик, кадр уходит
	// каждые BroadcastInterval тиков
	mover := protocol.BodyDescriptor{
		ID:       "mover",
		Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeSphere, Sphere: &protocol.SphereParams{Radius: 0.5}},
		Motion:   protocol.MotionDynamic,
		Position: protocol.Vector3{},
		Rotation: protocol.QuaternionIdentity(),
		Mass:     1,
	}

	r := newTestRoom(t, []protocol.BodyDescriptor{mover}, &protocol.Vector3{})
	client := &fakeSender{id: "c1"}
	r.AddClient(client)

	r.BufferInput("c1", protocol.InputBatch{
		Actions: []protocol.InputAction{
			{Kind: protocol.ActionSetLinearVelocity, BodyID: "mover", Vector: protocol.Vector3{X: 5}},
		},
	})

	for i := 0; i < 9; i++ {
		r.Tick()
	}

	states := 0
	for _, msg := range client.decoded(t) {
		if _, ok := msg.(*protocol.RoomStateFrame); ok {
			states++
		}
	}
	if states != 3 {
		t.Errorf("expected 3 state frames in 9 ticks, got %d", states)
	}
}

func TestNoStateFrameWhenNothingChanges(t *testing.T) {
	still := protocol.BodyDescriptor{
		ID:       "still",
		Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeBox, Box: &protocol.BoxParams{HalfExtents: protocol.Vector3{X: 1, Y: 1, Z: 1}}},
		Motion:   protocol.MotionStatic,
		Position: protocol.Vector3{},
		Rotation: protocol.QuaternionIdentity(),
	}

	r := newTestRoom(t, []protocol.BodyDescriptor{still}, &protocol.Vector3{})
	client := &fakeSender{id: "c1"}
	r.AddClient(client)

	// Первая рассылка: тело впервые попадает в кадр
	for i := 0; i < protocol.BroadcastInterval; i++ {
		r.Tick()
	}
	// Дальше изменений нет - кадров состояния быть не должно
	for i := 0; i < 3*protocol.BroadcastInterval; i++ {
		r.Tick()
	}

	states := 0
	for _, msg := range client.decoded(t) {
		if _, ok := msg.(*protocol.RoomStateFrame); ok {
			states++
		}
	}
	if states != 1 {
		t.Errorf("expected exactly 1 state frame, got %d", states)
	}
}

func TestStartSimulationRestoresInitialPose(t *testing.T) {
	cube := protocol.BodyDescriptor{
		ID:       "cube",
		Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeBox, Box: &protocol.BoxParams{HalfExtents: protocol.Vector3{X: 0.5, Y: 0.5, Z: 0.5}}},
		Motion:   protocol.MotionDynamic,
		Position: protocol.Vector3{X: 1.5, Y: 10, Z: -2},
		Rotation: protocol.QuaternionIdentity(),
		Mass:     1,
	}

	r := newTestRoom(t, []protocol.BodyDescriptor{cube}, &protocol.Vector3{Y: -9.81})
	client := &fakeSender{id: "c1"}
	r.AddClient(client)

	for i := 0; i < 60; i++ {
		r.Tick()
	}
	if r.CurrentTick() != 60 {
		t.Fatalf("expected tick 60, got %d", r.CurrentTick())
	}

	if err := r.StartSimulation(); err != nil {
		t.Fatalf("start simulation: %v", err)
	}
	defer r.Stop()

	// Снапшот из simulation_started снят на нулевом тике и совпадает с
	// начальными позами
	var started *protocol.SimulationStartedMessage
	for _, msg := range client.decoded(t) {
		if m, ok := msg.(*protocol.SimulationStartedMessage); ok {
			started = m
		}
	}
	if started == nil {
		t.Fatal("expected simulation_started broadcast")
	}
	if started.Snapshot.Tick != 0 {
		t.Errorf("snapshot tick must be zero after reset, got %d", started.Snapshot.Tick)
	}
	if len(started.Snapshot.Bodies) != 1 {
		t.Fatalf("expected 1 body in snapshot, got %d", len(started.Snapshot.Bodies))
	}

	got := started.Snapshot.Bodies[0].State
	if got.Position != cube.Position {
		t.Errorf("position not restored: %v != %v", got.Position, cube.Position)
	}
	if got.Rotation != cube.Rotation {
		t.Errorf("rotation not restored: %v != %v", got.Rotation, cube.Rotation)
	}
	if got.LinearVelocity != (protocol.Vector3{}) {
		t.Errorf("velocity not reset: %v", got.LinearVelocity)
	}
}

func TestAddRemoveBodyBroadcasts(t *testing.T) {
	r := newTestRoom(t, nil, nil)
	client := &fakeSender{id: "c1"}
	r.AddClient(client)

	crate := protocol.BodyDescriptor{
		ID:       "crate",
		Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeBox, Box: &protocol.BoxParams{HalfExtents: protocol.Vector3{X: 1, Y: 1, Z: 1}}},
		Motion:   protocol.MotionDynamic,
		Position: protocol.Vector3{Y: 3},
		Rotation: protocol.QuaternionIdentity(),
		Mass:     2,
	}

	if err := r.AddBody(crate); err != nil {
		t.Fatalf("add body: %v", err)
	}
	if err := r.AddBody(crate); err == nil {
		t.Error("duplicate body id must fail")
	}
	if err := r.RemoveBody("crate"); err != nil {
		t.Fatalf("remove body: %v", err)
	}
	if err := r.RemoveBody("crate"); err == nil {
		t.Error("removing unknown body must fail")
	}

	msgs := client.decoded(t)
	var added *protocol.AddBodyMessage
	var removed *protocol.RemoveBodyMessage
	for _, msg := range msgs {
		switch m := msg.(type) {
		case *protocol.AddBodyMessage:
			added = m
		case *protocol.RemoveBodyMessage:
			removed = m
		}
	}

	if added == nil || added.Body.ID != "crate" || added.BodyIndex == nil {
		t.Errorf("add_body broadcast malformed: %+v", added)
	}
	if removed == nil || removed.BodyID != "crate" {
		t.Errorf("remove_body broadcast malformed: %+v", removed)
	}
}

func TestLoopStopsWhenLastClientLeaves(t *testing.T) {
	r := newTestRoom(t, nil, nil)
	c1 := &fakeSender{id: "c1"}
	c2 := &fakeSender{id: "c2"}
	r.AddClient(c1)
	r.AddClient(c2)

	if err := r.StartSimulation(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !r.Running() {
		t.Fatal("loop should be running")
	}

	r.RemoveClient("c1")
	if !r.Running() {
		t.Error("loop must keep running while a client remains")
	}

	r.RemoveClient("c2")
	if r.Running() {
		t.Error("loop must stop when the last client leaves")
	}
}
