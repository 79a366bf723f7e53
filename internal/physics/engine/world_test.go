package engine

import (
	"math"
	"testing"

	"bodynet/internal/physics"
	"bodynet/internal/protocol"
)

const dt = float32(1.0 / 60.0)

func unitCube(id string, y float32) protocol.BodyDescriptor {
	return protocol.BodyDescriptor{
		ID:       id,
		Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeBox, Box: &protocol.BoxParams{HalfExtents: protocol.Vector3{X: 0.5, Y: 0.5, Z: 0.5}}},
		Motion:   protocol.MotionDynamic,
		Position: protocol.Vector3{Y: y},
		Rotation: protocol.QuaternionIdentity(),
		Mass:     1,
		Friction: 0.5,
	}
}

func groundBox(id string) protocol.BodyDescriptor {
	return protocol.BodyDescriptor{
		ID:       id,
		Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeBox, Box: &protocol.BoxParams{HalfExtents: protocol.Vector3{X: 50, Y: 0.5, Z: 50}}},
		Motion:   protocol.MotionStatic,
		Position: protocol.Vector3{Y: -0.5},
		Rotation: protocol.QuaternionIdentity(),
		Friction: 0.8,
	}
}

func TestGravityFreeFallWithCollision(t *testing.T) {
	w := NewWorld()
	w.SetGravity(protocol.Vector3{Y: -9.81})

	if err := w.AddBody(unitCube("cube", 10)); err != nil {
		t.Fatalf("add cube: %v", err)
	}
	if err := w.AddBody(groundBox("ground")); err != nil {
		t.Fatalf("add ground: %v", err)
	}

	var events []physics.ContactEvent
	for i := 0; i < 150; i++ {
		w.Step(dt)
		events = append(events, w.DrainContactEvents()...)
	}

	state, ok := w.BodyState("cube")
	if !ok {
		t.Fatal("cube disappeared")
	}
	if state.Position.Y >= 10 {
		t.Errorf("cube did not fall: y=%f", state.Position.Y)
	}
	// Куб лег на пол, а не провалился сквозь него
	if state.Position.Y < -1 {
		t.Errorf("cube fell through the ground: y=%f", state.Position.Y)
	}

	started := false
	for _, ev := range events {
		if ev.Started && !ev.SensorA && !ev.SensorB &&
			((ev.BodyA == "cube" && ev.BodyB == "ground") || (ev.BodyA == "ground" && ev.BodyB == "cube")) {
			started = true
			if ev.Impulse <= 0 {
				t.Errorf("contact impulse should be positive, got %f", ev.Impulse)
			}
		}
	}
	if !started {
		t.Error("expected a started contact between cube and ground")
	}
}

func TestStaticBodyNeverMoves(t *testing.T) {
	w := NewWorld()
	w.SetGravity(protocol.Vector3{Y: -9.81})

	if err := w.AddBody(groundBox("ground")); err != nil {
		t.Fatalf("add ground: %v", err)
	}

	for i := 0; i < 60; i++ {
		w.Step(dt)
	}

	state, _ := w.BodyState("ground")
	if state.Position != (protocol.Vector3{Y: -0.5}) {
		t.Errorf("static body moved: %v", state.Position)
	}
}

func TestBodyFallsAsleepAndWakesOnImpulse(t *testing.T) {
	w := NewWorld()
	w.SetGravity(protocol.Vector3{Y: -9.81})

	if err := w.AddBody(unitCube("cube", 0.6)); err != nil {
		t.Fatalf("add cube: %v", err)
	}
	if err := w.AddBody(groundBox("ground")); err != nil {
		t.Fatalf("add ground: %v", err)
	}

	// Куб почти на полу: после контакта и полусекунды покоя он спит
	for i := 0; i < 180; i++ {
		w.Step(dt)
	}
	if !w.IsSleeping("cube") {
		t.Fatal("cube should be asleep after resting")
	}

	// Импульс будит тело
	if err := w.ApplyImpulse("cube", protocol.Vector3{X: 5}); err != nil {
		t.Fatalf("impulse: %v", err)
	}
	if w.IsSleeping("cube") {
		t.Error("cube should wake up on impulse")
	}

	w.Step(dt)
	state, _ := w.BodyState("cube")
	if state.LinearVelocity.X <= 0 {
		t.Errorf("impulse had no effect: vx=%f", state.LinearVelocity.X)
	}
}

func TestTriggerProducesSensorEvents(t *testing.T) {
	w := NewWorld()
	w.SetGravity(protocol.Vector3{}) // без гравитации: шар летит по прямой

	zone := protocol.BodyDescriptor{
		ID:        "zone",
		Shape:     protocol.ShapeDescriptor{Type: protocol.ShapeBox, Box: &protocol.BoxParams{HalfExtents: protocol.Vector3{X: 1, Y: 1, Z: 1}}},
		Motion:    protocol.MotionStatic,
		Position:  protocol.Vector3{X: 5},
		Rotation:  protocol.QuaternionIdentity(),
		IsTrigger: true,
	}
	ball := protocol.BodyDescriptor{
		ID:       "ball",
		Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeSphere, Sphere: &protocol.SphereParams{Radius: 0.25}},
		Motion:   protocol.MotionDynamic,
		Position: protocol.Vector3{},
		Rotation: protocol.QuaternionIdentity(),
		Mass:     1,
	}

	if err := w.AddBody(zone); err != nil {
		t.Fatalf("add zone: %v", err)
	}
	if err := w.AddBody(ball); err != nil {
		t.Fatalf("add ball: %v", err)
	}
	if err := w.SetLinearVelocity("ball", protocol.Vector3{X: 10}); err != nil {
		t.Fatalf("set velocity: %v", err)
	}

	var entered, exited bool
	for i := 0; i < 120; i++ {
		w.Step(dt)
		for _, ev := range w.DrainContactEvents() {
			if !ev.SensorA && !ev.SensorB {
				continue
			}
			if ev.Started {
				entered = true
			} else {
				exited = true
			}
		}
	}

	if !entered {
		t.Error("expected sensor begin event")
	}
	if !exited {
		t.Error("expected sensor end event")
	}

	// Сенсор не останавливает тело
	state, _ := w.BodyState("ball")
	if state.Position.X < 7 {
		t.Errorf("ball should pass through the trigger, x=%f", state.Position.X)
	}
}

func TestDistanceConstraintLimitsSeparation(t *testing.T) {
	w := NewWorld()
	w.SetGravity(protocol.Vector3{Y: -9.81})

	anchor := protocol.BodyDescriptor{
		ID:       "anchor",
		Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeSphere, Sphere: &protocol.SphereParams{Radius: 0.1}},
		Motion:   protocol.MotionStatic,
		Position: protocol.Vector3{Y: 10},
		Rotation: protocol.QuaternionIdentity(),
	}
	weight := unitCube("weight", 9)

	if err := w.AddBody(anchor); err != nil {
		t.Fatalf("add anchor: %v", err)
	}
	if err := w.AddBody(weight); err != nil {
		t.Fatalf("add weight: %v", err)
	}

	maxDist := float32(2)
	noCollide := false
	err := w.AddConstraint(protocol.ConstraintDescriptor{
		ID:          "rope",
		Type:        protocol.ConstraintDistance,
		BodyA:       "anchor",
		BodyB:       "weight",
		MaxDistance: &maxDist,
		Collision:   &noCollide,
	})
	if err != nil {
		t.Fatalf("add constraint: %v", err)
	}

	for i := 0; i < 300; i++ {
		w.Step(dt)
	}

	state, _ := w.BodyState("weight")
	dy := float64(10 - state.Position.Y)
	if dy > 2.1 {
		t.Errorf("weight fell beyond rope length: separation %f", dy)
	}
}

func TestSixDofAngularAxes(t *testing.T) {
	buildWorld := func(t *testing.T, limits []protocol.AxisLimit) *World {
		t.Helper()
		w := NewWorld()
		w.SetGravity(protocol.Vector3{})

		base := protocol.BodyDescriptor{
			ID:       "base",
			Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeSphere, Sphere: &protocol.SphereParams{Radius: 0.1}},
			Motion:   protocol.MotionStatic,
			Position: protocol.Vector3{},
			Rotation: protocol.QuaternionIdentity(),
		}
		cart := protocol.BodyDescriptor{
			ID:       "cart",
			Shape:    protocol.ShapeDescriptor{Type: protocol.ShapeSphere, Sphere: &protocol.SphereParams{Radius: 0.1}},
			Motion:   protocol.MotionDynamic,
			Position: protocol.Vector3{X: 2},
			Rotation: protocol.QuaternionIdentity(),
			Mass:     1,
		}
		if err := w.AddBody(base); err != nil {
			t.Fatalf("add base: %v", err)
		}
		if err := w.AddBody(cart); err != nil {
			t.Fatalf("add cart: %v", err)
		}

		noCollide := false
		if err := w.AddConstraint(protocol.ConstraintDescriptor{
			ID:         "rail",
			Type:       protocol.ConstraintSixDof,
			BodyA:      "base",
			BodyB:      "cart",
			PivotA:     protocol.Vector3{X: 2}, // якоря совпадают: линейная часть в покое
			AxisLimits: limits,
			Collision:  &noCollide,
		}); err != nil {
			t.Fatalf("add constraint: %v", err)
		}
		return w
	}

	// Поворот на 30 градусов вокруг Y
	sin15 := float32(math.Sin(math.Pi / 12))
	cos15 := float32(math.Cos(math.Pi / 12))
	tilted := protocol.Quaternion{Y: sin15, W: cos15}

	t.Run("absent angular axis locks rotation", func(t *testing.T) {
		w := buildWorld(t, nil) // все оси отсутствуют - полная блокировка

		if err := w.SetPose("cart", protocol.Vector3{X: 2}, &tilted); err != nil {
			t.Fatalf("set pose: %v", err)
		}
		w.Step(dt)

		state, _ := w.BodyState("cart")
		if abs(state.Rotation.W) < 0.9999 {
			t.Errorf("locked axis must snap rotation back to identity, got %v", state.Rotation)
		}
	})

	t.Run("free angular axis keeps rotation", func(t *testing.T) {
		// Ось 4 (поворот вокруг Y) присутствует без пределов
		w := buildWorld(t, []protocol.AxisLimit{{Axis: 4}})

		if err := w.SetPose("cart", protocol.Vector3{X: 2}, &tilted); err != nil {
			t.Fatalf("set pose: %v", err)
		}
		w.Step(dt)

		state, _ := w.BodyState("cart")
		if abs(state.Rotation.Y-sin15) > 1e-3 || abs(state.Rotation.W-cos15) > 1e-3 {
			t.Errorf("free axis must keep the rotation, got %v", state.Rotation)
		}
	})

	t.Run("limited angular axis clamps rotation", func(t *testing.T) {
		// Поворот вокруг Y зажат в четверть исходного угла
		lim := float32(math.Pi / 24)
		negLim := -lim
		w := buildWorld(t, []protocol.AxisLimit{{Axis: 4, MinLimit: &negLim, MaxLimit: &lim}})

		if err := w.SetPose("cart", protocol.Vector3{X: 2}, &tilted); err != nil {
			t.Fatalf("set pose: %v", err)
		}
		w.Step(dt)

		state, _ := w.BodyState("cart")
		wantSin := float32(math.Sin(math.Pi / 48))
		if abs(state.Rotation.Y-wantSin) > 1e-3 {
			t.Errorf("clamped rotation: got y=%f, want %f", state.Rotation.Y, wantSin)
		}
	})
}

func TestRemoveBodyDropsJoints(t *testing.T) {
	w := NewWorld()

	if err := w.AddBody(unitCube("a", 0)); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := w.AddBody(unitCube("b", 0.5)); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := w.AddConstraint(protocol.ConstraintDescriptor{
		ID: "link", Type: protocol.ConstraintBallAndSocket, BodyA: "a", BodyB: "b",
	}); err != nil {
		t.Fatalf("add constraint: %v", err)
	}

	if err := w.RemoveBody("a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := w.RemoveConstraint("link"); err == nil {
		t.Error("constraint should be gone with its body")
	}

	ids := w.BodyIDs()
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("unexpected body set: %v", ids)
	}
}

func TestDuplicateBodyRejected(t *testing.T) {
	w := NewWorld()
	if err := w.AddBody(unitCube("x", 0)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.AddBody(unitCube("x", 5)); err == nil {
		t.Error("duplicate body id must be rejected")
	}
}
