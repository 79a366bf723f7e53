package protocol

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b, eps float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestRoomStateRoundTripFullMask(t *testing.T) {
	frame := &RoomStateFrame{
		Tick:       120,
		Timestamp:  1234567.5,
		IsDelta:    true,
		NumericIDs: true,
		Bodies: []BodyUpdate{
			{
				Index: 7,
				Mask:  FieldAll,
				State: BodyState{
					Position:        Vector3{X: 1.5, Y: -2.25, Z: 100},
					Rotation:        Quaternion{X: 0, Y: 0.7071068, Z: 0, W: 0.7071068},
					LinearVelocity:  Vector3{X: -3, Y: 0.5, Z: 0},
					AngularVelocity: Vector3{X: 0, Y: 6.28, Z: 0},
				},
			},
		},
	}

	data, err := EncodeRoomState(frame)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if data[0] != OpRoomState {
		t.Fatalf("expected opcode 0x01, got 0x%02x", data[0])
	}

	decoded, err := DecodeRoomState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Tick != 120 || decoded.Timestamp != 1234567.5 {
		t.Errorf("header mismatch: tick=%d ts=%f", decoded.Tick, decoded.Timestamp)
	}
	if !decoded.IsDelta || !decoded.NumericIDs {
		t.Errorf("flags mismatch: delta=%v numeric=%v", decoded.IsDelta, decoded.NumericIDs)
	}
	if len(decoded.Bodies) != 1 {
		t.Fatalf("expected 1 body, got %d", len(decoded.Bodies))
	}

	b := decoded.Bodies[0]
	if b.Index != 7 || b.Mask != FieldAll {
		t.Errorf("body header mismatch: index=%d mask=%x", b.Index, b.Mask)
	}

	// Позиция и скорости - точные f32
	want := frame.Bodies[0].State
	if b.State.Position != want.Position {
		t.Errorf("position mismatch: %v != %v", b.State.Position, want.Position)
	}
	if b.State.LinearVelocity != want.LinearVelocity {
		t.Errorf("linear velocity mismatch: %v != %v", b.State.LinearVelocity, want.LinearVelocity)
	}
	if b.State.AngularVelocity != want.AngularVelocity {
		t.Errorf("angular velocity mismatch: %v != %v", b.State.AngularVelocity, want.AngularVelocity)
	}

	// Ориентация - с точностью кодировки smallest-three
	q := b.State.Rotation
	for i, pair := range [][2]float32{{q.X, 0}, {q.Y, 0.7071068}, {q.Z, 0}, {q.W, 0.7071068}} {
		if !almostEqual(pair[0], pair[1], 1e-3) {
			t.Errorf("quaternion component %d: got %f, want %f", i, pair[0], pair[1])
		}
	}

	// Норма кватерниона близка к единичной
	norm := float32(math.Sqrt(float64(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)))
	if !almostEqual(norm, 1, 1e-3) {
		t.Errorf("quaternion norm %f, want 1", norm)
	}
}

func TestRoomStateStringIDs(t *testing.T) {
	frame := &RoomStateFrame{
		Tick:      1,
		Timestamp: 10,
		Bodies: []BodyUpdate{
			{ID: "crate-17", Mask: FieldPosition, State: BodyState{Position: Vector3{X: 4, Y: 5, Z: 6}}},
		},
	}

	data, err := EncodeRoomState(frame)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRoomState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	b := decoded.Bodies[0]
	if b.ID != "crate-17" {
		t.Errorf("expected id crate-17, got %q", b.ID)
	}
	if b.State.Position != (Vector3{X: 4, Y: 5, Z: 6}) {
		t.Errorf("position mismatch: %v", b.State.Position)
	}
}

func TestRoomStatePartialMaskDefaults(t *testing.T) {
	// Только позиция: остальные поля должны получить значения по умолчанию
	frame := &RoomStateFrame{
		NumericIDs: true,
		Bodies: []BodyUpdate{
			{Index: 0, Mask: FieldPosition, State: BodyState{
				Position:       Vector3{X: 1, Y: 2, Z: 3},
				LinearVelocity: Vector3{X: 99, Y: 99, Z: 99}, // не должна попасть на провод
			}},
		},
	}

	data, _ := EncodeRoomState(frame)
	decoded, err := DecodeRoomState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	b := decoded.Bodies[0]
	if b.State.Position != (Vector3{X: 1, Y: 2, Z: 3}) {
		t.Errorf("position mismatch: %v", b.State.Position)
	}
	if b.State.LinearVelocity != (Vector3{}) {
		t.Errorf("expected zero linear velocity, got %v", b.State.LinearVelocity)
	}
	if b.State.AngularVelocity != (Vector3{}) {
		t.Errorf("expected zero angular velocity, got %v", b.State.AngularVelocity)
	}
	if b.State.Rotation != QuaternionIdentity() {
		t.Errorf("expected identity rotation, got %v", b.State.Rotation)
	}
}

func TestQuaternionRotationOnlyRoundTrip(t *testing.T) {
	// 90 градусов вокруг Y, только FIELD_ROTATION
	sin45 := float32(math.Sin(math.Pi / 4))
	cos45 := float32(math.Cos(math.Pi / 4))

	frame := &RoomStateFrame{
		NumericIDs: true,
		Bodies: []BodyUpdate{
			{Index: 3, Mask: FieldRotation, State: BodyState{
				Rotation: Quaternion{X: 0, Y: sin45, Z: 0, W: cos45},
			}},
		},
	}

	data, _ := EncodeRoomState(frame)
	decoded, err := DecodeRoomState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	q := decoded.Bodies[0].State.Rotation
	if !almostEqual(q.X, 0, 1e-3) || !almostEqual(q.Y, sin45, 1e-3) ||
		!almostEqual(q.Z, 0, 1e-3) || !almostEqual(q.W, cos45, 1e-3) {
		t.Errorf("quaternion mismatch: %v", q)
	}
}

func TestQuaternionNegativeLargestComponent(t *testing.T) {
	// q и -q - одно вращение; кодек обязан пережить отрицательную
	// наибольшую компоненту
	frame := &RoomStateFrame{
		NumericIDs: true,
		Bodies: []BodyUpdate{
			{Index: 0, Mask: FieldRotation, State: BodyState{
				Rotation: Quaternion{X: 0.1, Y: 0.2, Z: 0.1, W: -0.9695360},
			}},
		},
	}

	data, _ := EncodeRoomState(frame)
	decoded, err := DecodeRoomState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	q := decoded.Bodies[0].State.Rotation
	// Декодированный кватернион - то же вращение с положительной
	// наибольшей компонентой
	if !almostEqual(q.X, -0.1, 1e-3) || !almostEqual(q.Y, -0.2, 1e-3) ||
		!almostEqual(q.Z, -0.1, 1e-3) || !almostEqual(q.W, 0.9695360, 1e-3) {
		t.Errorf("quaternion mismatch: %v", q)
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	frame := &RoomStateFrame{
		NumericIDs: true,
		Bodies: []BodyUpdate{
			{Index: 0, Mask: FieldAll, State: NewBodyState()},
		},
	}
	data, _ := EncodeRoomState(frame)

	for _, cut := range []int{3, 15, len(data) - 5} {
		if _, err := DecodeRoomState(data[:cut]); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("cut=%d: expected ErrInvalidMessage, got %v", cut, err)
		}
	}
}

func TestStructuredRoundTrip(t *testing.T) {
	msg := &CreateRoomMessage{
		Type:   MsgCreateRoom,
		RoomID: "arena",
		InitialBodies: []BodyDescriptor{
			{
				ID:       "ground",
				Shape:    ShapeDescriptor{Type: ShapeBox, Box: &BoxParams{HalfExtents: Vector3{X: 50, Y: 0.5, Z: 50}}},
				Motion:   MotionStatic,
				Position: Vector3{Y: -0.5},
				Rotation: QuaternionIdentity(),
			},
		},
		Gravity: &Vector3{Y: -9.81},
	}

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if data[0] != OpStructured {
		t.Fatalf("expected opcode 0x02, got 0x%02x", data[0])
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	got, ok := decoded.(*CreateRoomMessage)
	if !ok {
		t.Fatalf("expected *CreateRoomMessage, got %T", decoded)
	}
	if got.RoomID != "arena" || len(got.InitialBodies) != 1 {
		t.Errorf("payload mismatch: %+v", got)
	}
	if got.InitialBodies[0].Shape.Type != ShapeBox || got.InitialBodies[0].Shape.Box == nil {
		t.Errorf("shape mismatch: %+v", got.InitialBodies[0].Shape)
	}
	if got.Gravity == nil || got.Gravity.Y != -9.81 {
		t.Errorf("gravity mismatch: %+v", got.Gravity)
	}
}

func TestDecodeJSONFallback(t *testing.T) {
	// Сырой JSON без опкода принимается для старых пиров
	raw := []byte(`{"type":"join_room","roomId":"arena"}`)

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := decoded.(*JoinRoomMessage)
	if !ok {
		t.Fatalf("expected *JoinRoomMessage, got %T", decoded)
	}
	if msg.RoomID != "arena" {
		t.Errorf("expected roomId arena, got %q", msg.RoomID)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown opcode", []byte{0x7f, 0x01}},
		{"garbage json", []byte(`{"type":`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
