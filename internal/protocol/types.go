package protocol

import "github.com/go-gl/mathgl/mgl32"

// Vector3 - тройка 32-битных вещественных чисел
type Vector3 struct {
	X float32 `json:"x" msgpack:"x"`
	Y float32 `json:"y" msgpack:"y"`
	Z float32 `json:"z" msgpack:"z"`
}

// Quaternion - кватернион ориентации. На проводе предполагается
// единичная норма.
type Quaternion struct {
	X float32 `json:"x" msgpack:"x"`
	Y float32 `json:"y" msgpack:"y"`
	Z float32 `json:"z" msgpack:"z"`
	W float32 `json:"w" msgpack:"w"`
}

// QuaternionIdentity возвращает тождественное вращение
func QuaternionIdentity() Quaternion {
	return Quaternion{X: 0, Y: 0, Z: 0, W: 1}
}

// Mgl конвертирует в вектор mathgl
func (v Vector3) Mgl() mgl32.Vec3 {
	return mgl32.Vec3{v.X, v.Y, v.Z}
}

// FromMgl создает Vector3 из вектора mathgl
func FromMgl(v mgl32.Vec3) Vector3 {
	return Vector3{X: v.X(), Y: v.Y(), Z: v.Z()}
}

// Mgl конвертирует в кватернион mathgl
func (q Quaternion) Mgl() mgl32.Quat {
	return mgl32.Quat{W: q.W, V: mgl32.Vec3{q.X, q.Y, q.Z}}
}

// FromMglQuat создает Quaternion из кватерниона mathgl
func FromMglQuat(q mgl32.Quat) Quaternion {
	return Quaternion{X: q.V.X(), Y: q.V.Y(), Z: q.V.Z(), W: q.W}
}

// BodyState - мгновенное состояние тела, как его видит физический мир
type BodyState struct {
	Position        Vector3    `json:"position" msgpack:"position"`
	Rotation        Quaternion `json:"rotation" msgpack:"rotation"`
	LinearVelocity  Vector3    `json:"linearVelocity" msgpack:"linearVelocity"`
	AngularVelocity Vector3    `json:"angularVelocity" msgpack:"angularVelocity"`
}

// NewBodyState возвращает состояние с тождественной ориентацией
func NewBodyState() BodyState {
	return BodyState{Rotation: QuaternionIdentity()}
}

// MotionType - тип движения тела
type MotionType string

const (
	MotionDynamic           MotionType = "dynamic"
	MotionStatic            MotionType = "static"
	MotionKinematicPosition MotionType = "kinematic_position"
)

// ShapeType - тип геометрии коллайдера
type ShapeType string

const (
	ShapeBox     ShapeType = "box"
	ShapeSphere  ShapeType = "sphere"
	ShapeCapsule ShapeType = "capsule"
	ShapeTrimesh ShapeType = "trimesh"
)

// ShapeDescriptor - закрытое объединение четырех вариантов геометрии.
// Заполнено ровно одно из полей, соответствующее Type.
type ShapeDescriptor struct {
	Type    ShapeType      `json:"type" msgpack:"type"`
	Box     *BoxParams     `json:"box,omitempty" msgpack:"box,omitempty"`
	Sphere  *SphereParams  `json:"sphere,omitempty" msgpack:"sphere,omitempty"`
	Capsule *CapsuleParams `json:"capsule,omitempty" msgpack:"capsule,omitempty"`
	Trimesh *TrimeshParams `json:"trimesh,omitempty" msgpack:"trimesh,omitempty"`
}

// BoxParams - полуразмеры ящика по осям
type BoxParams struct {
	HalfExtents Vector3 `json:"halfExtents" msgpack:"halfExtents"`
}

// SphereParams - радиус сферы
type SphereParams struct {
	Radius float32 `json:"radius" msgpack:"radius"`
}

// CapsuleParams - капсула вдоль локальной оси Y
type CapsuleParams struct {
	Radius     float32 `json:"radius" msgpack:"radius"`
	HalfHeight float32 `json:"halfHeight" msgpack:"halfHeight"`
}

// TrimeshParams - треугольная сетка. Геометрия передается только в
// BodyDescriptor при add_body и никогда в кадрах состояния.
type TrimeshParams struct {
	Vertices []float32 `json:"vertices" msgpack:"vertices"`
	Indices  []uint32  `json:"indices" msgpack:"indices"`
}

// BodyDescriptor - полное описание тела при создании
type BodyDescriptor struct {
	ID           string          `json:"id" msgpack:"id"`
	Shape        ShapeDescriptor `json:"shape" msgpack:"shape"`
	Motion       MotionType      `json:"motion" msgpack:"motion"`
	Position     Vector3         `json:"position" msgpack:"position"`
	Rotation     Quaternion      `json:"rotation" msgpack:"rotation"`
	Mass         float32         `json:"mass" msgpack:"mass"`
	CenterOfMass *Vector3        `json:"centerOfMass,omitempty" msgpack:"centerOfMass,omitempty"`
	Restitution  float32         `json:"restitution" msgpack:"restitution"`
	Friction     float32         `json:"friction" msgpack:"friction"`
	IsTrigger    bool            `json:"isTrigger" msgpack:"isTrigger"`
}

// ConstraintType - вариант сочленения
type ConstraintType string

const (
	ConstraintBallAndSocket ConstraintType = "ball_and_socket"
	ConstraintHinge         ConstraintType = "hinge"
	ConstraintDistance      ConstraintType = "distance"
	ConstraintPrismatic     ConstraintType = "prismatic"
	ConstraintSlider        ConstraintType = "slider"
	ConstraintLock          ConstraintType = "lock"
	ConstraintSpring        ConstraintType = "spring"
	ConstraintSixDof        ConstraintType = "six_dof"
)

// AxisLimit - ограничение одной из шести осей для six_dof.
// Отсутствующая в списке ось заблокирована; присутствующая без
// пределов свободна.
type AxisLimit struct {
	Axis     uint8    `json:"axis" msgpack:"axis"`
	MinLimit *float32 `json:"minLimit,omitempty" msgpack:"minLimit,omitempty"`
	MaxLimit *float32 `json:"maxLimit,omitempty" msgpack:"maxLimit,omitempty"`
}

// ConstraintDescriptor - описание сочленения двух тел
type ConstraintDescriptor struct {
	ID          string         `json:"id" msgpack:"id"`
	Type        ConstraintType `json:"type" msgpack:"type"`
	BodyA       string         `json:"bodyA" msgpack:"bodyA"`
	BodyB       string         `json:"bodyB" msgpack:"bodyB"`
	PivotA      Vector3        `json:"pivotA" msgpack:"pivotA"`
	PivotB      Vector3        `json:"pivotB" msgpack:"pivotB"`
	AxisA       *Vector3       `json:"axisA,omitempty" msgpack:"axisA,omitempty"`
	AxisB       *Vector3       `json:"axisB,omitempty" msgpack:"axisB,omitempty"`
	PerpAxisA   *Vector3       `json:"perpAxisA,omitempty" msgpack:"perpAxisA,omitempty"`
	PerpAxisB   *Vector3       `json:"perpAxisB,omitempty" msgpack:"perpAxisB,omitempty"`
	MaxDistance *float32       `json:"maxDistance,omitempty" msgpack:"maxDistance,omitempty"`
	Stiffness   *float32       `json:"stiffness,omitempty" msgpack:"stiffness,omitempty"`
	Damping     *float32       `json:"damping,omitempty" msgpack:"damping,omitempty"`
	AxisLimits  []AxisLimit    `json:"axisLimits,omitempty" msgpack:"axisLimits,omitempty"`
	Collision   *bool          `json:"collision,omitempty" msgpack:"collision,omitempty"`
}

// ActionKind - вид действия над телом
type ActionKind string

const (
	ActionApplyImpulse      ActionKind = "apply_impulse"
	ActionApplyForce        ActionKind = "apply_force"
	ActionSetLinearVelocity ActionKind = "set_linear_velocity"
	ActionSetPose           ActionKind = "set_pose"
)

// InputAction - одно действие клиента над телом
type InputAction struct {
	Kind     ActionKind  `json:"kind" msgpack:"kind"`
	BodyID   string      `json:"bodyId" msgpack:"bodyId"`
	Vector   Vector3     `json:"vector" msgpack:"vector"`
	Rotation *Quaternion `json:"rotation,omitempty" msgpack:"rotation,omitempty"`
}

// InputBatch - пакет действий, привязанный к тику
type InputBatch struct {
	Tick            uint32        `json:"tick" msgpack:"tick"`
	Seq             uint32        `json:"seq" msgpack:"seq"`
	Actions         []InputAction `json:"actions" msgpack:"actions"`
	ClientTimestamp float64       `json:"clientTimestamp" msgpack:"clientTimestamp"`
}

// Виды событий столкновений
const (
	CollisionStarted  = "COLLISION_STARTED"
	CollisionFinished = "COLLISION_FINISHED"
	TriggerEntered    = "TRIGGER_ENTERED"
	TriggerExited     = "TRIGGER_EXITED"
)

// CollisionEvent - событие контакта, собранное на тике.
// Point/Normal/Impulse заполнены только для начала несенсорного контакта;
// нормаль дана в локальном пространстве тела A.
type CollisionEvent struct {
	Type    string   `json:"type" msgpack:"type"`
	BodyA   string   `json:"bodyA" msgpack:"bodyA"`
	BodyB   string   `json:"bodyB" msgpack:"bodyB"`
	Point   *Vector3 `json:"point,omitempty" msgpack:"point,omitempty"`
	Normal  *Vector3 `json:"normal,omitempty" msgpack:"normal,omitempty"`
	Impulse float32  `json:"impulse" msgpack:"impulse"`
}

// BodySnapshot - тело в полном снапшоте комнаты
type BodySnapshot struct {
	ID    string    `json:"id" msgpack:"id"`
	Index uint16    `json:"index" msgpack:"index"`
	State BodyState `json:"state" msgpack:"state"`
}

// Snapshot - полное состояние комнаты на момент тика
type Snapshot struct {
	Tick      uint32         `json:"tick" msgpack:"tick"`
	Timestamp float64        `json:"timestamp" msgpack:"timestamp"`
	Bodies    []BodySnapshot `json:"bodies" msgpack:"bodies"`
}

// Биты маски полей в кадре состояния
const (
	FieldPosition        uint8 = 1 << 0
	FieldRotation        uint8 = 1 << 1
	FieldLinearVelocity  uint8 = 1 << 2
	FieldAngularVelocity uint8 = 1 << 3
	FieldAll             uint8 = FieldPosition | FieldRotation | FieldLinearVelocity | FieldAngularVelocity
)

// BodyUpdate - одно тело внутри кадра room_state
type BodyUpdate struct {
	ID    string
	Index uint16
	Mask  uint8
	State BodyState
}

// RoomStateFrame - кадр состояния комнаты. Кодируется бинарным кодеком,
// а не msgpack: см. codec.go.
type RoomStateFrame struct {
	Tick       uint32
	Timestamp  float64
	IsDelta    bool
	NumericIDs bool
	Bodies     []BodyUpdate
}
