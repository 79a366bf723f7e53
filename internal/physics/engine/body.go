package engine

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"bodynet/internal/protocol"
)

// Пороги засыпания. Значения соответствуют классическим настройкам
// box2d: тело спит после полусекунды почти нулевых скоростей.
const (
	linearSleepTolerance  = 0.01
	angularSleepTolerance = 2.0 / 180.0 * 3.14159265
	timeToSleep           = 0.5
)

type body struct {
	id     string
	shape  protocol.ShapeDescriptor
	motion protocol.MotionType

	position mgl32.Vec3
	rotation mgl32.Quat
	linVel   mgl32.Vec3
	angVel   mgl32.Vec3

	// Аккумулятор сил, сбрасывается после каждого шага
	force mgl32.Vec3

	mass        float32
	invMass     float32
	restitution float32
	friction    float32
	comOffset   mgl32.Vec3

	sensor    bool
	sleeping  bool
	sleepTime float32

	// Полуразмеры AABB-прокси для trimesh, в локальном пространстве тела
	trimeshHalf   mgl32.Vec3
	trimeshCenter mgl32.Vec3
}

// validateShape отбрасывает дескрипторы с пустым вариантом: геометрия
// приходит с провода и не может считаться корректной заранее
func validateShape(shape protocol.ShapeDescriptor) error {
	switch shape.Type {
	case protocol.ShapeBox:
		if shape.Box == nil {
			return fmt.Errorf("box shape without parameters")
		}
	case protocol.ShapeSphere:
		if shape.Sphere == nil {
			return fmt.Errorf("sphere shape without parameters")
		}
	case protocol.ShapeCapsule:
		if shape.Capsule == nil {
			return fmt.Errorf("capsule shape without parameters")
		}
	case protocol.ShapeTrimesh:
		if shape.Trimesh == nil {
			return fmt.Errorf("trimesh shape without parameters")
		}
	default:
		return fmt.Errorf("unknown shape type %q", shape.Type)
	}
	return nil
}

func newBody(desc protocol.BodyDescriptor) *body {
	b := &body{
		id:          desc.ID,
		shape:       desc.Shape,
		motion:      desc.Motion,
		position:    desc.Position.Mgl(),
		rotation:    desc.Rotation.Mgl().Normalize(),
		mass:        desc.Mass,
		restitution: desc.Restitution,
		friction:    desc.Friction,
		sensor:      desc.IsTrigger,
	}

	if b.motion == protocol.MotionDynamic && b.mass > 0 {
		b.invMass = 1 / b.mass
	}
	if desc.CenterOfMass != nil {
		b.comOffset = desc.CenterOfMass.Mgl()
	}
	if desc.Shape.Type == protocol.ShapeTrimesh && desc.Shape.Trimesh != nil {
		b.trimeshCenter, b.trimeshHalf = trimeshBounds(desc.Shape.Trimesh)
	}

	return b
}

// trimeshBounds считает локальный AABB сетки. Движок сталкивает
// trimesh как коробку-прокси по этому AABB.
func trimeshBounds(mesh *protocol.TrimeshParams) (center, half mgl32.Vec3) {
	if len(mesh.Vertices) < 3 {
		return mgl32.Vec3{}, mgl32.Vec3{}
	}

	min := mgl32.Vec3{mesh.Vertices[0], mesh.Vertices[1], mesh.Vertices[2]}
	max := min
	for i := 3; i+2 < len(mesh.Vertices); i += 3 {
		v := mgl32.Vec3{mesh.Vertices[i], mesh.Vertices[i+1], mesh.Vertices[i+2]}
		for axis := 0; axis < 3; axis++ {
			if v[axis] < min[axis] {
				min[axis] = v[axis]
			}
			if v[axis] > max[axis] {
				max[axis] = v[axis]
			}
		}
	}

	center = min.Add(max).Mul(0.5)
	half = max.Sub(min).Mul(0.5)
	return center, half
}

func (b *body) dynamic() bool {
	return b.motion == protocol.MotionDynamic
}

func (b *body) wake() {
	b.sleeping = false
	b.sleepTime = 0
}

// updateSleep накапливает время покоя и усыпляет тело, когда обе
// скорости держатся ниже порогов дольше timeToSleep
func (b *body) updateSleep(dt float32) {
	if !b.dynamic() || b.sleeping {
		return
	}

	linSq := b.linVel.Dot(b.linVel)
	angSq := b.angVel.Dot(b.angVel)
	if linSq > linearSleepTolerance*linearSleepTolerance ||
		angSq > angularSleepTolerance*angularSleepTolerance {
		b.sleepTime = 0
		return
	}

	b.sleepTime += dt
	if b.sleepTime >= timeToSleep {
		b.sleeping = true
		b.linVel = mgl32.Vec3{}
		b.angVel = mgl32.Vec3{}
	}
}

func (b *body) state() protocol.BodyState {
	return protocol.BodyState{
		Position:        protocol.FromMgl(b.position),
		Rotation:        protocol.FromMglQuat(b.rotation),
		LinearVelocity:  protocol.FromMgl(b.linVel),
		AngularVelocity: protocol.FromMgl(b.angVel),
	}
}

// integrate продвигает тело полунеявным Эйлером: скорость обновляется
// до позиции, ориентация интегрируется кватернионной производной
func (b *body) integrate(gravity mgl32.Vec3, dt float32) {
	if !b.dynamic() || b.sleeping {
		// Кинематическое тело двигается только через SetPose, но
		// сохраняет заданную скорость для наблюдателей
		b.force = mgl32.Vec3{}
		return
	}

	accel := gravity.Add(b.force.Mul(b.invMass))
	b.linVel = b.linVel.Add(accel.Mul(dt))
	b.position = b.position.Add(b.linVel.Mul(dt))

	if b.angVel.Dot(b.angVel) > 0 {
		omega := mgl32.Quat{W: 0, V: b.angVel}
		dq := omega.Mul(b.rotation).Scale(0.5 * dt)
		b.rotation = b.rotation.Add(dq).Normalize()
	}

	b.force = mgl32.Vec3{}
}
