package engine

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"bodynet/internal/protocol"
)

// joint - сочленение двух тел. Пружина работает силой до интеграции,
// дистанция - позиционной поправкой с гашением расходящейся скорости
// импульсом, остальные варианты - позиционными поправками после
// интеграции.
type joint struct {
	desc protocol.ConstraintDescriptor
	a, b *body

	// Относительная ориентация B в пространстве A на момент создания;
	// фиксируется для lock/prismatic
	relRot0 mgl32.Quat
}

func newJoint(desc protocol.ConstraintDescriptor, a, b *body) *joint {
	return &joint{
		desc:    desc,
		a:       a,
		b:       b,
		relRot0: a.rotation.Inverse().Mul(b.rotation),
	}
}

func (j *joint) anchorA() mgl32.Vec3 {
	return j.a.position.Add(j.a.rotation.Rotate(j.desc.PivotA.Mgl()))
}

func (j *joint) anchorB() mgl32.Vec3 {
	return j.b.position.Add(j.b.rotation.Rotate(j.desc.PivotB.Mgl()))
}

// applyForces прикладывает силы пружины до интеграции
func (j *joint) applyForces(dt float32) {
	if j.desc.Type != protocol.ConstraintSpring {
		return
	}

	stiffness := float32(0)
	if j.desc.Stiffness != nil {
		stiffness = *j.desc.Stiffness
	}
	damping := float32(0)
	if j.desc.Damping != nil {
		damping = *j.desc.Damping
	}
	rest := float32(0)
	if j.desc.MaxDistance != nil {
		rest = *j.desc.MaxDistance
	}

	d := j.anchorB().Sub(j.anchorA())
	distSq := d.Dot(d)
	if distSq < 1e-12 {
		return
	}
	dist := float32(math.Sqrt(float64(distSq)))
	dir := d.Mul(1 / dist)

	relVel := j.b.linVel.Sub(j.a.linVel)
	magnitude := stiffness*(dist-rest) + damping*relVel.Dot(dir)
	force := dir.Mul(magnitude)

	if magnitude != 0 {
		if j.a.dynamic() {
			j.a.wake()
			j.a.force = j.a.force.Add(force)
		}
		if j.b.dynamic() {
			j.b.wake()
			j.b.force = j.b.force.Sub(force)
		}
	}
}

// solvePosition восстанавливает геометрические инварианты сочленения
// после интеграции
func (j *joint) solvePosition() {
	switch j.desc.Type {
	case protocol.ConstraintBallAndSocket:
		j.solveAnchors(j.anchorB().Sub(j.anchorA()))

	case protocol.ConstraintDistance:
		j.solveDistance()

	case protocol.ConstraintHinge:
		j.solveAnchors(j.anchorB().Sub(j.anchorA()))
		j.alignAxis()

	case protocol.ConstraintLock:
		j.solveAnchors(j.anchorB().Sub(j.anchorA()))
		j.lockRotation()

	case protocol.ConstraintPrismatic, protocol.ConstraintSlider:
		j.lockRotation()
		j.solvePrismatic()

	case protocol.ConstraintSixDof:
		j.solveSixDof()
	}
}

// solveAnchors сводит якорные точки, распределяя поправку по обратным
// массам
func (j *joint) solveAnchors(delta mgl32.Vec3) {
	invSum := j.a.invMass + j.b.invMass
	if invSum == 0 || delta.Dot(delta) < 1e-12 {
		return
	}

	j.a.wake()
	j.b.wake()
	if j.a.dynamic() {
		j.a.position = j.a.position.Add(delta.Mul(j.a.invMass / invSum))
	}
	if j.b.dynamic() {
		j.b.position = j.b.position.Sub(delta.Mul(j.b.invMass / invSum))
	}
}

// solveDistance - односторонний ограничитель: якоря не расходятся
// дальше maxDistance
func (j *joint) solveDistance() {
	maxDist := float32(0)
	if j.desc.MaxDistance != nil {
		maxDist = *j.desc.MaxDistance
	}

	d := j.anchorB().Sub(j.anchorA())
	distSq := d.Dot(d)
	if distSq <= maxDist*maxDist || distSq < 1e-12 {
		return
	}

	dist := float32(math.Sqrt(float64(distSq)))
	dir := d.Mul(1 / dist)
	j.solveAnchors(dir.Mul(dist - maxDist))

	// Гасим расходящуюся составляющую скорости
	relVel := j.b.linVel.Sub(j.a.linVel)
	vn := relVel.Dot(dir)
	if vn <= 0 {
		return
	}
	invSum := j.a.invMass + j.b.invMass
	if invSum == 0 {
		return
	}
	impulse := dir.Mul(vn / invSum)
	if j.a.dynamic() {
		j.a.linVel = j.a.linVel.Add(impulse.Mul(j.a.invMass))
	}
	if j.b.dynamic() {
		j.b.linVel = j.b.linVel.Sub(impulse.Mul(j.b.invMass))
	}
}

// alignAxis доворачивает B так, чтобы мировая ось B совпала с мировой
// осью A
func (j *joint) alignAxis() {
	if j.desc.AxisA == nil {
		return
	}
	axisA := j.desc.AxisA.Mgl()
	axisB := axisA
	if j.desc.AxisB != nil {
		axisB = j.desc.AxisB.Mgl()
	}

	worldA := j.a.rotation.Rotate(axisA)
	worldB := j.b.rotation.Rotate(axisB)
	if worldA.Sub(worldB).Dot(worldA.Sub(worldB)) < 1e-10 {
		return
	}

	fix := mgl32.QuatBetweenVectors(worldB, worldA)
	if j.b.dynamic() {
		j.b.rotation = fix.Mul(j.b.rotation).Normalize()
		j.b.wake()
	} else if j.a.dynamic() {
		j.a.rotation = fix.Inverse().Mul(j.a.rotation).Normalize()
		j.a.wake()
	}
}

// lockRotation держит относительную ориентацию тел той, что была при
// создании сочленения
func (j *joint) lockRotation() {
	target := j.a.rotation.Mul(j.relRot0)
	if j.b.dynamic() {
		j.b.rotation = target.Normalize()
	} else if j.a.dynamic() {
		j.a.rotation = j.b.rotation.Mul(j.relRot0.Inverse()).Normalize()
	}
}

// solvePrismatic удерживает якорь B на оси скольжения, проходящей
// через якорь A
func (j *joint) solvePrismatic() {
	axis := mgl32.Vec3{0, 1, 0}
	if j.desc.AxisA != nil {
		axis = j.desc.AxisA.Mgl()
	}
	worldAxis := j.a.rotation.Rotate(axis)

	d := j.anchorB().Sub(j.anchorA())
	perp := d.Sub(worldAxis.Mul(d.Dot(worldAxis)))
	j.solveAnchors(perp)
}

// solveSixDof поосно ограничивает обе группы степеней свободы в
// системе тела A: оси 0..2 - линейное смещение якоря B, оси 3..5 -
// компоненты относительного поворота. Отсутствующая ось заблокирована,
// присутствующая с пределами зажимается, без пределов - свободна.
func (j *joint) solveSixDof() {
	j.solveSixDofLinear()
	j.solveSixDofAngular()
}

func (j *joint) solveSixDofLinear() {
	d := j.anchorB().Sub(j.anchorA())
	local := j.a.rotation.Inverse().Rotate(d)

	corrected := local
	for axis := 0; axis < 3; axis++ {
		corrected[axis] = j.clampAxis(uint8(axis), corrected[axis])
	}

	if corrected == local {
		return
	}
	j.solveAnchors(j.a.rotation.Rotate(local.Sub(corrected)))
}

// solveSixDofAngular раскладывает отклонение относительной ориентации
// от начальной в вектор поворота и зажимает его покомпонентно
func (j *joint) solveSixDofAngular() {
	rel := j.a.rotation.Inverse().Mul(j.b.rotation)
	delta := j.relRot0.Inverse().Mul(rel)
	v := rotationVector(delta)

	corrected := v
	for axis := 3; axis < 6; axis++ {
		corrected[axis-3] = j.clampAxis(uint8(axis), corrected[axis-3])
	}

	if corrected == v {
		return
	}

	fixed := quatFromRotationVector(corrected)
	if j.b.dynamic() {
		j.b.rotation = j.a.rotation.Mul(j.relRot0).Mul(fixed).Normalize()
		j.b.wake()
	} else if j.a.dynamic() {
		j.a.rotation = j.b.rotation.Mul(fixed.Inverse()).Mul(j.relRot0.Inverse()).Normalize()
		j.a.wake()
	}
}

// clampAxis применяет правило оси six_dof к одной компоненте
func (j *joint) clampAxis(axis uint8, value float32) float32 {
	limit, present := j.axisLimit(axis)
	switch {
	case !present:
		return 0
	case limit.MinLimit == nil && limit.MaxLimit == nil:
		return value
	default:
		min := float32(math.Inf(-1))
		max := float32(math.Inf(1))
		if limit.MinLimit != nil {
			min = *limit.MinLimit
		}
		if limit.MaxLimit != nil {
			max = *limit.MaxLimit
		}
		return mgl32.Clamp(value, min, max)
	}
}

// rotationVector переводит кватернион в вектор ось*угол (радианы)
func rotationVector(q mgl32.Quat) mgl32.Vec3 {
	if q.W < 0 {
		q = q.Scale(-1)
	}
	w := mgl32.Clamp(q.W, -1, 1)
	s := float32(math.Sqrt(math.Max(0, float64(1-w*w))))
	if s < 1e-6 {
		// Малый угол: sin(θ/2) ≈ θ/2
		return q.V.Mul(2)
	}
	angle := 2 * float32(math.Acos(float64(w)))
	return q.V.Mul(angle / s)
}

// quatFromRotationVector - обратное преобразование
func quatFromRotationVector(v mgl32.Vec3) mgl32.Quat {
	angleSq := v.Dot(v)
	if angleSq < 1e-12 {
		return mgl32.Quat{W: 1, V: v.Mul(0.5)}.Normalize()
	}
	angle := float32(math.Sqrt(float64(angleSq)))
	return mgl32.QuatRotate(angle, v.Mul(1/angle))
}

func (j *joint) axisLimit(axis uint8) (protocol.AxisLimit, bool) {
	for _, l := range j.desc.AxisLimits {
		if l.Axis == axis {
			return l, true
		}
	}
	return protocol.AxisLimit{}, false
}
