package engine

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"bodynet/internal/protocol"
)

// contact - результат узкой фазы: нормаль направлена от A к B
type contact struct {
	normal mgl32.Vec3
	depth  float32
	point  mgl32.Vec3
}

// proxy - каноническое представление коллайдера для узкой фазы
type proxy struct {
	kind protocol.ShapeType
	// sphere/box/capsule
	center mgl32.Vec3
	rot    mgl32.Quat
	half   mgl32.Vec3 // box
	radius float32    // sphere/capsule
	p0, p1 mgl32.Vec3 // отрезок капсулы в мировых координатах
}

func (b *body) proxy() proxy {
	p := proxy{center: b.position, rot: b.rotation}

	switch b.shape.Type {
	case protocol.ShapeSphere:
		p.kind = protocol.ShapeSphere
		p.radius = b.shape.Sphere.Radius

	case protocol.ShapeBox:
		p.kind = protocol.ShapeBox
		p.half = b.shape.Box.HalfExtents.Mgl()

	case protocol.ShapeCapsule:
		p.kind = protocol.ShapeCapsule
		p.radius = b.shape.Capsule.Radius
		axis := b.rotation.Rotate(mgl32.Vec3{0, 1, 0}).Mul(b.shape.Capsule.HalfHeight)
		p.p0 = b.position.Sub(axis)
		p.p1 = b.position.Add(axis)

	case protocol.ShapeTrimesh:
		// Сетка сталкивается как коробка по своему AABB
		p.kind = protocol.ShapeBox
		p.center = b.position.Add(b.rotation.Rotate(b.trimeshCenter))
		p.half = b.trimeshHalf
	}

	return p
}

// collide выполняет узкую фазу для пары прокси. Возвращает контакт с
// нормалью от a к b, либо false.
func collide(a, b proxy) (contact, bool) {
	switch {
	case a.kind == protocol.ShapeSphere && b.kind == protocol.ShapeSphere:
		return sphereSphere(a.center, a.radius, b.center, b.radius)

	case a.kind == protocol.ShapeSphere && b.kind == protocol.ShapeBox:
		c, ok := sphereBox(a.center, a.radius, b)
		return c, ok

	case a.kind == protocol.ShapeBox && b.kind == protocol.ShapeSphere:
		c, ok := sphereBox(b.center, b.radius, a)
		c.normal = c.normal.Mul(-1)
		return c, ok

	case a.kind == protocol.ShapeBox && b.kind == protocol.ShapeBox:
		return boxBox(a, b)

	case a.kind == protocol.ShapeCapsule && b.kind == protocol.ShapeSphere:
		p := closestOnSegment(a.p0, a.p1, b.center)
		return sphereSphere(p, a.radius, b.center, b.radius)

	case a.kind == protocol.ShapeSphere && b.kind == protocol.ShapeCapsule:
		p := closestOnSegment(b.p0, b.p1, a.center)
		return sphereSphere(a.center, a.radius, p, b.radius)

	case a.kind == protocol.ShapeCapsule && b.kind == protocol.ShapeBox:
		p := closestOnSegment(a.p0, a.p1, b.center)
		return sphereBox(p, a.radius, b)

	case a.kind == protocol.ShapeBox && b.kind == protocol.ShapeCapsule:
		p := closestOnSegment(b.p0, b.p1, a.center)
		c, ok := sphereBox(p, b.radius, a)
		c.normal = c.normal.Mul(-1)
		return c, ok

	case a.kind == protocol.ShapeCapsule && b.kind == protocol.ShapeCapsule:
		pa, pb := closestSegmentSegment(a.p0, a.p1, b.p0, b.p1)
		return sphereSphere(pa, a.radius, pb, b.radius)
	}

	return contact{}, false
}

func sphereSphere(ca mgl32.Vec3, ra float32, cb mgl32.Vec3, rb float32) (contact, bool) {
	d := cb.Sub(ca)
	distSq := d.Dot(d)
	sum := ra + rb
	if distSq >= sum*sum {
		return contact{}, false
	}

	dist := float32(math.Sqrt(float64(distSq)))
	n := mgl32.Vec3{0, 1, 0}
	if dist > 1e-6 {
		n = d.Mul(1 / dist)
	}

	return contact{
		normal: n,
		depth:  sum - dist,
		point:  ca.Add(n.Mul(ra)),
	}, true
}

// sphereBox тестирует сферу против ориентированной коробки: центр сферы
// переводится в локальное пространство коробки и зажимается в полуразмеры
func sphereBox(center mgl32.Vec3, radius float32, box proxy) (contact, bool) {
	inv := box.rot.Inverse()
	local := inv.Rotate(center.Sub(box.center))

	clamped := local
	for axis := 0; axis < 3; axis++ {
		clamped[axis] = mgl32.Clamp(clamped[axis], -box.half[axis], box.half[axis])
	}

	d := local.Sub(clamped)
	distSq := d.Dot(d)

	if distSq > 1e-12 {
		// Центр снаружи коробки
		if distSq >= radius*radius {
			return contact{}, false
		}
		dist := float32(math.Sqrt(float64(distSq)))
		nLocal := d.Mul(1 / dist)
		point := box.center.Add(box.rot.Rotate(clamped))
		return contact{
			normal: box.rot.Rotate(nLocal).Mul(-1),
			depth:  radius - dist,
			point:  point,
		}, true
	}

	// Центр внутри коробки: выталкиваем по ближайшей грани
	minDepth := float32(math.MaxFloat32)
	nLocal := mgl32.Vec3{0, 1, 0}
	for axis := 0; axis < 3; axis++ {
		for _, sign := range []float32{-1, 1} {
			depth := box.half[axis] - sign*local[axis]
			if depth < minDepth {
				minDepth = depth
				nLocal = mgl32.Vec3{}
				nLocal[axis] = sign
			}
		}
	}

	return contact{
		normal: box.rot.Rotate(nLocal).Mul(-1),
		depth:  minDepth + radius,
		point:  center,
	}, true
}

// boxBox - SAT по шести осям граней. Оси ребро-ребро не проверяются:
// для глубоких реберных контактов движок дает приближенный ответ.
func boxBox(a, b proxy) (contact, bool) {
	axes := make([]mgl32.Vec3, 0, 6)
	for axis := 0; axis < 3; axis++ {
		var e mgl32.Vec3
		e[axis] = 1
		axes = append(axes, a.rot.Rotate(e), b.rot.Rotate(e))
	}

	d := b.center.Sub(a.center)
	minOverlap := float32(math.MaxFloat32)
	var minAxis mgl32.Vec3

	for _, axis := range axes {
		ra := projectBox(a, axis)
		rb := projectBox(b, axis)
		dist := d.Dot(axis)
		overlap := ra + rb - abs(dist)
		if overlap <= 0 {
			return contact{}, false
		}
		if overlap < minOverlap {
			minOverlap = overlap
			if dist < 0 {
				minAxis = axis.Mul(-1)
			} else {
				minAxis = axis
			}
		}
	}

	// Точка контакта: опорная точка B против нормали, зажатая в A
	support := b.center.Sub(minAxis.Mul(projectBox(b, minAxis)))
	point := clampToBox(support, a)

	return contact{normal: minAxis, depth: minOverlap, point: point}, true
}

// projectBox - радиус проекции ориентированной коробки на ось
func projectBox(box proxy, axis mgl32.Vec3) float32 {
	r := float32(0)
	for i := 0; i < 3; i++ {
		var e mgl32.Vec3
		e[i] = 1
		r += abs(box.rot.Rotate(e).Dot(axis)) * box.half[i]
	}
	return r
}

func clampToBox(p mgl32.Vec3, box proxy) mgl32.Vec3 {
	local := box.rot.Inverse().Rotate(p.Sub(box.center))
	for axis := 0; axis < 3; axis++ {
		local[axis] = mgl32.Clamp(local[axis], -box.half[axis], box.half[axis])
	}
	return box.center.Add(box.rot.Rotate(local))
}

func closestOnSegment(p0, p1, q mgl32.Vec3) mgl32.Vec3 {
	d := p1.Sub(p0)
	lenSq := d.Dot(d)
	if lenSq < 1e-12 {
		return p0
	}
	t := mgl32.Clamp(q.Sub(p0).Dot(d)/lenSq, 0, 1)
	return p0.Add(d.Mul(t))
}

// closestSegmentSegment - ближайшие точки двух отрезков (Ericson,
// Real-Time Collision Detection, упрощенный вариант)
func closestSegmentSegment(p0, p1, q0, q1 mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	d1 := p1.Sub(p0)
	d2 := q1.Sub(q0)
	r := p0.Sub(q0)

	a := d1.Dot(d1)
	e := d2.Dot(d2)
	f := d2.Dot(r)

	var s, t float32
	if a <= 1e-12 && e <= 1e-12 {
		return p0, q0
	}
	if a <= 1e-12 {
		s = 0
		t = mgl32.Clamp(f/e, 0, 1)
	} else {
		c := d1.Dot(r)
		if e <= 1e-12 {
			t = 0
			s = mgl32.Clamp(-c/a, 0, 1)
		} else {
			b := d1.Dot(d2)
			denom := a*e - b*b
			if denom > 1e-12 {
				s = mgl32.Clamp((b*f-c*e)/denom, 0, 1)
			}
			t = mgl32.Clamp((b*s+f)/e, 0, 1)
			s = mgl32.Clamp((b*t-c)/a, 0, 1)
		}
	}

	return p0.Add(d1.Mul(s)), q0.Add(d2.Mul(t))
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
