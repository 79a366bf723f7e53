// Package engine - встроенная реализация порта physics.World: компактный
// жесткотельный мир с полунеявным интегратором, контактами по парам и
// засыпанием тел. Порядок шага повторяет классические движки:
// интеграция, сочленения, контакты, сон.
package engine

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"bodynet/internal/physics"
	"bodynet/internal/protocol"
)

const (
	// Допустимое проникновение и доля позиционной коррекции за шаг
	penetrationSlop = 0.005
	correctionBeta  = 0.8
)

type pairKey struct {
	a, b string
}

func makePairKey(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// World - мир одной комнаты. Не потокобезопасен: все вызовы приходят
// с контекста исполнения комнаты.
type World struct {
	gravity mgl32.Vec3
	bodies  map[string]*body
	order   []string
	joints  map[string]*joint

	// Пары, контакт между которыми отключен сочленением
	noCollide map[pairKey]int

	// Пары, касающиеся на текущий момент
	touching map[pairKey]bool

	events []physics.ContactEvent
}

// NewWorld создает пустой мир с гравитацией по умолчанию
func NewWorld() *World {
	return &World{
		gravity:   mgl32.Vec3{0, -9.81, 0},
		bodies:    make(map[string]*body),
		joints:    make(map[string]*joint),
		noCollide: make(map[pairKey]int),
		touching:  make(map[pairKey]bool),
	}
}

var _ physics.World = (*World)(nil)

func (w *World) SetGravity(g protocol.Vector3) {
	w.gravity = g.Mgl()
}

func (w *World) AddBody(desc protocol.BodyDescriptor) error {
	if _, exists := w.bodies[desc.ID]; exists {
		return fmt.Errorf("body %q already exists", desc.ID)
	}
	if err := validateShape(desc.Shape); err != nil {
		return fmt.Errorf("body %q: %w", desc.ID, err)
	}
	if desc.Shape.Type == protocol.ShapeTrimesh && desc.Motion == protocol.MotionDynamic {
		return fmt.Errorf("body %q: trimesh bodies must be static", desc.ID)
	}

	w.bodies[desc.ID] = newBody(desc)
	w.order = append(w.order, desc.ID)
	return nil
}

func (w *World) RemoveBody(id string) error {
	if _, exists := w.bodies[id]; !exists {
		return fmt.Errorf("body %q not found", id)
	}

	// Сочленения, держащие тело, удаляются вместе с ним
	for jid, j := range w.joints {
		if j.a.id == id || j.b.id == id {
			w.removeJoint(jid)
		}
	}

	delete(w.bodies, id)
	for i, bid := range w.order {
		if bid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	for key := range w.touching {
		if key.a == id || key.b == id {
			delete(w.touching, key)
		}
	}
	return nil
}

func (w *World) AddConstraint(desc protocol.ConstraintDescriptor) error {
	if _, exists := w.joints[desc.ID]; exists {
		return fmt.Errorf("constraint %q already exists", desc.ID)
	}
	a, ok := w.bodies[desc.BodyA]
	if !ok {
		return fmt.Errorf("constraint %q: body %q not found", desc.ID, desc.BodyA)
	}
	b, ok := w.bodies[desc.BodyB]
	if !ok {
		return fmt.Errorf("constraint %q: body %q not found", desc.ID, desc.BodyB)
	}

	j := newJoint(desc, a, b)
	w.joints[desc.ID] = j

	if desc.Collision != nil && !*desc.Collision {
		w.noCollide[makePairKey(a.id, b.id)]++
	}

	a.wake()
	b.wake()
	return nil
}

func (w *World) RemoveConstraint(id string) error {
	if _, exists := w.joints[id]; !exists {
		return fmt.Errorf("constraint %q not found", id)
	}
	w.removeJoint(id)
	return nil
}

func (w *World) removeJoint(id string) {
	j := w.joints[id]
	delete(w.joints, id)

	if j.desc.Collision != nil && !*j.desc.Collision {
		key := makePairKey(j.a.id, j.b.id)
		w.noCollide[key]--
		if w.noCollide[key] <= 0 {
			delete(w.noCollide, key)
		}
	}
}

func (w *World) ApplyImpulse(id string, impulse protocol.Vector3) error {
	b, ok := w.bodies[id]
	if !ok {
		return fmt.Errorf("body %q not found", id)
	}
	if !b.dynamic() {
		return nil
	}
	b.wake()
	b.linVel = b.linVel.Add(impulse.Mgl().Mul(b.invMass))
	return nil
}

func (w *World) ApplyForce(id string, force protocol.Vector3) error {
	b, ok := w.bodies[id]
	if !ok {
		return fmt.Errorf("body %q not found", id)
	}
	if !b.dynamic() {
		return nil
	}
	b.wake()
	b.force = b.force.Add(force.Mgl())
	return nil
}

func (w *World) SetLinearVelocity(id string, vel protocol.Vector3) error {
	b, ok := w.bodies[id]
	if !ok {
		return fmt.Errorf("body %q not found", id)
	}
	b.wake()
	b.linVel = vel.Mgl()
	return nil
}

func (w *World) SetPose(id string, pos protocol.Vector3, rot *protocol.Quaternion) error {
	b, ok := w.bodies[id]
	if !ok {
		return fmt.Errorf("body %q not found", id)
	}
	b.wake()
	b.position = pos.Mgl()
	if rot != nil {
		b.rotation = rot.Mgl().Normalize()
	}
	return nil
}

func (w *World) BodyState(id string) (protocol.BodyState, bool) {
	b, ok := w.bodies[id]
	if !ok {
		return protocol.BodyState{}, false
	}
	return b.state(), true
}

func (w *World) IsSleeping(id string) bool {
	b, ok := w.bodies[id]
	return ok && b.sleeping
}

func (w *World) BodyIDs() []string {
	ids := make([]string, len(w.order))
	copy(ids, w.order)
	return ids
}

// Step продвигает мир на dt: силы сочленений, интеграция, позиционные
// поправки сочленений, контакты, обновление сна
func (w *World) Step(dt float32) {
	for _, j := range w.joints {
		j.applyForces(dt)
	}

	for _, id := range w.order {
		w.bodies[id].integrate(w.gravity, dt)
	}

	for _, j := range w.joints {
		j.solvePosition()
	}

	w.solveContacts()

	for _, id := range w.order {
		w.bodies[id].updateSleep(dt)
	}
}

// solveContacts - полный перебор пар. Комнаты этого сервиса держат
// десятки тел, широкая фаза не окупается.
func (w *World) solveContacts() {
	seen := make(map[pairKey]bool, len(w.touching))

	for i := 0; i < len(w.order); i++ {
		for k := i + 1; k < len(w.order); k++ {
			a := w.bodies[w.order[i]]
			b := w.bodies[w.order[k]]

			if !a.dynamic() && !b.dynamic() && !a.sensor && !b.sensor {
				continue
			}

			key := makePairKey(a.id, b.id)
			if w.noCollide[key] > 0 {
				continue
			}

			c, hit := collide(a.proxy(), b.proxy())
			if !hit {
				w.endContact(key, a, b)
				continue
			}

			seen[key] = true
			sensor := a.sensor || b.sensor
			impulse := float32(0)
			if !sensor {
				impulse = w.resolveContact(a, b, c)
			}

			if !w.touching[key] {
				w.touching[key] = true
				w.beginContact(a, b, c, sensor, impulse)
			}
		}
	}

	// Пары, не проверенные в этом шаге (например, контакт отключен
	// сочленением), закрываются событием конца контакта
	for key := range w.touching {
		if !seen[key] {
			a, okA := w.bodies[key.a]
			b, okB := w.bodies[key.b]
			if okA && okB {
				w.endContact(key, a, b)
			} else {
				delete(w.touching, key)
			}
		}
	}
}

func (w *World) beginContact(a, b *body, c contact, sensor bool, impulse float32) {
	ev := physics.ContactEvent{
		Started: true,
		BodyA:   a.id,
		BodyB:   b.id,
		SensorA: a.sensor,
		SensorB: b.sensor,
	}
	if !sensor {
		ev.Point = protocol.FromMgl(c.point)
		// Нормаль отдается в локальном пространстве тела A
		ev.Normal = protocol.FromMgl(a.rotation.Inverse().Rotate(c.normal))
		ev.Impulse = impulse
	}
	w.events = append(w.events, ev)
}

func (w *World) endContact(key pairKey, a, b *body) {
	if !w.touching[key] {
		return
	}
	delete(w.touching, key)
	w.events = append(w.events, physics.ContactEvent{
		BodyA:   a.id,
		BodyB:   b.id,
		SensorA: a.sensor,
		SensorB: b.sensor,
	})
}

// resolveContact выталкивает тела из проникновения и гасит сближающую
// скорость импульсом с реституцией и кулоновским трением.
// Возвращает модуль нормального импульса.
func (w *World) resolveContact(a, b *body, c contact) float32 {
	invSum := a.invMass + b.invMass
	if invSum == 0 {
		return 0
	}

	// Спящего будит только бодрствующее динамическое тело. Статика и
	// сам решатель сон не сбрасывают: покоящийся контакт гасит скорость
	// до нуля, и updateSleep после шага накапливает время покоя.
	if a.dynamic() && !a.sleeping && b.sleeping {
		b.wake()
	}
	if b.dynamic() && !b.sleeping && a.sleeping {
		a.wake()
	}

	// Позиционная коррекция с зазором
	depth := c.depth - penetrationSlop
	if depth > 0 {
		correction := c.normal.Mul(correctionBeta * depth / invSum)
		if a.dynamic() {
			a.position = a.position.Sub(correction.Mul(a.invMass))
		}
		if b.dynamic() {
			b.position = b.position.Add(correction.Mul(b.invMass))
		}
	}

	relVel := b.linVel.Sub(a.linVel)
	vn := relVel.Dot(c.normal)
	if vn >= 0 {
		return 0
	}

	restitution := a.restitution
	if b.restitution > restitution {
		restitution = b.restitution
	}

	jn := -(1 + restitution) * vn / invSum
	impulse := c.normal.Mul(jn)
	if a.dynamic() {
		a.linVel = a.linVel.Sub(impulse.Mul(a.invMass))
	}
	if b.dynamic() {
		b.linVel = b.linVel.Add(impulse.Mul(b.invMass))
	}

	// Трение: касательный импульс, зажатый конусом Кулона
	relVel = b.linVel.Sub(a.linVel)
	tangent := relVel.Sub(c.normal.Mul(relVel.Dot(c.normal)))
	tLenSq := tangent.Dot(tangent)
	if tLenSq > 1e-10 {
		tangent = tangent.Mul(1 / float32(math.Sqrt(float64(tLenSq))))
		jt := -relVel.Dot(tangent) / invSum
		friction := float32(math.Sqrt(float64(a.friction * b.friction)))
		jt = mgl32.Clamp(jt, -friction*jn, friction*jn)
		ft := tangent.Mul(jt)
		if a.dynamic() {
			a.linVel = a.linVel.Sub(ft.Mul(a.invMass))
		}
		if b.dynamic() {
			b.linVel = b.linVel.Add(ft.Mul(b.invMass))
		}
	}

	return jn
}

func (w *World) DrainContactEvents() []physics.ContactEvent {
	events := w.events
	w.events = nil
	return events
}

func (w *World) Close() {
	w.bodies = make(map[string]*body)
	w.order = nil
	w.joints = make(map[string]*joint)
	w.touching = make(map[pairKey]bool)
	w.noCollide = make(map[pairKey]int)
	w.events = nil
}
