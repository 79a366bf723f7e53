// Package physics определяет порт физического движка. Комната работает
// только через этот интерфейс; конкретная реализация (встроенный движок
// в engine/) подключается при создании комнаты.
package physics

import "bodynet/internal/protocol"

// ContactEvent - сырое событие контакта, слитое из мира после шага.
// Point - мировая точка первого контакта; Normal - нормаль в локальном
// пространстве тела A. Оба поля значимы только для начала несенсорного
// контакта.
type ContactEvent struct {
	Started bool
	BodyA   string
	BodyB   string
	SensorA bool
	SensorB bool
	Point   protocol.Vector3
	Normal  protocol.Vector3
	Impulse float32
}

// World - черный ящик жесткотельной симуляции одной комнаты.
// Реализация не обязана быть потокобезопасной: комната сериализует
// все обращения на собственном контексте исполнения.
type World interface {
	// AddBody создает тело с коллайдером по дескриптору
	AddBody(desc protocol.BodyDescriptor) error

	// RemoveBody удаляет тело и его сочленения
	RemoveBody(id string) error

	// AddConstraint связывает два тела сочленением
	AddConstraint(desc protocol.ConstraintDescriptor) error

	// RemoveConstraint удаляет сочленение
	RemoveConstraint(id string) error

	// ApplyImpulse применяет мгновенный импульс к центру масс
	ApplyImpulse(id string, impulse protocol.Vector3) error

	// ApplyForce прикладывает силу до конца текущего шага
	ApplyForce(id string, force protocol.Vector3) error

	// SetLinearVelocity задает линейную скорость напрямую
	SetLinearVelocity(id string, vel protocol.Vector3) error

	// SetPose телепортирует тело; rot == nil сохраняет ориентацию
	SetPose(id string, pos protocol.Vector3, rot *protocol.Quaternion) error

	// BodyState возвращает текущее состояние тела
	BodyState(id string) (protocol.BodyState, bool)

	// IsSleeping сообщает, уснуло ли тело
	IsSleeping(id string) bool

	// BodyIDs возвращает идентификаторы живых тел в порядке создания
	BodyIDs() []string

	// Step продвигает симуляцию ровно на dt секунд
	Step(dt float32)

	// DrainContactEvents забирает события контактов, накопленные с
	// предыдущего вызова
	DrainContactEvents() []ContactEvent

	// SetGravity задает ускорение свободного падения
	SetGravity(g protocol.Vector3)

	// Close освобождает ресурсы мира
	Close()
}
