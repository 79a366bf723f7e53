// Package room реализует авторитетную комнату: один физический мир,
// множество клиентов, буферы ввода, трекер дельт и цикл симуляции.
// Все мутации состояния комнаты сериализованы на ее мьютексе: тик
// никогда не перемежается с обработкой входящих сообщений.
package room

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"bodynet/internal/physics"
	"bodynet/internal/protocol"
)

var (
	// ErrDuplicateBody - тело с таким id уже есть в комнате
	ErrDuplicateBody = errors.New("duplicate body id")

	// ErrUnknownBody - тела с таким id в комнате нет
	ErrUnknownBody = errors.New("unknown body id")
)

// InputPolicy - политика привязки клиентского ввода к тикам
type InputPolicy int

const (
	// InputPolicyImmediate применяет ввод на ближайшем тике сервера,
	// игнорируя клиентский тик
	InputPolicyImmediate InputPolicy = iota

	// InputPolicyClientTick планирует ввод на клиентский тик с
	// небольшой задержкой, поглощающей сетевой джиттер
	InputPolicyClientTick
)

// clientTickDelay - запас в тиках при политике InputPolicyClientTick
const clientTickDelay = 2

// Sender - исходящий канал одного клиента комнаты. Отправка не должна
// блокировать тик: реализация обязана быть fire-and-forget.
type Sender interface {
	ID() string
	Send(data []byte)
}

// Room - одна комната с авторитетной симуляцией
type Room struct {
	mu sync.Mutex

	id    string
	world physics.World

	clients map[string]Sender
	order   []string

	inputs      map[string]*InputBuffer
	inputPolicy InputPolicy

	tick           uint32
	sinceBroadcast int

	pendingEvents []protocol.CollisionEvent

	initialBodies      []protocol.BodyDescriptor
	initialConstraints []protocol.ConstraintDescriptor
	gravity            *protocol.Vector3

	tracker *StateTracker
	loop    *Loop
	stats   *Stats
	logger  *log.Logger
}

// New создает комнату и наполняет мир начальными телами и сочленениями.
// Начальные списки неизменяемы: по ним комната восстанавливает
// состояние при перезапуске симуляции.
func New(id string, world physics.World, bodies []protocol.BodyDescriptor, constraints []protocol.ConstraintDescriptor, gravity *protocol.Vector3, policy InputPolicy, logger *log.Logger) (*Room, error) {
	if logger == nil {
		logger = log.Default()
	}

	r := &Room{
		id:                 id,
		world:              world,
		clients:            make(map[string]Sender),
		inputs:             make(map[string]*InputBuffer),
		inputPolicy:        policy,
		initialBodies:      bodies,
		initialConstraints: constraints,
		gravity:            gravity,
		tracker:            NewStateTracker(),
		stats:              NewStats(),
		logger:             logger,
	}
	r.loop = NewLoop(r.Tick, logger)

	if err := r.populate(); err != nil {
		return nil, err
	}
	return r, nil
}

// populate строит мир из начальных дескрипторов
func (r *Room) populate() error {
	if r.gravity != nil {
		r.world.SetGravity(*r.gravity)
	}
	for _, desc := range r.initialBodies {
		if err := r.world.AddBody(desc); err != nil {
			return fmt.Errorf("initial body %q: %w", desc.ID, err)
		}
		r.tracker.EnsureIndex(desc.ID)
	}
	for _, desc := range r.initialConstraints {
		if err := r.world.AddConstraint(desc); err != nil {
			return fmt.Errorf("initial constraint %q: %w", desc.ID, err)
		}
	}
	return nil
}

// ID возвращает идентификатор комнаты
func (r *Room) ID() string {
	return r.id
}

// AddClient включает клиента в комнату и возвращает снапшот для
// room_joined
func (r *Room) AddClient(s Sender) (protocol.Snapshot, map[string]uint16, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := s.ID()
	if _, exists := r.clients[id]; !exists {
		r.clients[id] = s
		r.order = append(r.order, id)
		r.inputs[id] = NewInputBuffer()
	}

	snap := r.tracker.Snapshot(r.world, r.tick, nowMs())
	r.logger.Printf("[Room %s] Клиент %s вошел (всего %d)", r.id, id, len(r.clients))
	return snap, r.tracker.IDMap(), r.loop.Running()
}

// RemoveClient убирает клиента; когда уходит последний, цикл симуляции
// останавливается
func (r *Room) RemoveClient(clientID string) int {
	r.mu.Lock()

	if _, exists := r.clients[clientID]; exists {
		delete(r.clients, clientID)
		delete(r.inputs, clientID)
		for i, id := range r.order {
			if id == clientID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.logger.Printf("[Room %s] Клиент %s вышел (осталось %d)", r.id, clientID, len(r.clients))
	}
	remaining := len(r.clients)
	r.mu.Unlock()

	if remaining == 0 {
		r.loop.Stop()
		r.logger.Printf("[Room %s] Последний клиент ушел, симуляция остановлена", r.id)
	}
	return remaining
}

// ClientCount возвращает число подключенных клиентов
func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// BufferInput ставит пакет ввода клиента в буфер согласно политике
// привязки к тикам
func (r *Room) BufferInput(clientID string, batch protocol.InputBatch) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.inputs[clientID]
	if !ok {
		return
	}

	target := r.tick
	if r.inputPolicy == InputPolicyClientTick {
		scheduled := batch.Tick + clientTickDelay
		if scheduled <= r.tick {
			scheduled = r.tick
		}
		target = scheduled
	}
	buf.Add(target, batch)
}

// Tick выполняет один шаг комнаты: ввод, физика, события, рассылка
func (r *Room) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()

	// 1. Ввод, нацеленный на текущий тик
	for _, clientID := range r.order {
		buf := r.inputs[clientID]
		if buf == nil {
			continue
		}
		for _, batch := range buf.Take(r.tick) {
			for _, action := range batch.Actions {
				r.applyAction(action)
			}
		}
	}

	// 2. Шаг физики
	r.world.Step(protocol.TickSeconds)

	// 3. События контактов
	for _, ev := range r.world.DrainContactEvents() {
		r.pendingEvents = append(r.pendingEvents, classifyContact(ev))
	}

	// 4. Счетчики
	r.tick++
	r.sinceBroadcast++

	// 5. Рассылка по расписанию
	if r.sinceBroadcast >= protocol.BroadcastInterval {
		r.broadcastState()
		r.sinceBroadcast = 0
	}

	r.stats.recordTick(time.Since(started))
	r.stats.maybeLog(r.logger, r.id, r.tick, len(r.clients))
}

// applyAction применяет одно действие клиента к миру
func (r *Room) applyAction(action protocol.InputAction) {
	var err error
	switch action.Kind {
	case protocol.ActionApplyImpulse:
		err = r.world.ApplyImpulse(action.BodyID, action.Vector)
	case protocol.ActionApplyForce:
		err = r.world.ApplyForce(action.BodyID, action.Vector)
	case protocol.ActionSetLinearVelocity:
		err = r.world.SetLinearVelocity(action.BodyID, action.Vector)
	case protocol.ActionSetPose:
		err = r.world.SetPose(action.BodyID, action.Vector, action.Rotation)
	default:
		r.logger.Printf("[Room %s] Неизвестное действие %q для тела %s", r.id, action.Kind, action.BodyID)
		return
	}
	if err != nil {
		r.logger.Printf("[Room %s] Действие %s над телом %s: %v", r.id, action.Kind, action.BodyID, err)
	}
}

// classifyContact переводит сырое событие мира в протокольное
func classifyContact(ev physics.ContactEvent) protocol.CollisionEvent {
	sensor := ev.SensorA || ev.SensorB

	out := protocol.CollisionEvent{BodyA: ev.BodyA, BodyB: ev.BodyB}
	switch {
	case ev.Started && sensor:
		out.Type = protocol.TriggerEntered
	case ev.Started:
		out.Type = protocol.CollisionStarted
		point := ev.Point
		normal := ev.Normal
		out.Point = &point
		out.Normal = &normal
		out.Impulse = ev.Impulse
	case sensor:
		out.Type = protocol.TriggerExited
	default:
		out.Type = protocol.CollisionFinished
	}
	return out
}

// broadcastState шлет дельта-кадр и накопленные события столкновений.
// Пустая дельта кадр не порождает; события уходят отдельным сообщением.
func (r *Room) broadcastState() {
	frame := r.tracker.Delta(r.world, r.tick, nowMs())
	if len(frame.Bodies) > 0 {
		r.broadcastLocked(frame)
	}

	if len(r.pendingEvents) > 0 {
		r.broadcastLocked(&protocol.CollisionEventsMessage{
			Type:   protocol.MsgCollisionEvents,
			Tick:   r.tick,
			Events: r.pendingEvents,
		})
		r.pendingEvents = nil
	}
}

// Broadcast кодирует сообщение один раз и рассылает всем клиентам
func (r *Room) Broadcast(msg interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msg)
}

func (r *Room) broadcastLocked(msg interface{}) {
	data, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Printf("[Room %s] Ошибка кодирования рассылки: %v", r.id, err)
		return
	}

	for _, clientID := range r.order {
		r.clients[clientID].Send(data)
	}
	r.stats.recordBroadcast(len(data) * len(r.order))
}

// RelayBodyEvent ретранслирует событие тела всем, кроме отправителя
func (r *Room) RelayBodyEvent(fromClientID string, msg *protocol.BodyEventMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Printf("[Room %s] Ошибка кодирования body_event: %v", r.id, err)
		return
	}
	for _, clientID := range r.order {
		if clientID == fromClientID {
			continue
		}
		r.clients[clientID].Send(data)
	}
}

// AddBody добавляет тело в мир и рассылает add_body с назначенным
// индексом
func (r *Room) AddBody(desc protocol.BodyDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.world.BodyState(desc.ID); exists {
		return fmt.Errorf("%w: %q", ErrDuplicateBody, desc.ID)
	}
	if err := r.world.AddBody(desc); err != nil {
		return err
	}
	index := r.tracker.EnsureIndex(desc.ID)

	r.broadcastLocked(&protocol.AddBodyMessage{
		Type:      protocol.MsgAddBody,
		Body:      desc,
		BodyIndex: &index,
	})
	return nil
}

// RemoveBody удаляет тело и рассылает remove_body. Числовой индекс
// тела остается занятым навсегда.
func (r *Room) RemoveBody(bodyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.world.RemoveBody(bodyID); err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownBody, bodyID)
	}
	r.tracker.Forget(bodyID)

	r.broadcastLocked(&protocol.RemoveBodyMessage{
		Type:   protocol.MsgRemoveBody,
		BodyID: bodyID,
	})
	return nil
}

// AddConstraint добавляет сочленение в мир
func (r *Room) AddConstraint(desc protocol.ConstraintDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.world.AddConstraint(desc)
}

// StartSimulation перезапускает симуляцию: мир восстанавливается из
// начальных дескрипторов, буферы ввода и трекер сбрасываются, цикл
// стартует заново. Всем клиентам уходит simulation_started со свежим
// снапшотом.
func (r *Room) StartSimulation() error {
	r.loop.Stop()

	r.mu.Lock()

	for _, id := range r.world.BodyIDs() {
		if err := r.world.RemoveBody(id); err != nil {
			r.logger.Printf("[Room %s] Сброс: удаление тела %s: %v", r.id, id, err)
		}
	}
	if err := r.populate(); err != nil {
		r.mu.Unlock()
		return err
	}

	for _, buf := range r.inputs {
		buf.Clear()
	}
	r.tracker.Reset()
	r.tick = 0
	r.sinceBroadcast = 0
	r.pendingEvents = nil

	snap := r.tracker.Snapshot(r.world, r.tick, nowMs())
	r.broadcastLocked(&protocol.SimulationStartedMessage{
		Type:      protocol.MsgSimulationStarted,
		Snapshot:  snap,
		BodyIDMap: r.tracker.IDMap(),
	})
	r.mu.Unlock()

	r.loop.Start()
	r.logger.Printf("[Room %s] Симуляция перезапущена", r.id)
	return nil
}

// Snapshot возвращает полный снимок комнаты
func (r *Room) Snapshot() protocol.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.Snapshot(r.world, r.tick, nowMs())
}

// Running сообщает, идет ли симуляция
func (r *Room) Running() bool {
	return r.loop.Running()
}

// Stop останавливает цикл и освобождает мир
func (r *Room) Stop() {
	r.loop.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.world.Close()
	r.logger.Printf("[Room %s] Комната остановлена", r.id)
}

// CurrentTick возвращает номер текущего тика
func (r *Room) CurrentTick() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tick
}

func nowMs() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}
