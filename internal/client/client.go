// Package client - клиент синхронизации: подключение к серверу,
// сверка часов, слияние дельт в полный кеш состояния, интерполяция
// удаленных тел и отправка ввода.
package client

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bodynet/internal/protocol"
)

// awaitTimeout - предел ожидания ответа сервера на create/join
const awaitTimeout = 10 * time.Second

// ErrConnectionClosed - соединение закрыто, ожидающие вызовы отклонены
var ErrConnectionClosed = errors.New("connection closed")

// WorldStateHandler получает обработанный серверный кадр: локальные
// тела для коррекции и сглаженные удаленные тела для отрисовки
type WorldStateHandler func(tick uint32, timestamp float64, locals, remotes []protocol.BodySnapshot)

// CollisionHandler получает события столкновений комнаты
type CollisionHandler func(tick uint32, events []protocol.CollisionEvent)

type joinResult struct {
	msg *protocol.RoomJoinedMessage
	err error
}

// Client - фасад синхронизации поверх одного WebSocket-подключения
type Client struct {
	sock    *websocket.Conn
	writeMu sync.Mutex
	logger  *log.Logger

	clock  *ClockSync
	inputs *InputManager

	mu                sync.Mutex
	reconciler        *Reconciler
	fullState         map[string]protocol.BodyState
	idToIndex         map[string]uint16
	indexToID         map[uint16]string
	clientID          string
	roomID            string
	simulationRunning bool
	bytesSent         uint64
	bytesReceived     uint64

	onWorldState  WorldStateHandler
	onCollisions  CollisionHandler
	onBodyAdded   func(protocol.BodyDescriptor, uint16)
	onBodyRemoved func(string)
	onServerError func(string)
	onBodyEvent   func(*protocol.BodyEventMessage)

	pendingMu     sync.Mutex
	pendingCreate chan error
	pendingJoin   chan joinResult

	done      chan struct{}
	closeOnce sync.Once
}

// Dial подключается к серверу синхронизации и запускает циклы чтения
// и сверки часов
func Dial(url string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}

	sock, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		sock:       sock,
		logger:     logger,
		clock:      NewClockSync(),
		reconciler: NewReconciler(),
		fullState:  make(map[string]protocol.BodyState),
		idToIndex:  make(map[string]uint16),
		indexToID:  make(map[uint16]string),
		done:       make(chan struct{}),
	}

	c.inputs = NewInputManager(
		func() uint32 { return c.clock.ServerTick(nowMs()) },
		c.sendInputBatch,
	)

	go c.readLoop()
	go c.clockSyncLoop()

	return c, nil
}

// Close закрывает соединение и отклоняет ожидающие вызовы
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.inputs.Stop()
		c.sock.Close()
		c.failAwaiters(ErrConnectionClosed)
	})
}

// --- коллбеки ---

func (c *Client) OnWorldState(h WorldStateHandler)                 { c.mu.Lock(); c.onWorldState = h; c.mu.Unlock() }
func (c *Client) OnCollisionEvents(h CollisionHandler)             { c.mu.Lock(); c.onCollisions = h; c.mu.Unlock() }
func (c *Client) OnBodyAdded(h func(protocol.BodyDescriptor, uint16)) { c.mu.Lock(); c.onBodyAdded = h; c.mu.Unlock() }
func (c *Client) OnBodyRemoved(h func(string))                     { c.mu.Lock(); c.onBodyRemoved = h; c.mu.Unlock() }
func (c *Client) OnServerError(h func(string))                     { c.mu.Lock(); c.onServerError = h; c.mu.Unlock() }
func (c *Client) OnBodyEvent(h func(*protocol.BodyEventMessage))   { c.mu.Lock(); c.onBodyEvent = h; c.mu.Unlock() }

// --- операции ---

// CreateRoom создает комнату и ждет подтверждения сервера
func (c *Client) CreateRoom(roomID string, bodies []protocol.BodyDescriptor, constraints []protocol.ConstraintDescriptor, gravity *protocol.Vector3) error {
	ch := make(chan error, 1)
	c.pendingMu.Lock()
	c.pendingCreate = ch
	c.pendingMu.Unlock()

	c.sendMessage(&protocol.CreateRoomMessage{
		Type:               protocol.MsgCreateRoom,
		RoomID:             roomID,
		InitialBodies:      bodies,
		InitialConstraints: constraints,
		Gravity:            gravity,
	})

	select {
	case err := <-ch:
		return err
	case <-c.done:
		return ErrConnectionClosed
	case <-time.After(awaitTimeout):
		return fmt.Errorf("create_room %q: timeout", roomID)
	}
}

// JoinRoom входит в комнату и возвращает ответ со снапшотом
func (c *Client) JoinRoom(roomID string) (*protocol.RoomJoinedMessage, error) {
	ch := make(chan joinResult, 1)
	c.pendingMu.Lock()
	c.pendingJoin = ch
	c.pendingMu.Unlock()

	c.sendMessage(&protocol.JoinRoomMessage{
		Type:   protocol.MsgJoinRoom,
		RoomID: roomID,
	})

	select {
	case res := <-ch:
		return res.msg, res.err
	case <-c.done:
		return nil, ErrConnectionClosed
	case <-time.After(awaitTimeout):
		return nil, fmt.Errorf("join_room %q: timeout", roomID)
	}
}

// LeaveRoom выходит из текущей комнаты
func (c *Client) LeaveRoom() {
	c.sendMessage(&protocol.LeaveRoomMessage{Type: protocol.MsgLeaveRoom})

	c.mu.Lock()
	c.roomID = ""
	c.fullState = make(map[string]protocol.BodyState)
	c.reconciler.Clear()
	c.mu.Unlock()
	c.inputs.Stop()
}

// StartSimulation запускает (или перезапускает) симуляцию комнаты
func (c *Client) StartSimulation() {
	c.sendMessage(&protocol.StartSimulationMessage{Type: protocol.MsgStartSimulation})
}

// AddBody просит сервер добавить тело в комнату
func (c *Client) AddBody(desc protocol.BodyDescriptor) {
	c.sendMessage(&protocol.AddBodyMessage{Type: protocol.MsgAddBody, Body: desc})
}

// RemoveBody просит сервер удалить тело
func (c *Client) RemoveBody(bodyID string) {
	c.sendMessage(&protocol.RemoveBodyMessage{Type: protocol.MsgRemoveBody, BodyID: bodyID})
}

// SendBodyEvent ретранслирует произвольное событие тела остальным
// клиентам комнаты
func (c *Client) SendBodyEvent(bodyID, eventType string, data map[string]interface{}) {
	c.sendMessage(&protocol.BodyEventMessage{
		Type:      protocol.MsgBodyEvent,
		BodyID:    bodyID,
		EventType: eventType,
		Data:      data,
	})
}

// QueueInput ставит действие в очередь менеджера ввода
func (c *Client) QueueInput(action protocol.InputAction) {
	c.inputs.Queue(action)
}

// SetLocalBody помечает тело локальным: его состояние не
// интерполируется, а отдается в коррекции
func (c *Client) SetLocalBody(id string, local bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconciler.SetLocal(id, local)
}

// ClockSync отдает оценщик серверных часов
func (c *Client) ClockSync() *ClockSync {
	return c.clock
}

// ClientID возвращает идентификатор, выданный сервером при входе
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// SimulationRunning сообщает, идет ли симуляция в текущей комнате
func (c *Client) SimulationRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simulationRunning
}

// BodyIDByIndex разрешает числовой индекс тела
func (c *Client) BodyIDByIndex(idx uint16) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.indexToID[idx]
	return id, ok
}

// Traffic возвращает счетчики отправленных и принятых байт
func (c *Client) Traffic() (sent, received uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesSent, c.bytesReceived
}

// --- внутреннее ---

func (c *Client) sendMessage(msg interface{}) {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Printf("[Client] Ошибка кодирования: %v", err)
		return
	}

	c.writeMu.Lock()
	err = c.sock.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Printf("[Client] Ошибка записи: %v", err)
		return
	}

	c.mu.Lock()
	c.bytesSent += uint64(len(data))
	c.mu.Unlock()
}

func (c *Client) sendInputBatch(batch protocol.InputBatch) {
	c.mu.Lock()
	c.reconciler.AddPending(batch)
	c.mu.Unlock()

	c.sendMessage(&protocol.ClientInputMessage{
		Type:  protocol.MsgClientInput,
		Input: batch,
	})
}

func (c *Client) clockSyncLoop() {
	ticker := time.NewTicker(protocol.ClockSyncInterval)
	defer ticker.Stop()

	send := func() {
		c.sendMessage(&protocol.ClockSyncRequest{
			Type:            protocol.MsgClockSyncRequest,
			ClientTimestamp: nowMs(),
		})
	}
	send()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			send()
		}
	}
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Printf("[Client] Соединение разорвано: %v", err)
			}
			c.Close()
			return
		}

		c.mu.Lock()
		c.bytesReceived += uint64(len(data))
		c.mu.Unlock()

		msg, err := protocol.Decode(data)
		if err != nil {
			// Кеш полного состояния переживает пропущенный кадр
			c.logger.Printf("[Client] Кадр отброшен: %v", err)
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg interface{}) {
	switch m := msg.(type) {
	case *protocol.ClockSyncResponse:
		c.clock.AddSample(m.ClientTimestamp, m.ServerTimestamp, nowMs())

	case *protocol.RoomStateFrame:
		c.handleRoomState(m)

	case *protocol.RoomJoinedMessage:
		c.handleRoomJoined(m)

	case *protocol.RoomCreatedMessage:
		c.resolveCreate(nil)

	case *protocol.SimulationStartedMessage:
		c.handleSimulationStarted(m)

	case *protocol.AddBodyMessage:
		c.handleAddBody(m)

	case *protocol.RemoveBodyMessage:
		c.handleRemoveBody(m)

	case *protocol.CollisionEventsMessage:
		c.mu.Lock()
		h := c.onCollisions
		c.mu.Unlock()
		if h != nil {
			h(m.Tick, m.Events)
		}

	case *protocol.BodyEventMessage:
		c.mu.Lock()
		h := c.onBodyEvent
		c.mu.Unlock()
		if h != nil {
			h(m)
		}

	case *protocol.ErrorMessage:
		c.handleServerError(m.Message)

	default:
		c.logger.Printf("[Client] Неожиданное сообщение %T", msg)
	}
}

// handleRoomState сливает дельту в кеш полного состояния: для тел из
// кадра копируются только поля, отмеченные маской; новые тела
// вставляются целиком
func (c *Client) handleRoomState(frame *protocol.RoomStateFrame) {
	c.mu.Lock()

	bodies := make([]protocol.BodySnapshot, 0, len(frame.Bodies))
	for _, u := range frame.Bodies {
		id := u.ID
		index := u.Index
		if frame.NumericIDs {
			resolved, ok := c.indexToID[u.Index]
			if !ok {
				// Индекс, которого мы еще не видели: тело объявится
				// через add_body или свежий снапшот
				continue
			}
			id = resolved
		} else if idx, ok := c.idToIndex[id]; ok {
			index = idx
		}

		cached, ok := c.fullState[id]
		if !ok {
			cached = u.State
		} else {
			if u.Mask&protocol.FieldPosition != 0 {
				cached.Position = u.State.Position
			}
			if u.Mask&protocol.FieldRotation != 0 {
				cached.Rotation = u.State.Rotation
			}
			if u.Mask&protocol.FieldLinearVelocity != 0 {
				cached.LinearVelocity = u.State.LinearVelocity
			}
			if u.Mask&protocol.FieldAngularVelocity != 0 {
				cached.AngularVelocity = u.State.AngularVelocity
			}
		}
		c.fullState[id] = cached
		bodies = append(bodies, protocol.BodySnapshot{ID: id, Index: index, State: cached})
	}

	locals, remotes := c.reconciler.ProcessFrame(frame.Tick, frame.Timestamp, bodies, nowMs())
	h := c.onWorldState
	c.mu.Unlock()

	if h != nil {
		h(frame.Tick, frame.Timestamp, locals, remotes)
	}
}

func (c *Client) handleRoomJoined(m *protocol.RoomJoinedMessage) {
	c.mu.Lock()
	c.roomID = m.RoomID
	c.clientID = m.ClientID
	c.simulationRunning = m.SimulationRunning
	c.installIDMap(m.BodyIDMap)
	c.rebuildFullState(m.Snapshot)
	c.reconciler.Clear()
	c.mu.Unlock()

	c.inputs.Start()

	c.pendingMu.Lock()
	ch := c.pendingJoin
	c.pendingJoin = nil
	c.pendingMu.Unlock()
	if ch != nil {
		ch <- joinResult{msg: m}
	}
}

func (c *Client) handleSimulationStarted(m *protocol.SimulationStartedMessage) {
	c.mu.Lock()
	c.simulationRunning = true
	c.reconciler.Clear()
	c.installIDMap(m.BodyIDMap)
	c.rebuildFullState(m.Snapshot)
	c.mu.Unlock()
}

func (c *Client) handleAddBody(m *protocol.AddBodyMessage) {
	c.mu.Lock()
	if m.BodyIndex != nil {
		c.idToIndex[m.Body.ID] = *m.BodyIndex
		c.indexToID[*m.BodyIndex] = m.Body.ID
	}
	state := protocol.NewBodyState()
	state.Position = m.Body.Position
	state.Rotation = m.Body.Rotation
	c.fullState[m.Body.ID] = state
	h := c.onBodyAdded
	c.mu.Unlock()

	if h != nil {
		index := uint16(0)
		if m.BodyIndex != nil {
			index = *m.BodyIndex
		}
		h(m.Body, index)
	}
}

func (c *Client) handleRemoveBody(m *protocol.RemoveBodyMessage) {
	c.mu.Lock()
	delete(c.fullState, m.BodyID)
	c.reconciler.Interpolator().Remove(m.BodyID)
	// Карта индексов не чистится: индекс тела не переиспользуется
	h := c.onBodyRemoved
	c.mu.Unlock()

	if h != nil {
		h(m.BodyID)
	}
}

func (c *Client) handleServerError(message string) {
	c.pendingMu.Lock()
	create := c.pendingCreate
	join := c.pendingJoin
	c.pendingCreate = nil
	c.pendingJoin = nil
	c.pendingMu.Unlock()

	switch {
	case create != nil:
		create <- fmt.Errorf("server error: %s", message)
	case join != nil:
		join <- joinResult{err: fmt.Errorf("server error: %s", message)}
	default:
		c.logger.Printf("[Client] Ошибка сервера: %s", message)
	}

	c.mu.Lock()
	h := c.onServerError
	c.mu.Unlock()
	if h != nil {
		h(message)
	}
}

func (c *Client) resolveCreate(err error) {
	c.pendingMu.Lock()
	ch := c.pendingCreate
	c.pendingCreate = nil
	c.pendingMu.Unlock()
	if ch != nil {
		ch <- err
	}
}

func (c *Client) failAwaiters(err error) {
	c.pendingMu.Lock()
	create := c.pendingCreate
	join := c.pendingJoin
	c.pendingCreate = nil
	c.pendingJoin = nil
	c.pendingMu.Unlock()

	if create != nil {
		create <- err
	}
	if join != nil {
		join <- joinResult{err: err}
	}
}

// installIDMap переустанавливает двунаправленную карту id <-> индекс
func (c *Client) installIDMap(m map[string]uint16) {
	c.idToIndex = make(map[string]uint16, len(m))
	c.indexToID = make(map[uint16]string, len(m))
	for id, idx := range m {
		c.idToIndex[id] = idx
		c.indexToID[idx] = id
	}
}

// rebuildFullState пересобирает кеш полного состояния из снапшота
func (c *Client) rebuildFullState(snap protocol.Snapshot) {
	c.fullState = make(map[string]protocol.BodyState, len(snap.Bodies))
	for _, b := range snap.Bodies {
		c.fullState[b.ID] = b.State
		if _, ok := c.idToIndex[b.ID]; !ok {
			c.idToIndex[b.ID] = b.Index
			c.indexToID[b.Index] = b.ID
		}
	}
}

func nowMs() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}
