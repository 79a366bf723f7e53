package server

import (
	"log"
	"time"

	"github.com/gorilla/websocket"

	"bodynet/internal/protocol"
)

// Dispatcher - цикл чтения одного подключения и маршрутизация глаголов
// по комнатам. Каждый кадр применяется к состоянию комнаты атомарно:
// комната сериализует обработчики на своем мьютексе.
type Dispatcher struct {
	manager *Manager
	logger  *log.Logger
}

func NewDispatcher(manager *Manager, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{manager: manager, logger: logger}
}

// HandleConn читает кадры подключения до разрыва. При выходе клиент
// снимается с комнаты.
func (d *Dispatcher) HandleConn(c *Conn) {
	defer d.leaveRoom(c)

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				d.logger.Printf("[Dispatcher] Соединение %s разорвано: %v", c.ID(), err)
			}
			return
		}
		c.CountReceived(len(data))

		msg, err := protocol.Decode(data)
		if err != nil {
			// Протокольная ошибка не фатальна: отвечаем и продолжаем
			d.logger.Printf("[Dispatcher] Кадр от %s не разобран: %v", c.ID(), err)
			d.sendError(c, "Invalid message format")
			continue
		}

		d.route(c, msg)
	}
}

// route применяет один глагол. Сумма закрытая: серверные глаголы,
// пришедшие от клиента, отклоняются.
func (d *Dispatcher) route(c *Conn, msg interface{}) {
	switch m := msg.(type) {
	case *protocol.ClockSyncRequest:
		c.ObserveClockSync(m.ClientTimestamp, nowMs())
		c.SendMessage(&protocol.ClockSyncResponse{
			Type:            protocol.MsgClockSyncResponse,
			ClientTimestamp: m.ClientTimestamp,
			ServerTimestamp: nowMs(),
		})

	case *protocol.CreateRoomMessage:
		d.handleCreateRoom(c, m)

	case *protocol.JoinRoomMessage:
		d.handleJoinRoom(c, m)

	case *protocol.LeaveRoomMessage:
		d.leaveRoom(c)

	case *protocol.ClientInputMessage:
		if r, ok := d.manager.Get(c.RoomID()); ok {
			r.BufferInput(c.ID(), m.Input)
		}
		// Вне комнаты ввод молча игнорируется

	case *protocol.AddBodyMessage:
		d.withRoom(c, func() error {
			r, _ := d.manager.Get(c.RoomID())
			return r.AddBody(m.Body)
		})

	case *protocol.RemoveBodyMessage:
		d.withRoom(c, func() error {
			r, _ := d.manager.Get(c.RoomID())
			return r.RemoveBody(m.BodyID)
		})

	case *protocol.StartSimulationMessage:
		d.withRoom(c, func() error {
			r, _ := d.manager.Get(c.RoomID())
			return r.StartSimulation()
		})

	case *protocol.BodyEventMessage:
		if r, ok := d.manager.Get(c.RoomID()); ok {
			r.RelayBodyEvent(c.ID(), m)
		}

	default:
		d.logger.Printf("[Dispatcher] Неожиданный глагол %T от %s", msg, c.ID())
		d.sendError(c, "Unexpected message")
	}
}

func (d *Dispatcher) handleCreateRoom(c *Conn, m *protocol.CreateRoomMessage) {
	_, err := d.manager.CreateRoom(m.RoomID, m.InitialBodies, m.InitialConstraints, m.Gravity)
	if err != nil {
		d.sendError(c, err.Error())
		return
	}
	c.SendMessage(&protocol.RoomCreatedMessage{
		Type:   protocol.MsgRoomCreated,
		RoomID: m.RoomID,
	})
}

func (d *Dispatcher) handleJoinRoom(c *Conn, m *protocol.JoinRoomMessage) {
	r, ok := d.manager.Get(m.RoomID)
	if !ok {
		d.sendError(c, ErrUnknownRoom.Error())
		return
	}

	// Переход между комнатами: сначала выходим из текущей
	if cur := c.RoomID(); cur != "" && cur != m.RoomID {
		d.leaveRoom(c)
	}

	snapshot, idMap, running := r.AddClient(c)
	c.SetRoomID(m.RoomID)

	c.SendMessage(&protocol.RoomJoinedMessage{
		Type:              protocol.MsgRoomJoined,
		RoomID:            m.RoomID,
		Snapshot:          snapshot,
		ClientID:          c.ID(),
		SimulationRunning: running,
		BodyIDMap:         idMap,
	})
}

// withRoom выполняет операцию в текущей комнате клиента, превращая
// нарушения контракта в error-ответы
func (d *Dispatcher) withRoom(c *Conn, op func() error) {
	if _, ok := d.manager.Get(c.RoomID()); !ok {
		d.sendError(c, ErrUnknownRoom.Error())
		return
	}
	if err := op(); err != nil {
		d.sendError(c, err.Error())
	}
}

func (d *Dispatcher) leaveRoom(c *Conn) {
	roomID := c.RoomID()
	if roomID == "" {
		return
	}
	c.SetRoomID("")

	if r, ok := d.manager.Get(roomID); ok {
		r.RemoveClient(c.ID())
	}
}

func (d *Dispatcher) sendError(c *Conn, message string) {
	c.SendMessage(&protocol.ErrorMessage{
		Type:    protocol.MsgError,
		Message: message,
	})
}

func nowMs() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}
