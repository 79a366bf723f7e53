package protocol

// Типы структурированных сообщений. Дискриминатор type передается в
// каждом сообщении, кроме бинарного room_state.
const (
	MsgClockSyncRequest  = "clock_sync_request"
	MsgCreateRoom        = "create_room"
	MsgJoinRoom          = "join_room"
	MsgLeaveRoom         = "leave_room"
	MsgClientInput       = "client_input"
	MsgAddBody           = "add_body"
	MsgRemoveBody        = "remove_body"
	MsgStartSimulation   = "start_simulation"
	MsgBodyEvent         = "body_event"
	MsgClockSyncResponse = "clock_sync_response"
	MsgRoomCreated       = "room_created"
	MsgRoomJoined        = "room_joined"
	MsgSimulationStarted = "simulation_started"
	MsgCollisionEvents   = "collision_events"
	MsgError             = "error"
)

// ClockSyncRequest - запрос клиента на сверку часов
type ClockSyncRequest struct {
	Type            string  `json:"type" msgpack:"type"`
	ClientTimestamp float64 `json:"clientTimestamp" msgpack:"clientTimestamp"`
}

// ClockSyncResponse - ответ сервера: эхо клиентской метки плюс серверное время
type ClockSyncResponse struct {
	Type            string  `json:"type" msgpack:"type"`
	ClientTimestamp float64 `json:"clientTimestamp" msgpack:"clientTimestamp"`
	ServerTimestamp float64 `json:"serverTimestamp" msgpack:"serverTimestamp"`
}

// CreateRoomMessage - создание комнаты с начальными телами
type CreateRoomMessage struct {
	Type               string                 `json:"type" msgpack:"type"`
	RoomID             string                 `json:"roomId" msgpack:"roomId"`
	InitialBodies      []BodyDescriptor       `json:"initialBodies" msgpack:"initialBodies"`
	Gravity            *Vector3               `json:"gravity,omitempty" msgpack:"gravity,omitempty"`
	InitialConstraints []ConstraintDescriptor `json:"initialConstraints,omitempty" msgpack:"initialConstraints,omitempty"`
}

// RoomCreatedMessage - подтверждение создания комнаты
type RoomCreatedMessage struct {
	Type   string `json:"type" msgpack:"type"`
	RoomID string `json:"roomId" msgpack:"roomId"`
}

// JoinRoomMessage - запрос на вход в комнату
type JoinRoomMessage struct {
	Type   string `json:"type" msgpack:"type"`
	RoomID string `json:"roomId" msgpack:"roomId"`
}

// RoomJoinedMessage - ответ на вход: полный снапшот и карта индексов
type RoomJoinedMessage struct {
	Type              string            `json:"type" msgpack:"type"`
	RoomID            string            `json:"roomId" msgpack:"roomId"`
	Snapshot          Snapshot          `json:"snapshot" msgpack:"snapshot"`
	ClientID          string            `json:"clientId" msgpack:"clientId"`
	SimulationRunning bool              `json:"simulationRunning" msgpack:"simulationRunning"`
	BodyIDMap         map[string]uint16 `json:"bodyIdMap" msgpack:"bodyIdMap"`
}

// LeaveRoomMessage - выход из текущей комнаты
type LeaveRoomMessage struct {
	Type string `json:"type" msgpack:"type"`
}

// ClientInputMessage - пакет ввода от клиента
type ClientInputMessage struct {
	Type  string     `json:"type" msgpack:"type"`
	Input InputBatch `json:"input" msgpack:"input"`
}

// AddBodyMessage - добавление тела. От клиента BodyIndex пуст;
// в рассылке сервер заполняет назначенный индекс.
type AddBodyMessage struct {
	Type      string         `json:"type" msgpack:"type"`
	Body      BodyDescriptor `json:"body" msgpack:"body"`
	BodyIndex *uint16        `json:"bodyIndex,omitempty" msgpack:"bodyIndex,omitempty"`
}

// RemoveBodyMessage - удаление тела
type RemoveBodyMessage struct {
	Type   string `json:"type" msgpack:"type"`
	BodyID string `json:"bodyId" msgpack:"bodyId"`
}

// StartSimulationMessage - запуск (или перезапуск) симуляции
type StartSimulationMessage struct {
	Type string `json:"type" msgpack:"type"`
}

// SimulationStartedMessage - рассылка после перезапуска симуляции
type SimulationStartedMessage struct {
	Type      string            `json:"type" msgpack:"type"`
	Snapshot  Snapshot          `json:"snapshot" msgpack:"snapshot"`
	BodyIDMap map[string]uint16 `json:"bodyIdMap" msgpack:"bodyIdMap"`
}

// BodyEventMessage - произвольное событие тела, ретранслируемое
// остальным клиентам комнаты
type BodyEventMessage struct {
	Type      string                 `json:"type" msgpack:"type"`
	BodyID    string                 `json:"bodyId" msgpack:"bodyId"`
	EventType string                 `json:"eventType" msgpack:"eventType"`
	Data      map[string]interface{} `json:"data,omitempty" msgpack:"data,omitempty"`
}

// CollisionEventsMessage - события столкновений, собранные за интервал рассылки
type CollisionEventsMessage struct {
	Type   string           `json:"type" msgpack:"type"`
	Tick   uint32           `json:"tick" msgpack:"tick"`
	Events []CollisionEvent `json:"events" msgpack:"events"`
}

// ErrorMessage - ошибка уровня протокола или контракта
type ErrorMessage struct {
	Type    string `json:"type" msgpack:"type"`
	Message string `json:"message" msgpack:"message"`
}
