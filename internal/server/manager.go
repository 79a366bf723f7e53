package server

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"bodynet/internal/physics/engine"
	"bodynet/internal/protocol"
	"bodynet/internal/room"
)

var (
	// ErrRoomExists - комната с таким id уже создана
	ErrRoomExists = errors.New("room already exists")

	// ErrUnknownRoom - комнаты с таким id нет
	ErrUnknownRoom = errors.New("room not found")
)

// Manager ведет реестр комнат процесса
type Manager struct {
	mu     sync.Mutex
	rooms  map[string]*room.Room
	policy room.InputPolicy
	logger *log.Logger
}

func NewManager(policy room.InputPolicy, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		rooms:  make(map[string]*room.Room),
		policy: policy,
		logger: logger,
	}
}

// CreateRoom создает комнату с начальными телами. Дубликат id - ошибка
// контракта.
func (m *Manager) CreateRoom(id string, bodies []protocol.BodyDescriptor, constraints []protocol.ConstraintDescriptor, gravity *protocol.Vector3) (*room.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[id]; exists {
		return nil, fmt.Errorf("%w: %q", ErrRoomExists, id)
	}

	r, err := room.New(id, engine.NewWorld(), bodies, constraints, gravity, m.policy, m.logger)
	if err != nil {
		return nil, err
	}

	m.rooms[id] = r
	m.logger.Printf("[Manager] Создана комната %s (%d тел, %d сочленений)", id, len(bodies), len(constraints))
	return r, nil
}

// Get возвращает комнату по id
func (m *Manager) Get(id string) (*room.Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

// DestroyRoom останавливает и удаляет комнату
func (m *Manager) DestroyRoom(id string) error {
	m.mu.Lock()
	r, ok := m.rooms[id]
	if ok {
		delete(m.rooms, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, id)
	}
	r.Stop()
	m.logger.Printf("[Manager] Комната %s уничтожена", id)
	return nil
}

// Shutdown останавливает все комнаты процесса
func (m *Manager) Shutdown() {
	m.mu.Lock()
	rooms := make([]*room.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[string]*room.Room)
	m.mu.Unlock()

	for _, r := range rooms {
		r.Stop()
	}
	m.logger.Printf("[Manager] Остановлено комнат: %d", len(rooms))
}
