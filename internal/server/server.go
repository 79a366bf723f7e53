// Package server - WebSocket-сервер синхронизации: принимает
// подключения, ведет реестр комнат и маршрутизирует глаголы протокола.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"bodynet/internal/protocol"
	"bodynet/internal/room"
)

// Server - точка входа транспорта: HTTP-апгрейд на /ws и реестр живых
// подключений
type Server struct {
	addr       string
	upgrader   websocket.Upgrader
	manager    *Manager
	dispatcher *Dispatcher
	netsim     *NetworkSimulation
	logger     *log.Logger

	connsMu sync.Mutex
	conns   map[string]*Conn

	httpSrv *http.Server
}

// Option настраивает сервер при создании
type Option func(*Server)

// WithNetworkSimulation включает имитацию сетевых условий на исходящем
// трафике
func WithNetworkSimulation(profile string) Option {
	return func(s *Server) {
		s.netsim = NewNetworkSimulation(s.logger)
		s.netsim.Profile(profile)
	}
}

// WithInputPolicy задает политику привязки ввода к тикам
func WithInputPolicy(policy room.InputPolicy) Option {
	return func(s *Server) {
		s.manager = NewManager(policy, s.logger)
	}
}

func New(addr string, logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if addr == "" {
		addr = fmt.Sprintf(":%d", protocol.DefaultPort)
	}

	s := &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		manager: NewManager(room.InputPolicyImmediate, logger),
		logger:  logger,
		conns:   make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dispatcher = NewDispatcher(s.manager, logger)

	return s
}

// Manager возвращает реестр комнат
func (s *Server) Manager() *Manager {
	return s.manager
}

// HandleWS апгрейдит HTTP-запрос и гоняет цикл чтения подключения
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[Server] Ошибка апгрейда WebSocket: %v", err)
		return
	}

	conn := NewConn(sock, s.netsim, s.logger)
	s.register(conn)
	s.logger.Printf("[Server] Новое подключение %s с %s", conn.ID(), sock.RemoteAddr())

	s.dispatcher.HandleConn(conn)

	s.deregister(conn)
	conn.Close()
	s.logger.Printf("[Server] Подключение %s закрыто", conn.ID())
}

func (s *Server) register(c *Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[c.ID()] = c
}

func (s *Server) deregister(c *Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, c.ID())
}

// ListenAndServe поднимает HTTP-сервер с эндпоинтом /ws. Блокирует до
// остановки.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)

	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}
	s.logger.Printf("[Server] Сервер синхронизации слушает %s", s.addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown останавливает прием, все комнаты и живые подключения
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	s.manager.Shutdown()

	s.connsMu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = make(map[string]*Conn)
	s.connsMu.Unlock()

	return err
}
