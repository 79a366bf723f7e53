package server

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bodynet/internal/protocol"
)

// Conn - одно клиентское подключение. Запись в сокет потокобезопасна;
// состояние (комната, выборки часов, счетчики) принадлежит обработчикам
// этого подключения.
type Conn struct {
	id   string
	sock *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	roomID string

	clock *sampleWindow

	bytesSent     uint64
	bytesReceived uint64

	netsim *NetworkSimulation
	logger *log.Logger
}

// NewConn оборачивает WebSocket-соединение и назначает непрозрачный id
func NewConn(sock *websocket.Conn, netsim *NetworkSimulation, logger *log.Logger) *Conn {
	if logger == nil {
		logger = log.Default()
	}
	return &Conn{
		id:     uuid.NewString(),
		sock:   sock,
		clock:  newSampleWindow(protocol.ClockSyncWindow),
		netsim: netsim,
		logger: logger,
	}
}

// ID возвращает идентификатор подключения
func (c *Conn) ID() string {
	return c.id
}

// Send отправляет готовый бинарный кадр. Отправка fire-and-forget:
// ошибка записи логируется, тик комнаты не задерживается.
func (c *Conn) Send(data []byte) {
	if c.netsim != nil && c.netsim.Enabled() {
		c.netsim.Deliver(func() { c.write(data) })
		return
	}
	c.write(data)
}

func (c *Conn) write(data []byte) {
	c.writeMu.Lock()
	err := c.sock.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Printf("[Conn %s] Ошибка записи: %v", c.id, err)
		return
	}

	c.mu.Lock()
	c.bytesSent += uint64(len(data))
	c.mu.Unlock()
}

// SendMessage кодирует и отправляет структурированное сообщение
func (c *Conn) SendMessage(msg interface{}) {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Printf("[Conn %s] Ошибка кодирования: %v", c.id, err)
		return
	}
	c.Send(data)
}

// RoomID возвращает текущую комнату подключения ("" - вне комнаты)
func (c *Conn) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// SetRoomID запоминает назначение подключения в комнату
func (c *Conn) SetRoomID(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

// ObserveClockSync записывает выборку смещения часов клиента.
// Оценка одностороння (без половины RTT) и служит серверной диагностике.
func (c *Conn) ObserveClockSync(clientTs, serverTs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock.add(serverTs - clientTs)
}

// ClockOffset возвращает средник оценок смещения часов клиента
func (c *Conn) ClockOffset() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.mean()
}

// CountReceived учитывает принятый кадр
func (c *Conn) CountReceived(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesReceived += uint64(n)
}

// Close закрывает подключение
func (c *Conn) Close() error {
	return c.sock.Close()
}

// sampleWindow - ограниченное скользящее окно со средним арифметическим
type sampleWindow struct {
	samples []float64
	index   int
	full    bool
}

func newSampleWindow(size int) *sampleWindow {
	return &sampleWindow{samples: make([]float64, size)}
}

func (w *sampleWindow) add(v float64) {
	w.samples[w.index] = v
	w.index = (w.index + 1) % len(w.samples)
	if w.index == 0 {
		w.full = true
	}
}

func (w *sampleWindow) count() int {
	if w.full {
		return len(w.samples)
	}
	return w.index
}

func (w *sampleWindow) mean() float64 {
	n := w.count()
	if n == 0 {
		return 0
	}
	total := 0.0
	for i := 0; i < n; i++ {
		total += w.samples[i]
	}
	return total / float64(n)
}
