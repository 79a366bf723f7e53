package client

import (
	"sync"
	"time"

	"bodynet/internal/protocol"
)

// InputManager копит действия пользователя и с фиксированной частотой
// отправляет их пакетами, помеченными оценкой серверного тика и
// монотонным номером. Останов и повторный запуск безопасны: фасад
// гасит отправку при выходе из комнаты и поднимает заново при входе.
type InputManager struct {
	mu      sync.Mutex
	queue   []protocol.InputAction
	history []protocol.InputBatch
	seq     uint32

	serverTick func() uint32
	send       func(protocol.InputBatch)

	running bool
	stop    chan struct{}
}

func NewInputManager(serverTick func() uint32, send func(protocol.InputBatch)) *InputManager {
	return &InputManager{
		serverTick: serverTick,
		send:       send,
	}
}

// Start запускает отправку с частотой InputSendRate. Повторный запуск
// работающего менеджера - ничего не делает.
func (im *InputManager) Start() {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.running {
		return
	}
	im.running = true
	im.stop = make(chan struct{})

	go im.run(im.stop)
}

func (im *InputManager) run(stop chan struct{}) {
	ticker := time.NewTicker(time.Second / protocol.InputSendRate)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			im.flush()
		}
	}
}

// Queue ставит действие в очередь ближайшего пакета
func (im *InputManager) Queue(action protocol.InputAction) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.queue = append(im.queue, action)
}

// flush собирает пакет из накопленных действий и отправляет его
func (im *InputManager) flush() {
	im.mu.Lock()
	if len(im.queue) == 0 {
		im.mu.Unlock()
		return
	}

	batch := protocol.InputBatch{
		Tick:            im.serverTick(),
		Seq:             im.seq,
		Actions:         im.queue,
		ClientTimestamp: float64(time.Now().UnixNano()) / 1e6,
	}
	im.seq++
	im.queue = nil

	im.history = append(im.history, batch)
	if len(im.history) > protocol.MaxInputBuffer {
		im.history = im.history[len(im.history)-protocol.MaxInputBuffer:]
	}
	send := im.send
	im.mu.Unlock()

	send(batch)
}

// History возвращает копию отправленных пакетов
func (im *InputManager) History() []protocol.InputBatch {
	im.mu.Lock()
	defer im.mu.Unlock()
	out := make([]protocol.InputBatch, len(im.history))
	copy(out, im.history)
	return out
}

// Running сообщает, идет ли отправка
func (im *InputManager) Running() bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.running
}

// Stop останавливает отправку. Идемпотентен; после остановки менеджер
// можно запустить заново.
func (im *InputManager) Stop() {
	im.mu.Lock()
	defer im.mu.Unlock()

	if !im.running {
		return
	}
	im.running = false
	close(im.stop)
}
