package room

import (
	"context"
	"log"
	"sync"
	"time"

	"bodynet/internal/protocol"
)

// Loop гонит симуляцию комнаты с фиксированным шагом по настенным
// часам. Пробуждения происходят чаще шага (примерно десять раз за тик),
// чтобы догоняющая работа размазывалась равномерно; накопитель ограничен
// MaxCatchUpTicks шагами от одного пробуждения.
type Loop struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	tick   func()
	logger *log.Logger

	accumulator float64
	lastWake    time.Time
}

func NewLoop(tick func(), logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{tick: tick, logger: logger}
}

// Start запускает цикл. Повторный запуск работающего цикла - ничего
// не делает.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}
	l.running = true
	l.accumulator = 0
	l.lastWake = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	go l.run(ctx)
}

// Stop останавливает цикл. Идемпотентен.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	l.running = false
	l.cancel()
}

// Running сообщает, работает ли цикл
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(ctx context.Context) {
	ticker := time.NewTicker(protocol.TickDuration / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.advance(now)
		}
	}
}

// advance накапливает прошедшее время и исполняет созревшие тики
func (l *Loop) advance(now time.Time) {
	dt := protocol.TickDuration.Seconds()

	elapsed := now.Sub(l.lastWake).Seconds()
	l.lastWake = now

	// Ограничение накопителя: после паузы процесса цикл не пытается
	// отыграть больше MaxCatchUpTicks шагов
	maxElapsed := dt * protocol.MaxCatchUpTicks
	if elapsed > maxElapsed {
		l.logger.Printf("[Loop] Пробуждение запоздало на %.1f мс, накопитель ограничен", elapsed*1000)
		elapsed = maxElapsed
	}

	l.accumulator += elapsed
	for l.accumulator >= dt {
		l.tick()
		l.accumulator -= dt
	}
}
