package room

import (
	"log"
	"time"
)

const statsLogInterval = 10 * time.Second

// Stats собирает метрики цикла комнаты: времена тиков по скользящему
// окну и объем исходящего трафика.
type Stats struct {
	window      []time.Duration
	windowIndex int
	windowFull  bool

	tickCount uint64
	maxTick   time.Duration

	framesOut uint64
	bytesOut  uint64

	lastLog time.Time
}

func NewStats() *Stats {
	return &Stats{
		window:  make([]time.Duration, 50),
		lastLog: time.Now(),
	}
}

func (s *Stats) recordTick(d time.Duration) {
	s.tickCount++
	if d > s.maxTick {
		s.maxTick = d
	}
	s.window[s.windowIndex] = d
	s.windowIndex = (s.windowIndex + 1) % len(s.window)
	if s.windowIndex == 0 {
		s.windowFull = true
	}
}

func (s *Stats) recordBroadcast(bytes int) {
	s.framesOut++
	s.bytesOut += uint64(bytes)
}

func (s *Stats) averageTick() time.Duration {
	limit := s.windowIndex
	if s.windowFull {
		limit = len(s.window)
	}
	if limit == 0 {
		return 0
	}

	var total time.Duration
	for i := 0; i < limit; i++ {
		total += s.window[i]
	}
	return total / time.Duration(limit)
}

// maybeLog периодически выводит сводку в журнал комнаты
func (s *Stats) maybeLog(logger *log.Logger, roomID string, tick uint32, clients int) {
	now := time.Now()
	if now.Sub(s.lastLog) < statsLogInterval {
		return
	}
	s.lastLog = now

	logger.Printf("[Room %s] тик=%d клиентов=%d avg=%v max=%v кадров=%d байт=%d",
		roomID, tick, clients, s.averageTick(), s.maxTick, s.framesOut, s.bytesOut)
}
