package client

import (
	"math"
	"sync"

	"bodynet/internal/protocol"
)

// ClockSync оценивает смещение часов сервера по выборкам
// запрос-ответ: rtt = now - clientTs, offset = serverTs - clientTs - rtt/2.
// Отчетные значения - средние арифметические по скользящему окну.
type ClockSync struct {
	mu     sync.Mutex
	rtt    *sampleWindow
	offset *sampleWindow
}

func NewClockSync() *ClockSync {
	return &ClockSync{
		rtt:    newSampleWindow(protocol.ClockSyncWindow),
		offset: newSampleWindow(protocol.ClockSyncWindow),
	}
}

// AddSample учитывает один ответ сервера
func (cs *ClockSync) AddSample(clientTs, serverTs, now float64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	rtt := now - clientTs
	cs.rtt.add(rtt)
	cs.offset.add(serverTs - clientTs - rtt/2)
}

// RTT возвращает среднее время оборота в миллисекундах
func (cs *ClockSync) RTT() float64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.rtt.mean()
}

// Offset возвращает среднее смещение серверных часов в миллисекундах
func (cs *ClockSync) Offset() float64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.offset.mean()
}

// Calibrated сообщает, накоплено ли достаточно выборок
func (cs *ClockSync) Calibrated() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.rtt.count() >= protocol.ClockSyncMinSamples
}

// ServerTimeMs оценивает текущее серверное время
func (cs *ClockSync) ServerTimeMs(now float64) float64 {
	return now + cs.Offset()
}

// ServerTick оценивает текущий тик сервера. Абсолютное значение
// усекается до uint32 разрядности провода.
func (cs *ClockSync) ServerTick(now float64) uint32 {
	tickMs := 1000.0 / float64(protocol.TickRate)
	return uint32(uint64(math.Floor(cs.ServerTimeMs(now) / tickMs)))
}

// sampleWindow - ограниченное окно с циклической перезаписью
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
