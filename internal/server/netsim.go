package server

import (
	"log"
	"math/rand"
	"sync"
	"time"
)

// NetworkSimulation - имитация плохих сетевых условий на исходящем
// трафике: базовая задержка, джиттер и потеря пакетов. По умолчанию
// выключена; нужна для прогона клиентской интерполяции под нагрузкой.
type NetworkSimulation struct {
	mu              sync.RWMutex
	enabled         bool
	baseLatency     time.Duration
	latencyVariance time.Duration
	packetLoss      float64

	delayed chan delayedSend
	logger  *log.Logger
}

type delayedSend struct {
	send   func()
	sendAt time.Time
}

func NewNetworkSimulation(logger *log.Logger) *NetworkSimulation {
	if logger == nil {
		logger = log.Default()
	}
	sim := &NetworkSimulation{
		delayed: make(chan delayedSend, 1000),
		logger:  logger,
	}
	go sim.processDelayed()
	return sim
}

// Configure задает параметры имитации
func (ns *NetworkSimulation) Configure(enabled bool, baseLatency, variance time.Duration, loss float64) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.enabled = enabled
	ns.baseLatency = baseLatency
	ns.latencyVariance = variance
	ns.packetLoss = loss

	ns.logger.Printf("[NetworkSim] Настройки обновлены: enabled=%v latency=%v variance=%v loss=%.2f%%",
		enabled, baseLatency, variance, loss*100)
}

// Profile включает имитацию с предустановленным профилем
func (ns *NetworkSimulation) Profile(name string) {
	switch name {
	case "mobile_3g":
		ns.Configure(true, 100*time.Millisecond, 50*time.Millisecond, 0.02)
	case "mobile_4g":
		ns.Configure(true, 50*time.Millisecond, 20*time.Millisecond, 0.01)
	case "wifi_poor":
		ns.Configure(true, 80*time.Millisecond, 40*time.Millisecond, 0.03)
	case "high_latency":
		ns.Configure(true, 200*time.Millisecond, 100*time.Millisecond, 0.05)
	default:
		ns.Configure(false, 0, 0, 0)
	}
}

// Enabled сообщает, активна ли имитация
func (ns *NetworkSimulation) Enabled() bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.enabled
}

// Deliver выполняет отправку с учетом потери и задержки
func (ns *NetworkSimulation) Deliver(send func()) {
	ns.mu.RLock()
	loss := ns.packetLoss
	delay := ns.baseLatency
	variance := ns.latencyVariance
	ns.mu.RUnlock()

	if loss > 0 && rand.Float64() < loss {
		return // пакет "потерян"
	}

	if variance > 0 {
		jitter := time.Duration(rand.Float64() * float64(variance))
		if rand.Float64() < 0.5 {
			jitter = -jitter
		}
		delay += jitter
	}

	if delay <= 0 {
		send()
		return
	}

	select {
	case ns.delayed <- delayedSend{send: send, sendAt: time.Now().Add(delay)}:
	default:
		ns.logger.Printf("[NetworkSim] Буфер отложенных отправок переполнен, отправляем сразу")
		send()
	}
}

func (ns *NetworkSimulation) processDelayed() {
	for msg := range ns.delayed {
		if wait := time.Until(msg.sendAt); wait > 0 {
			time.Sleep(wait)
		}
		msg.send()
	}
}
