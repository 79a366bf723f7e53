package protocol

import "time"

// Константы синхронизации. Все значения наблюдаемы на проводе и
// согласованы с клиентской реконструкцией: менять их по отдельности нельзя.
const (
	// TickRate - частота физической симуляции (тиков в секунду)
	TickRate = 60

	// TickDuration - длительность одного тика
	TickDuration = time.Second / TickRate

	// TickSeconds - шаг симуляции в секундах
	TickSeconds = 1.0 / float32(TickRate)

	// BroadcastHz - частота рассылки состояния клиентам
	BroadcastHz = 20

	// BroadcastInterval - число тиков между рассылками (60/20 = 3)
	BroadcastInterval = TickRate / BroadcastHz

	// InputSendRate - частота отправки батчей ввода клиентом
	InputSendRate = 60

	// MaxInputBuffer - глубина буфера ввода в тиках (2 секунды при 60 Hz)
	MaxInputBuffer = 120

	// ReconciliationThreshold - порог расхождения позиции (в метрах),
	// после которого локальное тело корректируется к серверному состоянию
	ReconciliationThreshold = 0.1

	// PositionLerpSpeed - скорость линейного смешивания позиции при коррекции
	PositionLerpSpeed = 0.3

	// RotationSlerpSpeed - скорость сферического смешивания ориентации
	RotationSlerpSpeed = 0.3

	// InterpolationBufferSize - размер буфера интерполяции (в снапшотах)
	InterpolationBufferSize = 3

	// RenderDelayMs - задержка выборки из буфера интерполяции.
	// Три периода рассылки поглощают джиттер доставки.
	RenderDelayMs = 3 * (1000.0 / BroadcastHz)

	// ClockSyncInterval - период опроса серверных часов
	ClockSyncInterval = 3 * time.Second

	// ClockSyncWindow - размер скользящего окна выборок RTT/offset
	ClockSyncWindow = 10

	// ClockSyncMinSamples - минимум выборок до состояния "откалиброван"
	ClockSyncMinSamples = 3

	// DiffEpsilon - порог покомпонентного сравнения при построении дельты
	DiffEpsilon = 1e-4

	// MaxCatchUpTicks - ограничение накопителя симуляции (spiral of death)
	MaxCatchUpTicks = 10

	// DefaultPort - порт сервера по умолчанию
	DefaultPort = 8080
)
