package room

import "bodynet/internal/protocol"

// InputBuffer копит пакеты ввода одного клиента по целевым тикам.
// Записи старше MaxInputBuffer тиков вычищаются при каждом добавлении.
type InputBuffer struct {
	batches map[uint32][]protocol.InputBatch
}

func NewInputBuffer() *InputBuffer {
	return &InputBuffer{
		batches: make(map[uint32][]protocol.InputBatch),
	}
}

// Add ставит пакет в очередь тика t и подрезает хвост буфера
func (ib *InputBuffer) Add(t uint32, batch protocol.InputBatch) {
	ib.batches[t] = append(ib.batches[t], batch)

	if t < protocol.MaxInputBuffer {
		return
	}
	oldest := t - protocol.MaxInputBuffer
	for tick := range ib.batches {
		if tick < oldest {
			delete(ib.batches, tick)
		}
	}
}

// Take изымает и возвращает пакеты, нацеленные на тик t
func (ib *InputBuffer) Take(t uint32) []protocol.InputBatch {
	batches, ok := ib.batches[t]
	if !ok {
		return nil
	}
	delete(ib.batches, t)
	return batches
}

// Clear сбрасывает все накопленные пакеты
func (ib *InputBuffer) Clear() {
	ib.batches = make(map[uint32][]protocol.InputBatch)
}

// Len возвращает число тиков с ожидающими пакетами
func (ib *InputBuffer) Len() int {
	return len(ib.batches)
}
