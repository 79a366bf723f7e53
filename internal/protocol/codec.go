package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	crunch "github.com/superwhiskers/crunch/v3"
	"github.com/vmihailenco/msgpack/v5"
)

// Опкоды кадров. Кадр room_state имеет собственную бинарную раскладку,
// все остальные сообщения идут самоописывающим msgpack-пейлоадом.
const (
	OpRoomState  byte = 0x01
	OpStructured byte = 0x02
)

var (
	// ErrInvalidMessage - кадр не разобран (обрезан или неверно сформирован)
	ErrInvalidMessage = errors.New("invalid message format")

	// ErrUnknownMessageType - неизвестный дискриминатор. Протокол
	// запрещает молча принимать неизвестные глаголы.
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Масштаб компонент кватерниона в кодировке smallest-three: на единичном
// кватернионе все компоненты, кроме наибольшей, лежат в пределах ±1/√2.
var quatScale = float32(32767.0 * math.Sqrt2)

// Encode кодирует исходящее сообщение в один бинарный кадр
func Encode(msg interface{}) ([]byte, error) {
	if frame, ok := msg.(*RoomStateFrame); ok {
		return EncodeRoomState(frame)
	}

	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode structured message: %w", err)
	}

	data := make([]byte, 0, len(payload)+1)
	data = append(data, OpStructured)
	data = append(data, payload...)
	return data, nil
}

// Decode разбирает входящий кадр. Сообщение без опкода, начинающееся с
// '{', принимается как JSON - запасной путь для старых пиров.
func Decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, ErrInvalidMessage
	}

	switch data[0] {
	case '{':
		return decodeStructured(data, json.Unmarshal)
	case OpRoomState:
		return DecodeRoomState(data)
	case OpStructured:
		return decodeStructured(data[1:], msgpack.Unmarshal)
	default:
		return nil, fmt.Errorf("%w: opcode 0x%02x", ErrInvalidMessage, data[0])
	}
}

// decodeStructured восстанавливает конкретный тип сообщения по
// дискриминатору. Сумма закрытая: неизвестный глагол - ошибка.
func decodeStructured(data []byte, unmarshal func([]byte, interface{}) error) (interface{}, error) {
	var head struct {
		Type string `json:"type" msgpack:"type"`
	}
	if err := unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var msg interface{}
	switch head.Type {
	case MsgClockSyncRequest:
		msg = &ClockSyncRequest{}
	case MsgClockSyncResponse:
		msg = &ClockSyncResponse{}
	case MsgCreateRoom:
		msg = &CreateRoomMessage{}
	case MsgRoomCreated:
		msg = &RoomCreatedMessage{}
	case MsgJoinRoom:
		msg = &JoinRoomMessage{}
	case MsgRoomJoined:
		msg = &RoomJoinedMessage{}
	case MsgLeaveRoom:
		msg = &LeaveRoomMessage{}
	case MsgClientInput:
		msg = &ClientInputMessage{}
	case MsgAddBody:
		msg = &AddBodyMessage{}
	case MsgRemoveBody:
		msg = &RemoveBodyMessage{}
	case MsgStartSimulation:
		msg = &StartSimulationMessage{}
	case MsgBodyEvent:
		msg = &BodyEventMessage{}
	case MsgSimulationStarted:
		msg = &SimulationStartedMessage{}
	case MsgCollisionEvents:
		msg = &CollisionEventsMessage{}
	case MsgError:
		msg = &ErrorMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, head.Type)
	}

	if err := unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// roomStateFrameSize возвращает точный размер кадра в байтах.
// Буфер выделяется один раз, без дозаписей.
func roomStateFrameSize(frame *RoomStateFrame) int {
	// Заголовок: опкод + тик + метка времени + флаги + число тел
	size := 1 + 4 + 8 + 1 + 2

	for i := range frame.Bodies {
		b := &frame.Bodies[i]
		if frame.NumericIDs {
			size += 2
		} else {
			size += 1 + len(b.ID)
		}
		size++ // маска полей
		if b.Mask&FieldPosition != 0 {
			size += 12
		}
		if b.Mask&FieldRotation != 0 {
			size += 7
		}
		if b.Mask&FieldLinearVelocity != 0 {
			size += 12
		}
		if b.Mask&FieldAngularVelocity != 0 {
			size += 12
		}
	}
	return size
}

// EncodeRoomState кодирует кадр room_state в бинарную раскладку:
// little-endian заголовок из 16 байт, затем тела с масками полей и
// кватернионами в кодировке smallest-three.
func EncodeRoomState(frame *RoomStateFrame) ([]byte, error) {
	if len(frame.Bodies) > math.MaxUint16 {
		return nil, fmt.Errorf("room_state: too many bodies (%d)", len(frame.Bodies))
	}

	buf := crunch.NewBuffer(make([]byte, roomStateFrameSize(frame)))

	var flags uint8
	if frame.IsDelta {
		flags |= 1 << 0
	}
	if frame.NumericIDs {
		flags |= 1 << 1
	}

	buf.WriteByteNext(OpRoomState)
	buf.WriteU32LENext([]uint32{frame.Tick})
	buf.WriteF64LENext([]float64{frame.Timestamp})
	buf.WriteByteNext(flags)
	buf.WriteU16LENext([]uint16{uint16(len(frame.Bodies))})

	for i := range frame.Bodies {
		b := &frame.Bodies[i]
		if frame.NumericIDs {
			buf.WriteU16LENext([]uint16{b.Index})
		} else {
			if len(b.ID) > math.MaxUint8 {
				return nil, fmt.Errorf("room_state: body id too long: %q", b.ID)
			}
			buf.WriteByteNext(uint8(len(b.ID)))
			buf.WriteBytesNext([]byte(b.ID))
		}

		buf.WriteByteNext(b.Mask)
		if b.Mask&FieldPosition != 0 {
			writeVector3(buf, b.State.Position)
		}
		if b.Mask&FieldRotation != 0 {
			writeQuaternion(buf, b.State.Rotation)
		}
		if b.Mask&FieldLinearVelocity != 0 {
			writeVector3(buf, b.State.LinearVelocity)
		}
		if b.Mask&FieldAngularVelocity != 0 {
			writeVector3(buf, b.State.AngularVelocity)
		}
	}

	return buf.Bytes(), nil
}

// DecodeRoomState разбирает бинарный кадр room_state. Поля, не
// отмеченные маской, получают значения по умолчанию (нулевые скорости,
// тождественная ориентация).
func DecodeRoomState(data []byte) (frame *RoomStateFrame, err error) {
	// crunch паникует при чтении за границей буфера; для обрезанного
	// кадра возвращаем протокольную ошибку.
	defer func() {
		if r := recover(); r != nil {
			frame, err = nil, fmt.Errorf("%w: truncated room_state frame", ErrInvalidMessage)
		}
	}()

	if len(data) < 16 || data[0] != OpRoomState {
		return nil, fmt.Errorf("%w: bad room_state header", ErrInvalidMessage)
	}

	buf := crunch.NewBuffer(data)
	buf.SeekByte(1, false)

	frame = &RoomStateFrame{
		Tick:      buf.ReadU32LENext(1)[0],
		Timestamp: buf.ReadF64LENext(1)[0],
	}
	flags := buf.ReadByteNext()
	frame.IsDelta = flags&(1<<0) != 0
	frame.NumericIDs = flags&(1<<1) != 0

	count := int(buf.ReadU16LENext(1)[0])
	frame.Bodies = make([]BodyUpdate, 0, count)

	for i := 0; i < count; i++ {
		var b BodyUpdate
		if frame.NumericIDs {
			b.Index = buf.ReadU16LENext(1)[0]
		} else {
			idLen := int64(buf.ReadByteNext())
			b.ID = string(buf.ReadBytesNext(idLen))
		}

		b.Mask = buf.ReadByteNext()
		b.State = NewBodyState()
		if b.Mask&FieldPosition != 0 {
			b.State.Position = readVector3(buf)
		}
		if b.Mask&FieldRotation != 0 {
			b.State.Rotation = readQuaternion(buf)
		}
		if b.Mask&FieldLinearVelocity != 0 {
			b.State.LinearVelocity = readVector3(buf)
		}
		if b.Mask&FieldAngularVelocity != 0 {
			b.State.AngularVelocity = readVector3(buf)
		}

		frame.Bodies = append(frame.Bodies, b)
	}

	return frame, nil
}

func writeVector3(buf *crunch.Buffer, v Vector3) {
	buf.WriteF32LENext([]float32{v.X, v.Y, v.Z})
}

func readVector3(buf *crunch.Buffer) Vector3 {
	c := buf.ReadF32LENext(3)
	return Vector3{X: c[0], Y: c[1], Z: c[2]}
}

// writeQuaternion кодирует единичный кватернион в 7 байт: индекс
// наибольшей по модулю компоненты и три остальные как масштабированные
// i16. q и -q задают одно вращение, поэтому знак наибольшей компоненты
// всегда приводится к положительному.
func writeQuaternion(buf *crunch.Buffer, q Quaternion) {
	c := [4]float32{q.X, q.Y, q.Z, q.W}

	largest := 0
	for i := 1; i < 4; i++ {
		if abs32(c[i]) > abs32(c[largest]) {
			largest = i
		}
	}
	if c[largest] < 0 {
		for i := range c {
			c[i] = -c[i]
		}
	}

	buf.WriteByteNext(uint8(largest))
	packed := make([]int16, 0, 3)
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		packed = append(packed, packQuatComponent(c[i]))
	}
	buf.WriteI16LENext(packed)
}

func readQuaternion(buf *crunch.Buffer) Quaternion {
	largest := int(buf.ReadByteNext())
	if largest > 3 {
		panic(fmt.Sprintf("room_state: quaternion component index %d", largest))
	}
	packed := buf.ReadI16LENext(3)

	var c [4]float32
	sumSq := float32(0)
	j := 0
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		c[i] = float32(packed[j]) / quatScale
		sumSq += c[i] * c[i]
		j++
	}
	c[largest] = float32(math.Sqrt(math.Max(0, float64(1-sumSq))))

	return Quaternion{X: c[0], Y: c[1], Z: c[2], W: c[3]}
}

func packQuatComponent(c float32) int16 {
	scaled := math.Round(float64(c) * float64(quatScale))
	if scaled > 32767 {
		scaled = 32767
	} else if scaled < -32767 {
		scaled = -32767
	}
	return int16(scaled)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
