// Бот-клиент для нагрузочных прогонов: заходит в комнату, толкает свое
// тело случайными импульсами и считает принятые кадры состояния.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"bodynet/internal/client"
	"bodynet/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/ws", "адрес сервера синхронизации")
		roomID   = flag.String("room", "bot-room", "идентификатор комнаты")
		duration = flag.Duration("duration", 30*time.Second, "длительность прогона")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	c, err := client.Dial(*url, logger)
	if err != nil {
		logger.Fatalf("[Bot] Подключение: %v", err)
	}
	defer c.Close()

	bodyID := fmt.Sprintf("bot-%d", rand.Intn(100000))

	// Комната может уже существовать - тогда просто заходим
	err = c.CreateRoom(*roomID, []protocol.BodyDescriptor{
		{
			ID:     "ground",
			Shape:  protocol.ShapeDescriptor{Type: protocol.ShapeBox, Box: &protocol.BoxParams{HalfExtents: protocol.Vector3{X: 50, Y: 0.5, Z: 50}}},
			Motion: protocol.MotionStatic,
			Position: protocol.Vector3{Y: -0.5},
			Rotation: protocol.QuaternionIdentity(),
			Friction: 0.8,
		},
	}, nil, nil)
	if err != nil {
		logger.Printf("[Bot] create_room: %v", err)
	}

	joined, err := c.JoinRoom(*roomID)
	if err != nil {
		logger.Fatalf("[Bot] join_room: %v", err)
	}
	logger.Printf("[Bot] В комнате %s как %s, тел в снапшоте: %d",
		joined.RoomID, joined.ClientID, len(joined.Snapshot.Bodies))

	c.AddBody(protocol.BodyDescriptor{
		ID:     bodyID,
		Shape:  protocol.ShapeDescriptor{Type: protocol.ShapeSphere, Sphere: &protocol.SphereParams{Radius: 0.5}},
		Motion: protocol.MotionDynamic,
		Position: protocol.Vector3{Y: 2},
		Rotation: protocol.QuaternionIdentity(),
		Mass:     1,
		Friction: 0.5,
	})
	c.SetLocalBody(bodyID, true)
	c.StartSimulation()

	var frames atomic.Uint64
	c.OnWorldState(func(tick uint32, ts float64, locals, remotes []protocol.BodySnapshot) {
		frames.Add(1)
	})
	c.OnCollisionEvents(func(tick uint32, events []protocol.CollisionEvent) {
		for _, ev := range events {
			if ev.Type == protocol.CollisionStarted {
				logger.Printf("[Bot] Контакт %s / %s (импульс %.2f)", ev.BodyA, ev.BodyB, ev.Impulse)
			}
		}
	})

	impulses := time.NewTicker(500 * time.Millisecond)
	defer impulses.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()
	deadline := time.After(*duration)

	for {
		select {
		case <-impulses.C:
			c.QueueInput(protocol.InputAction{
				Kind:   protocol.ActionApplyImpulse,
				BodyID: bodyID,
				Vector: protocol.Vector3{
					X: rand.Float32()*10 - 5,
					Y: rand.Float32() * 4,
					Z: rand.Float32()*10 - 5,
				},
			})

		case <-report.C:
			sent, received := c.Traffic()
			logger.Printf("[Bot] Кадров: %d, отправлено: %d Б, принято: %d Б, RTT: %.1f мс, offset: %.1f мс",
				frames.Load(), sent, received, c.ClockSync().RTT(), c.ClockSync().Offset())

		case <-deadline:
			logger.Printf("[Bot] Прогон завершен, кадров состояния: %d", frames.Load())
			return
		}
	}
}
