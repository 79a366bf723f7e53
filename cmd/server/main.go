package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bodynet/internal/protocol"
	"bodynet/internal/room"
	"bodynet/internal/server"
)

func main() {
	var (
		addr        = flag.String("addr", "", "адрес прослушивания (по умолчанию :8080)")
		netsim      = flag.String("netsim", "", "профиль имитации сети: mobile_3g, mobile_4g, wifi_poor, high_latency")
		inputPolicy = flag.String("input-policy", "immediate", "привязка ввода к тикам: immediate или client_tick")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmsgprefix)

	if *addr == "" {
		if env := os.Getenv("BODYNET_ADDR"); env != "" {
			*addr = env
		} else {
			*addr = fmt.Sprintf(":%d", protocol.DefaultPort)
		}
	}

	policy := room.InputPolicyImmediate
	if *inputPolicy == "client_tick" {
		policy = room.InputPolicyClientTick
	}

	opts := []server.Option{server.WithInputPolicy(policy)}
	if *netsim != "" {
		opts = append(opts, server.WithNetworkSimulation(*netsim))
	}

	srv := server.New(*addr, logger, opts...)

	// Останов по сигналу: все комнаты гасятся до выхода процесса
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		logger.Printf("[Main] Получен сигнал остановки")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Printf("[Main] Ошибка остановки: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil {
		logger.Printf("[Main] Сервер завершился: %v", err)
	}
}
