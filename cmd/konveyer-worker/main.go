// Konveyer Worker — выполняет попытки task instances.
//
// Worker:
//   - Получает QUEUED instances из RabbitMQ
//   - Выполняет одну попытку в зависимости от типа (http, delay, transform)
//   - Пишет лог попытки в logstore
//   - Публикует результат для orchestrator
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Konveyer/internal/logstore"
	"github.com/shaiso/Konveyer/internal/mq"
	"github.com/shaiso/Konveyer/internal/repo"
	"github.com/shaiso/Konveyer/internal/telemetry"
	"github.com/shaiso/Konveyer/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting konveyer-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	tiRepo := repo.NewTaskInstanceRepo(pool)
	runRepo := repo.NewDagRunRepo(pool)
	dagRepo := repo.NewDagRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
	var mqConn *mq.Connection
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Хранилище логов попыток
	logs, err := logstore.NewStore(logstore.DefaultBase())
	if err != nil {
		logger.Error("failed to init log store", "error", err)
		os.Exit(1)
	}

	// Создаём worker
	w := worker.New(worker.Config{
		TIRepo:    tiRepo,
		RunRepo:   runRepo,
		DagRepo:   dagRepo,
		Publisher: publisher,
		Conn:      mqConn,
		Logs:      logs,
		Logger:    logger,
	})

	// Запускаем worker
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("WORKER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем worker
	w.Stop()
	logger.Info("konveyer-worker stopped")
}
