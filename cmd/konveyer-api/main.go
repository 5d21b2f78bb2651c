// Konveyer API — HTTP API для управления dags, runs и pools.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Konveyer/internal/api"
	"github.com/shaiso/Konveyer/internal/logstore"
	"github.com/shaiso/Konveyer/internal/mq"
	"github.com/shaiso/Konveyer/internal/repo"
	"github.com/shaiso/Konveyer/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "konveyer_api_http_requests_total",
		Help: "Total HTTP requests handled by konveyer_api",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting konveyer-api")

	// Подключаемся к базе данных
	pool, err := repo.NewPool(context.Background())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Создаём репозитории
	dagRepo := repo.NewDagRepo(pool)
	runRepo := repo.NewDagRunRepo(pool)
	tiRepo := repo.NewTaskInstanceRepo(pool)
	poolRepo := repo.NewPoolRepo(pool)

	if err := poolRepo.EnsureDefault(context.Background()); err != nil {
		logger.Warn("failed to ensure default pool", "error", err)
	}

	// RabbitMQ (опционально: без него manual runs подберёт polling оркестратора)
	var publisher *mq.Publisher
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, manual runs will rely on orchestrator polling", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(context.Background(), mqConn); err != nil {
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

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		DagRepo:   dagRepo,
		RunRepo:   runRepo,
		TIRepo:    tiRepo,
		PoolRepo:  poolRepo,
		Publisher: publisher,
		Logs:      logs,
		Logger:    logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Ожидаем сигнал завершения
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
