// Konveyer Scheduler — создаёт scheduled runs и диспетчеризует задачи.
//
// Scheduler:
//   - По тику выбирает due dags и создаёт QUEUED runs
//   - Dispatcher переводит SCHEDULED instances в QUEUED в пределах лимитов
//   - Лидерство между репликами — через pg advisory lock
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Konveyer/internal/mq"
	"github.com/shaiso/Konveyer/internal/repo"
	"github.com/shaiso/Konveyer/internal/scheduler"
	"github.com/shaiso/Konveyer/internal/telemetry"
)

const schedLockKey int64 = 424243

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting konveyer-scheduler")

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

	dagRepo := repo.NewDagRepo(pool)
	runRepo := repo.NewDagRunRepo(pool)
	tiRepo := repo.NewTaskInstanceRepo(pool)
	poolRepo := repo.NewPoolRepo(pool)

	if err := poolRepo.EnsureDefault(ctx); err != nil {
		logger.Warn("failed to ensure default pool", "error", err)
	}

	// RabbitMQ
	var publisher *mq.Publisher
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, consumers will rely on polling", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	sched := scheduler.New(scheduler.Config{
		DagRepo:   dagRepo,
		RunRepo:   runRepo,
		Publisher: publisher,
		Logger:    logger,
	})

	dispatcher := scheduler.NewDispatcher(scheduler.DispatcherConfig{
		TIRepo:    tiRepo,
		DagRepo:   dagRepo,
		PoolRepo:  poolRepo,
		Publisher: publisher,
		Logger:    logger,
	})

	// scheduler + dispatcher под advisory lock: работает только лидер.
	// Lock — сессионный, поэтому держим для него выделенное соединение
	// из пула на всё время лидерства: захват, проверка и освобождение
	// происходят в одной сессии.
	go func() {
		tk := time.NewTicker(1 * time.Second)
		defer tk.Stop()

		var lockConn *pgxpool.Conn
		var dispatchCancel context.CancelFunc

		releaseLeadership := func() {
			if dispatchCancel != nil {
				dispatchCancel()
				dispatchCancel = nil
			}
			if lockConn != nil {
				_, _ = lockConn.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
				lockConn.Release()
				lockConn = nil
			}
		}
		defer releaseLeadership()

		for {
			select {
			case <-tk.C:
				// пытаемся стать лидером
				if lockConn == nil {
					conn, err := pool.Acquire(ctx)
					if err != nil {
						logger.Warn("failed to acquire lock connection", "error", err)
						continue
					}

					var ok bool
					if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
						logger.Warn("advisory lock error", "error", err)
						conn.Release()
						continue
					}
					if !ok {
						// лидер — другая реплика
						conn.Release()
						continue
					}

					lockConn = conn
					logger.Info("became scheduler leader")

					var dctx context.Context
					dctx, dispatchCancel = context.WithCancel(ctx)
					go func() {
						if err := dispatcher.Run(dctx, 1*time.Second); err != nil && dctx.Err() == nil {
							logger.Error("dispatcher stopped", "error", err)
						}
					}()
				}

				// Сессия с lock'ом умерла — лидерство утрачено вместе с ней
				if err := lockConn.Ping(ctx); err != nil {
					logger.Warn("leader connection lost, stepping down", "error", err)
					releaseLeadership()
					continue
				}

				if err := sched.Tick(ctx); err != nil {
					logger.Error("scheduler tick failed", "error", err)
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("konveyer-scheduler stopped")
}
