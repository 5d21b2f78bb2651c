package api

import (
	"log/slog"

	"github.com/shaiso/Konveyer/internal/logstore"
	"github.com/shaiso/Konveyer/internal/mq"
	"github.com/shaiso/Konveyer/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	dagRepo   *repo.DagRepo
	runRepo   *repo.DagRunRepo
	tiRepo    *repo.TaskInstanceRepo
	poolRepo  *repo.PoolRepo
	publisher *mq.Publisher
	logs      *logstore.Store
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	DagRepo   *repo.DagRepo
	RunRepo   *repo.DagRunRepo
	TIRepo    *repo.TaskInstanceRepo
	PoolRepo  *repo.PoolRepo
	Publisher *mq.Publisher
	Logs      *logstore.Store
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		dagRepo:   cfg.DagRepo,
		runRepo:   cfg.RunRepo,
		tiRepo:    cfg.TIRepo,
		poolRepo:  cfg.PoolRepo,
		publisher: cfg.Publisher,
		logs:      cfg.Logs,
		logger:    cfg.Logger,
	}
}
