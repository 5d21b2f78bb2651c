package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Konveyer/internal/domain"
	"github.com/shaiso/Konveyer/internal/repo"
)

// ListRuns возвращает запуски dag с фильтрацией.
// GET /api/v1/dags/{dag_id}/runs?state=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	dagID := r.PathValue("dag_id")

	_, err := h.dagRepo.GetByID(r.Context(), dagID)
	if HandleRepoError(w, h.logger, err, "dag not found") {
		return
	}

	filter := repo.RunFilter{
		DagID:  dagID,
		State:  r.URL.Query().Get("state"),
		Limit:  parseIntQuery(r, "limit", defaultPageLimit),
		Offset: parseIntQuery(r, "offset", 0),
	}

	runs, total, err := h.runRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]DagRunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, total)
}

// TriggerRun создаёт ручной запуск dag.
// POST /api/v1/dags/{dag_id}/runs
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	dagID := r.PathValue("dag_id")

	var req TriggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	dag, err := h.dagRepo.GetByID(r.Context(), dagID)
	if HandleRepoError(w, h.logger, err, "dag not found") {
		return
	}

	if !dag.IsActive {
		InvalidState(w, "dag is not active")
		return
	}

	version, err := h.dagRepo.GetLatestVersion(r.Context(), dagID)
	if HandleRepoError(w, h.logger, err, "dag has no versions") {
		return
	}

	conf, err := resolveConf(version.Spec.Inputs, req.Conf)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	logicalDate := time.Now().UTC()
	if req.LogicalDate != nil {
		logicalDate = req.LogicalDate.UTC()
	}

	runID := req.RunID
	if runID == "" {
		runID = domain.ManualRunID(uuid.NewString())
	}

	// Для manual run интервал данных вырожден в точку logical date
	run := &domain.DagRun{
		DagID:             dagID,
		RunID:             runID,
		Version:           version.Version,
		State:             domain.DagRunStateQueued,
		RunType:           domain.RunTypeManual,
		LogicalDate:       logicalDate,
		DataIntervalStart: logicalDate,
		DataIntervalEnd:   logicalDate,
		Conf:              conf,
	}

	if err := h.runRepo.Create(r.Context(), run); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	// Публикуем событие в очередь
	if h.publisher != nil {
		if err := h.publisher.PublishRunQueued(r.Context(), run.DagID, run.RunID); err != nil {
			h.logger.Warn("failed to publish run.queued",
				"dag_id", run.DagID,
				"run_id", run.RunID,
				"error", err,
			)
		}
	}

	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/dags/{dag_id}/runs/{run_id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runRepo.Get(r.Context(), r.PathValue("dag_id"), r.PathValue("run_id"))
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// CancelRun останавливает незавершённый run.
// POST /api/v1/dags/{dag_id}/runs/{run_id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runRepo.Get(r.Context(), r.PathValue("dag_id"), r.PathValue("run_id"))
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	if run.IsFinished() {
		InvalidState(w, "run is already finished")
		return
	}

	run.MarkFailed("cancelled by user")

	if err := h.runRepo.Update(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, RunFromDomain(*run))
}

// resolveConf проверяет входные параметры run против spec.inputs
// и подставляет default-значения.
func resolveConf(inputs map[string]domain.InputDef, conf map[string]any) (map[string]any, error) {
	if len(inputs) == 0 {
		return conf, nil
	}

	resolved := make(map[string]any, len(conf))
	for k, v := range conf {
		resolved[k] = v
	}

	for name, def := range inputs {
		if _, ok := resolved[name]; ok {
			continue
		}
		if def.Default != nil {
			resolved[name] = def.Default
			continue
		}
		if def.Required {
			return nil, fmt.Errorf("conf: required input %q is missing", name)
		}
	}

	return resolved, nil
}
