package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shaiso/Konveyer/internal/domain"
	"github.com/shaiso/Konveyer/internal/engine"
	"github.com/shaiso/Konveyer/internal/repo"
	"github.com/shaiso/Konveyer/internal/scheduler"
)

const defaultPageLimit = 50

// ListDags возвращает список dags с фильтрацией.
// GET /api/v1/dags?is_paused=...&is_active=...&limit=...&offset=...
func (h *Handler) ListDags(w http.ResponseWriter, r *http.Request) {
	filter := repo.DagFilter{
		Limit:  parseIntQuery(r, "limit", defaultPageLimit),
		Offset: parseIntQuery(r, "offset", 0),
	}

	if v := r.URL.Query().Get("is_paused"); v != "" {
		paused, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "invalid is_paused")
			return
		}
		filter.IsPaused = &paused
	}

	if v := r.URL.Query().Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "invalid is_active")
			return
		}
		filter.IsActive = &active
	}

	dags, total, err := h.dagRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]DagResponse, len(dags))
	for i, d := range dags {
		result[i] = DagFromDomain(d)
	}

	List(w, result, total)
}

// CreateDag регистрирует новый dag с первой версией спецификации.
// POST /api/v1/dags
func (h *Handler) CreateDag(w http.ResponseWriter, r *http.Request) {
	var req CreateDagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.DagID == "" {
		BadRequest(w, "dag_id is required")
		return
	}

	if err := engine.Validate(&req.Spec); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if req.CronExpr != "" {
		if err := scheduler.ValidateCronExpr(req.CronExpr); err != nil {
			BadRequest(w, err.Error())
			return
		}
	}

	dag := &domain.Dag{
		DagID:          req.DagID,
		Description:    req.Description,
		IsPaused:       req.IsPaused,
		IsActive:       true,
		CronExpr:       req.CronExpr,
		IntervalSec:    req.IntervalSec,
		Timezone:       req.Timezone,
		MaxActiveRuns:  req.MaxActiveRuns,
		MaxActiveTasks: req.MaxActiveTasks,
	}
	if dag.Timezone == "" {
		dag.Timezone = "UTC"
	}

	if dag.HasSchedule() {
		due, err := scheduler.InitialNextDue(dag, time.Now())
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		dag.NextDueAt = &due
	}

	if err := h.dagRepo.Create(r.Context(), dag); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	if _, err := h.dagRepo.CreateVersion(r.Context(), dag.DagID, req.Spec); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, DagFromDomain(*dag))
}

// GetDag возвращает dag по ID.
// GET /api/v1/dags/{dag_id}
func (h *Handler) GetDag(w http.ResponseWriter, r *http.Request) {
	dag, err := h.dagRepo.GetByID(r.Context(), r.PathValue("dag_id"))
	if HandleRepoError(w, h.logger, err, "dag not found") {
		return
	}

	Success(w, DagFromDomain(*dag))
}

// UpdateDag частично обновляет dag (пауза, расписание, лимиты).
// PATCH /api/v1/dags/{dag_id}
func (h *Handler) UpdateDag(w http.ResponseWriter, r *http.Request) {
	var req UpdateDagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	dag, err := h.dagRepo.GetByID(r.Context(), r.PathValue("dag_id"))
	if HandleRepoError(w, h.logger, err, "dag not found") {
		return
	}

	scheduleChanged := false

	if req.Description != nil {
		dag.Description = *req.Description
	}
	if req.IsPaused != nil {
		dag.IsPaused = *req.IsPaused
	}
	if req.CronExpr != nil {
		if *req.CronExpr != "" {
			if err := scheduler.ValidateCronExpr(*req.CronExpr); err != nil {
				BadRequest(w, err.Error())
				return
			}
		}
		dag.CronExpr = *req.CronExpr
		scheduleChanged = true
	}
	if req.IntervalSec != nil {
		dag.IntervalSec = *req.IntervalSec
		scheduleChanged = true
	}
	if req.Timezone != nil {
		dag.Timezone = *req.Timezone
		scheduleChanged = true
	}
	if req.MaxActiveRuns != nil {
		dag.MaxActiveRuns = *req.MaxActiveRuns
	}
	if req.MaxActiveTasks != nil {
		dag.MaxActiveTasks = *req.MaxActiveTasks
	}

	if scheduleChanged {
		if dag.HasSchedule() {
			due, err := scheduler.InitialNextDue(dag, time.Now())
			if err != nil {
				BadRequest(w, err.Error())
				return
			}
			dag.NextDueAt = &due
		} else {
			dag.NextDueAt = nil
		}
	}

	if err := h.dagRepo.Update(r.Context(), dag); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, DagFromDomain(*dag))
}

// ListDagVersions возвращает список версий dag.
// GET /api/v1/dags/{dag_id}/versions
func (h *Handler) ListDagVersions(w http.ResponseWriter, r *http.Request) {
	dagID := r.PathValue("dag_id")

	_, err := h.dagRepo.GetByID(r.Context(), dagID)
	if HandleRepoError(w, h.logger, err, "dag not found") {
		return
	}

	versions, err := h.dagRepo.ListVersions(r.Context(), dagID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]DagVersionResponse, len(versions))
	for i, v := range versions {
		result[i] = DagVersionFromDomain(v)
	}

	List(w, result, len(result))
}

// CreateDagVersion создаёт новую версию спецификации dag.
// POST /api/v1/dags/{dag_id}/versions
func (h *Handler) CreateDagVersion(w http.ResponseWriter, r *http.Request) {
	dagID := r.PathValue("dag_id")

	var req CreateDagVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := engine.Validate(&req.Spec); err != nil {
		BadRequest(w, err.Error())
		return
	}

	_, err := h.dagRepo.GetByID(r.Context(), dagID)
	if HandleRepoError(w, h.logger, err, "dag not found") {
		return
	}

	version, err := h.dagRepo.CreateVersion(r.Context(), dagID, req.Spec)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, DagVersionFromDomain(*version))
}

// GetDagVersion возвращает конкретную версию dag.
// GET /api/v1/dags/{dag_id}/versions/{version}
func (h *Handler) GetDagVersion(w http.ResponseWriter, r *http.Request) {
	versionNum, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		BadRequest(w, "invalid version number")
		return
	}

	version, err := h.dagRepo.GetVersion(r.Context(), r.PathValue("dag_id"), versionNum)
	if HandleRepoError(w, h.logger, err, "dag version not found") {
		return
	}

	Success(w, DagVersionFromDomain(*version))
}

// parseIntQuery парсит целочисленный query параметр с дефолтным значением.
func parseIntQuery(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
