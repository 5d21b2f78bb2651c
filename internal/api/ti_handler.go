package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/shaiso/Konveyer/internal/domain"
	"github.com/shaiso/Konveyer/internal/engine"
	"github.com/shaiso/Konveyer/internal/logstore"
	"github.com/shaiso/Konveyer/internal/repo"
)

// ListRunInstances возвращает task instances запуска.
// GET /api/v1/dags/{dag_id}/runs/{run_id}/instances
func (h *Handler) ListRunInstances(w http.ResponseWriter, r *http.Request) {
	dagID := r.PathValue("dag_id")
	runID := r.PathValue("run_id")

	_, err := h.runRepo.Get(r.Context(), dagID, runID)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	instances, err := h.tiRepo.ListByRun(r.Context(), dagID, runID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskInstanceResponse, len(instances))
	for i, ti := range instances {
		result[i] = TIFromDomain(ti)
	}

	List(w, result, len(result))
}

// GetInstance возвращает task instance.
// Для mapped задач map_index выбирает элемент группы; без map_index
// возвращается весь список instances задачи.
// GET /api/v1/dags/{dag_id}/runs/{run_id}/instances/{task_id}?map_index=...
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	dagID := r.PathValue("dag_id")
	runID := r.PathValue("run_id")
	taskID := r.PathValue("task_id")

	if r.URL.Query().Get("map_index") == "" {
		instances, err := h.tiRepo.ListByTask(r.Context(), dagID, runID, taskID)
		if HandleRepoError(w, h.logger, err, "") {
			return
		}
		if len(instances) == 0 {
			NotFound(w, "task instance not found")
			return
		}

		result := make([]TaskInstanceResponse, len(instances))
		for i, ti := range instances {
			result[i] = TIFromDomain(ti)
		}
		List(w, result, len(result))
		return
	}

	mapIndex, ok := parseMapIndex(w, r)
	if !ok {
		return
	}

	ti, err := h.tiRepo.Get(r.Context(), dagID, runID, taskID, mapIndex)
	if HandleRepoError(w, h.logger, err, "task instance not found") {
		return
	}

	Success(w, TIFromDomain(*ti))
}

// GetInstanceRendered возвращает снапшот отрендеренной конфигурации.
// GET /api/v1/dags/{dag_id}/runs/{run_id}/instances/{task_id}/rendered?map_index=...
func (h *Handler) GetInstanceRendered(w http.ResponseWriter, r *http.Request) {
	mapIndex, ok := parseMapIndex(w, r)
	if !ok {
		return
	}

	ti, err := h.tiRepo.Get(r.Context(),
		r.PathValue("dag_id"), r.PathValue("run_id"), r.PathValue("task_id"), mapIndex)
	if HandleRepoError(w, h.logger, err, "task instance not found") {
		return
	}

	if ti.RenderedConfig == nil {
		InvalidState(w, "task instance has no rendered config yet")
		return
	}

	Success(w, ti.RenderedConfig)
}

// GetInstanceLogs возвращает лог попытки task instance.
// GET /api/v1/dags/{dag_id}/runs/{run_id}/instances/{task_id}/logs?map_index=...&try_number=...&full_content=...
func (h *Handler) GetInstanceLogs(w http.ResponseWriter, r *http.Request) {
	mapIndex, ok := parseMapIndex(w, r)
	if !ok {
		return
	}

	ti, err := h.tiRepo.Get(r.Context(),
		r.PathValue("dag_id"), r.PathValue("run_id"), r.PathValue("task_id"), mapIndex)
	if HandleRepoError(w, h.logger, err, "task instance not found") {
		return
	}

	// По умолчанию — лог последней попытки
	tryNumber := parseIntQuery(r, "try_number", ti.TryNumber)
	if tryNumber < 1 {
		BadRequest(w, "task instance has no attempts yet")
		return
	}

	fullContent := false
	if v := r.URL.Query().Get("full_content"); v != "" {
		fullContent, err = strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "invalid full_content")
			return
		}
	}

	content, err := h.logs.Read(logstore.Ref{
		DagID:     ti.DagID,
		RunID:     ti.RunID,
		TaskID:    ti.TaskID,
		MapIndex:  ti.MapIndex,
		TryNumber: tryNumber,
	}, fullContent)
	if err != nil {
		if errors.Is(err, logstore.ErrNotFound) {
			NotFound(w, "log not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Success(w, LogContentResponse{
		Content:   content.Text,
		Truncated: content.Truncated,
		TryNumber: tryNumber,
	})
}

// ListInstanceLinks возвращает имена внешних ссылок задачи.
// GET /api/v1/dags/{dag_id}/runs/{run_id}/instances/{task_id}/links
func (h *Handler) ListInstanceLinks(w http.ResponseWriter, r *http.Request) {
	task, _, _, err := h.loadTaskDef(r)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	List(w, engine.LinkNames(task), len(task.ExtraLinks))
}

// GetInstanceLink лениво рендерит именованную внешнюю ссылку.
// Ошибки рендеринга отдаются клиенту в error payload, а не валят instance.
// GET /api/v1/dags/{dag_id}/runs/{run_id}/instances/{task_id}/links/{name}?map_index=...
func (h *Handler) GetInstanceLink(w http.ResponseWriter, r *http.Request) {
	mapIndex, ok := parseMapIndex(w, r)
	if !ok {
		return
	}

	task, run, _, err := h.loadTaskDef(r)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	ti, err := h.tiRepo.Get(r.Context(), run.DagID, run.RunID, task.TaskID, mapIndex)
	if HandleRepoError(w, h.logger, err, "task instance not found") {
		return
	}

	instances, err := h.tiRepo.ListByRun(r.Context(), run.DagID, run.RunID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	linkCtx := &engine.LinkContext{
		Context:   buildRunContext(run, instances),
		TaskID:    task.TaskID,
		TryNumber: ti.TryNumber,
	}

	name := r.PathValue("name")
	url, err := engine.ResolveExtraLink(task, name, linkCtx)
	if err != nil {
		if errors.Is(err, engine.ErrLinkNotFound) {
			NotFound(w, err.Error())
			return
		}
		InvalidState(w, err.Error())
		return
	}

	Success(w, ExtraLinkResponse{Name: name, URL: url})
}

// loadTaskDef загружает task def по параметрам пути.
func (h *Handler) loadTaskDef(r *http.Request) (*domain.TaskDef, *domain.DagRun, *domain.DagVersion, error) {
	run, err := h.runRepo.Get(r.Context(), r.PathValue("dag_id"), r.PathValue("run_id"))
	if err != nil {
		return nil, nil, nil, err
	}

	version, err := h.dagRepo.GetVersion(r.Context(), run.DagID, run.Version)
	if err != nil {
		return nil, nil, nil, err
	}

	task := version.Spec.FindTask(r.PathValue("task_id"))
	if task == nil {
		return nil, nil, nil, repo.ErrNotFound
	}

	return task, run, version, nil
}

// buildRunContext восстанавливает шаблонный контекст run из instances.
// Outputs доступны для задач, чья группа достигла терминального статуса.
func buildRunContext(run *domain.DagRun, instances []domain.TaskInstance) *engine.Context {
	ctx := engine.NewContext(run.DagID, run.RunID,
		run.LogicalDate, run.DataIntervalStart, run.DataIntervalEnd, run.Conf)

	byTask := make(map[string][]domain.TaskInstance)
	for _, ti := range instances {
		byTask[ti.TaskID] = append(byTask[ti.TaskID], ti)
	}

	for taskID, group := range byTask {
		states := make([]domain.TIState, len(group))
		for i, ti := range group {
			states[i] = ti.State
		}
		agg := domain.ReduceGroupState(states)
		if !agg.IsTerminal() {
			continue
		}

		if len(group) == 1 && group[0].MapIndex == domain.MapIndexNone {
			ctx.AddTaskResult(taskID, group[0].Outputs, string(agg))
			continue
		}

		items := make([]any, len(group))
		for _, ti := range group {
			if ti.MapIndex >= 0 && ti.MapIndex < len(items) {
				items[ti.MapIndex] = ti.Outputs
			}
		}
		ctx.AddTaskResult(taskID, map[string]any{"items": items}, string(agg))
	}

	return ctx
}

// parseMapIndex парсит map_index из query (по умолчанию -1).
func parseMapIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("map_index")
	if s == "" {
		return domain.MapIndexNone, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < domain.MapIndexNone {
		BadRequest(w, "invalid map_index")
		return 0, false
	}
	return n, true
}
