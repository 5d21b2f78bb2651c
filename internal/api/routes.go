package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Dags
	mux.Handle("GET /api/v1/dags", chain(http.HandlerFunc(h.ListDags)))
	mux.Handle("POST /api/v1/dags", chain(http.HandlerFunc(h.CreateDag)))
	mux.Handle("GET /api/v1/dags/{dag_id}", chain(http.HandlerFunc(h.GetDag)))
	mux.Handle("PATCH /api/v1/dags/{dag_id}", chain(http.HandlerFunc(h.UpdateDag)))

	// Dag Versions
	mux.Handle("GET /api/v1/dags/{dag_id}/versions", chain(http.HandlerFunc(h.ListDagVersions)))
	mux.Handle("POST /api/v1/dags/{dag_id}/versions", chain(http.HandlerFunc(h.CreateDagVersion)))
	mux.Handle("GET /api/v1/dags/{dag_id}/versions/{version}", chain(http.HandlerFunc(h.GetDagVersion)))

	// Dag Runs
	mux.Handle("GET /api/v1/dags/{dag_id}/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/dags/{dag_id}/runs", chain(http.HandlerFunc(h.TriggerRun)))
	mux.Handle("GET /api/v1/dags/{dag_id}/runs/{run_id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/dags/{dag_id}/runs/{run_id}/cancel", chain(http.HandlerFunc(h.CancelRun)))

	// Task Instances
	mux.Handle("GET /api/v1/dags/{dag_id}/runs/{run_id}/instances", chain(http.HandlerFunc(h.ListRunInstances)))
	mux.Handle("GET /api/v1/dags/{dag_id}/runs/{run_id}/instances/{task_id}", chain(http.HandlerFunc(h.GetInstance)))
	mux.Handle("GET /api/v1/dags/{dag_id}/runs/{run_id}/instances/{task_id}/rendered", chain(http.HandlerFunc(h.GetInstanceRendered)))
	mux.Handle("GET /api/v1/dags/{dag_id}/runs/{run_id}/instances/{task_id}/logs", chain(http.HandlerFunc(h.GetInstanceLogs)))
	mux.Handle("GET /api/v1/dags/{dag_id}/runs/{run_id}/instances/{task_id}/links", chain(http.HandlerFunc(h.ListInstanceLinks)))
	mux.Handle("GET /api/v1/dags/{dag_id}/runs/{run_id}/instances/{task_id}/links/{name}", chain(http.HandlerFunc(h.GetInstanceLink)))

	// Pools
	mux.Handle("GET /api/v1/pools", chain(http.HandlerFunc(h.ListPools)))
	mux.Handle("POST /api/v1/pools", chain(http.HandlerFunc(h.CreatePool)))
	mux.Handle("GET /api/v1/pools/{name}", chain(http.HandlerFunc(h.GetPool)))
	mux.Handle("PATCH /api/v1/pools/{name}", chain(http.HandlerFunc(h.UpdatePool)))
	mux.Handle("DELETE /api/v1/pools/{name}", chain(http.HandlerFunc(h.DeletePool)))
}
