package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/Konveyer/internal/domain"
)

// ListPools возвращает все пулы с текущей занятостью слотов.
// GET /api/v1/pools
func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.poolRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	occupied, err := h.tiRepo.OccupiedPoolSlots(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PoolResponse, len(pools))
	for i, p := range pools {
		result[i] = PoolFromDomain(p, occupied[p.Name])
	}

	List(w, result, len(result))
}

// CreatePool создаёт новый пул.
// POST /api/v1/pools
func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if req.Slots < 1 {
		BadRequest(w, "slots must be positive")
		return
	}

	pool := &domain.Pool{
		Name:        req.Name,
		Slots:       req.Slots,
		Description: req.Description,
	}

	if err := h.poolRepo.Create(r.Context(), pool); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	Created(w, PoolFromDomain(*pool, 0))
}

// GetPool возвращает пул по имени.
// GET /api/v1/pools/{name}
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.poolRepo.GetByName(r.Context(), r.PathValue("name"))
	if HandleRepoError(w, h.logger, err, "pool not found") {
		return
	}

	occupied, err := h.tiRepo.OccupiedPoolSlots(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Success(w, PoolFromDomain(*pool, occupied[pool.Name]))
}

// UpdatePool обновляет слоты или описание пула.
// PATCH /api/v1/pools/{name}
func (h *Handler) UpdatePool(w http.ResponseWriter, r *http.Request) {
	var req UpdatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	pool, err := h.poolRepo.GetByName(r.Context(), r.PathValue("name"))
	if HandleRepoError(w, h.logger, err, "pool not found") {
		return
	}

	if req.Slots != nil {
		if *req.Slots < 1 {
			BadRequest(w, "slots must be positive")
			return
		}
		pool.Slots = *req.Slots
	}
	if req.Description != nil {
		pool.Description = *req.Description
	}

	if err := h.poolRepo.Update(r.Context(), pool); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, PoolFromDomain(*pool, 0))
}

// DeletePool удаляет пул. default_pool удалить нельзя.
// DELETE /api/v1/pools/{name}
func (h *Handler) DeletePool(w http.ResponseWriter, r *http.Request) {
	if err := h.poolRepo.Delete(r.Context(), r.PathValue("name")); err != nil {
		HandleRepoError(w, h.logger, err, "pool not found")
		return
	}

	NoContent(w)
}
