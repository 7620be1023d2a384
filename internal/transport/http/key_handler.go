package httptransport

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"generation-gateway/internal/keypool"
	"generation-gateway/internal/service"
)

// ListKeys godoc
// @Summary Key pool state of a provider
// @Tags keys
// @Produce json
// @Param provider path string true "provider slug"
// @Success 200 {array} keypool.KeyView
// @Failure 404 {object} apiError
// @Router /api/v1/providers/{provider}/keys [get]
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListKeys(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		if errors.Is(err, service.ErrProviderNotFound) {
			writeErr(w, http.StatusNotFound, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("http: list keys failed")
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	if keys == nil {
		keys = []keypool.KeyView{}
	}
	writeJSON(w, http.StatusOK, keys)
}

// ResetKey godoc
// @Summary Put a key back into rotation
// @Tags keys
// @Param id path string true "key id (uuid)"
// @Success 204
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /api/v1/keys/{id}/reset [post]
func (h *Handler) ResetKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.keys.ResetKey(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrKeyNotFound) {
			writeErr(w, http.StatusNotFound, "key not found")
			return
		}
		h.log.Error().Err(err).Str("key_id", id.String()).Msg("http: reset key failed")
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
