package www

import (
	"net/http"
	"strconv"

	"tillsync/store"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) apiListConflicts(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	var (
		conflicts []store.ConflictRecord
		err       error
	)
	if r.URL.Query().Get("all") == "true" {
		conflicts, err = db.ListConflicts()
	} else {
		conflicts, err = db.ListUnresolvedConflicts()
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, conflicts)
}

func (h *Handlers) apiConflictDiff(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad conflict id")
		return
	}
	rec, diff, err := h.engine.Resolver().DiffFor(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conflict": rec,
		"diff":     diff,
	})
}

func (h *Handlers) apiResolveConflict(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad conflict id")
		return
	}
	var body struct {
		Resolution string `json:"resolution"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	switch body.Resolution {
	case store.ResolutionKeepLocal, store.ResolutionKeepServer, store.ResolutionSkip:
	default:
		respondError(w, http.StatusBadRequest, "resolution must be keep_local, keep_server, or skip")
		return
	}
	if err := h.engine.Resolver().Resolve(r.Context(), id, body.Resolution); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"resolution": body.Resolution})
}
