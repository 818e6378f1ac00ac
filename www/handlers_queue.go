package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) apiListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.engine.DB().ListQueueItems(r.URL.Query().Get("status"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handlers) apiQueueCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.engine.Queue().Counts()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

func (h *Handlers) apiRetryQueueItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := h.engine.DB().GetQueueItem(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if item == nil {
		respondError(w, http.StatusNotFound, "queue item not found")
		return
	}
	if err := h.engine.Queue().Retry(id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

func (h *Handlers) apiRemoveQueueItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := h.engine.DB().GetQueueItem(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if item == nil {
		respondError(w, http.StatusNotFound, "queue item not found")
		return
	}
	if err := h.engine.Queue().Remove(id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
