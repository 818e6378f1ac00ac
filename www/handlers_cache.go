package www

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) apiCatalogStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Catalog().Status(time.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handlers) apiListCatalog(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	entries, err := h.engine.Catalog().List(domain, includeInactive)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handlers) apiGetCatalogEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.engine.Catalog().Get(chi.URLParam(r, "domain"), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		respondError(w, http.StatusNotFound, "not cached")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// apiLookupCatalogEntry resolves by the domain's alternate key: product by
// SKU, customer by phone, promotion by code.
func (h *Handlers) apiLookupCatalogEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.engine.Catalog().GetBySecondaryKey(chi.URLParam(r, "domain"), chi.URLParam(r, "key"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		respondError(w, http.StatusNotFound, "not cached")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) apiSyncCatalog(w http.ResponseWriter, r *http.Request) {
	if domain := r.URL.Query().Get("domain"); domain != "" {
		res, err := h.engine.Catalog().Sync(r.Context(), domain)
		if err != nil {
			respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, res)
		return
	}
	results, err := h.engine.Catalog().SyncAll(r.Context())
	if err != nil && len(results) == 0 {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp := map[string]interface{}{"results": results}
	if err != nil {
		resp["partial_error"] = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) apiGetReport(w http.ResponseWriter, r *http.Request) {
	reportType := chi.URLParam(r, "type")
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		respondError(w, http.StatusBadRequest, "from and to are required (YYYY-MM-DD)")
		return
	}
	cached, err := h.engine.Reports().Get(reportType, from, to)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var maxAge time.Duration
	if mins, err := strconv.Atoi(r.URL.Query().Get("max_age")); err == nil && mins > 0 {
		maxAge = time.Duration(mins) * time.Minute
	}
	stale, err := h.engine.Reports().IsStale(reportType, maxAge, time.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"report": cached,
		"stale":  stale,
	})
}

func (h *Handlers) apiRefreshReports(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReportType string `json:"report_type"`
		From       string `json:"from"`
		To         string `json:"to"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ReportType == "" || body.From == "" || body.To == "" {
		respondError(w, http.StatusBadRequest, "report_type, from, and to are required")
		return
	}
	n, err := h.engine.Reports().RefreshRange(r.Context(), body.ReportType, body.From, body.To)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"cached": n})
}
