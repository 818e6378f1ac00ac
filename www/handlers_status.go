package www

import (
	"net/http"
	"strconv"
)

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.engine.Queue().Counts()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	unresolved, err := h.engine.DB().CountUnresolvedConflicts()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	current, err := h.engine.Sessions().Current()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"node_id":              h.engine.AppConfig().NodeID(),
		"online":               h.engine.Online(),
		"queue":                counts,
		"unresolved_conflicts": unresolved,
		"offline_period":       current,
		"lan_connected":        h.engine.LAN().Connected(),
	})
}

func (h *Handlers) apiListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	periods, err := h.engine.Sessions().History(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, periods)
}

func (h *Handlers) apiCurrentSession(w http.ResponseWriter, r *http.Request) {
	current, err := h.engine.Sessions().Current()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"offline_period": current})
}

// apiSyncNow kicks the queue drain and catalog refresh immediately instead
// of waiting out the intervals.
func (h *Handlers) apiSyncNow(w http.ResponseWriter, r *http.Request) {
	h.engine.Queue().Kick()
	go h.engine.Catalog().SyncAll(r.Context())
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	op, _ := h.engine.DB().GetOperator(body.Username)
	if !verifyOperator(op, body.Password) {
		respondError(w, http.StatusUnauthorized, "bad username or password")
		return
	}
	h.sessions.signIn(w, r, op)
	respondJSON(w, http.StatusOK, map[string]string{"username": op.Username})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.signOut(w, r)
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *Handlers) apiChangePassword(w http.ResponseWriter, r *http.Request) {
	username, _ := h.sessions.operator(r)
	var body struct {
		Current string `json:"current"`
		New     string `json:"new"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.New) < 8 {
		respondError(w, http.StatusBadRequest, "new password must be at least 8 characters")
		return
	}
	op, _ := h.engine.DB().GetOperator(username)
	if !verifyOperator(op, body.Current) {
		respondError(w, http.StatusUnauthorized, "current password is wrong")
		return
	}
	hash, err := hashPassword(body.New)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.engine.DB().UpdateOperatorPassword(username, hash); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "changed"})
}
