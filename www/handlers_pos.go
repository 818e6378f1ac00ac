package www

import (
	"errors"
	"net/http"

	"tillsync/lan"
	"tillsync/pos"
	"tillsync/store"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) apiSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var p pos.OrderPayload
	if !decodeBody(w, r, &p) {
		return
	}
	item, err := h.engine.SubmitOrder(&p)
	if err != nil {
		h.respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func (h *Handlers) apiSubmitPayment(w http.ResponseWriter, r *http.Request) {
	var p pos.PaymentPayload
	if !decodeBody(w, r, &p) {
		return
	}
	if p.OrderID == "" {
		respondError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	item, err := h.engine.SubmitPayment(&p)
	if err != nil {
		h.respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func (h *Handlers) apiSubmitStockMovement(w http.ResponseWriter, r *http.Request) {
	var p pos.StockMovementPayload
	if !decodeBody(w, r, &p) {
		return
	}
	if p.ProductID == "" {
		respondError(w, http.StatusBadRequest, "product_id is required")
		return
	}
	item, err := h.engine.SubmitStockMovement(&p)
	if err != nil {
		h.respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

// respondSubmitError distinguishes a full queue, which the register must
// show as "stop taking offline transactions", from an internal failure.
func (h *Handlers) respondSubmitError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrQueueFull) {
		respondError(w, http.StatusInsufficientStorage, "sync queue full; reconnect before creating more transactions")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// publishableLANTypes limits what the HTTP surface may put on the floor.
var publishableLANTypes = map[string]struct{}{
	lan.TypeCartUpdate:      {},
	lan.TypeCartClear:       {},
	lan.TypeOrderStatus:     {},
	lan.TypeTicketPreparing: {},
	lan.TypeTicketReady:     {},
}

func (h *Handlers) apiPublishLAN(w http.ResponseWriter, r *http.Request) {
	msgType := chi.URLParam(r, "type")
	if _, ok := publishableLANTypes[msgType]; !ok {
		respondError(w, http.StatusBadRequest, "unknown message type "+msgType)
		return
	}
	var payload map[string]interface{}
	if !decodeBody(w, r, &payload) {
		return
	}
	h.engine.LAN().Publish(msgType, payload)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handlers) apiLANStatus(w http.ResponseWriter, r *http.Request) {
	coord := h.engine.LAN()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected": coord.Connected(),
		"hub":       coord.Hub(),
	})
}
