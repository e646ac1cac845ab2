package http

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
)

var (
	errTimeRange        = errors.New("to must be after from")
	errInvalidThreshold = errors.New("invalid threshold")
)

const apiPrefix = "/api/v1"

// NewRouter wires the fault detection API. stream and metrics may be nil. Every route is
// registered on the root router so a method mismatch answers 405 instead of 404.
func NewRouter(h *Handler, stream http.Handler, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	r.HandleFunc(apiPrefix+"/equipment", h.listEquipment).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/equipment", h.registerEquipment).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/equipment/{id}", h.getEquipment).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/equipment/{id}", h.unregisterEquipment).Methods(http.MethodDelete)
	r.HandleFunc(apiPrefix+"/equipment/{id}/alarms", h.equipmentAlarms).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/equipment/{id}/points", h.pushPoints).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/equipment/{id}/rules/{rule}/thresholds", h.getThresholds).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/equipment/{id}/rules/{rule}/thresholds", h.putThresholds).Methods(http.MethodPut)

	if stream != nil {
		r.Handle(apiPrefix+"/alarms/stream", stream).Methods(http.MethodGet)
	}
	r.HandleFunc(apiPrefix+"/alarms", h.listAlarms).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/reports/faults.pdf", h.exportPDF).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/reports/faults.xlsx", h.exportXLSX).Methods(http.MethodGet)

	return r
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
