package http

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"ahu-fdd/internal/audit"
	fdd "ahu-fdd/internal/fdd/domain"
)

type thresholdsView struct {
	EquipmentID string             `json:"equipment_id"`
	RuleID      fdd.RuleID         `json:"rule_id"`
	Values      map[string]float64 `json:"values"`
}

// resolveRule returns the enabled rule and its tunable names, writing the error response
// itself when the equipment or rule is not available.
func (h *Handler) resolveRule(w http.ResponseWriter, r *http.Request) (string, fdd.RuleID, []string, bool) {
	vars := mux.Vars(r)
	id := vars["id"]
	rule := fdd.RuleID(strings.ToLower(vars["rule"]))
	inst, ok := h.scheduler.Instance(id)
	if !ok {
		http.Error(w, "equipment not found", http.StatusNotFound)
		return "", "", nil, false
	}
	names, ok := inst.ThresholdNames()[rule]
	if !ok {
		http.Error(w, "rule not enabled: "+string(rule), http.StatusNotFound)
		return "", "", nil, false
	}
	return id, rule, names, true
}

func (h *Handler) getThresholds(w http.ResponseWriter, r *http.Request) {
	id, rule, _, ok := h.resolveRule(w, r)
	if !ok {
		return
	}
	values, err := h.thresholds.Thresholds(r.Context(), id, rule)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, thresholdsView{EquipmentID: id, RuleID: rule, Values: values})
}

// putThresholds writes operator overrides. They take effect at the next evaluation pass.
func (h *Handler) putThresholds(w http.ResponseWriter, r *http.Request) {
	id, rule, names, ok := h.resolveRule(w, r)
	if !ok {
		return
	}
	var values map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(values) == 0 {
		http.Error(w, "no thresholds given", http.StatusBadRequest)
		return
	}
	known := make(map[string]struct{}, len(names))
	for _, name := range names {
		known[name] = struct{}{}
	}
	for name, value := range values {
		if _, ok := known[name]; !ok {
			http.Error(w, "unknown threshold: "+name, http.StatusBadRequest)
			return
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			http.Error(w, "threshold must be finite: "+name, http.StatusBadRequest)
			return
		}
	}
	for name, value := range values {
		if err := h.thresholds.SetThreshold(r.Context(), id, rule, name, value); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	h.logger.WithField("equipment_id", id).WithField("rule_id", rule).WithField("values", values).Info("thresholds updated")
	h.logAudit(r, audit.ActionThresholdUpdate, id, string(rule), values)

	current, err := h.thresholds.Thresholds(r.Context(), id, rule)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, thresholdsView{EquipmentID: id, RuleID: rule, Values: current})
}
