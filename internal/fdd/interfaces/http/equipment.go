package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"ahu-fdd/internal/audit"
	fdd "ahu-fdd/internal/fdd/domain"
	"ahu-fdd/internal/observability/metrics"
)

type equipmentView struct {
	ID       string                            `json:"id"`
	Name     string                            `json:"name"`
	Points   map[fdd.Signal]fdd.PointRef       `json:"points"`
	Rules    []fdd.RuleID                      `json:"rules"`
	Disabled map[fdd.RuleID]string             `json:"disabled,omitempty"`
	Alarms   []fdd.AlarmStatus                 `json:"alarms"`
	Windows  map[fdd.RuleID]map[fdd.Signal]int `json:"windows"`
}

func newEquipmentView(inst *fdd.EquipmentInstance) equipmentView {
	view := equipmentView{
		ID:      inst.ID(),
		Name:    inst.Name(),
		Points:  inst.Bindings(),
		Rules:   inst.RuleIDs(),
		Alarms:  inst.Alarms(),
		Windows: inst.WindowSizes(),
	}
	if disabled := inst.Disabled(); len(disabled) > 0 {
		view.Disabled = disabled
	}
	return view
}

type registrationRequest struct {
	ID         string                        `json:"id"`
	Name       string                        `json:"name"`
	Points     map[string]string             `json:"points"`
	Rules      []string                      `json:"rules"`
	Thresholds map[string]map[string]float64 `json:"thresholds"`
	MinSamples int                           `json:"min_samples"`
}

type registrationResponse struct {
	Equipment equipmentView `json:"equipment"`
	Problems  []string      `json:"problems,omitempty"`
}

type sampleRequest struct {
	Signal string  `json:"signal"`
	Value  float64 `json:"value"`
}

type pointsRequest struct {
	Samples []sampleRequest `json:"samples"`
}

func (h *Handler) listEquipment(w http.ResponseWriter, _ *http.Request) {
	instances := h.scheduler.Instances()
	out := make([]equipmentView, 0, len(instances))
	for _, inst := range instances {
		out = append(out, newEquipmentView(inst))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getEquipment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, ok := h.scheduler.Instance(id)
	if !ok {
		http.Error(w, "equipment not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newEquipmentView(inst))
}

func (h *Handler) equipmentAlarms(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, ok := h.scheduler.Instance(id)
	if !ok {
		http.Error(w, "equipment not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inst.Alarms())
}

func (h *Handler) registerEquipment(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	cfg, overrides, err := h.buildRegistration(r, req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if _, exists := h.scheduler.Instance(cfg.ID); exists {
		http.Error(w, fmt.Sprintf("%v: %s", fdd.ErrDuplicateEquipment, cfg.ID), http.StatusConflict)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log := h.logger.WithField("equipment_id", cfg.ID)

	// Overrides are stored first so the first evaluation pass already reads them.
	for rule, values := range overrides {
		for name, value := range values {
			if err := h.thresholds.SetThreshold(r.Context(), cfg.ID, rule, name, value); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
	}
	problems, err := h.scheduler.Register(cfg)
	if err != nil {
		if errors.Is(err, fdd.ErrDuplicateEquipment) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if len(overrides) > 0 {
			if ferr := h.thresholds.ForgetThresholds(r.Context(), cfg.ID); ferr != nil {
				log.WithError(ferr).Warn("threshold rollback failed")
			}
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.points != nil {
		refs := make([]fdd.PointRef, 0, len(cfg.Points))
		for _, ref := range cfg.Points {
			refs = append(refs, ref)
		}
		if err := h.points.Subscribe(refs...); err != nil {
			log.WithError(err).Warn("point subscription failed")
		}
	}

	h.logAudit(r, audit.ActionEquipmentRegister, cfg.ID, "", req)

	inst, _ := h.scheduler.Instance(cfg.ID)
	resp := registrationResponse{Equipment: newEquipmentView(inst)}
	for _, problem := range problems {
		resp.Problems = append(resp.Problems, problem.Error())
	}
	writeJSON(w, http.StatusCreated, resp)
}

// buildRegistration resolves a request into a registration record. Thresholds start from
// the store's effective values and are overlaid with the request's overrides.
func (h *Handler) buildRegistration(r *http.Request, req registrationRequest) (fdd.EquipmentConfig, map[fdd.RuleID]map[string]float64, error) {
	id := strings.TrimSpace(req.ID)
	points := make(map[fdd.Signal]fdd.PointRef, len(req.Points))
	for signal, ref := range req.Points {
		s := fdd.Signal(signal)
		if !s.Valid() {
			return fdd.EquipmentConfig{}, nil, fmt.Errorf("%w: %s", fdd.ErrUnknownSignal, signal)
		}
		points[s] = fdd.PointRef(ref)
	}
	rules := make([]fdd.RuleID, 0, len(req.Rules))
	for _, rule := range req.Rules {
		rules = append(rules, fdd.RuleID(strings.ToLower(strings.TrimSpace(rule))))
	}
	if len(rules) == 0 {
		rules = fdd.CatalogueIDs()
	}

	requested := make(map[fdd.RuleID]struct{}, len(rules))
	for _, rule := range rules {
		requested[rule] = struct{}{}
	}
	overrides := make(map[fdd.RuleID]map[string]float64)
	for rule, values := range req.Thresholds {
		ruleID := fdd.RuleID(strings.ToLower(strings.TrimSpace(rule)))
		descriptor, ok := fdd.LookupRule(ruleID)
		if !ok {
			return fdd.EquipmentConfig{}, nil, fmt.Errorf("%w: %s", fdd.ErrUnknownRule, rule)
		}
		if _, ok := requested[ruleID]; !ok {
			return fdd.EquipmentConfig{}, nil, fmt.Errorf("%w: %s is not among the requested rules", errInvalidThreshold, ruleID)
		}
		known := make(map[string]struct{})
		for _, name := range descriptor.Evaluator.Thresholds() {
			known[name] = struct{}{}
		}
		for name, value := range values {
			if _, ok := known[name]; !ok {
				return fdd.EquipmentConfig{}, nil, fmt.Errorf("%w: %s has no threshold %s", errInvalidThreshold, ruleID, name)
			}
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return fdd.EquipmentConfig{}, nil, fmt.Errorf("%w: %s must be finite", errInvalidThreshold, name)
			}
		}
		overrides[ruleID] = values
	}
	thresholds := make(map[fdd.RuleID]map[string]float64, len(rules))
	for _, rule := range rules {
		values, err := h.thresholds.Thresholds(r.Context(), id, rule)
		if err != nil {
			return fdd.EquipmentConfig{}, nil, err
		}
		for name, value := range overrides[rule] {
			values[name] = value
		}
		thresholds[rule] = values
	}

	minSamples := req.MinSamples
	if minSamples <= 0 {
		minSamples = h.minSamples
	}
	return fdd.EquipmentConfig{
		ID:         id,
		Name:       req.Name,
		Points:     points,
		Rules:      rules,
		Thresholds: thresholds,
		MinSamples: minSamples,
	}, overrides, nil
}

func (h *Handler) unregisterEquipment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, ok := h.scheduler.Instance(id)
	if !ok {
		http.Error(w, "equipment not found", http.StatusNotFound)
		return
	}
	if err := h.scheduler.Unregister(id); err != nil {
		respondDomainError(w, err)
		return
	}
	log := h.logger.WithField("equipment_id", id)
	if h.points != nil {
		refs := make([]fdd.PointRef, 0)
		for _, ref := range inst.Bindings() {
			refs = append(refs, ref)
		}
		if err := h.points.Unsubscribe(refs...); err != nil {
			log.WithError(err).Warn("point unsubscribe failed")
		}
	}
	purge := r.URL.Query().Get("purge") == "true"
	if purge {
		if err := h.thresholds.ForgetThresholds(r.Context(), id); err != nil {
			log.WithError(err).Warn("threshold purge failed")
		}
	}
	h.logAudit(r, audit.ActionEquipmentUnregister, id, "", map[string]bool{"purge": purge})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pushPoints(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, ok := h.scheduler.Instance(id)
	if !ok {
		http.Error(w, "equipment not found", http.StatusNotFound)
		return
	}
	var req pointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Samples) == 0 {
		http.Error(w, "samples is required", http.StatusBadRequest)
		return
	}
	consumed := make(map[fdd.Signal]struct{})
	for _, signal := range inst.Signals() {
		consumed[signal] = struct{}{}
	}
	for _, sample := range req.Samples {
		if _, ok := consumed[fdd.Signal(sample.Signal)]; !ok {
			http.Error(w, "signal not bound: "+sample.Signal, http.StatusBadRequest)
			return
		}
		if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
			http.Error(w, "value must be finite", http.StatusBadRequest)
			return
		}
	}
	accepted := 0
	for _, sample := range req.Samples {
		if err := h.scheduler.Ingest(id, fdd.Signal(sample.Signal), sample.Value); err != nil {
			if errors.Is(err, fdd.ErrUnknownEquipment) {
				// Unregistered concurrently.
				http.Error(w, "equipment not found", http.StatusNotFound)
				return
			}
			metrics.IncPointReadFailure("push_rejected")
			continue
		}
		accepted++
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}
