package http

import (
	"net/http"
	"strings"
	"time"

	"ahu-fdd/internal/fdd/application"
	fdd "ahu-fdd/internal/fdd/domain"
	"ahu-fdd/internal/fdd/report"
	"ahu-fdd/internal/observability/metrics"
)

func (h *Handler) listAlarms(w http.ResponseWriter, r *http.Request) {
	since, err := parseOptionalTime(r, "since")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := parseLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	query := application.AlarmQuery{
		EquipmentID: r.URL.Query().Get("equipment_id"),
		RuleID:      fdd.RuleID(strings.ToLower(r.URL.Query().Get("rule_id"))),
		Since:       since,
		Limit:       limit,
	}
	events, err := h.history.ListAlarms(r.Context(), query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []application.AlarmEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) exportPDF(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "pdf", "application/pdf", report.BuildPDF)
}

func (h *Handler) exportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", report.BuildXLSX)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, format, contentType string, build func(report.FaultReport) ([]byte, error)) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveReportExport(format, result, time.Since(start))
	}()

	rep, err := h.buildReport(r)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := build(rep)
	if err != nil {
		result = metrics.ResultError
		h.logger.WithError(err).WithField("format", format).Error("report export failed")
		http.Error(w, "export "+format+" error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="ahu-faults.`+format+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// buildReport covers [from, to]; from defaults to the configured lookback before to.
func (h *Handler) buildReport(r *http.Request) (report.FaultReport, error) {
	now := h.now()
	from, err := parseOptionalTime(r, "from")
	if err != nil {
		return report.FaultReport{}, err
	}
	to, err := parseOptionalTime(r, "to")
	if err != nil {
		return report.FaultReport{}, err
	}
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-h.reportLookback)
	}
	if !to.After(from) {
		return report.FaultReport{}, errTimeRange
	}
	events, err := h.history.ListAlarms(r.Context(), application.AlarmQuery{
		EquipmentID: r.URL.Query().Get("equipment_id"),
		Since:       from,
		Limit:       h.reportLimit,
	})
	if err != nil {
		return report.FaultReport{}, err
	}
	return report.Build(events, from, to, now), nil
}
