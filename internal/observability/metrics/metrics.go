package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	metricPrefix = "fdd_"

	resultSuccess = "success"
	resultError   = "error"

	outcomeFault        = "fault"
	outcomeOK           = "ok"
	outcomeInsufficient = "insufficient_data"
	outcomeError        = "error"
)

var (
	registerOnce sync.Once

	samplesIngested   *prometheus.CounterVec
	pointReadFailures *prometheus.CounterVec

	evaluationTotal   *prometheus.CounterVec
	evaluationLatency *prometheus.HistogramVec
	ruleOutcomes      *prometheus.CounterVec

	alarmTransitions  *prometheus.CounterVec
	alarmWriteErrors  *prometheus.CounterVec
	alarmActive       *prometheus.GaugeVec
	thresholdFailures *prometheus.CounterVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers fault detection metrics and, when db is set, DB-backed gauges.
func Init(registerer prometheus.Registerer, db *sql.DB, logger logrus.FieldLogger) {
	registerOnce.Do(func() {
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		samplesIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "samples_ingested_total",
				Help: "Total samples appended to rule windows by source",
			},
			[]string{"source"},
		)
		pointReadFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "point_read_failures_total",
				Help: "Point reads that produced no sample by reason",
			},
			[]string{"reason"},
		)

		evaluationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluation_passes_total",
				Help: "Total evaluation passes by result",
			},
			[]string{"result"},
		)
		evaluationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluation_latency_seconds",
				Help:    "Evaluation pass latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ruleOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_outcomes_total",
				Help: "Rule evaluations by rule and outcome",
			},
			[]string{"rule", "outcome"},
		)

		alarmTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_transitions_total",
				Help: "Alarm latch transitions by rule and new state",
			},
			[]string{"rule", "state"},
		)
		alarmWriteErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_write_errors_total",
				Help: "Failed alarm sink writes by rule",
			},
			[]string{"rule"},
		)
		alarmActive = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alarm_active",
				Help: "1 when the alarm of an equipment rule is active",
			},
			[]string{"equipment", "rule"},
		)
		thresholdFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "threshold_read_failures_total",
				Help: "Threshold reads that failed by rule",
			},
			[]string{"rule"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total fault report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Fault report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		registerer.MustRegister(
			samplesIngested,
			pointReadFailures,
			evaluationTotal,
			evaluationLatency,
			ruleOutcomes,
			alarmTransitions,
			alarmWriteErrors,
			alarmActive,
			thresholdFailures,
			reportExportTotal,
			reportExportLatency,
		)

		if db != nil {
			registerDBMetrics(registerer, db, logger)
		}
	})
}

// AddSamples counts samples appended from a source (poll, push, mqtt).
func AddSamples(source string, count int) {
	if count <= 0 {
		return
	}
	if source == "" {
		source = "unknown"
	}
	if samplesIngested != nil {
		samplesIngested.WithLabelValues(source).Add(float64(count))
	}
}

// IncPointReadFailure counts a point read that yielded no sample.
func IncPointReadFailure(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if pointReadFailures != nil {
		pointReadFailures.WithLabelValues(reason).Inc()
	}
}

// ObserveEvaluation records one evaluation pass.
func ObserveEvaluation(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if evaluationTotal != nil {
		evaluationTotal.WithLabelValues(result).Inc()
	}
	if evaluationLatency != nil {
		evaluationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncRuleOutcome counts a rule evaluation outcome.
func IncRuleOutcome(rule, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if ruleOutcomes != nil {
		ruleOutcomes.WithLabelValues(rule, outcome).Inc()
	}
}

// IncAlarmTransition counts a latch transition.
func IncAlarmTransition(rule, state string) {
	if alarmTransitions != nil {
		alarmTransitions.WithLabelValues(rule, state).Inc()
	}
}

// IncAlarmWriteError counts a failed sink write.
func IncAlarmWriteError(rule string) {
	if alarmWriteErrors != nil {
		alarmWriteErrors.WithLabelValues(rule).Inc()
	}
}

// IncThresholdFailure counts a failed threshold read.
func IncThresholdFailure(rule string) {
	if thresholdFailures != nil {
		thresholdFailures.WithLabelValues(rule).Inc()
	}
}

// ObserveReportExport records one fault report export.
func ObserveReportExport(format, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// SetAlarmActive mirrors latch state into a gauge.
func SetAlarmActive(equipmentID, rule string, active bool) {
	if alarmActive == nil {
		return
	}
	value := 0.0
	if active {
		value = 1
	}
	alarmActive.WithLabelValues(equipmentID, rule).Set(value)
}

// ForgetEquipment drops per-equipment series after unregistration.
func ForgetEquipment(equipmentID string) {
	if alarmActive != nil {
		alarmActive.DeletePartialMatch(prometheus.Labels{"equipment": equipmentID})
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	OutcomeFault        = outcomeFault
	OutcomeOK           = outcomeOK
	OutcomeInsufficient = outcomeInsufficient
	OutcomeError        = outcomeError
)
