package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func registerDBMetrics(registerer prometheus.Registerer, db *sql.DB, logger logrus.FieldLogger) {
	registerer.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "alarm_states_active",
			Help: "Active alarms recorded in the alarm state table",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM fdd_alarm_states WHERE state = 'active'")
		},
	))

	registerer.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "alarm_events_recorded",
			Help: "Alarm transition events stored",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM fdd_alarm_events")
		},
	))
}

func queryCount(db *sql.DB, logger logrus.FieldLogger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.WithError(err).Warn("metrics query failed")
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
