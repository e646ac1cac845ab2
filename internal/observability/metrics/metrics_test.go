package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	Init(prometheus.NewRegistry(), nil, nil)

	AddSamples("poll", 3)
	AddSamples("poll", 0)
	if got := testutil.ToFloat64(samplesIngested.WithLabelValues("poll")); got != 3 {
		t.Fatalf("expected 3 polled samples, got %f", got)
	}

	IncRuleOutcome("fc1", OutcomeFault)
	if got := testutil.ToFloat64(ruleOutcomes.WithLabelValues("fc1", OutcomeFault)); got != 1 {
		t.Fatalf("expected fc1 fault outcome 1, got %f", got)
	}

	SetAlarmActive("ahu-1", "fc1", true)
	if got := testutil.ToFloat64(alarmActive.WithLabelValues("ahu-1", "fc1")); got != 1 {
		t.Fatalf("expected alarm gauge 1, got %f", got)
	}
	ForgetEquipment("ahu-1")
	if got := testutil.CollectAndCount(alarmActive); got != 0 {
		t.Fatalf("expected no alarm series after forget, got %d", got)
	}

	IncPointReadFailure("")
	if got := testutil.ToFloat64(pointReadFailures.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("expected unknown read failure 1, got %f", got)
	}

	ObserveReportExport("pdf", "", 10*time.Millisecond)
	if got := testutil.ToFloat64(reportExportTotal.WithLabelValues("pdf", ResultSuccess)); got != 1 {
		t.Fatalf("expected pdf export 1, got %f", got)
	}
}
