package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"ahu-fdd/internal/audit"
	"ahu-fdd/internal/fdd/application"
	fdd "ahu-fdd/internal/fdd/domain"
	"ahu-fdd/internal/fdd/infrastructure/memory"
	"ahu-fdd/internal/fdd/notify"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type recordingSubscriptions struct {
	subscribed   []fdd.PointRef
	unsubscribed []fdd.PointRef
}

func (s *recordingSubscriptions) Subscribe(refs ...fdd.PointRef) error {
	s.subscribed = append(s.subscribed, refs...)
	return nil
}

func (s *recordingSubscriptions) Unsubscribe(refs ...fdd.PointRef) error {
	s.unsubscribed = append(s.unsubscribed, refs...)
	return nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

type fixture struct {
	router     http.Handler
	scheduler  *application.Scheduler
	thresholds *memory.ThresholdStore
	broker     *SSEBroker
	points     *recordingSubscriptions
	audit      *recordingAudit
	clock      *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	clock := &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	thresholds := memory.NewThresholdStore(nil)
	history := memory.NewAlarmLog(100)
	broker := NewSSEBroker()
	scheduler, err := application.NewScheduler(
		notify.NewMultiWriter(history, broker),
		thresholds,
		application.WithClock(clock),
		application.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	points := &recordingSubscriptions{}
	auditLog := &recordingAudit{}
	handler, err := NewHandler(scheduler, thresholds, history,
		WithLogger(logger),
		WithAuditLogger(auditLog),
		WithNow(clock.Now),
		WithPointSubscriptions(points),
	)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return &fixture{
		router:     NewRouter(handler, NewStreamHandler(broker, 0), nil),
		scheduler:  scheduler,
		thresholds: thresholds,
		broker:     broker,
		points:     points,
		audit:      auditLog,
		clock:      clock,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

const registerBody = `{
  "id": "ahu-1",
  "name": "AHU 1",
  "points": {
    "duct_static_pressure": "ahu-1/dsp",
    "duct_static_setpoint": "ahu-1/dsp_sp",
    "supply_fan_speed": "ahu-1/vfd",
    "mixed_air_temp": "ahu-1/mat",
    "outside_air_temp": "ahu-1/oat",
    "return_air_temp": "ahu-1/rat"
  },
  "rules": ["FC1", "fc2"],
  "thresholds": {"fc2": {"mix_degf_err_thres": 4}}
}`

const faultySamples = `{"samples": [
  {"signal": "duct_static_pressure", "value": 0.4},
  {"signal": "duct_static_setpoint", "value": 1.0},
  {"signal": "supply_fan_speed", "value": 99},
  {"signal": "mixed_air_temp", "value": 40},
  {"signal": "outside_air_temp", "value": 77},
  {"signal": "return_air_temp", "value": 72}
]}`

func TestRegisterEquipment(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/v1/equipment", registerBody)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var got registrationResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Equipment.Rules) != 2 || got.Equipment.Rules[0] != fdd.RuleFC1 {
		t.Fatalf("unexpected rules %v", got.Equipment.Rules)
	}
	if len(got.Problems) != 0 {
		t.Fatalf("expected no problems, got %v", got.Problems)
	}
	if len(f.points.subscribed) != 6 {
		t.Fatalf("expected 6 subscribed points, got %d", len(f.points.subscribed))
	}
	v, err := f.thresholds.ReadThreshold(context.Background(), "ahu-1", fdd.RuleFC2, fdd.ThresholdMixedAirErr)
	if err != nil || v != 4 {
		t.Fatalf("expected persisted override 4, got %v (%v)", v, err)
	}

	if resp := f.do(t, http.MethodPost, "/api/v1/equipment", registerBody); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", resp.Code)
	}
}

func TestRegisterEquipmentReportsDisabledRule(t *testing.T) {
	f := newFixture(t)
	body := `{"id": "ahu-2", "points": {"mixed_air_temp": "m", "outside_air_temp": "o", "return_air_temp": "r"}, "rules": ["fc1", "fc2"]}`
	resp := f.do(t, http.MethodPost, "/api/v1/equipment", body)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var got registrationResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Problems) != 2 {
		t.Fatalf("expected fc1 and dependent fc2 disabled, got %v", got.Problems)
	}
	if len(got.Equipment.Disabled) != 2 {
		t.Fatalf("expected disabled map, got %v", got.Equipment.Disabled)
	}
}

func TestRegisterEquipmentValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]int{
		`{"name": "x"}`:                         http.StatusBadRequest,
		`{"id": "a", "points": {"bogus": "p"}}`: http.StatusBadRequest,
		`{"id": "a", "rules": ["fc9"]}`:         http.StatusBadRequest,
		`not json`:                              http.StatusBadRequest,
	}
	for body, want := range cases {
		if resp := f.do(t, http.MethodPost, "/api/v1/equipment", body); resp.Code != want {
			t.Fatalf("body %s: expected %d, got %d", body, want, resp.Code)
		}
	}
}

// orderedThresholds records whether the equipment was already registered when each
// override was stored.
type orderedThresholds struct {
	*memory.ThresholdStore
	scheduler       *application.Scheduler
	afterRegistered int
	stored          int
}

func (o *orderedThresholds) SetThreshold(ctx context.Context, equipmentID string, ruleID fdd.RuleID, name string, value float64) error {
	if _, ok := o.scheduler.Instance(equipmentID); ok {
		o.afterRegistered++
	}
	o.stored++
	return o.ThresholdStore.SetThreshold(ctx, equipmentID, ruleID, name, value)
}

func TestRegisterEquipmentStoresOverridesBeforeRegistering(t *testing.T) {
	f := newFixture(t)
	store := &orderedThresholds{ThresholdStore: f.thresholds, scheduler: f.scheduler}
	handler, err := NewHandler(f.scheduler, store, memory.NewAlarmLog(10))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	router := NewRouter(handler, nil, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/equipment", strings.NewReader(registerBody)))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if store.stored != 1 || store.afterRegistered != 0 {
		t.Fatalf("expected override stored before registration, got stored=%d after=%d", store.stored, store.afterRegistered)
	}
}

func TestRegisterEquipmentRejectsBadOverrides(t *testing.T) {
	f := newFixture(t)
	bodies := []string{
		`{"id": "ahu-9", "rules": ["fc1"], "thresholds": {"fc1": {"bogus_thres": 1}}}`,
		`{"id": "ahu-9", "rules": ["fc1"], "thresholds": {"fc2": {"mix_degf_err_thres": 1}}}`,
	}
	for _, body := range bodies {
		if resp := f.do(t, http.MethodPost, "/api/v1/equipment", body); resp.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, resp.Code)
		}
	}
	if _, ok := f.scheduler.Instance("ahu-9"); ok {
		t.Fatalf("expected ahu-9 not registered")
	}
	values, err := f.thresholds.Thresholds(context.Background(), "ahu-9", fdd.RuleFC1)
	if err != nil {
		t.Fatalf("thresholds: %v", err)
	}
	if _, ok := values["bogus_thres"]; ok {
		t.Fatalf("expected unknown threshold not stored, got %v", values)
	}
}

func TestPushEvaluateAndQueryAlarms(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodPost, "/api/v1/equipment", registerBody); resp.Code != http.StatusCreated {
		t.Fatalf("register: %d", resp.Code)
	}
	resp := f.do(t, http.MethodPost, "/api/v1/equipment/ahu-1/points", faultySamples)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `"accepted":6`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}

	f.scheduler.Evaluate(context.Background())

	resp = f.do(t, http.MethodGet, "/api/v1/equipment/ahu-1/alarms", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var alarms []fdd.AlarmStatus
	if err := json.Unmarshal(resp.Body.Bytes(), &alarms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, a := range alarms {
		if a.State != fdd.AlarmActive {
			t.Fatalf("expected %s active, got %s", a.RuleID, a.State)
		}
	}

	resp = f.do(t, http.MethodGet, "/api/v1/alarms?equipment_id=ahu-1&rule_id=FC1", "")
	var events []application.AlarmEvent
	if err := json.Unmarshal(resp.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].RuleID != fdd.RuleFC1 || events[0].ID == "" {
		t.Fatalf("unexpected history %+v", events)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/equipment/ahu-1", "")
	var view equipmentView
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Windows[fdd.RuleFC1][fdd.SignalDuctStaticPressure] != 0 {
		t.Fatalf("expected drained windows, got %v", view.Windows)
	}
}

func TestPushRejectsUnboundSignal(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/equipment", registerBody)
	body := `{"samples": [{"signal": "supply_fan_speed", "value": 50}, {"signal": "zone_temp", "value": 70}]}`
	if resp := f.do(t, http.MethodPost, "/api/v1/equipment/ahu-1/points", body); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	inst, _ := f.scheduler.Instance("ahu-1")
	if got := inst.WindowSizes()[fdd.RuleFC1][fdd.SignalSupplyFanSpeed]; got != 0 {
		t.Fatalf("expected no partial ingestion, got %d samples", got)
	}
	if resp := f.do(t, http.MethodPost, "/api/v1/equipment/ahu-9/points", faultySamples); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestThresholdsReadAndWrite(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/equipment", registerBody)

	resp := f.do(t, http.MethodPut, "/api/v1/equipment/ahu-1/rules/fc1/thresholds", `{"duct_static_err_thres": 0.25}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var view thresholdsView
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Values[fdd.ThresholdDuctStaticErr] != 0.25 || view.Values[fdd.ThresholdVFDSpeedMax] != 95 {
		t.Fatalf("unexpected values %v", view.Values)
	}
	last := f.audit.entries[len(f.audit.entries)-1]
	if last.Action != audit.ActionThresholdUpdate || last.EquipmentID != "ahu-1" || last.RuleID != "fc1" {
		t.Fatalf("unexpected audit entry %+v", last)
	}

	if resp := f.do(t, http.MethodPut, "/api/v1/equipment/ahu-1/rules/fc1/thresholds", `{"mix_degf_err_thres": 1}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for foreign threshold, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodGet, "/api/v1/equipment/ahu-1/rules/fc3/thresholds", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for rule not enabled, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodGet, "/api/v1/equipment/ahu-1/rules/fc2/thresholds", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestUnregisterPurgesThresholds(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/equipment", registerBody)

	if resp := f.do(t, http.MethodDelete, "/api/v1/equipment/ahu-1?purge=true", ""); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if len(f.points.unsubscribed) != 6 {
		t.Fatalf("expected 6 unsubscribed points, got %d", len(f.points.unsubscribed))
	}
	v, _ := f.thresholds.ReadThreshold(context.Background(), "ahu-1", fdd.RuleFC2, fdd.ThresholdMixedAirErr)
	if v != 5 {
		t.Fatalf("expected override purged back to default 5, got %v", v)
	}
	if resp := f.do(t, http.MethodGet, "/api/v1/equipment/ahu-1", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after unregister, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodDelete, "/api/v1/equipment/ahu-1", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.Code)
	}
}

func TestReportExports(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/equipment", registerBody)
	f.do(t, http.MethodPost, "/api/v1/equipment/ahu-1/points", faultySamples)
	f.scheduler.Evaluate(context.Background())

	resp := f.do(t, http.MethodGet, "/api/v1/reports/faults.pdf", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("unexpected content type %s", resp.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected pdf body")
	}

	resp = f.do(t, http.MethodGet, "/api/v1/reports/faults.xlsx?equipment_id=ahu-1", "")
	if resp.Header().Get("Content-Type") != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %s", resp.Header().Get("Content-Type"))
	}

	if resp := f.do(t, http.MethodGet, "/api/v1/reports/faults.pdf?from=2026-03-03T00:00:00Z&to=2026-03-02T00:00:00Z", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodGet, "/api/v1/reports/faults.pdf?from=yesterday", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad time, got %d", resp.Code)
	}
}

func TestHealthAndMethodRouting(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodGet, "/healthz", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodPatch, "/api/v1/equipment", ""); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodPost, "/api/v1/equipment/ahu-1/rules/fc1/thresholds", "{}"); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 on thresholds, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodGet, "/api/v1/nothing-here", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodGet, "/api/v1/alarms?limit=0", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.Code)
	}
}

func TestNewHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHandler(nil, memory.NewThresholdStore(nil), memory.NewAlarmLog(1)); err == nil {
		t.Fatalf("expected error for nil scheduler")
	}
}
