package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ahu-fdd/internal/fdd/application"
	fdd "ahu-fdd/internal/fdd/domain"
)

func TestPointStoreLatestValue(t *testing.T) {
	store := NewPointStore(0)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	addr := application.PointAddress{EquipmentID: "ahu-1", Signal: fdd.SignalSupplyFanSpeed, Ref: "ahu1/vfd"}

	if _, err := store.ReadValue(context.Background(), addr); !errors.Is(err, application.ErrPointUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	store.Put("ahu1/vfd", 80, now)
	store.Put("ahu1/vfd", 70, now.Add(-time.Second))
	v, err := store.ReadValue(context.Background(), addr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 80 {
		t.Fatalf("expected older value ignored, got %v", v)
	}
}

func TestPointStoreStaleValue(t *testing.T) {
	store := NewPointStore(10 * time.Second)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	store.Put("ahu1/vfd", 80, now.Add(-time.Minute))

	addr := application.PointAddress{Ref: "ahu1/vfd"}
	if _, err := store.ReadValue(context.Background(), addr); !errors.Is(err, application.ErrPointUnavailable) {
		t.Fatalf("expected stale value unavailable, got %v", err)
	}
}

func TestThresholdStoreOverrides(t *testing.T) {
	store := NewThresholdStore(nil)
	ctx := context.Background()

	v, err := store.ReadThreshold(ctx, "ahu-1", fdd.RuleFC1, fdd.ThresholdVFDSpeedMax)
	if err != nil || v != 95 {
		t.Fatalf("expected default 95, got %v (%v)", v, err)
	}
	if err := store.SetThreshold(ctx, "ahu-1", fdd.RuleFC1, fdd.ThresholdVFDSpeedMax, 90); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, _ = store.ReadThreshold(ctx, "ahu-1", fdd.RuleFC1, fdd.ThresholdVFDSpeedMax)
	if v != 90 {
		t.Fatalf("expected override 90, got %v", v)
	}
	v, _ = store.ReadThreshold(ctx, "ahu-2", fdd.RuleFC1, fdd.ThresholdVFDSpeedMax)
	if v != 95 {
		t.Fatalf("expected other equipment untouched, got %v", v)
	}
	if snap, _ := store.Thresholds(ctx, "ahu-1", fdd.RuleFC1); snap[fdd.ThresholdVFDSpeedMax] != 90 || len(snap) != 3 {
		t.Fatalf("unexpected snapshot %v", snap)
	}
	if _, err := store.ReadThreshold(ctx, "ahu-1", fdd.RuleFC1, "bogus"); !errors.Is(err, ErrThresholdNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.ForgetThresholds(ctx, "ahu-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	v, _ = store.ReadThreshold(ctx, "ahu-1", fdd.RuleFC1, fdd.ThresholdVFDSpeedMax)
	if v != 95 {
		t.Fatalf("expected override forgotten, got %v", v)
	}
}

func TestAlarmLogNewestFirstAndCapacity(t *testing.T) {
	log := NewAlarmLog(2)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	for i, rule := range []fdd.RuleID{fdd.RuleFC1, fdd.RuleFC2, fdd.RuleFC3} {
		err := log.WriteAlarm(ctx, fdd.AlarmTransition{
			EquipmentID: "ahu-1",
			RuleID:      rule,
			From:        fdd.AlarmInactive,
			To:          fdd.AlarmActive,
			At:          base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	events, _ := log.ListAlarms(ctx, application.AlarmQuery{})
	if len(events) != 2 {
		t.Fatalf("expected capacity 2, got %d", len(events))
	}
	if events[0].RuleID != fdd.RuleFC3 || events[1].RuleID != fdd.RuleFC2 {
		t.Fatalf("expected newest first, got %s, %s", events[0].RuleID, events[1].RuleID)
	}
	filtered, _ := log.ListAlarms(ctx, application.AlarmQuery{RuleID: fdd.RuleFC2})
	if len(filtered) != 1 || filtered[0].ID == "" {
		t.Fatalf("expected one fc2 event with id, got %+v", filtered)
	}
}
