package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"ahu-fdd/internal/fdd/application"
	fdd "ahu-fdd/internal/fdd/domain"
)

func newMock(t *testing.T) (*AlarmRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := NewAlarmRepository(db)
	repo.newID = func() string { return "evt-1" }
	return repo, mock
}

func TestAlarmRepositoryWriteAlarm(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Date(2026, 3, 2, 8, 5, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fdd_alarm_events").
		WithArgs("evt-1", "ahu-1", "fc1", "inactive", "active", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO fdd_alarm_states").
		WithArgs("ahu-1", "fc1", "active", at, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.WriteAlarm(context.Background(), fdd.AlarmTransition{
		EquipmentID: "ahu-1",
		RuleID:      fdd.RuleFC1,
		From:        fdd.AlarmInactive,
		To:          fdd.AlarmActive,
		At:          at,
	})
	if err != nil {
		t.Fatalf("write alarm: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAlarmRepositoryWriteAlarmRollsBack(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fdd_alarm_events").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.WriteAlarm(context.Background(), fdd.AlarmTransition{
		EquipmentID: "ahu-1",
		RuleID:      fdd.RuleFC2,
		From:        fdd.AlarmActive,
		To:          fdd.AlarmInactive,
		At:          time.Now(),
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAlarmRepositoryNilDB(t *testing.T) {
	var repo *AlarmRepository
	if err := repo.WriteAlarm(context.Background(), fdd.AlarmTransition{}); err == nil {
		t.Fatalf("expected nil db error")
	}
}

func TestAlarmRepositoryListAlarms(t *testing.T) {
	repo, mock := newMock(t)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	at := time.Date(2026, 3, 2, 8, 5, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "equipment_id", "rule_id", "from_state", "to_state", "occurred_at"}).
		AddRow("evt-2", "ahu-1", "fc2", "active", "inactive", at.Add(5*time.Minute)).
		AddRow("evt-1", "ahu-1", "fc2", "inactive", "active", at)
	mock.ExpectQuery(`FROM fdd_alarm_events\s+WHERE equipment_id = \$1 AND occurred_at >= \$2\s+ORDER BY occurred_at DESC\s+LIMIT \$3`).
		WithArgs("ahu-1", since, 10).
		WillReturnRows(rows)

	events, err := repo.ListAlarms(context.Background(), application.AlarmQuery{EquipmentID: "ahu-1", Since: since, Limit: 10})
	if err != nil {
		t.Fatalf("list alarms: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != "evt-2" || events[0].To != fdd.AlarmInactive || events[0].RuleID != fdd.RuleFC2 {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestThresholdRepositoryReadFallsBackToDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewThresholdRepository(db, nil)

	mock.ExpectQuery("SELECT value\\s+FROM fdd_thresholds").
		WithArgs("ahu-1", "fc1", fdd.ThresholdVFDSpeedMax).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(90.0))
	mock.ExpectQuery("SELECT value\\s+FROM fdd_thresholds").
		WithArgs("ahu-1", "fc1", fdd.ThresholdVFDSpeedErr).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	v, err := repo.ReadThreshold(context.Background(), "ahu-1", fdd.RuleFC1, fdd.ThresholdVFDSpeedMax)
	if err != nil || v != 90 {
		t.Fatalf("expected override 90, got %v (%v)", v, err)
	}
	v, err = repo.ReadThreshold(context.Background(), "ahu-1", fdd.RuleFC1, fdd.ThresholdVFDSpeedErr)
	if err != nil || v != 5 {
		t.Fatalf("expected default 5, got %v (%v)", v, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestThresholdRepositorySetAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewThresholdRepository(db, nil)

	mock.ExpectExec("INSERT INTO fdd_thresholds").
		WithArgs("ahu-1", "fc2", fdd.ThresholdMixedAirErr, 3.5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT name, value\\s+FROM fdd_thresholds").
		WithArgs("ahu-1", "fc2").
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}).AddRow(fdd.ThresholdMixedAirErr, 3.5))

	if err := repo.SetThreshold(context.Background(), "ahu-1", fdd.RuleFC2, fdd.ThresholdMixedAirErr, 3.5); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	values, err := repo.Thresholds(context.Background(), "ahu-1", fdd.RuleFC2)
	if err != nil {
		t.Fatalf("thresholds: %v", err)
	}
	if values[fdd.ThresholdMixedAirErr] != 3.5 || values[fdd.ThresholdOutsideAirErr] != 2 {
		t.Fatalf("unexpected thresholds %v", values)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
