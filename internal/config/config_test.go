package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	fdd "ahu-fdd/internal/fdd/domain"
)

const sampleYAML = `
http_addr: ":9090"
scheduler:
  interval: 2s
  evaluation_period: 1m
  min_samples: 3
points:
  source: mqtt
  mqtt:
    broker: tcp://broker:1883
webhook:
  url: http://hooks.local/fdd
  token: bms-secret
  escalation: 30m
thresholds:
  fc1:
    duct_static_err_thres: 0.2
equipment:
  - id: ahu-1
    name: AHU 1
    rules: [FC1, fc2]
    points:
      duct_static_pressure: bms/ahu1/dsp
      duct_static_setpoint: bms/ahu1/dsp_sp
      supply_fan_speed: bms/ahu1/vfd
      mixed_air_temp: bms/ahu1/mat
      outside_air_temp: bms/ahu1/oat
      return_air_temp: bms/ahu1/rat
    thresholds:
      fc2:
        mix_degf_err_thres: 3
  - id: ahu-2
    min_samples: 5
    points:
      supply_fan_speed: bms/ahu2/vfd
`

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fdd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FDD_CONFIG", path)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FDD_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.Interval != time.Second || cfg.Scheduler.EvaluationPeriod != 300*time.Second {
		t.Fatalf("unexpected cadence: %+v", cfg.Scheduler)
	}
	if cfg.Webhook.Escalation != 0 || cfg.Webhook.Timeout != 5*time.Second {
		t.Fatalf("unexpected webhook config: %+v", cfg.Webhook)
	}
	if cfg.Points.Source != SourcePush {
		t.Fatalf("expected push source, got %s", cfg.Points.Source)
	}
}

func TestLoadYAMLOverridesEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":7000")
	writeConfig(t, sampleYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("expected yaml http addr, got %s", cfg.HTTPAddr)
	}
	if cfg.Scheduler.Interval != 2*time.Second || cfg.Scheduler.EvaluationPeriod != time.Minute {
		t.Fatalf("unexpected cadence: %+v", cfg.Scheduler)
	}
	if cfg.Webhook.URL != "http://hooks.local/fdd" || cfg.Webhook.Token != "bms-secret" || cfg.Webhook.Escalation != 30*time.Minute {
		t.Fatalf("unexpected webhook config: %+v", cfg.Webhook)
	}

	equipment, err := cfg.EquipmentConfigs()
	if err != nil {
		t.Fatalf("equipment: %v", err)
	}
	if len(equipment) != 2 {
		t.Fatalf("expected 2 equipment, got %d", len(equipment))
	}
	ahu1 := equipment[0]
	if len(ahu1.Rules) != 2 || ahu1.Rules[0] != fdd.RuleFC1 {
		t.Fatalf("expected normalized rules, got %v", ahu1.Rules)
	}
	if ahu1.MinSamples != 3 {
		t.Fatalf("expected scheduler min samples, got %d", ahu1.MinSamples)
	}
	if got := ahu1.Thresholds[fdd.RuleFC1][fdd.ThresholdDuctStaticErr]; got != 0.2 {
		t.Fatalf("expected global override 0.2, got %v", got)
	}
	if got := ahu1.Thresholds[fdd.RuleFC1][fdd.ThresholdVFDSpeedMax]; got != 95 {
		t.Fatalf("expected default 95, got %v", got)
	}
	if got := ahu1.Thresholds[fdd.RuleFC2][fdd.ThresholdMixedAirErr]; got != 3 {
		t.Fatalf("expected equipment override 3, got %v", got)
	}
	ahu2 := equipment[1]
	if len(ahu2.Rules) != len(fdd.CatalogueIDs()) {
		t.Fatalf("expected full catalogue by default, got %v", ahu2.Rules)
	}
	if ahu2.MinSamples != 5 {
		t.Fatalf("expected equipment min samples, got %d", ahu2.MinSamples)
	}
}

func TestValidateRejectsDuplicateEquipment(t *testing.T) {
	writeConfig(t, `
equipment:
  - id: ahu-1
  - id: ahu-1
`)
	if _, err := Load(); !errors.Is(err, fdd.ErrDuplicateEquipment) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestValidateRejectsBadCadence(t *testing.T) {
	writeConfig(t, `
scheduler:
  interval: 10s
  evaluation_period: 1s
`)
	if _, err := Load(); err == nil {
		t.Fatalf("expected cadence error")
	}
}

func TestValidatePointSource(t *testing.T) {
	t.Setenv("FDD_CONFIG", "")
	t.Setenv("FDD_POINT_SOURCE", SourceOPCUA)
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without opcua endpoint")
	}
	t.Setenv("OPCUA_ENDPOINT", "opc.tcp://plc:4840")
	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestEquipmentConfigsRejectUnknownSignal(t *testing.T) {
	cfg := Config{Equipment: []EquipmentConfig{{ID: "ahu-1", Points: map[string]string{"coil_temp": "x"}}}}
	if _, err := cfg.EquipmentConfigs(); !errors.Is(err, fdd.ErrUnknownSignal) {
		t.Fatalf("expected unknown signal, got %v", err)
	}
}
