package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	fdd "ahu-fdd/internal/fdd/domain"
)

// Point sources.
const (
	SourcePush  = "push"
	SourceMQTT  = "mqtt"
	SourceOPCUA = "opcua"
)

// Config is the service configuration. The YAML file named by FDD_CONFIG is applied on top
// of environment defaults.
type Config struct {
	HTTPAddr    string                        `yaml:"http_addr"`
	PublicURL   string                        `yaml:"public_url"`
	DatabaseURL string                        `yaml:"database_url"`
	JWTSecret   string                        `yaml:"jwt_secret"`
	Log         LogConfig                     `yaml:"log"`
	Scheduler   SchedulerConfig               `yaml:"scheduler"`
	Points      PointsConfig                  `yaml:"points"`
	Kafka       KafkaConfig                   `yaml:"kafka"`
	Webhook     WebhookConfig                 `yaml:"webhook"`
	Report      ReportConfig                  `yaml:"report"`
	Thresholds  map[string]map[string]float64 `yaml:"thresholds"`
	Equipment   []EquipmentConfig             `yaml:"equipment"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SchedulerConfig configures cadence.
type SchedulerConfig struct {
	Interval         time.Duration `yaml:"interval"`
	EvaluationPeriod time.Duration `yaml:"evaluation_period"`
	Parallelism      int           `yaml:"parallelism"`
	MinSamples       int           `yaml:"min_samples"`
}

// PointsConfig selects and configures the point source.
type PointsConfig struct {
	Source string        `yaml:"source"`
	MaxAge time.Duration `yaml:"max_age"`
	MQTT   MQTTConfig    `yaml:"mqtt"`
	OPCUA  OPCUAConfig   `yaml:"opcua"`
}

// MQTTConfig configures the MQTT subscriber.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// OPCUAConfig configures the OPC UA reader.
type OPCUAConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	SecurityPolicy string        `yaml:"security_policy"`
	SecurityMode   string        `yaml:"security_mode"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Timeout        time.Duration `yaml:"timeout"`
}

// KafkaConfig configures the transition publisher. Empty brokers disable it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// WebhookConfig configures transition notifications. An empty URL disables them.
type WebhookConfig struct {
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	Template   string        `yaml:"template"`
	Cooldown   time.Duration `yaml:"cooldown"`
	Escalation time.Duration `yaml:"escalation"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ReportConfig configures fault report exports.
type ReportConfig struct {
	LookbackDays int `yaml:"lookback_days"`
	Limit        int `yaml:"limit"`
}

// EquipmentConfig is one equipment entry as written in YAML.
type EquipmentConfig struct {
	ID         string                        `yaml:"id"`
	Name       string                        `yaml:"name"`
	Points     map[string]string             `yaml:"points"`
	Rules      []string                      `yaml:"rules"`
	Thresholds map[string]map[string]float64 `yaml:"thresholds"`
	MinSamples int                           `yaml:"min_samples"`
}

// Load reads configuration from the environment and the optional FDD_CONFIG file.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		PublicURL:   getenvDefault("FDD_PUBLIC_URL", ""),
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		JWTSecret:   getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		Log: LogConfig{
			Level:  getenvDefault("LOG_LEVEL", "info"),
			Format: getenvDefault("LOG_FORMAT", "text"),
		},
		Scheduler: SchedulerConfig{
			Interval:         getenvDuration("FDD_INTERVAL", time.Second),
			EvaluationPeriod: getenvDuration("FDD_EVALUATION_PERIOD", 300*time.Second),
			Parallelism:      getenvIntDefault("FDD_PARALLELISM", 8),
			MinSamples:       getenvIntDefault("FDD_MIN_SAMPLES", 1),
		},
		Points: PointsConfig{
			Source: getenvDefault("FDD_POINT_SOURCE", SourcePush),
			MaxAge: getenvDuration("FDD_POINT_MAX_AGE", 30*time.Second),
			MQTT: MQTTConfig{
				Broker:   getenvDefault("MQTT_BROKER", ""),
				ClientID: getenvDefault("MQTT_CLIENT_ID", "ahu-fdd"),
				Username: getenvDefault("MQTT_USERNAME", ""),
				Password: getenvDefault("MQTT_PASSWORD", ""),
				QoS:      byte(getenvIntDefault("MQTT_QOS", 1)),
			},
			OPCUA: OPCUAConfig{
				Endpoint:       getenvDefault("OPCUA_ENDPOINT", ""),
				SecurityPolicy: getenvDefault("OPCUA_SECURITY_POLICY", "None"),
				SecurityMode:   getenvDefault("OPCUA_SECURITY_MODE", "None"),
				Username:       getenvDefault("OPCUA_USERNAME", ""),
				Password:       getenvDefault("OPCUA_PASSWORD", ""),
				Timeout:        getenvDuration("OPCUA_TIMEOUT", 5*time.Second),
			},
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(getenvDefault("KAFKA_BROKERS", "")),
			Topic:   getenvDefault("FDD_KAFKA_TOPIC", "ahu.fdd.alarms"),
		},
		Webhook: WebhookConfig{
			URL:        getenvDefault("ALARM_WEBHOOK_URL", ""),
			Token:      getenvDefault("ALARM_WEBHOOK_TOKEN", ""),
			Template:   getenvDefault("ALARM_NOTIFY_TEMPLATE", ""),
			Cooldown:   getenvDuration("ALARM_NOTIFY_COOLDOWN", 0),
			Escalation: getenvDuration("ALARM_NOTIFY_ESCALATION", 0),
			Timeout:    getenvDuration("ALARM_NOTIFY_TIMEOUT", 5*time.Second),
		},
		Report: ReportConfig{
			LookbackDays: getenvIntDefault("FDD_REPORT_LOOKBACK_DAYS", 7),
			Limit:        getenvIntDefault("FDD_REPORT_LIMIT", 1000),
		},
	}

	if path := os.Getenv("FDD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return errors.New("config: scheduler interval must be positive")
	}
	if c.Scheduler.EvaluationPeriod < c.Scheduler.Interval {
		return errors.New("config: evaluation period must not be shorter than the interval")
	}
	if c.Scheduler.MinSamples < 0 {
		return errors.New("config: min_samples must not be negative")
	}
	switch c.Points.Source {
	case SourcePush:
	case SourceMQTT:
		if c.Points.MQTT.Broker == "" {
			return errors.New("config: mqtt broker required for mqtt point source")
		}
	case SourceOPCUA:
		if c.Points.OPCUA.Endpoint == "" {
			return errors.New("config: opcua endpoint required for opcua point source")
		}
	default:
		return fmt.Errorf("config: unknown point source %q", c.Points.Source)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("config: kafka topic required")
	}
	for rule := range c.Thresholds {
		if _, ok := fdd.LookupRule(fdd.RuleID(rule)); !ok {
			return fmt.Errorf("config: thresholds for %w: %s", fdd.ErrUnknownRule, rule)
		}
	}
	seen := make(map[string]struct{}, len(c.Equipment))
	for _, eq := range c.Equipment {
		if eq.ID == "" {
			return errors.New("config: equipment id required")
		}
		if _, dup := seen[eq.ID]; dup {
			return fmt.Errorf("config: %w: %s", fdd.ErrDuplicateEquipment, eq.ID)
		}
		seen[eq.ID] = struct{}{}
	}
	return nil
}

// RuleThresholds returns the configured thresholds of a rule for one equipment: factory
// defaults, then the global overrides, then the equipment overrides.
func (c Config) RuleThresholds(equipmentID string, rule fdd.RuleID) map[string]float64 {
	merged := fdd.DefaultThresholds(rule)
	mergeThresholds(merged, c.Thresholds[string(rule)])
	for _, eq := range c.Equipment {
		if eq.ID == equipmentID {
			mergeThresholds(merged, eq.Thresholds[string(rule)])
			break
		}
	}
	return merged
}

// EquipmentConfigs converts the YAML equipment list into registration records.
func (c Config) EquipmentConfigs() ([]fdd.EquipmentConfig, error) {
	out := make([]fdd.EquipmentConfig, 0, len(c.Equipment))
	for _, eq := range c.Equipment {
		points := make(map[fdd.Signal]fdd.PointRef, len(eq.Points))
		for signal, ref := range eq.Points {
			s := fdd.Signal(signal)
			if !s.Valid() {
				return nil, fmt.Errorf("config: equipment %s: %w: %s", eq.ID, fdd.ErrUnknownSignal, signal)
			}
			points[s] = fdd.PointRef(ref)
		}
		rules := make([]fdd.RuleID, 0, len(eq.Rules))
		for _, r := range eq.Rules {
			rules = append(rules, fdd.RuleID(strings.ToLower(strings.TrimSpace(r))))
		}
		if len(rules) == 0 {
			rules = fdd.CatalogueIDs()
		}
		thresholds := make(map[fdd.RuleID]map[string]float64, len(rules))
		for _, rule := range rules {
			thresholds[rule] = c.RuleThresholds(eq.ID, rule)
		}
		minSamples := eq.MinSamples
		if minSamples == 0 {
			minSamples = c.Scheduler.MinSamples
		}
		out = append(out, fdd.EquipmentConfig{
			ID:         eq.ID,
			Name:       eq.Name,
			Points:     points,
			Rules:      rules,
			Thresholds: thresholds,
			MinSamples: minSamples,
		})
	}
	return out, nil
}

func mergeThresholds(base, override map[string]float64) {
	for name, value := range override {
		base[name] = value
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
