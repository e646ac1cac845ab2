package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"ahu-fdd/internal/audit"
	"ahu-fdd/internal/auth"
	"ahu-fdd/internal/config"
	"ahu-fdd/internal/fdd/application"
	fdd "ahu-fdd/internal/fdd/domain"
	"ahu-fdd/internal/fdd/infrastructure/kafka"
	"ahu-fdd/internal/fdd/infrastructure/memory"
	"ahu-fdd/internal/fdd/infrastructure/mqtt"
	"ahu-fdd/internal/fdd/infrastructure/opcua"
	"ahu-fdd/internal/fdd/infrastructure/postgres"
	fddhttp "ahu-fdd/internal/fdd/interfaces/http"
	"ahu-fdd/internal/fdd/notify"
	"ahu-fdd/internal/observability/metrics"
)

const (
	shutdownTimeout  = 10 * time.Second
	streamKeepAlive  = 15 * time.Second
	memoryAlarmLimit = 10000
)

func main() {
	logger := logrus.New()
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("config load failed")
	}
	configureLogger(logger, cfg.Log)

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("db open failed")
		}
		defer db.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			logger.WithError(err).Fatal("db ping failed")
		}
	}
	metrics.Init(prometheus.DefaultRegisterer, db, logger)

	var (
		thresholds application.ThresholdStore
		history    application.AlarmHistory
		recorder   application.AlarmWriter
	)
	if db != nil {
		repo := postgres.NewAlarmRepository(db)
		thresholds = postgres.NewThresholdRepository(db, cfg.RuleThresholds)
		history, recorder = repo, repo
	} else {
		logger.Warn("no database configured, alarm history and thresholds are kept in memory")
		alarmLog := memory.NewAlarmLog(memoryAlarmLimit)
		thresholds = memory.NewThresholdStore(cfg.RuleThresholds)
		history, recorder = alarmLog, alarmLog
	}

	// Assigned below; the notifier resolves display names through it.
	var scheduler *application.Scheduler

	broker := fddhttp.NewSSEBroker()
	writers := []application.AlarmWriter{recorder, broker}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := kafka.NewAlarmPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.WithError(err).Fatal("kafka publisher init failed")
		}
		defer publisher.Close()
		writers = append(writers, publisher)
	}
	if cfg.Webhook.URL != "" {
		notifier, err := buildNotifier(cfg, logger, func(equipmentID string) string {
			if scheduler != nil {
				if inst, ok := scheduler.Instance(equipmentID); ok {
					return inst.Name()
				}
			}
			return equipmentID
		})
		if err != nil {
			logger.WithError(err).Fatal("webhook notifier init failed")
		}
		defer notifier.Close()
		writers = append(writers, notifier)
	}

	opts := []application.Option{
		application.WithLogger(logger),
		application.WithInterval(cfg.Scheduler.Interval),
		application.WithEvaluationPeriod(cfg.Scheduler.EvaluationPeriod),
		application.WithParallelism(cfg.Scheduler.Parallelism),
	}
	var subscriptions fddhttp.PointSubscriptions
	switch cfg.Points.Source {
	case config.SourceMQTT:
		store := memory.NewPointStore(cfg.Points.MaxAge)
		subscriber, err := mqtt.Connect(mqtt.Options{
			Broker:   cfg.Points.MQTT.Broker,
			ClientID: cfg.Points.MQTT.ClientID,
			Username: cfg.Points.MQTT.Username,
			Password: cfg.Points.MQTT.Password,
			QoS:      cfg.Points.MQTT.QoS,
		}, store, logger)
		if err != nil {
			logger.WithError(err).Fatal("mqtt connect failed")
		}
		defer subscriber.Close()
		subscriptions = subscriber
		opts = append(opts, application.WithPointReader(store))
	case config.SourceOPCUA:
		reader, err := opcua.NewReader(opcua.Config{
			Endpoint:       cfg.Points.OPCUA.Endpoint,
			Username:       cfg.Points.OPCUA.Username,
			Password:       cfg.Points.OPCUA.Password,
			SecurityMode:   cfg.Points.OPCUA.SecurityMode,
			SecurityPolicy: cfg.Points.OPCUA.SecurityPolicy,
			Timeout:        cfg.Points.OPCUA.Timeout,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("opcua reader init failed")
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = reader.Close(closeCtx)
		}()
		opts = append(opts, application.WithPointReader(reader))
	}

	scheduler, err = application.NewScheduler(notify.NewMultiWriter(writers...), thresholds, opts...)
	if err != nil {
		logger.WithError(err).Fatal("scheduler init failed")
	}
	if err := registerEquipment(cfg, scheduler, subscriptions, logger); err != nil {
		logger.WithError(err).Fatal("equipment registration failed")
	}

	handlerOpts := []fddhttp.HandlerOption{
		fddhttp.WithLogger(logger),
		fddhttp.WithMinSamples(cfg.Scheduler.MinSamples),
		fddhttp.WithReportWindow(time.Duration(cfg.Report.LookbackDays)*24*time.Hour, cfg.Report.Limit),
	}
	if subscriptions != nil {
		handlerOpts = append(handlerOpts, fddhttp.WithPointSubscriptions(subscriptions))
	}
	if db != nil {
		handlerOpts = append(handlerOpts, fddhttp.WithAuditLogger(audit.NewRepository(db)))
	} else {
		handlerOpts = append(handlerOpts, fddhttp.WithAuditLogger(audit.NewLogLogger(logger)))
	}
	handler, err := fddhttp.NewHandler(scheduler, thresholds, history, handlerOpts...)
	if err != nil {
		logger.WithError(err).Fatal("http handler init failed")
	}
	router := fddhttp.NewRouter(handler, fddhttp.NewStreamHandler(broker, streamKeepAlive), promhttp.Handler())

	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil), logger)
	if authMiddleware == nil {
		logger.Warn("AUTH_JWT_SECRET not set, API is unauthenticated")
	}
	accessLog := logger.Writer()
	defer accessLog.Close()
	var root http.Handler = authMiddleware.Wrap(router)
	root = handlers.RecoveryHandler(handlers.RecoveryLogger(logger), handlers.PrintRecoveryStack(true))(root)
	root = handlers.LoggingHandler(accessLog, root)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server failed")
			stop()
		}
	}()

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scheduler stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown failed")
	}
	logger.Info("shutdown complete")
}

func configureLogger(logger *logrus.Logger, cfg config.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithField("level", cfg.Level).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func buildNotifier(cfg config.Config, logger logrus.FieldLogger, names notify.NameResolver) (*notify.Notifier, error) {
	webhookOpts := []notify.WebhookOption{notify.WithTimeout(cfg.Webhook.Timeout)}
	if cfg.Webhook.Token != "" {
		webhookOpts = append(webhookOpts, notify.WithHeader("Authorization", "Bearer "+cfg.Webhook.Token))
	}
	channel, err := notify.NewWebhookChannel(cfg.Webhook.URL, webhookOpts...)
	if err != nil {
		return nil, err
	}
	template, err := notify.NewTemplate(cfg.Webhook.Template)
	if err != nil {
		return nil, err
	}
	return notify.NewNotifier(channel, template,
		notify.WithCooldown(cfg.Webhook.Cooldown),
		notify.WithEscalation(cfg.Webhook.Escalation),
		notify.WithNames(names),
		notify.WithReportURLResolver(buildReportURLResolver(cfg.PublicURL)),
		notify.WithLogger(logger),
	)
}

func buildReportURLResolver(baseURL string) notify.ReportURLResolver {
	if baseURL == "" {
		return nil
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return func(_ context.Context, transition fdd.AlarmTransition) string {
		if transition.EquipmentID == "" {
			return ""
		}
		return baseURL + "/api/v1/reports/faults.pdf?equipment_id=" + url.QueryEscape(transition.EquipmentID)
	}
}

// registerEquipment registers the configured equipment. Disabled rules are logged by the
// scheduler and do not fail startup.
func registerEquipment(cfg config.Config, scheduler *application.Scheduler, subscriptions fddhttp.PointSubscriptions, logger logrus.FieldLogger) error {
	equipment, err := cfg.EquipmentConfigs()
	if err != nil {
		return err
	}
	for _, eq := range equipment {
		problems, err := scheduler.Register(eq)
		if err != nil {
			return err
		}
		if len(problems) > 0 {
			logger.WithField("equipment_id", eq.ID).WithField("disabled_rules", len(problems)).Warn("equipment registered with disabled rules")
		}
		if subscriptions == nil {
			continue
		}
		refs := make([]fdd.PointRef, 0, len(eq.Points))
		for _, ref := range eq.Points {
			refs = append(refs, ref)
		}
		if err := subscriptions.Subscribe(refs...); err != nil {
			logger.WithField("equipment_id", eq.ID).WithError(err).Warn("point subscription failed")
		}
	}
	logger.WithField("equipment", len(equipment)).WithField("source", cfg.Points.Source).Info("fdd equipment loaded")
	return nil
}
