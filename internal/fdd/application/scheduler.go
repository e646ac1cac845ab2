package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	fdd "ahu-fdd/internal/fdd/domain"
	"ahu-fdd/internal/observability/metrics"
)

const (
	defaultInterval         = time.Second
	defaultEvaluationPeriod = 300 * time.Second
	defaultParallelism      = 8
)

// Scheduler drives sample ingestion on every tick and rule evaluation whenever the
// evaluation period has elapsed on the wall clock.
type Scheduler struct {
	reader      PointReader
	writer      AlarmWriter
	thresholds  ThresholdReader
	clock       Clock
	logger      logrus.FieldLogger
	interval    time.Duration
	period      time.Duration
	parallelism int

	mu        sync.RWMutex
	instances map[string]*fdd.EquipmentInstance

	passMu   sync.Mutex
	lastEval time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes the scheduler.
type Option func(*Scheduler)

// WithPointReader enables polling ingestion. Without a reader only pushed samples arrive.
func WithPointReader(reader PointReader) Option {
	return func(s *Scheduler) {
		s.reader = reader
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInterval sets the ingestion tick.
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithEvaluationPeriod sets the elapsed time between evaluation passes.
func WithEvaluationPeriod(period time.Duration) Option {
	return func(s *Scheduler) {
		if period > 0 {
			s.period = period
		}
	}
}

// WithParallelism bounds how many equipment instances are processed at once.
func WithParallelism(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// NewScheduler constructs a scheduler.
func NewScheduler(writer AlarmWriter, thresholds ThresholdReader, opts ...Option) (*Scheduler, error) {
	if writer == nil {
		return nil, errors.New("fdd scheduler: nil alarm writer")
	}
	if thresholds == nil {
		return nil, errors.New("fdd scheduler: nil threshold reader")
	}
	s := &Scheduler{
		writer:      writer,
		thresholds:  thresholds,
		clock:       systemClock{},
		logger:      logrus.StandardLogger(),
		interval:    defaultInterval,
		period:      defaultEvaluationPeriod,
		parallelism: defaultParallelism,
		instances:   make(map[string]*fdd.EquipmentInstance),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register adds an equipment instance. Rules that cannot run are disabled and returned as
// configuration errors; the instance is registered with the remaining rules.
func (s *Scheduler) Register(cfg fdd.EquipmentConfig) ([]*fdd.ConfigurationError, error) {
	inst, problems, err := fdd.NewEquipmentInstance(cfg)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if _, exists := s.instances[cfg.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", fdd.ErrDuplicateEquipment, cfg.ID)
	}
	s.instances[cfg.ID] = inst
	s.mu.Unlock()

	log := s.logger.WithField("equipment_id", cfg.ID)
	for _, problem := range problems {
		log.WithField("rule_id", problem.RuleID).Warn(problem.Error())
	}
	for _, status := range inst.Alarms() {
		metrics.SetAlarmActive(cfg.ID, string(status.RuleID), false)
	}
	log.WithField("rules", inst.RuleIDs()).Info("equipment registered")
	return problems, nil
}

// Unregister removes an equipment instance and its in-flight window state.
func (s *Scheduler) Unregister(equipmentID string) error {
	s.mu.Lock()
	_, ok := s.instances[equipmentID]
	delete(s.instances, equipmentID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", fdd.ErrUnknownEquipment, equipmentID)
	}
	metrics.ForgetEquipment(equipmentID)
	s.logger.WithField("equipment_id", equipmentID).Info("equipment unregistered")
	return nil
}

// registered reports whether inst is still the instance registered under its id.
func (s *Scheduler) registered(inst *fdd.EquipmentInstance) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[inst.ID()] == inst
}

// Instance returns a registered instance.
func (s *Scheduler) Instance(equipmentID string) (*fdd.EquipmentInstance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[equipmentID]
	return inst, ok
}

// Instances returns registered instances sorted by id.
func (s *Scheduler) Instances() []*fdd.EquipmentInstance {
	s.mu.RLock()
	out := make([]*fdd.EquipmentInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Ingest appends one pushed sample.
func (s *Scheduler) Ingest(equipmentID string, signal fdd.Signal, value float64) error {
	inst, ok := s.Instance(equipmentID)
	if !ok {
		return fmt.Errorf("%w: %s", fdd.ErrUnknownEquipment, equipmentID)
	}
	if err := inst.Append(signal, value); err != nil {
		return err
	}
	metrics.AddSamples("push", 1)
	return nil
}

// IngestTick polls every bound signal of every instance once. Failed reads produce no
// sample.
func (s *Scheduler) IngestTick(ctx context.Context) {
	if s.reader == nil {
		return
	}
	s.forEach(ctx, func(ctx context.Context, inst *fdd.EquipmentInstance) {
		s.ingestInstance(ctx, inst)
	})
}

func (s *Scheduler) ingestInstance(ctx context.Context, inst *fdd.EquipmentInstance) {
	bindings := inst.Bindings()
	appended := 0
	for _, signal := range inst.Signals() {
		addr := PointAddress{EquipmentID: inst.ID(), Signal: signal, Ref: bindings[signal]}
		value, err := s.reader.ReadValue(ctx, addr)
		if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
			err = fmt.Errorf("%w: %s reported %v", ErrPointUnavailable, addr.Ref, value)
		}
		if err != nil {
			reason := "error"
			if errors.Is(err, ErrPointUnavailable) {
				reason = "unavailable"
			}
			metrics.IncPointReadFailure(reason)
			s.logger.WithFields(logrus.Fields{
				"equipment_id": inst.ID(),
				"signal":       signal,
				"point":        addr.Ref,
			}).WithError(err).Debug("point read produced no sample")
			continue
		}
		if err := inst.Append(signal, value); err != nil {
			s.logger.WithField("equipment_id", inst.ID()).WithError(err).Warn("append failed")
			continue
		}
		appended++
	}
	metrics.AddSamples("poll", appended)
}

// Evaluate runs one evaluation pass over every instance. Failures are isolated per rule and
// per instance; the pass itself never fails.
func (s *Scheduler) Evaluate(ctx context.Context) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	start := time.Now()
	now := s.clock.Now().UTC()
	s.forEach(ctx, func(ctx context.Context, inst *fdd.EquipmentInstance) {
		s.evaluateInstance(ctx, inst, now)
	})
	s.lastEval = now
	metrics.ObserveEvaluation(metrics.ResultSuccess, time.Since(start))
}

func (s *Scheduler) evaluateInstance(ctx context.Context, inst *fdd.EquipmentInstance, now time.Time) {
	log := s.logger.WithField("equipment_id", inst.ID())
	thresholds := s.readThresholds(ctx, inst, log)

	outcomes := inst.Evaluate(now, thresholds)

	for _, outcome := range outcomes {
		ruleLog := log.WithField("rule_id", outcome.RuleID)
		rule := string(outcome.RuleID)
		switch {
		case outcome.Err == nil && outcome.Result.Fault:
			metrics.IncRuleOutcome(rule, metrics.OutcomeFault)
		case outcome.Err == nil:
			metrics.IncRuleOutcome(rule, metrics.OutcomeOK)
		case errors.Is(outcome.Err, fdd.ErrInsufficientData):
			metrics.IncRuleOutcome(rule, metrics.OutcomeInsufficient)
			ruleLog.WithError(outcome.Err).Warn("rule skipped, latch unchanged")
		default:
			metrics.IncRuleOutcome(rule, metrics.OutcomeError)
			ruleLog.WithError(outcome.Err).Error("rule evaluation failed")
		}
		if outcome.Transition == nil {
			continue
		}
		if !s.registered(inst) {
			ruleLog.Debug("equipment unregistered during pass, transition dropped")
			continue
		}
		transition := *outcome.Transition
		metrics.IncAlarmTransition(rule, string(transition.To))
		metrics.SetAlarmActive(transition.EquipmentID, rule, transition.To == fdd.AlarmActive)
		ruleLog.WithFields(logrus.Fields{"from": transition.From, "to": transition.To}).Info("alarm transition")
		if err := s.writer.WriteAlarm(ctx, transition); err != nil {
			metrics.IncAlarmWriteError(rule)
			ruleLog.WithError(err).Error("alarm write failed")
		}
	}
}

func (s *Scheduler) readThresholds(ctx context.Context, inst *fdd.EquipmentInstance, log logrus.FieldLogger) map[fdd.RuleID]map[string]float64 {
	out := make(map[fdd.RuleID]map[string]float64)
	for ruleID, names := range inst.ThresholdNames() {
		values := make(map[string]float64, len(names))
		ok := true
		for _, name := range names {
			v, err := s.thresholds.ReadThreshold(ctx, inst.ID(), ruleID, name)
			if err != nil {
				metrics.IncThresholdFailure(string(ruleID))
				log.WithFields(logrus.Fields{"rule_id": ruleID, "threshold": name}).WithError(err).Warn("threshold read failed")
				ok = false
				break
			}
			values[name] = v
		}
		if ok {
			out[ruleID] = values
		}
	}
	return out
}

// Tick performs one ingestion and, if the evaluation period elapsed, one evaluation.
func (s *Scheduler) Tick(ctx context.Context) {
	s.IngestTick(ctx)
	if s.evaluationDue() {
		s.Evaluate(ctx)
	}
}

func (s *Scheduler) evaluationDue() bool {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	return s.clock.Now().UTC().Sub(s.lastEval) >= s.period
}

// Start launches the tick loop. Stop halts it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return errors.New("fdd scheduler: already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.passMu.Lock()
	s.lastEval = s.clock.Now().UTC()
	s.passMu.Unlock()

	go s.loop(ctx, s.done)
	s.logger.WithFields(logrus.Fields{
		"interval":          s.interval.String(),
		"evaluation_period": s.period.String(),
	}).Info("fdd scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A pass that has started finishes even if Stop is called meanwhile.
			s.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Run starts the loop and blocks until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.runMu.Lock()
	done := s.done
	s.runMu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop cancels the loop and waits for any in-flight pass to complete.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("fdd scheduler stopped")
}

func (s *Scheduler) forEach(ctx context.Context, fn func(context.Context, *fdd.EquipmentInstance)) {
	var group errgroup.Group
	group.SetLimit(s.parallelism)
	for _, inst := range s.Instances() {
		inst := inst
		group.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.logger.WithField("equipment_id", inst.ID()).Errorf("equipment pass panicked: %v", r)
				}
			}()
			fn(ctx, inst)
			return nil
		})
	}
	_ = group.Wait()
}
