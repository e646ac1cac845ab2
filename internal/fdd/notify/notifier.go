package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	fdd "ahu-fdd/internal/fdd/domain"
)

// Event types.
const (
	EventRaised    = "raised"
	EventCleared   = "cleared"
	EventEscalated = "escalated"
)

// Clock provides time for cooldown and escalation.
type Clock interface {
	Now() time.Time
}

// NameResolver maps an equipment id to a display name.
type NameResolver func(equipmentID string) string

// ReportURLResolver provides a report link for a transition when available.
type ReportURLResolver func(ctx context.Context, transition fdd.AlarmTransition) string

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alarm transitions and sends them through a channel. It implements the
// scheduler's AlarmWriter.
type Notifier struct {
	channel        Channel
	template       *Template
	logger         logrus.FieldLogger
	names          NameResolver
	reportURL      ReportURLResolver
	clock          Clock
	escalation     time.Duration
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	sent   map[string]sendRecord
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation re-sends a raised alarm that is still active after the delay.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alarm and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithNames injects an equipment display name resolver.
func WithNames(names NameResolver) Option {
	return func(n *Notifier) {
		if names != nil {
			n.names = names
		}
	}
}

// WithReportURLResolver injects a report link resolver.
func WithReportURLResolver(resolver ReportURLResolver) Option {
	return func(n *Notifier) {
		if resolver != nil {
			n.reportURL = resolver
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs a notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("fdd notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:        channel,
		template:       template,
		logger:         logrus.StandardLogger(),
		clock:          systemClock{},
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// WriteAlarm notifies the transition and arms or cancels escalation.
func (n *Notifier) WriteAlarm(ctx context.Context, transition fdd.AlarmTransition) error {
	if n == nil || n.channel == nil {
		return errors.New("fdd notifier: nil channel")
	}
	eventType := EventCleared
	if transition.To == fdd.AlarmActive {
		eventType = EventRaised
	}
	err := n.dispatch(ctx, eventType, transition)

	switch eventType {
	case EventRaised:
		n.scheduleEscalation(transition)
	case EventCleared:
		n.cancelEscalation(alarmKey(transition))
	}
	return err
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, transition fdd.AlarmTransition) error {
	reportURL := ""
	if n.reportURL != nil {
		reportURL = n.reportURL(ctx, transition)
	}
	data := n.buildTemplateData(eventType, transition, reportURL)
	content, err := n.template.Render(data)
	if err != nil {
		return err
	}
	key := alarmKey(transition)
	if !n.shouldSend(key, eventType, content) {
		n.logger.WithFields(logrus.Fields{
			"equipment_id": transition.EquipmentID,
			"rule_id":      transition.RuleID,
			"event":        eventType,
		}).Debug("notification suppressed")
		return nil
	}
	msg := Message{
		Event:         eventType,
		EquipmentID:   transition.EquipmentID,
		EquipmentName: data.Equipment,
		RuleID:        data.RuleID,
		RuleName:      data.Rule,
		State:         data.Status,
		At:            transition.At.UTC(),
		ReportURL:     reportURL,
		Text:          content,
	}
	if err := n.channel.Send(ctx, msg); err != nil {
		return err
	}
	n.markSent(key, eventType, content)
	return nil
}

func (n *Notifier) scheduleEscalation(transition fdd.AlarmTransition) {
	if n.escalation <= 0 {
		return
	}
	key := alarmKey(transition)
	n.mu.Lock()
	if existing, ok := n.timers[key]; ok && existing != nil {
		existing.Stop()
	}
	n.timers[key] = time.AfterFunc(n.escalation, func() {
		n.runEscalation(key, transition)
	})
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(key string) {
	n.mu.Lock()
	timer := n.timers[key]
	delete(n.timers, key)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(key string, transition fdd.AlarmTransition) {
	n.mu.Lock()
	_, pending := n.timers[key]
	delete(n.timers, key)
	n.mu.Unlock()
	if !pending {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.requestTimeout)
	defer cancel()
	if err := n.dispatch(ctx, EventEscalated, transition); err != nil {
		n.logger.WithFields(logrus.Fields{
			"equipment_id": transition.EquipmentID,
			"rule_id":      transition.RuleID,
		}).WithError(err).Warn("escalation notification failed")
	}
}

func (n *Notifier) buildTemplateData(eventType string, transition fdd.AlarmTransition, reportURL string) TemplateData {
	equipment := transition.EquipmentID
	if n.names != nil {
		if name := n.names(transition.EquipmentID); name != "" {
			equipment = name
		}
	}
	ruleName := string(transition.RuleID)
	if rule, ok := fdd.LookupRule(transition.RuleID); ok && rule.Name != "" {
		ruleName = rule.Name
	}
	return TemplateData{
		Equipment:   equipment,
		EquipmentID: transition.EquipmentID,
		Rule:        ruleName,
		RuleID:      string(transition.RuleID),
		Description: conditionFor(transition.RuleID),
		StartTime:   transition.At.UTC().Format(time.RFC3339),
		Status:      string(transition.To),
		Suggestion:  suggestionFor(transition.RuleID, eventType),
		ReportURL:   reportURL,
		Event:       eventType,
		EventLabel:  eventLabel(eventType),
	}
}

func eventLabel(event string) string {
	switch event {
	case EventRaised:
		return "Raised"
	case EventCleared:
		return "Cleared"
	case EventEscalated:
		return "Escalated"
	default:
		return event
	}
}

func conditionFor(rule fdd.RuleID) string {
	switch rule {
	case fdd.RuleFC1:
		return "duct static pressure below setpoint while the supply fan runs near maximum speed"
	case fdd.RuleFC2:
		return "mixed air colder than both return and outside air"
	case fdd.RuleFC3:
		return "mixed air warmer than both return and outside air"
	default:
		return string(rule)
	}
}

func suggestionFor(rule fdd.RuleID, eventType string) string {
	if eventType == EventCleared {
		return "No action required."
	}
	switch rule {
	case fdd.RuleFC1:
		return "Check the duct static sensor, supply fan belt and VFD, and for duct leaks or closed dampers."
	case fdd.RuleFC2, fdd.RuleFC3:
		return "Verify mixed, return and outside air sensors and the economizer damper position."
	default:
		return "Inspect the unit and confirm the fault condition."
	}
}

func (n *Notifier) shouldSend(key, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[notificationKey(key, eventType)]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(key, eventType, content string) {
	n.mu.Lock()
	n.sent[notificationKey(key, eventType)] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func alarmKey(transition fdd.AlarmTransition) string {
	return transition.EquipmentID + "/" + string(transition.RuleID)
}

func notificationKey(key, eventType string) string {
	return key + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
