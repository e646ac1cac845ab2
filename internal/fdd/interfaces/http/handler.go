package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"ahu-fdd/internal/audit"
	"ahu-fdd/internal/auth"
	"ahu-fdd/internal/fdd/application"
	fdd "ahu-fdd/internal/fdd/domain"
)

const (
	defaultReportLookback = 7 * 24 * time.Hour
	defaultReportLimit    = 5000
	defaultListLimit      = 200
	maxListLimit          = 5000
)

// PointSubscriptions follows registration changes for pub/sub point sources.
type PointSubscriptions interface {
	Subscribe(refs ...fdd.PointRef) error
	Unsubscribe(refs ...fdd.PointRef) error
}

// Handler serves equipment, threshold, alarm and report endpoints.
type Handler struct {
	scheduler  *application.Scheduler
	thresholds application.ThresholdStore
	history    application.AlarmHistory
	points     PointSubscriptions
	audit      audit.Logger
	logger     logrus.FieldLogger
	now        func() time.Time

	minSamples     int
	reportLookback time.Duration
	reportLimit    int
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithPointSubscriptions subscribes points of equipment registered over the API.
func WithPointSubscriptions(points PointSubscriptions) HandlerOption {
	return func(h *Handler) {
		h.points = points
	}
}

// WithAuditLogger records operator changes.
func WithAuditLogger(logger audit.Logger) HandlerOption {
	return func(h *Handler) {
		h.audit = logger
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger logrus.FieldLogger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithNow overrides the clock used for report windows.
func WithNow(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithMinSamples sets the default min_samples of equipment registered over the API.
func WithMinSamples(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.minSamples = n
		}
	}
}

// WithReportWindow sets the default report lookback and row limit.
func WithReportWindow(lookback time.Duration, limit int) HandlerOption {
	return func(h *Handler) {
		if lookback > 0 {
			h.reportLookback = lookback
		}
		if limit > 0 {
			h.reportLimit = limit
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(scheduler *application.Scheduler, thresholds application.ThresholdStore, history application.AlarmHistory, opts ...HandlerOption) (*Handler, error) {
	if scheduler == nil {
		return nil, errors.New("fdd handler: nil scheduler")
	}
	if thresholds == nil {
		return nil, errors.New("fdd handler: nil threshold store")
	}
	if history == nil {
		return nil, errors.New("fdd handler: nil alarm history")
	}
	h := &Handler{
		scheduler:      scheduler,
		thresholds:     thresholds,
		history:        history,
		logger:         logrus.StandardLogger(),
		now:            func() time.Time { return time.Now().UTC() },
		minSamples:     1,
		reportLookback: defaultReportLookback,
		reportLimit:    defaultReportLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) logAudit(r *http.Request, action, equipmentID, ruleID string, meta any) {
	if h.audit == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	err := h.audit.Log(r.Context(), audit.Entry{
		Actor:       auth.SubjectFromContext(r.Context()),
		Role:        string(auth.RoleFromContext(r.Context())),
		Action:      action,
		EquipmentID: equipmentID,
		RuleID:      ruleID,
		Metadata:    payload,
		IP:          audit.ClientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		h.logger.WithError(err).WithField("action", action).Warn("audit write failed")
	}
}
