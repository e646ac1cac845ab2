package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Actions recorded for operator changes.
const (
	ActionEquipmentRegister   = "equipment.register"
	ActionEquipmentUnregister = "equipment.unregister"
	ActionThresholdUpdate     = "threshold.update"
)

// Entry is one operator action against an equipment instance.
type Entry struct {
	ID            string
	Actor         string
	Role          string
	Action        string
	EquipmentID   string
	RuleID        string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ClientIP extracts the client ip from proxy headers or RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func complete(entry *Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
}

// LogLogger writes audit entries to a structured logger. It is used when no database is
// configured.
type LogLogger struct {
	logger logrus.FieldLogger
}

// NewLogLogger constructs a LogLogger.
func NewLogLogger(logger logrus.FieldLogger) *LogLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogLogger{logger: logger.WithField("component", "audit")}
}

// Log implements Logger.
func (l *LogLogger) Log(_ context.Context, entry Entry) error {
	complete(&entry)
	l.logger.WithFields(logrus.Fields{
		"audit_id":     entry.ID,
		"actor":        entry.Actor,
		"role":         entry.Role,
		"action":       entry.Action,
		"equipment_id": entry.EquipmentID,
		"rule_id":      entry.RuleID,
		"metadata":     string(entry.Metadata),
		"ip":           entry.IP,
	}).Info("audit")
	return nil
}
