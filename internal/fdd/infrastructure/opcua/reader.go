package opcua

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/sirupsen/logrus"

	"ahu-fdd/internal/fdd/application"
	fdd "ahu-fdd/internal/fdd/domain"
)

// Config captures the session settings of the field gateway.
type Config struct {
	Endpoint        string
	Username        string
	Password        string
	SecurityMode    string
	SecurityPolicy  string
	ApplicationName string
	Timeout         time.Duration
}

func (c *Config) applyDefaults() {
	c.SecurityMode = normalizeSecurityMode(c.SecurityMode)
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "ahu-fdd"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

type nodeReader interface {
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
}

// Reader reads point values from an OPC UA server, one node per point reference. The
// reference is an OPC UA node id such as "ns=2;s=AHU1.DuctStatic".
type Reader struct {
	cfg    Config
	logger logrus.FieldLogger

	mu     sync.Mutex
	client *opcua.Client
	reader nodeReader
	nodes  map[fdd.PointRef]*ua.NodeID
}

// NewReader validates the configuration. The session is opened on first read.
func NewReader(cfg Config, logger logrus.FieldLogger) (*Reader, error) {
	cfg.applyDefaults()
	if cfg.Endpoint == "" {
		return nil, errors.New("opcua: endpoint is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reader{
		cfg:    cfg,
		logger: logger.WithField("component", "opcua-reader"),
		nodes:  make(map[fdd.PointRef]*ua.NodeID),
	}, nil
}

// ReadValue implements application.PointReader.
func (r *Reader) ReadValue(ctx context.Context, addr application.PointAddress) (float64, error) {
	nodeID, err := r.nodeID(addr.Ref)
	if err != nil {
		return 0, err
	}
	reader, err := r.session(ctx)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	resp, err := reader.Read(ctx, &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnNeither,
		NodesToRead: []*ua.ReadValueID{
			{NodeID: nodeID, AttributeID: ua.AttributeIDValue},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("opcua: read %s: %w", addr.Ref, err)
	}
	if resp == nil || len(resp.Results) == 0 {
		return 0, fmt.Errorf("%w: %s returned no result", application.ErrPointUnavailable, addr.Ref)
	}
	result := resp.Results[0]
	if result.Status != ua.StatusOK {
		return 0, fmt.Errorf("%w: %s status %s", application.ErrPointUnavailable, addr.Ref, result.Status)
	}
	value, ok := variantToFloat(result.Value)
	if !ok {
		return 0, fmt.Errorf("opcua: %s has non numeric value", addr.Ref)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %s reported %v", application.ErrPointUnavailable, addr.Ref, value)
	}
	return value, nil
}

func (r *Reader) nodeID(ref fdd.PointRef) (*ua.NodeID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.nodes[ref]; ok {
		return id, nil
	}
	id, err := ua.ParseNodeID(string(ref))
	if err != nil {
		return nil, fmt.Errorf("opcua: parse node id %q: %w", ref, err)
	}
	r.nodes[ref] = id
	return id, nil
}

func (r *Reader) session(ctx context.Context) (nodeReader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader != nil {
		return r.reader, nil
	}

	opts := []opcua.Option{
		opcua.SecurityModeString(r.cfg.SecurityMode),
		opcua.SecurityPolicy(r.cfg.SecurityPolicy),
		opcua.ApplicationName(r.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if r.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(r.cfg.Username, r.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}

	client, err := opcua.NewClient(r.cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("opcua connect: %w", err)
	}
	r.client = client
	r.reader = client
	r.logger.WithField("endpoint", r.cfg.Endpoint).Info("opcua session opened")
	return client, nil
}

// Close ends the session.
func (r *Reader) Close(ctx context.Context) error {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.reader = nil
	r.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close(ctx)
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}
