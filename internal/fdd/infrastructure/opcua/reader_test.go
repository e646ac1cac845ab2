package opcua

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/gopcua/opcua/ua"

	"ahu-fdd/internal/fdd/application"
)

type stubNodeReader struct {
	resp *ua.ReadResponse
	err  error
	reqs []*ua.ReadRequest
}

func (s *stubNodeReader) Read(_ context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
	s.reqs = append(s.reqs, req)
	return s.resp, s.err
}

func newStubbedReader(t *testing.T, stub *stubNodeReader) *Reader {
	t.Helper()
	r, err := NewReader(Config{Endpoint: "opc.tcp://plc:4840"}, nil)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	r.reader = stub
	return r
}

func TestReaderReadValue(t *testing.T) {
	stub := &stubNodeReader{resp: &ua.ReadResponse{
		Results: []*ua.DataValue{{Value: ua.MustVariant(float32(1.25)), Status: ua.StatusOK}},
	}}
	r := newStubbedReader(t, stub)

	v, err := r.ReadValue(context.Background(), application.PointAddress{Ref: "ns=2;s=AHU1.DuctStatic"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 1.25 {
		t.Fatalf("expected 1.25, got %v", v)
	}
	if len(stub.reqs) != 1 || stub.reqs[0].NodesToRead[0].NodeID.String() != "ns=2;s=AHU1.DuctStatic" {
		t.Fatalf("unexpected request %+v", stub.reqs)
	}
}

func TestReaderBadStatusIsUnavailable(t *testing.T) {
	stub := &stubNodeReader{resp: &ua.ReadResponse{
		Results: []*ua.DataValue{{Status: ua.StatusBadNodeIDUnknown}},
	}}
	r := newStubbedReader(t, stub)
	_, err := r.ReadValue(context.Background(), application.PointAddress{Ref: "ns=2;i=42"})
	if !errors.Is(err, application.ErrPointUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestReaderNaNIsUnavailable(t *testing.T) {
	stub := &stubNodeReader{resp: &ua.ReadResponse{
		Results: []*ua.DataValue{{Value: ua.MustVariant(math.NaN()), Status: ua.StatusOK}},
	}}
	r := newStubbedReader(t, stub)
	_, err := r.ReadValue(context.Background(), application.PointAddress{Ref: "ns=2;s=AHU1.DuctStatic"})
	if !errors.Is(err, application.ErrPointUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestReaderRejectsBadNodeID(t *testing.T) {
	r := newStubbedReader(t, &stubNodeReader{})
	if _, err := r.ReadValue(context.Background(), application.PointAddress{Ref: "ns=x;q=1"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestVariantToFloat(t *testing.T) {
	if v, ok := variantToFloat(ua.MustVariant(int32(7))); !ok || v != 7 {
		t.Fatalf("expected 7, got %v %v", v, ok)
	}
	if v, ok := variantToFloat(ua.MustVariant(true)); !ok || v != 1 {
		t.Fatalf("expected bool as 1, got %v %v", v, ok)
	}
	if _, ok := variantToFloat(ua.MustVariant("text")); ok {
		t.Fatalf("expected string rejected")
	}
	if _, ok := variantToFloat(nil); ok {
		t.Fatalf("expected nil rejected")
	}
}

func TestNewReaderRequiresEndpoint(t *testing.T) {
	if _, err := NewReader(Config{}, nil); err == nil {
		t.Fatalf("expected endpoint error")
	}
}
