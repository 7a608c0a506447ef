// Package boundary implements C9: inbound/outbound header propagation,
// canonical payload hashing, downstream-call summaries, and the
// structured boundary.request/boundary.response log events.
package boundary

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	hex "github.com/tmthrgd/go-hex"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("cee/boundary")

// StartDownstreamSpan opens a span around one downstream call, tagging
// it with the request ID and target service per the boundary layer's
// tracing contract.
func StartDownstreamSpan(ctx context.Context, requestID, service string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "downstream."+service, trace.WithAttributes(
		attribute.String("x-request-id", requestID),
		attribute.String("downstream.service", service),
	))
}

const (
	HeaderPayloadHash = "x-olumi-payload-hash"
	HeaderClientBuild = "x-olumi-client-build"
	HeaderRequestID   = "x-request-id"

	HeaderService      = "x-olumi-service"
	HeaderServiceBuild = "x-olumi-service-build"
	HeaderTraceReceived = "x-olumi-trace-received"
	HeaderDownstream    = "x-olumi-downstream-calls"
)

// Inbound captures the headers read off an incoming request.
type Inbound struct {
	PayloadHash string
	ClientBuild string
	RequestID   string
}

// ReadInbound extracts the boundary headers via a case-insensitive
// getter, matching how net/http's Header.Get behaves.
func ReadInbound(get func(string) string) Inbound {
	return Inbound{
		PayloadHash: get(HeaderPayloadHash),
		ClientBuild: get(HeaderClientBuild),
		RequestID:   get(HeaderRequestID),
	}
}

// DownstreamCall is one invocation summary for the
// x-olumi-downstream-calls header, formatted
// svc:status:ms:payloadHash:responseHash.
type DownstreamCall struct {
	Service      string
	Status       int
	ElapsedMs    int64
	PayloadHash  string
	ResponseHash string
}

func (d DownstreamCall) String() string {
	return fmt.Sprintf("%s:%d:%d:%s:%s", d.Service, d.Status, d.ElapsedMs, orNone(d.PayloadHash), orNone(d.ResponseHash))
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// Outbound collects the headers to stamp on a response.
type Outbound struct {
	ServiceName    string
	ServiceBuild   string
	Downstream     []DownstreamCall
	InboundRequest Inbound
}

// Headers computes the full set of response headers this layer writes.
func (o Outbound) Headers() map[string]string {
	h := map[string]string{
		HeaderService:      o.ServiceName,
		HeaderServiceBuild: o.ServiceBuild,
		HeaderTraceReceived: fmt.Sprintf("%s:%s", orNone(o.InboundRequest.RequestID), orNone(o.InboundRequest.PayloadHash)),
	}
	if len(o.Downstream) > 0 {
		parts := make([]string, len(o.Downstream))
		for i, d := range o.Downstream {
			parts[i] = d.String()
		}
		h[HeaderDownstream] = strings.Join(parts, ";")
	}
	return h
}

// CanonicalHash computes the canonical payload hash: sort keys
// alphabetically at all nesting levels, skip undefined values while
// preserving null, SHA256, first 12 hex characters.
func CanonicalHash(v any) string {
	canon := canonicalize(v)
	b, err := json.Marshal(canon)
	if err != nil {
		b = []byte("null")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:12]
}

func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k, val := range t {
			if val == nil {
				keys = append(keys, k)
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			out[k] = canonicalize(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return t
	}
}

// LogRequest emits the boundary.request structured event.
func LogRequest(requestID, method, path string, redactedBody any) {
	log.Info().
		Str("event", "boundary.request").
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Interface("body", redactedBody).
		Msg("boundary request received")
}

// LogResponse emits the boundary.response structured event.
func LogResponse(requestID string, status int, elapsed time.Duration, redactedBody any) {
	log.Info().
		Str("event", "boundary.response").
		Str("request_id", requestID).
		Int("status", status).
		Int64("elapsed_ms", elapsed.Milliseconds()).
		Interface("body", redactedBody).
		Msg("boundary response sent")
}
