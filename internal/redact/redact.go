// Package redact implements C10: a single-pass deep-copy redaction pass
// over arbitrary JSON-shaped data, plus a capped per-stage audit trail
// of every field it drops.
package redact

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	hex "github.com/tmthrgd/go-hex"
)

// csvRowKeys are dropped wholesale, together with everything nested
// under them; statisticalKeys are never dropped as row keys, since they
// describe the data without exposing raw rows.
var csvRowKeys = map[string]bool{
	"rows": true, "data": true, "values": true, "raw_data": true,
}

var statisticalKeys = map[string]bool{
	"count": true, "mean": true, "median": true, "p50": true, "p90": true,
	"p95": true, "p99": true, "min": true, "max": true, "std": true, "variance": true,
}

var sensitiveHeaders = map[string]bool{
	"authorization": true, "cookie": true, "api-key": true,
	"x-olumi-auth": true, "x-olumi-api-key": true,
}

var dangerousKeys = map[string]bool{
	"__proto__": true, "constructor": true, "prototype": true,
}

const quoteMaxLen = 100

// FieldDeletion records one field the redactor dropped or rewrote, for
// the audit trail.
type FieldDeletion struct {
	NodeID string
	Field  string
	Reason string
	Meta   map[string]any
}

// MaxFieldDeletionsPerStage caps how many deletions are recorded before
// a synthetic overflow event replaces the rest.
const MaxFieldDeletionsPerStage = 50

// Ledger accumulates field deletions per stage, independently capped.
type Ledger struct {
	byStage map[string][]FieldDeletion
	total   map[string]int
}

func NewLedger() *Ledger {
	return &Ledger{byStage: make(map[string][]FieldDeletion), total: make(map[string]int)}
}

// Record appends a field-deletion event for stage, honoring the cap: a
// stage may record up to MaxFieldDeletionsPerStage real events (so
// input_count == MaxFieldDeletionsPerStage stores that many real events
// with no truncation at all); the first call past that appends one
// synthetic __truncated__ event and every later call for that stage is
// silently ignored.
func (l *Ledger) Record(stage string, ev FieldDeletion) {
	l.total[stage]++
	existing := l.byStage[stage]
	if len(existing) > MaxFieldDeletionsPerStage {
		return
	}
	if len(existing) == MaxFieldDeletionsPerStage {
		l.byStage[stage] = append(existing, FieldDeletion{
			NodeID: "__truncated__",
			Field:  "*",
			Reason: "TELEMETRY_CAP_REACHED",
			Meta:   map[string]any{"total": l.total[stage], "captured": MaxFieldDeletionsPerStage},
		})
		return
	}
	l.byStage[stage] = append(existing, ev)
}

func (l *Ledger) Events(stage string) []FieldDeletion {
	return l.byStage[stage]
}

// fastHash truncates a SHA256 digest to n hex characters, used to
// replace redacted attachment content with a stable fingerprint.
func fastHash(value string, n int) string {
	sum := sha256.Sum256([]byte(value))
	h := hex.EncodeToString(sum[:])
	if n < len(h) {
		return h[:n]
	}
	return h
}

// Redact deep-copies v via a JSON round trip (which also bounds
// recursion depth and breaks reference cycles), redacting attachment
// content, dropping CSV row keys, truncating quotes, and guarding
// against prototype-pollution keys. stage is used to attribute any
// dropped fields in ledger. nodeID labels the events for this v (the
// caller passes the id of the node/record being redacted, or "" for a
// top-level object).
func Redact(v any, ledger *Ledger, stage, nodeID string) (result any) {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"error": "unserializable_object", "redacted": true}
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return map[string]any{"error": "unserializable_object", "redacted": true}
	}

	out := redactValue(decoded, ledger, stage, nodeID, "")
	root, ok := out.(map[string]any)
	if !ok {
		root = map[string]any{"value": out}
	}
	root["redacted"] = true
	return root
}

func redactValue(v any, ledger *Ledger, stage, nodeID, path string) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, ledger, stage, nodeID, path)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e, ledger, stage, nodeID, fmt.Sprintf("%s[%d]", path, i))
		}
		return out
	default:
		return v
	}
}

func redactMap(m map[string]any, ledger *Ledger, stage, nodeID, path string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if dangerousKeys[k] {
			ledger.Record(stage, FieldDeletion{NodeID: nodeID, Field: joinPath(path, k), Reason: "PROTOTYPE_POLLUTION_KEY"})
			continue
		}
		if csvRowKeys[k] && !statisticalKeys[k] {
			ledger.Record(stage, FieldDeletion{NodeID: nodeID, Field: joinPath(path, k), Reason: "CSV_ROW_DATA"})
			continue
		}
		if k == "attachment_payloads" || k == "attachments" {
			out[k] = redactAttachments(v, ledger, stage, nodeID, joinPath(path, k))
			continue
		}
		if k == "quote" {
			if s, ok := v.(string); ok && len(s) > quoteMaxLen {
				out[k] = s[:quoteMaxLen] + "…"
				continue
			}
		}
		if sensitiveHeaders[k] {
			ledger.Record(stage, FieldDeletion{NodeID: nodeID, Field: joinPath(path, k), Reason: "SENSITIVE_HEADER"})
			continue
		}
		out[k] = redactValue(v, ledger, stage, nodeID, joinPath(path, k))
	}
	return out
}

func redactAttachments(v any, ledger *Ledger, stage, nodeID, path string) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactAttachmentEntry(e, ledger, stage, nodeID, fmt.Sprintf("%s[%d]", path, i))
		}
		return out
	case string:
		return fmt.Sprintf("[REDACTED]:%s", fastHash(t, 8))
	default:
		return v
	}
}

func redactAttachmentEntry(v any, ledger *Ledger, stage, nodeID, path string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		if k == "content" || k == "data" {
			if s, ok := val.(string); ok {
				out[k] = fmt.Sprintf("[REDACTED]:%s", fastHash(s, 8))
				ledger.Record(stage, FieldDeletion{NodeID: nodeID, Field: joinPath(path, k), Reason: "ATTACHMENT_CONTENT"})
				continue
			}
		}
		out[k] = val
	}
	return out
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
