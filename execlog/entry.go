// Package execlog implements the execution logger: a sink-agnostic,
// synchronous multicast bus over structured log entries. Every engine
// component publishes typed entries (execution and node lifecycle, data
// previews, retries, rate limits); subscribers receive them on the emitting
// goroutine in emission order. Handlers must be cheap or offload to their own
// queue; a handler error never interrupts delivery to the remaining handlers.
package execlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	// Entry is one structured execution log record.
	Entry struct {
		// ID uniquely identifies the entry.
		ID string
		// Timestamp is the emission instant.
		Timestamp time.Time
		// Level is the severity.
		Level Level
		// Category classifies the entry for filtering and routing.
		Category Category
		// ExecutionID identifies the run the entry belongs to. Every entry
		// carries it; there is no cross-execution ordering guarantee.
		ExecutionID string
		// NodeID identifies the node the entry concerns, when node-scoped.
		NodeID string
		// Message is the human-readable summary.
		Message string
		// Context carries structured details. Payload-bearing categories
		// (node-input, node-output, variable, expression-eval) populate both
		// KeyPreview (truncated for display) and KeyFull (unbounded).
		Context map[string]any
	}

	// Level is the entry severity.
	Level string

	// Category classifies entries by lifecycle stage or concern.
	Category string
)

// Entry severities.
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry categories.
const (
	CategoryExecutionStart Category = "execution-start"
	CategoryExecutionEnd   Category = "execution-end"
	CategoryNodeStart      Category = "node-start"
	CategoryNodeEnd        Category = "node-end"
	CategoryNodeSkip       Category = "node-skip"
	CategoryNodeInput      Category = "node-input"
	CategoryNodeOutput     Category = "node-output"
	CategoryVariable       Category = "variable"
	CategoryExpressionEval Category = "expression-eval"
	CategoryError          Category = "error"
	CategoryRetry          Category = "retry"
	CategoryRateLimit      Category = "rate-limit"
	CategoryDataFlow       Category = "data-flow"
)

// Context keys populated by payload-bearing categories.
const (
	// KeyPreview holds the display-truncated rendering of a payload.
	KeyPreview = "preview"
	// KeyFull holds the unbounded payload for debug consumers.
	KeyFull = "full"
)

// PreviewLimit is the maximum preview size in bytes.
const PreviewLimit = 1024

// New builds an entry stamped with a fresh id and the current time.
func New(level Level, category Category, executionID, message string) Entry {
	return Entry{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Level:       level,
		Category:    category,
		ExecutionID: executionID,
		Message:     message,
	}
}

// WithNode returns a copy of the entry scoped to the given node.
func (e Entry) WithNode(nodeID string) Entry {
	e.NodeID = nodeID
	return e
}

// WithContext returns a copy of the entry with the given context map.
func (e Entry) WithContext(kv map[string]any) Entry {
	e.Context = kv
	return e
}

// WithPayload returns a copy of the entry carrying both the truncated
// preview and the full payload under the conventional context keys. Existing
// context keys are preserved.
func (e Entry) WithPayload(v any) Entry {
	if e.Context == nil {
		e.Context = make(map[string]any, 2)
	}
	e.Context[KeyPreview] = Preview(v)
	e.Context[KeyFull] = v
	return e
}

// Preview renders v as a display string of at most PreviewLimit bytes.
// Strings render as-is; everything else renders as JSON, falling back to
// fmt formatting for unmarshalable values. Truncation lands on a rune
// boundary and appends an ellipsis marker within the limit.
func Preview(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(b)
		}
	}
	return truncate(s, PreviewLimit)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	const marker = "..."
	cut := limit - len(marker)
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
