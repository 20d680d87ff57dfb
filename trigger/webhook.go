package trigger

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nervemind/nervemind/workflow"
)

// webhookBodyLimit caps inbound webhook payloads at 1 MiB.
const webhookBodyLimit = 1 << 20

// Handler returns the dispatcher's HTTP surface. POST /webhooks/{webhookID}
// submits the workflow registered under that id and answers 202 Accepted
// with the execution id; unknown ids answer 404.
func (d *Dispatcher) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/webhooks/{webhookID}", d.handleWebhook)
	return r
}

func (d *Dispatcher) handleWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhookID")
	d.mu.RLock()
	reg, ok := d.webhooks[id]
	if d.closed {
		ok = false
	}
	d.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown webhook", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, webhookBodyLimit))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	input := map[string]any{
		"triggeredAt": time.Now().UTC().Format(time.RFC3339),
		"method":      r.Method,
		"path":        r.URL.Path,
		"headers":     flattenHeaders(r.Header),
		"body":        decodeBody(body),
	}
	run, err := d.sub.Submit(r.Context(), reg.wf, workflow.TriggerWebhook, input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"executionId": run.ExecutionID()})
}

// flattenHeaders keeps the first value of each header so the trigger input
// stays a flat map expressions can address.
func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// decodeBody keeps JSON payloads structured and falls back to the raw text.
func decodeBody(body []byte) any {
	if len(body) == 0 {
		return ""
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err == nil {
		return doc
	}
	return string(body)
}
