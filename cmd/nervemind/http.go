package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"goa.design/clue/debug"
	"goa.design/clue/log"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/trigger"
	"github.com/nervemind/nervemind/workflow"
)

// handleHTTPServer mounts the webhook endpoint and the run/inspect API and
// starts the HTTP server. The server shuts down when ctx is cancelled.
func handleHTTPServer(ctx context.Context, addr string, dispatcher *trigger.Dispatcher, executions execution.Store, wg *sync.WaitGroup, errc chan error, dbg bool) {
	api := &api{dispatcher: dispatcher, executions: executions}

	mux := chi.NewRouter()
	mux.Post("/workflows/{workflowID}/run", api.runWorkflow)
	mux.Get("/executions/{executionID}", api.getExecution)
	mux.Mount("/", dispatcher.Handler())

	var handler http.Handler = mux
	if dbg {
		// Log query and response bodies if debug logs are enabled.
		handler = debug.HTTP()(handler)
	}
	handler = log.HTTP(ctx)(handler)

	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			log.Printf(ctx, "HTTP server listening on %q", addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}

// api serves the manual-run and execution-inspection endpoints.
type api struct {
	dispatcher *trigger.Dispatcher
	executions execution.Store
}

func (a *api) runWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	var input map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			http.Error(w, "parse body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	run, err := a.dispatcher.TriggerManual(r.Context(), workflowID, input)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"executionId": run.ExecutionID()})
}

func (a *api) getExecution(w http.ResponseWriter, r *http.Request) {
	ex, err := a.executions.Load(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		if errors.Is(err, execution.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(renderExecution(ex))
}

// renderExecution shapes an execution record for the inspect endpoint.
// Node inputs and outputs are omitted; the execution log carries previews.
func renderExecution(ex *execution.Execution) map[string]any {
	nodes := make([]map[string]any, 0, len(ex.NodeExecutions))
	for _, ne := range ex.NodeExecutions {
		n := map[string]any{
			"nodeId":   ne.NodeID,
			"nodeName": ne.NodeName,
			"nodeType": ne.NodeType,
			"status":   string(ne.Status),
		}
		if ne.ErrorMessage != "" {
			n["error"] = ne.ErrorMessage
		}
		nodes = append(nodes, n)
	}
	out := map[string]any{
		"id":          ex.ID,
		"workflowId":  ex.WorkflowID,
		"status":      string(ex.Status),
		"triggerKind": string(ex.TriggerKind),
		"startedAt":   ex.StartedAt.UTC().Format(time.RFC3339),
		"nodes":       nodes,
	}
	if !ex.FinishedAt.IsZero() {
		out["finishedAt"] = ex.FinishedAt.UTC().Format(time.RFC3339)
	}
	if ex.ErrorMessage != "" {
		out["error"] = ex.ErrorMessage
	}
	if ex.OutputData != nil {
		out["output"] = ex.OutputData
	}
	return out
}
