// Command nervemind serves the workflow engine locally: it loads workflow
// JSON documents from a directory, registers their triggers and exposes the
// webhook endpoint plus a small run/inspect API. All state is in memory;
// durable deployments supply their own stores behind the same interfaces.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"goa.design/clue/log"

	credstore "github.com/nervemind/nervemind/credential/inmem"
	"github.com/nervemind/nervemind/engine"
	"github.com/nervemind/nervemind/execlog"
	exstore "github.com/nervemind/nervemind/execution/inmem"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/node/builtin"
	"github.com/nervemind/nervemind/telemetry"
	"github.com/nervemind/nervemind/trigger"
	varstore "github.com/nervemind/nervemind/variable/inmem"
	"github.com/nervemind/nervemind/workflow"
	wfstore "github.com/nervemind/nervemind/workflow/inmem"
)

func main() {
	// Define command line flags, add any other flag required to configure the
	// service.
	var (
		hostF      = flag.String("host", "localhost", "Server host")
		httpPortF  = flag.String("http-port", "8080", "HTTP port")
		configF    = flag.String("config", "", "Engine YAML config file (optional)")
		workflowsF = flag.String("workflows", "", "Directory of workflow JSON documents to load and register")
		dbgF       = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	// Setup logger. Replace logger with your own log package of choice.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg := engine.DefaultConfig()
	if *configF != "" {
		var err error
		if cfg, err = engine.LoadConfig(*configF); err != nil {
			log.Fatal(ctx, err)
		}
	}

	// The credential key lives for the process, matching the in-memory store.
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatal(ctx, err)
	}
	credentials, err := credstore.New(key)
	if err != nil {
		log.Fatal(ctx, err)
	}
	var (
		workflows  = wfstore.New()
		executions = exstore.New()
		variables  = varstore.New()
	)

	registry := node.NewRegistry()
	if err := builtin.Register(registry, builtin.Options{}); err != nil {
		log.Fatal(ctx, err)
	}

	// Domain events bridge onto the operational log so both share one
	// pipeline.
	logger := telemetry.NewClueLogger()
	bus := execlog.NewBus()
	if _, err := bus.Subscribe(execlog.NewTelemetrySink(logger)); err != nil {
		log.Fatal(ctx, err)
	}

	eng := engine.New(registry,
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithMetrics(telemetry.NewClueMetrics()),
		engine.WithTracer(telemetry.NewClueTracer()),
		engine.WithBus(bus),
		engine.WithExecutionStore(executions),
		engine.WithWorkflowStore(workflows),
		engine.WithVariableStore(variables),
		engine.WithCredentials(credentials),
		engine.WithBuckets(engine.NewBuckets()),
	)

	dispatcher := trigger.New(eng,
		trigger.WithLogger(logger),
		trigger.WithWorkflowStore(workflows),
	)

	if *workflowsF != "" {
		if err := loadWorkflows(ctx, *workflowsF, workflows, dispatcher); err != nil {
			log.Fatal(ctx, err)
		}
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop.
	errc := make(chan error)

	// Setup interrupt handler so SIGINT and SIGTERM stop the service
	// gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	srvCtx, cancel := context.WithCancel(ctx)

	addr := net.JoinHostPort(*hostF, *httpPortF)
	handleHTTPServer(srvCtx, addr, dispatcher, executions, &wg, errc, *dbgF)

	// Wait for signal.
	log.Printf(ctx, "exiting (%v)", <-errc)

	// Stop taking new triggers first, then drain the engine.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
	defer stopCancel()
	if err := dispatcher.Stop(stopCtx); err != nil {
		log.Error(ctx, err)
	}
	if err := eng.Shutdown(stopCtx); err != nil {
		log.Error(ctx, err)
	}

	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}

// loadWorkflows parses every *.json document in dir, stores it and registers
// its triggers. Documents without an id take the file name.
func loadWorkflows(ctx context.Context, dir string, store workflow.Store, dispatcher *trigger.Dispatcher) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("scan workflow directory: %w", err)
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		wf, err := workflow.ParseJSON(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if wf.ID == "" {
			wf.ID = strings.TrimSuffix(filepath.Base(path), ".json")
		}
		if err := store.Upsert(ctx, wf); err != nil {
			return err
		}
		if err := dispatcher.Register(ctx, wf); err != nil {
			return fmt.Errorf("register workflow %q: %w", wf.ID, err)
		}
		log.Print(ctx, log.KV{K: "msg", V: "workflow loaded"}, log.KV{K: "workflow", V: wf.ID}, log.KV{K: "name", V: wf.Name})
	}
	return nil
}
