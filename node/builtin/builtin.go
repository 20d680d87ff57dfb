// Package builtin implements the node executors shipped with the engine:
// triggers, HTTP and command actions, code evaluation, routing logic, data
// shaping, LLM chat and the engine-managed flow constructs. Executors are
// stateless; per-run state travels in the execution context.
package builtin

import (
	"net/http"

	"github.com/nervemind/nervemind/node"
)

// Options configures the executors that depend on host resources. The zero
// value is usable: a default HTTP client, the built-in LLM client factory
// and the python3 interpreter from PATH.
type Options struct {
	// HTTPClient issues httpRequest calls. Nil uses a client with a 30s
	// overall timeout.
	HTTPClient *http.Client

	// LLMFactory builds model clients for the llmChat executor. Nil uses
	// DefaultClientFactory (openai and anthropic).
	LLMFactory ClientFactory

	// Python is the interpreter binary the code executor runs python with.
	// Empty means "python3".
	Python string
}

// All returns one instance of every built-in executor.
func All(opts Options) []node.Executor {
	return []node.Executor{
		NewManualTrigger(),
		NewScheduleTrigger(),
		NewWebhookTrigger(),
		NewFileTrigger(),
		NewHTTPRequest(opts.HTTPClient),
		NewCode(opts.Python),
		NewIf(),
		NewSwitch(),
		NewLoop(),
		NewMerge(),
		NewSet(),
		NewFilter(),
		NewSort(),
		NewLLMChat(opts.LLMFactory),
		NewSubworkflow(),
		NewParallel(),
		NewTryCatch(),
		NewRetry(),
		NewRateLimit(),
		NewExecuteCommand(),
	}
}

// Register adds every built-in executor to the registry.
func Register(reg *node.Registry, opts Options) error {
	for _, exec := range All(opts) {
		if err := reg.Register(exec); err != nil {
			return err
		}
	}
	return nil
}
