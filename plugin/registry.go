// Package plugin is the host-facing surface: the three history node classes
// and the /history HTTP endpoints. The host's route registrar and node
// registry are modeled as explicit interfaces handed to Register, so nothing
// here depends on global state and the registration logic is testable on its
// own.
package plugin

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/promptvault/comfyhistory/history"
)

// Router abstracts the host's route registrar.
type Router interface {
	Handle(method, pattern string, handler http.HandlerFunc)
}

// Registry abstracts the host's node registry.
type Registry interface {
	RegisterNode(name, displayName string, node any)
}

// MuxRouter adapts a standard ServeMux to the Router interface.
type MuxRouter struct {
	Mux *http.ServeMux
}

func (m MuxRouter) Handle(method, pattern string, handler http.HandlerFunc) {
	m.Mux.HandleFunc(method+" "+pattern, handler)
}

// Options configures the plugin at registration time.
type Options struct {
	// PromptsDir holds the saved prompt JSON files.
	PromptsDir string
	// OutputDir is the host's image output directory.
	OutputDir string
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Plugin is the registered plugin instance.
type Plugin struct {
	store     *history.Store
	outputDir string
	logger    *slog.Logger

	Saver    *PromptHistorySaver
	Embedder *PromptWorkflowEmbedder
	Loader   *PromptWorkflowLoader
}

// Register wires the node classes into the registry and the /history routes
// into the router. Either of reg or router may be nil when the host only
// wants one half of the surface.
func Register(reg Registry, router Router, opts Options) (*Plugin, error) {
	if opts.PromptsDir == "" {
		return nil, fmt.Errorf("plugin: prompts directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Plugin{
		store:     history.NewStore(opts.PromptsDir),
		outputDir: opts.OutputDir,
		logger:    logger,
	}
	p.Saver = &PromptHistorySaver{store: p.store, logger: logger}
	p.Embedder = &PromptWorkflowEmbedder{outputDir: opts.OutputDir, logger: logger}
	p.Loader = &PromptWorkflowLoader{}

	if reg != nil {
		reg.RegisterNode("PromptHistorySaver", "Prompt History Saver", p.Saver)
		reg.RegisterNode("PromptWorkflowEmbedder", "Embed Prompt to PNG", p.Embedder)
		reg.RegisterNode("PromptWorkflowLoader", "Load Prompt from PNG", p.Loader)
	}
	if router != nil {
		p.registerRoutes(router)
	}
	return p, nil
}

// Store exposes the prompt store backing the plugin.
func (p *Plugin) Store() *history.Store {
	return p.store
}
