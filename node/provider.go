package node

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type (
	// Provider is the unit of node-type discovery. Host binaries and plugin
	// packages register providers (typically from init functions) with
	// RegisterProvider; InstallProviders later verifies inter-plugin
	// dependencies and registers every handle on a Registry. Built-in and
	// provider-discovered executors coexist under the same contract.
	Provider interface {
		// ID is the stable plugin identifier.
		ID() string
		// Version is the plugin version string.
		Version() string
		// Description documents the plugin for catalog surfaces.
		Description() string
		// Handles returns the executors the plugin contributes.
		Handles() []Executor
		// Dependencies lists the plugins this one requires.
		Dependencies() []Dependency
	}

	// Dependency names another plugin a provider requires before its
	// handles may be installed.
	Dependency struct {
		// PluginID is the required provider's ID.
		PluginID string
		// Constraint restricts acceptable versions: empty accepts any,
		// a trailing '*' matches by prefix, anything else matches exactly.
		Constraint string
	}

	// StaticProvider is a ready-made Provider for hosts that assemble
	// plugins in code rather than shipping separate packages.
	StaticProvider struct {
		PluginID      string
		PluginVersion string
		Desc          string
		Executors     []Executor
		Requires      []Dependency
	}
)

// providers is the process-scoped provider set. Plugin discovery is
// intrinsically process-wide: packages announce themselves at init time,
// before any Registry exists to hand them to.
var (
	providersMu sync.RWMutex
	providers   = make(map[string]Provider)
)

// ErrProviderDependency indicates a provider whose declared dependency is
// missing or whose installed version does not satisfy the constraint.
var ErrProviderDependency = errors.New("plugin dependency not satisfied")

// RegisterProvider adds a provider to the process-wide set. Duplicate ids
// are rejected so two plugins cannot silently shadow each other.
func RegisterProvider(p Provider) error {
	if p == nil {
		return errors.New("provider is required")
	}
	if p.ID() == "" {
		return errors.New("provider id is required")
	}
	providersMu.Lock()
	defer providersMu.Unlock()
	if _, dup := providers[p.ID()]; dup {
		return fmt.Errorf("plugin %q already registered", p.ID())
	}
	providers[p.ID()] = p
	return nil
}

// Providers returns the registered providers sorted by id.
func Providers() []Provider {
	providersMu.RLock()
	defer providersMu.RUnlock()
	out := make([]Provider, 0, len(providers))
	for _, p := range providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ResetProviders clears the process-wide provider set. Test use only.
func ResetProviders() {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers = make(map[string]Provider)
}

// InstallProviders verifies every registered provider's dependencies and
// registers their handles on the registry. Installation stops at the first
// unsatisfied dependency or registration conflict.
func InstallProviders(reg *Registry) error {
	for _, p := range Providers() {
		if err := verifyDependencies(p); err != nil {
			return err
		}
		for _, exec := range p.Handles() {
			if err := reg.Register(exec); err != nil {
				return fmt.Errorf("plugin %q: %w", p.ID(), err)
			}
		}
	}
	return nil
}

func verifyDependencies(p Provider) error {
	providersMu.RLock()
	defer providersMu.RUnlock()
	for _, dep := range p.Dependencies() {
		required, ok := providers[dep.PluginID]
		if !ok {
			return fmt.Errorf("%w: plugin %q requires %q which is not registered",
				ErrProviderDependency, p.ID(), dep.PluginID)
		}
		if !versionSatisfies(required.Version(), dep.Constraint) {
			return fmt.Errorf("%w: plugin %q requires %q %s, found %s",
				ErrProviderDependency, p.ID(), dep.PluginID, dep.Constraint, required.Version())
		}
	}
	return nil
}

// versionSatisfies applies the constraint grammar documented on Dependency.
func versionSatisfies(version, constraint string) bool {
	if constraint == "" {
		return true
	}
	if strings.HasSuffix(constraint, "*") {
		return strings.HasPrefix(version, strings.TrimSuffix(constraint, "*"))
	}
	return version == constraint
}

// ID implements Provider.
func (p *StaticProvider) ID() string { return p.PluginID }

// Version implements Provider.
func (p *StaticProvider) Version() string { return p.PluginVersion }

// Description implements Provider.
func (p *StaticProvider) Description() string { return p.Desc }

// Handles implements Provider.
func (p *StaticProvider) Handles() []Executor { return p.Executors }

// Dependencies implements Provider.
func (p *StaticProvider) Dependencies() []Dependency { return p.Requires }
