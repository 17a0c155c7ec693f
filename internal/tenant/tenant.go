// Package tenant validates and normalizes the "tenant" raw attribute
// every event carries against a small allow-list/alias table, trimmed
// down from a fuller tenant-lifecycle manager: a single-pass
// in-process pipeline has no use for runtime tenant create/update/
// delete, only a yes/no membership check and alias canonicalization.
package tenant

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// AllowListDocument is the YAML shape of the tenant allow-list file:
// each canonical tenant name maps to zero or more aliases that should
// be rewritten to it.
type AllowListDocument struct {
	Tenants map[string][]string `yaml:"tenants"`
}

// Registry resolves a raw tenant attribute to its canonical name, or
// reports it unknown.
type Registry struct {
	mu      sync.RWMutex
	aliases map[string]string // alias or canonical name -> canonical name
}

func NewRegistry() *Registry {
	return &Registry{aliases: make(map[string]string)}
}

// Load builds a new registry from an allow-list YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tenant: read allow-list: %w", err)
	}
	var doc AllowListDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tenant: parse allow-list: %w", err)
	}

	r := NewRegistry()
	for canonical, aliases := range doc.Tenants {
		r.aliases[canonical] = canonical
		for _, alias := range aliases {
			r.aliases[alias] = canonical
		}
	}
	return r, nil
}

// Resolve returns the canonical tenant name for raw, and whether raw
// (or one of its aliases) is known at all.
func (r *Registry) Resolve(raw string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical, ok := r.aliases[raw]
	return canonical, ok
}

// Swap atomically replaces the registry's contents with a copy of
// other's. Nothing in this repository calls it; the allow-list is
// loaded once at startup.
func (r *Registry) Swap(other *Registry) {
	other.mu.RLock()
	newAliases := make(map[string]string, len(other.aliases))
	for k, v := range other.aliases {
		newAliases[k] = v
	}
	other.mu.RUnlock()

	r.mu.Lock()
	r.aliases = newAliases
	r.mu.Unlock()
}
