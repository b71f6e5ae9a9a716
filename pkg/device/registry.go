package device

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a device bound to a target CPU. The options map carries
// backend-specific settings (PCI address for NIC backends, etc).
type Factory func(cpu int, opts map[string]string) (Device, error)

type entry struct {
	info    Info
	factory Factory
}

// Registry maps device IDs to their descriptors and factories.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]entry
}

var globalRegistry = &Registry{devices: make(map[string]entry)}

// Register adds a device to the global registry. Backends call this from
// their package init.
func Register(info Info, factory Factory) error {
	return globalRegistry.Register(info, factory)
}

// Get resolves a device ID against the global registry.
func Get(id string, cpu int, opts map[string]string) (Device, error) {
	return globalRegistry.Get(id, cpu, opts)
}

// Scan returns the descriptors of all registered devices.
func Scan() []Info {
	return globalRegistry.Scan()
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]entry)}
}

// Register adds a device descriptor and factory to the registry.
func (r *Registry) Register(info Info, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("device factory cannot be nil")
	}
	if err := info.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[info.ID]; exists {
		return fmt.Errorf("device %q already registered", info.ID)
	}

	r.devices[info.ID] = entry{info: info, factory: factory}
	return nil
}

// Get constructs the device registered under id.
func (r *Registry) Get(id string, cpu int, opts map[string]string) (Device, error) {
	r.mu.RLock()
	e, exists := r.devices[id]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("device %q not found", id)
	}
	return e.factory(cpu, opts)
}

// Scan returns all registered descriptors sorted by ID.
func (r *Registry) Scan() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.devices))
	for _, e := range r.devices {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// List returns all registered device IDs in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
