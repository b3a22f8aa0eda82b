package octoprint

import (
	"sort"
	"sync"
)

// Registry holds the slots polled by a bridge, keyed by slot id.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]SlotDescriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]SlotDescriptor)}
}

// Register adds d. The first registration of an id wins; later ones are
// ignored and Register returns false.
func (r *Registry) Register(d SlotDescriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[d.ID]; exists {
		return false
	}
	d.KeyPath = append([]string(nil), d.KeyPath...)
	r.slots[d.ID] = d
	return true
}

// Get returns the descriptor registered under id.
func (r *Registry) Get(id string) (SlotDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.slots[id]
	return d, ok
}

// Slots returns every descriptor sorted by id.
func (r *Registry) Slots() []SlotDescriptor {
	r.mu.RLock()
	out := make([]SlotDescriptor, 0, len(r.slots))
	for _, d := range r.slots {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RouteGroup is the set of slots served by one route.
type RouteGroup struct {
	Route string
	Slots []SlotDescriptor
}

// Routes groups the registered slots by route. Groups are sorted by route
// and slots within a group by id.
func (r *Registry) Routes() []RouteGroup {
	byRoute := make(map[string][]SlotDescriptor)
	for _, d := range r.Slots() {
		byRoute[d.Route] = append(byRoute[d.Route], d)
	}

	out := make([]RouteGroup, 0, len(byRoute))
	for route, slots := range byRoute {
		out = append(out, RouteGroup{Route: route, Slots: slots})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

// Len returns the number of registered slots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Clear removes every slot.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.slots = make(map[string]SlotDescriptor)
	r.mu.Unlock()
}
