package stage

import (
	"fmt"
	"sync"
)

// Descriptor is the process-wide, declarative record of one registered
// stage constructor: its kind, a human description, and the trigger points
// (e.g. "pre_llm", "pre_action") other components consult to find it.
type Descriptor struct {
	Name        string
	Kind        Kind
	Description string
	Triggers    []string
	New         func() Stage
}

// Registry maps stage names to their [Descriptor]. Registration happens at
// module load time; lookups happen while building topologies. Safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Descriptor
	byKind map[Kind][]string
	byTrig map[string][]string
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Descriptor),
		byKind: make(map[Kind][]string),
		byTrig: make(map[string][]string),
	}
}

// Register adds d to the registry. It returns an error if a stage is already
// registered under d.Name.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[d.Name]; exists {
		return fmt.Errorf("stage: %q is already registered", d.Name)
	}
	r.byName[d.Name] = d
	r.byKind[d.Kind] = append(r.byKind[d.Kind], d.Name)
	for _, t := range d.Triggers {
		r.byTrig[t] = append(r.byTrig[t], d.Name)
	}
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// ByKind returns the names of all stages registered with the given kind.
func (r *Registry) ByKind(k Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byKind[k]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// ByTrigger returns the names of all stages registered with the given
// trigger (e.g. "pre_llm", "pre_action", "post_action").
func (r *Registry) ByTrigger(trigger string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byTrig[trigger]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// New instantiates a fresh [Stage] from the descriptor registered under name.
func (r *Registry) New(name string) (Stage, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("stage: %q is not registered", name)
	}
	if d.New == nil {
		return nil, fmt.Errorf("stage: %q has no constructor", name)
	}
	return d.New(), nil
}
