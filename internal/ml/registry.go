package ml

import "sort"

// Registry is the in-memory set of models available for comparison in the
// current session, keyed by model name. It is not safe for concurrent use;
// callers serialize access.
type Registry struct {
	models map[string]*ModelRecord
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*ModelRecord)}
}

// Put adds or replaces the record under its name.
func (r *Registry) Put(rec *ModelRecord) {
	if rec == nil {
		return
	}
	r.models[rec.Name] = rec
}

func (r *Registry) Get(name string) (*ModelRecord, bool) {
	rec, ok := r.models[name]
	return rec, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.models[name]
	return ok
}

// Delete removes name and reports whether it was present.
func (r *Registry) Delete(name string) bool {
	_, ok := r.models[name]
	delete(r.models, name)
	return ok
}

func (r *Registry) Len() int { return len(r.models) }

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Records returns all records sorted by name.
func (r *Registry) Records() []*ModelRecord {
	out := make([]*ModelRecord, 0, len(r.models))
	for _, name := range r.Names() {
		out = append(out, r.models[name])
	}
	return out
}

// Clear removes every record.
func (r *Registry) Clear() {
	r.models = make(map[string]*ModelRecord)
}
