package param

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxParams bounds the number of parameters so snapshots stay fixed-size.
const MaxParams = 32

// table is an immutable view of the registered parameters. Writers replace
// it wholesale; readers only ever load the pointer.
type table struct {
	order []*Parameter
	byKey map[Key]int
	byID  map[string]int
}

// Registry manages plugin parameters. Reads are lock-free and safe from the
// audio goroutine; Add is meant for setup time.
type Registry struct {
	mu    sync.Mutex // serializes Add
	table atomic.Pointer[table]
}

// NewRegistry creates a new parameter registry
func NewRegistry() *Registry {
	r := &Registry{}
	r.table.Store(&table{byKey: map[Key]int{}, byID: map[string]int{}})
	return r
}

// Add registers new parameters. Duplicate keys are skipped.
func (r *Registry) Add(params ...*Parameter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.table.Load()
	next := &table{
		order: append(make([]*Parameter, 0, len(old.order)+len(params)), old.order...),
		byKey: make(map[Key]int, len(old.byKey)+len(params)),
		byID:  make(map[string]int, len(old.byID)+len(params)),
	}
	for k, v := range old.byKey {
		next.byKey[k] = v
	}
	for k, v := range old.byID {
		next.byID[k] = v
	}

	for _, p := range params {
		if _, exists := next.byKey[p.Key]; exists {
			continue
		}
		if len(next.order) >= MaxParams {
			return fmt.Errorf("param: registry full (%d parameters)", MaxParams)
		}
		if p.ID != "" {
			if _, exists := next.byID[p.ID]; exists {
				return fmt.Errorf("param: duplicate id %q", p.ID)
			}
			next.byID[p.ID] = len(next.order)
		}
		next.byKey[p.Key] = len(next.order)
		next.order = append(next.order, p)
	}

	r.table.Store(next)
	return nil
}

// Get retrieves a parameter by key
func (r *Registry) Get(key Key) *Parameter {
	t := r.table.Load()
	if i, ok := t.byKey[key]; ok {
		return t.order[i]
	}
	return nil
}

// Lookup retrieves a parameter by its string id.
func (r *Registry) Lookup(id string) *Parameter {
	t := r.table.Load()
	if i, ok := t.byID[id]; ok {
		return t.order[i]
	}
	return nil
}

// Index returns the snapshot slot of a parameter.
func (r *Registry) Index(key Key) (int, bool) {
	i, ok := r.table.Load().byKey[key]
	return i, ok
}

// GetByIndex retrieves a parameter by index
func (r *Registry) GetByIndex(index int32) *Parameter {
	t := r.table.Load()
	if index < 0 || index >= int32(len(t.order)) {
		return nil
	}
	return t.order[index]
}

// Count returns the number of parameters
func (r *Registry) Count() int32 {
	return int32(len(r.table.Load().order))
}

// All returns all parameters in order
func (r *Registry) All() []*Parameter {
	t := r.table.Load()
	result := make([]*Parameter, len(t.order))
	copy(result, t.order)
	return result
}

// IDs returns the string ids in snapshot order.
func (r *Registry) IDs() []string {
	t := r.table.Load()
	ids := make([]string, len(t.order))
	for i, p := range t.order {
		ids[i] = p.ID
	}
	return ids
}

// Set stores a plain value, clamped to the parameter's range. It reports
// false for unknown keys.
func (r *Registry) Set(key Key, plain float64) bool {
	p := r.Get(key)
	if p == nil {
		return false
	}
	p.SetPlainValue(plain)
	return true
}

// Value returns the current plain value of a parameter.
func (r *Registry) Value(key Key) float64 {
	if p := r.Get(key); p != nil {
		return p.GetPlainValue()
	}
	return 0
}

// Snapshot copies the current, unsmoothed plain values into dst.
func (r *Registry) Snapshot(dst *Snapshot) {
	t := r.table.Load()
	dst.Count = len(t.order)
	for i, p := range t.order {
		dst.Values[i] = p.GetPlainValue()
	}
}

// Values returns the plain values keyed by string id.
func (r *Registry) Values() map[string]float64 {
	t := r.table.Load()
	out := make(map[string]float64, len(t.order))
	for _, p := range t.order {
		if p.ID != "" {
			out[p.ID] = p.GetPlainValue()
		}
	}
	return out
}

// Texts returns every formatted value keyed by string id.
func (r *Registry) Texts() map[string]string {
	t := r.table.Load()
	out := make(map[string]string, len(t.order))
	for _, p := range t.order {
		if p.ID != "" {
			out[p.ID] = p.Text()
		}
	}
	return out
}

// Restore applies plain values keyed by string id. Unknown ids are ignored
// for forward compatibility. It returns the number of values applied.
func (r *Registry) Restore(values map[string]float64) int {
	applied := 0
	for id, v := range values {
		if p := r.Lookup(id); p != nil {
			p.SetPlainValue(v)
			applied++
		}
	}
	return applied
}

// ResetAll restores every parameter to its default.
func (r *Registry) ResetAll() {
	for _, p := range r.table.Load().order {
		p.Reset()
	}
}

// Snapshot is a fixed-size copy of parameter values for one block. It is a
// plain value type so it can travel through queues without allocation.
type Snapshot struct {
	Count  int
	Values [MaxParams]float64
}

// At returns the value at a snapshot slot, or zero when out of range.
func (s *Snapshot) At(i int) float64 {
	if i < 0 || i >= s.Count {
		return 0
	}
	return s.Values[i]
}
