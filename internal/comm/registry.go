package comm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownType   = errors.New("unknown channel type")
	ErrDuplicateType = errors.New("channel type already registered")
)

// Factory creates an unopened Channel for an endpoint.
type Factory func(ep Endpoint) Channel

// CheckFunc classifies hosts into three disjoint buckets. Results are
// appended to good, conflict and wrong; nothing is returned.
type CheckFunc func(hosts []Endpoint, good, conflict, wrong *[]Endpoint)

// Entry is what a channel implementation exposes to the registry.
type Entry struct {
	New   Factory
	Check CheckFunc
	Owner string // package path of the implementation
}

// Registry maps type keys to channel implementations.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register installs e under key.
func (r *Registry) Register(key string, e Entry) error {
	if key == "" {
		return errors.New("empty channel type")
	}
	if e.New == nil || e.Check == nil {
		return fmt.Errorf("channel type %q: incomplete entry", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateType, key)
	}
	r.entries[key] = e
	return nil
}

// Lookup returns the entry registered under key.
func (r *Registry) Lookup(key string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownType, key)
	}
	return e, nil
}

// Keys returns the registered type keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewChannel creates an unopened channel for ep using its type key.
//
//nolint:ireturn // factory returns interface by design
func (r *Registry) NewChannel(ep Endpoint) (Channel, error) {
	e, err := r.Lookup(ep.TypeKey())
	if err != nil {
		return nil, err
	}
	return e.New(ep), nil
}

// Check groups hosts by type key and runs each type's CheckFunc. Hosts
// with an unknown type land in wrong. Bucket order follows input order
// within each type.
func (r *Registry) Check(hosts []Endpoint, good, conflict, wrong *[]Endpoint) {
	byType := make(map[string][]Endpoint)
	var order []string
	for _, h := range hosts {
		key := h.TypeKey()
		if _, err := r.Lookup(key); err != nil {
			*wrong = append(*wrong, h)
			continue
		}
		if _, ok := byType[key]; !ok {
			order = append(order, key)
		}
		byType[key] = append(byType[key], h)
	}

	for _, key := range order {
		e, _ := r.Lookup(key) //nolint:errcheck // presence checked above
		e.Check(byType[key], good, conflict, wrong)
	}
}
