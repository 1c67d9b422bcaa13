package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Corridor is a (source currency, destination currency) pair.
type Corridor struct {
	Source      string
	Destination string
}

func (c Corridor) String() string {
	return c.Source + ":" + c.Destination
}

// Router maps corridors to registered adapters.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	routes   map[Corridor]string
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		adapters: make(map[string]Adapter),
		routes:   make(map[Corridor]string),
	}
}

// Register adds an adapter under its Name().
func (r *Router) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Route sends a corridor to the named provider.
func (r *Router) Route(c Corridor, providerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[normalize(c)] = providerName
}

// Select returns the provider name for a corridor.
func (r *Router) Select(source, destination string) (string, error) {
	c := normalize(Corridor{Source: source, Destination: destination})

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.routes[c]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoProviderForCorridor, c)
	}
	if _, ok := r.adapters[name]; !ok {
		return "", fmt.Errorf("%w: %s routed to unregistered provider %q", ErrNoProviderForCorridor, c, name)
	}
	return name, nil
}

// Adapter returns the adapter registered under name.
func (r *Router) Adapter(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q is not registered", ErrNoProviderForCorridor, name)
	}
	return a, nil
}

// Routes returns a copy of the route table.
func (r *Router) Routes() map[Corridor]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Corridor]string, len(r.routes))
	for c, n := range r.routes {
		out[c] = n
	}
	return out
}

// Providers returns the registered provider names in sorted order.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseCorridors parses "SRC:DST=provider,..." into a route table.
func ParseCorridors(list string) (map[Corridor]string, error) {
	routes := make(map[Corridor]string)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pair, name, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid corridor %q: expected SRC:DST=provider", entry)
		}
		src, dst, ok := strings.Cut(pair, ":")
		if !ok || len(strings.TrimSpace(src)) != 3 || len(strings.TrimSpace(dst)) != 3 {
			return nil, fmt.Errorf("invalid corridor %q: currencies must be 3-letter codes", entry)
		}
		c := normalize(Corridor{Source: src, Destination: dst})
		if _, dup := routes[c]; dup {
			return nil, fmt.Errorf("duplicate corridor %s", c)
		}
		routes[c] = strings.TrimSpace(name)
	}
	return routes, nil
}

func normalize(c Corridor) Corridor {
	return Corridor{
		Source:      strings.ToUpper(strings.TrimSpace(c.Source)),
		Destination: strings.ToUpper(strings.TrimSpace(c.Destination)),
	}
}
