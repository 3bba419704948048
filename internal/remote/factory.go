package remote

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Factory opens a Client for a DSN whose scheme it was registered under.
type Factory func(ctx context.Context, dsn string) (Client, error)

var factoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// Register makes a backend available to Open under scheme. Backends call
// it from init, so importing a backend package for side effects enables
// its schemes.
func Register(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[scheme] = factory
}

// Schemes returns the registered schemes, sorted.
func Schemes() []string {
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	out := make([]string, 0, len(factoryRegistry.factories))
	for s := range factoryRegistry.factories {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Open returns a Client for dsn, chosen by its scheme.
func Open(ctx context.Context, dsn string) (Client, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("open remote: empty dsn")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("open remote: %w", err)
	}
	scheme := normalizeScheme(parsed.Scheme)
	factoryRegistry.mu.RLock()
	factory, ok := factoryRegistry.factories[scheme]
	factoryRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("open remote: unsupported scheme %q", scheme)
	}
	return factory(ctx, dsn)
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
