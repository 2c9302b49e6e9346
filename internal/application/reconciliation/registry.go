package reconciliation

import (
	"sort"
	"strings"
	"sync"

	"github.com/tradeledger/backend/internal/domain/reconciliation"
)

// SourceRegistry resolves reconciliation sources by name
type SourceRegistry struct {
	mu      sync.RWMutex
	sources map[string]reconciliation.Source
}

// NewSourceRegistry creates a registry holding the given sources
func NewSourceRegistry(sources ...reconciliation.Source) *SourceRegistry {
	r := &SourceRegistry{sources: make(map[string]reconciliation.Source)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a source under its name
func (r *SourceRegistry) Register(s reconciliation.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[strings.TrimSpace(s.Name())] = s
}

// Names lists the registered source names in sorted order
func (r *SourceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BalanceSources resolves names to sources that report balances
func (r *SourceRegistry) BalanceSources(names []string) ([]reconciliation.BalanceSource, error) {
	return resolve[reconciliation.BalanceSource](r, names, reconciliation.RunTypeBalance)
}

// TradeSources resolves names to sources that report settled trades
func (r *SourceRegistry) TradeSources(names []string) ([]reconciliation.TradeSource, error) {
	return resolve[reconciliation.TradeSource](r, names, reconciliation.RunTypeTrade)
}

func resolve[S reconciliation.Source](r *SourceRegistry, names []string, t reconciliation.RunType) ([]S, error) {
	if len(names) == 0 {
		return nil, reconciliation.ErrNoSources
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved := make([]S, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		source, ok := r.sources[name]
		if !ok {
			return nil, reconciliation.ErrUnknownSource.WithDetail("source", name)
		}
		typed, ok := source.(S)
		if !ok {
			return nil, reconciliation.ErrSourceMismatch.
				WithDetail("source", name).
				WithDetail("type", t.String())
		}
		resolved = append(resolved, typed)
	}
	if len(resolved) == 0 {
		return nil, reconciliation.ErrNoSources
	}
	return resolved, nil
}
