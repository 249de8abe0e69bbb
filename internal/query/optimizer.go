package query

import (
	"github.com/codexsync/codex/internal/crdt/metadata"
)

// ScanType is the execution strategy chosen for a GET METADATA query.
type ScanType int

const (
	// FullScan walks every live key in the metadata layer's snapshot,
	// applying every filter as a post-filter.
	FullScan ScanType = iota
	// KeyLookup resolves a single `key = value` filter directly via the
	// metadata layer's O(1) Get, with any remaining filters (there can
	// be at most a value-equality check left, since the key is already
	// pinned) applied as post-filters.
	KeyLookup
)

// QueryPlan is CodexQL's execution plan for a single GET METADATA query.
// The metadata layer exposes no secondary indexes — a single LWW-map key
// IS its own index — so the only optimization available is recognizing
// an equality filter on `key` and skipping the snapshot scan entirely.
type QueryPlan struct {
	ScanType    ScanType
	LookupKey   string
	PostFilters []Filter
	Limit       int
}

// Optimizer chooses a QueryPlan for a CodexQL query.
type Optimizer struct{}

// NewOptimizer returns a CodexQL query optimizer. It holds no state: the
// metadata layer's Get is always O(1), so there is no cost model to
// calibrate against collection statistics the way a secondary-index
// optimizer would need.
func NewOptimizer() *Optimizer {
	return &Optimizer{}
}

// Optimize builds a plan for q's GET METADATA filters.
func (o *Optimizer) Optimize(q *Query) *QueryPlan {
	plan := &QueryPlan{ScanType: FullScan, PostFilters: q.Filters, Limit: q.Limit}

	for i, f := range q.Filters {
		if f.Key == "key" && f.Operator == "=" {
			lookupKey, ok := f.Value.(string)
			if !ok {
				continue
			}
			plan.ScanType = KeyLookup
			plan.LookupKey = lookupKey
			plan.PostFilters = append(append([]Filter{}, q.Filters[:i]...), q.Filters[i+1:]...)
			return plan
		}
	}

	return plan
}

func executeMetadataPlan(plan *QueryPlan, layer *metadata.Layer) (any, error) {
	switch plan.ScanType {
	case KeyLookup:
		value, ok := layer.Get(plan.LookupKey)
		if !ok {
			return map[string]any{}, nil
		}
		result := map[string]any{plan.LookupKey: value}
		for _, f := range plan.PostFilters {
			if !matchesFilter(value, f) {
				return map[string]any{}, nil
			}
		}
		return result, nil
	default:
		snapshot := layer.Snapshot()
		results := make(map[string]any, len(snapshot))
		for key, value := range snapshot {
			matches := true
			for _, f := range plan.PostFilters {
				if f.Key != "" && f.Key != key {
					continue
				}
				if !matchesFilter(value, f) {
					matches = false
					break
				}
			}
			if matches {
				results[key] = value
			}
			if plan.Limit > 0 && len(results) >= plan.Limit {
				break
			}
		}
		return results, nil
	}
}
