package retrieval

import (
	"sort"

	"github.com/medcortex/medcortex/schema"
)

// DefaultPriorityWeight is the authority boost applied when the
// configuration leaves priority_weight unset.
const DefaultPriorityWeight = 0.2

// weightFor maps a fragment priority tag to a score multiplier.
// Priority 1 is the most authoritative; untagged and out-of-range
// fragments count as priority 3 and keep their raw score.
func weightFor(priority int, priorityWeight float64) float64 {
	if priority <= 0 || priority > 3 {
		priority = 3
	}
	return 1 + priorityWeight*float64(3-priority)
}

// Reweight re-orders fragments by similarity score scaled with the
// authority weight of their priority tag. The sort is stable, so
// fragments with equal weighted scores keep their retrieval order.
// The input slice is not modified.
func Reweight(fragments []schema.Fragment, priorityWeight float64) []schema.Fragment {
	if len(fragments) < 2 {
		return fragments
	}
	out := make([]schema.Fragment, len(fragments))
	copy(out, fragments)
	sort.SliceStable(out, func(i, j int) bool {
		wi := out[i].Score * weightFor(out[i].Priority, priorityWeight)
		wj := out[j].Score * weightFor(out[j].Priority, priorityWeight)
		return wi > wj
	})
	return out
}
