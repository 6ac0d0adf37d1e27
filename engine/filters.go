package engine

import (
	"github.com/spektr-org/widgetkit/predicate"
)

// ============================================================================
// FILTERS — Local-mode predicate application via RowView
// ============================================================================
// Single pass: every condition is checked per row in one loop.
// Returns a SubView (index list into parent), zero data copy.
// ============================================================================

// ApplyConditions returns a view of rows matching all conditions.
// An empty condition list returns the original view.
func ApplyConditions(view RowView, conds []predicate.Condition) RowView {
	if len(conds) == 0 {
		return view
	}

	match := predicate.Matcher(conds)
	n := view.Len()
	indices := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if match(view.Row(i)) {
			indices = append(indices, i)
		}
	}
	return newSubView(view, indices)
}
