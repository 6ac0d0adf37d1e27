package engine

import "sort"

// ============================================================================
// ROW VIEW — Zero-Copy Data Access Interface
// ============================================================================
// The engine never owns caller data. It reads through this interface.
//
// Implementations:
//   SliceView — wraps []Row
//   SubView   — filtered subset (indices into parent, zero-copy)
//
// Grouping produces SubViews, so a group is just an index list.
// ============================================================================

// RowView provides indexed access to a dataset.
type RowView interface {
	Len() int
	Row(i int) Row
	Value(i int, field string) (any, bool)
}

// ============================================================================
// SLICE VIEW
// ============================================================================

// SliceView wraps a []Row slice as a RowView.
type SliceView struct {
	rows []Row
}

// NewSliceView creates a RowView over rows without copying them.
func NewSliceView(rows []Row) RowView {
	return &SliceView{rows: rows}
}

func (v *SliceView) Len() int { return len(v.rows) }

func (v *SliceView) Row(i int) Row {
	if i < 0 || i >= len(v.rows) {
		return nil
	}
	return v.rows[i]
}

func (v *SliceView) Value(i int, field string) (any, bool) {
	if i < 0 || i >= len(v.rows) {
		return nil, false
	}
	val, ok := v.rows[i][field]
	return val, ok
}

// ============================================================================
// SUB VIEW — filtered subset (zero-copy)
// ============================================================================

// SubView is a filtered subset of a parent RowView.
// Holds indices into the parent, no data copy.
type SubView struct {
	parent  RowView
	indices []int
}

func newSubView(parent RowView, indices []int) RowView {
	return &SubView{parent: parent, indices: indices}
}

func (v *SubView) Len() int { return len(v.indices) }

func (v *SubView) Row(i int) Row {
	if i < 0 || i >= len(v.indices) {
		return nil
	}
	return v.parent.Row(v.indices[i])
}

func (v *SubView) Value(i int, field string) (any, bool) {
	if i < 0 || i >= len(v.indices) {
		return nil, false
	}
	return v.parent.Value(v.indices[i], field)
}

// Fields returns the distinct field names across a view in first-seen order.
func Fields(view RowView) []string {
	seen := make(map[string]bool)
	var keys []string
	for i := 0; i < view.Len(); i++ {
		row := view.Row(i)
		batch := make([]string, 0, len(row))
		for k := range row {
			if !seen[k] {
				seen[k] = true
				batch = append(batch, k)
			}
		}
		// map order is random; sort each row's new keys for stable output
		sort.Strings(batch)
		keys = append(keys, batch...)
	}
	return keys
}
