package predicate

// ============================================================================
// RULE COMPILER — LogicBlock[] → flat Condition[]
// ============================================================================
// Degrades by omission: disabled blocks, pending AI blocks and no-op
// conditions contribute nothing. Output order is block order, then
// condition order.
// ============================================================================

// Compile flattens enabled blocks into the predicates the appliers consume.
func Compile(blocks []LogicBlock) []Condition {
	out := make([]Condition, 0)
	for _, block := range blocks {
		if block == nil || !block.IsEnabled() {
			continue
		}
		switch b := block.(type) {
		case *FilterBlock:
			for _, c := range b.Conditions {
				if usable(c) {
					out = append(out, c)
				}
			}
		case *AIBlock:
			// Rule writer output is trusted except for the empty-field guard.
			for _, c := range b.CompiledRule {
				if c.Field != "" {
					out = append(out, c)
				}
			}
		}
	}
	return out
}

// Sanitize drops no-op conditions from a free-standing list, e.g. filters
// proposed by the synthesizer.
func Sanitize(conds []Condition) []Condition {
	out := make([]Condition, 0, len(conds))
	for _, c := range conds {
		if usable(c) {
			out = append(out, c)
		}
	}
	return out
}
