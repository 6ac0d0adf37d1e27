package predicate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// COMPILER TESTS
// ============================================================================

func TestCompileSkipsDisabledBlocks(t *testing.T) {
	on := &FilterBlock{ID: "a", Enabled: true, Conditions: []Condition{{Field: "carrier", Operator: OpEq, Value: "A"}}}
	off := &FilterBlock{ID: "b", Enabled: false, Conditions: []Condition{{Field: "retail", Operator: OpGt, Value: 10}}}

	got := Compile([]LogicBlock{on, off})
	require.Len(t, got, 1)
	assert.Equal(t, "carrier", got[0].Field)
}

func TestCompileDropsNoOpConditions(t *testing.T) {
	block := &FilterBlock{ID: "a", Enabled: true, Conditions: []Condition{
		{Field: "", Operator: OpEq, Value: ""},
		{Field: "   ", Operator: OpEq, Value: "x"},
		{Field: "carrier", Operator: OpEq, Value: ""},
		{Field: "carrier", Operator: OpEq, Value: nil},
		{Field: "carrier", Operator: "between", Value: "x"},
		{Field: "region", Operator: OpIsNull},
	}}

	got := Compile([]LogicBlock{block})
	require.Len(t, got, 1)
	assert.Equal(t, Condition{Field: "region", Operator: OpIsNull}, got[0])
}

func TestCompileAIBlocks(t *testing.T) {
	pending := NewAIBlock("only big orders")
	compiled := &AIBlock{
		ID:      "ai-1",
		Enabled: true,
		Prompt:  "west coast",
		Status:  AIStatusCompiled,
		CompiledRule: []Condition{
			{Field: "state", Operator: OpIn, Value: []any{"CA", "OR", "WA"}},
			{Field: "", Operator: OpEq, Value: "x"},
		},
	}

	got := Compile([]LogicBlock{pending, compiled})
	require.Len(t, got, 1)
	assert.Equal(t, "state", got[0].Field)
}

func TestCompilePreservesBlockOrder(t *testing.T) {
	b1 := NewFilterBlock("first",
		Condition{Field: "a", Operator: OpEq, Value: 1},
		Condition{Field: "b", Operator: OpEq, Value: 2},
	)
	b2 := &AIBlock{ID: "x", Enabled: true, CompiledRule: []Condition{{Field: "c", Operator: OpGt, Value: 3}}}
	b3 := NewFilterBlock("third", Condition{Field: "d", Operator: OpLt, Value: 4})

	got := Compile([]LogicBlock{b1, b2, b3})
	fields := make([]string, len(got))
	for i, c := range got {
		fields[i] = c.Field
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, fields)
}

func TestCompileNeverEmitsEmptyField(t *testing.T) {
	blocks := []LogicBlock{
		&FilterBlock{ID: "1", Enabled: true, Conditions: []Condition{{Field: "", Operator: OpIsNull}}},
		&AIBlock{ID: "2", Enabled: true, CompiledRule: []Condition{{Field: "", Operator: OpIsNotNull}}},
	}
	for _, c := range Compile(blocks) {
		assert.NotEmpty(t, c.Field)
	}
	assert.Empty(t, Compile(blocks))
}

func TestCompileNilAndEmpty(t *testing.T) {
	assert.NotNil(t, Compile(nil))
	assert.Empty(t, Compile([]LogicBlock{nil}))
}

// ============================================================================
// BLOCK JSON
// ============================================================================

func TestBlocksJSONRoundTrip(t *testing.T) {
	in := Blocks{
		&FilterBlock{ID: "f1", Enabled: true, Label: "Carriers", Conditions: []Condition{{Field: "carrier", Operator: OpEq, Value: "A"}}},
		&AIBlock{ID: "a1", Enabled: false, Prompt: "recent only", Status: AIStatusPending},
	}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"kind":"filter"`)
	assert.Contains(t, string(raw), `"kind":"ai"`)

	var out Blocks
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out, 2)

	fb, ok := out[0].(*FilterBlock)
	require.True(t, ok)
	assert.Equal(t, "Carriers", fb.Label)
	ab, ok := out[1].(*AIBlock)
	require.True(t, ok)
	assert.False(t, ab.Enabled)
	assert.Nil(t, ab.CompiledRule)
}

func TestBlocksUnknownKind(t *testing.T) {
	var out Blocks
	err := json.Unmarshal([]byte(`[{"kind":"sql","id":"x"}]`), &out)
	require.Error(t, err)
}

func TestBlocksCloneIsDeep(t *testing.T) {
	orig := Blocks{NewFilterBlock("x", Condition{Field: "a", Operator: OpEq, Value: 1})}
	cp := orig.Clone()
	cp[0].(*FilterBlock).Conditions[0].Field = "changed"
	assert.Equal(t, "a", orig[0].(*FilterBlock).Conditions[0].Field)
	assert.Equal(t, 0, orig.Index(orig[0].BlockID()))
	assert.Equal(t, -1, orig.Index("missing"))
}
