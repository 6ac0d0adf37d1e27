package predicate

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ============================================================================
// LOGIC BLOCKS — Independently toggleable rules
// ============================================================================
// Two variants: FilterBlock (hand-built conditions) and AIBlock (a natural
// language rule that an external rule writer reduces to conditions).
// JSON form is tagged by "kind".
// ============================================================================

// BlockKind tags the LogicBlock variant.
type BlockKind string

const (
	KindFilter BlockKind = "filter"
	KindAI     BlockKind = "ai"
)

// AIStatus tracks compilation of an AI block by the rule writer.
type AIStatus string

const (
	AIStatusPending  AIStatus = "pending"
	AIStatusCompiled AIStatus = "compiled"
	AIStatusFailed   AIStatus = "failed"
)

// LogicBlock is the closed union of FilterBlock and AIBlock.
type LogicBlock interface {
	BlockID() string
	BlockKind() BlockKind
	IsEnabled() bool
	logicBlock()
}

// FilterBlock is a named set of conditions.
type FilterBlock struct {
	ID         string      `json:"id"`
	Enabled    bool        `json:"enabled"`
	Label      string      `json:"label,omitempty"`
	Conditions []Condition `json:"conditions"`
}

// AIBlock carries a prompt and, once compiled, its rule.
// A nil CompiledRule contributes nothing.
type AIBlock struct {
	ID           string      `json:"id"`
	Enabled      bool        `json:"enabled"`
	Prompt       string      `json:"prompt"`
	CompiledRule []Condition `json:"compiledRule,omitempty"`
	Status       AIStatus    `json:"status"`
}

func (b *FilterBlock) BlockID() string      { return b.ID }
func (b *FilterBlock) BlockKind() BlockKind { return KindFilter }
func (b *FilterBlock) IsEnabled() bool      { return b.Enabled }
func (b *FilterBlock) logicBlock()          {}

func (b *AIBlock) BlockID() string      { return b.ID }
func (b *AIBlock) BlockKind() BlockKind { return KindAI }
func (b *AIBlock) IsEnabled() bool      { return b.Enabled }
func (b *AIBlock) logicBlock()          {}

// NewFilterBlock creates an enabled filter block with a fresh ID.
func NewFilterBlock(label string, conditions ...Condition) *FilterBlock {
	return &FilterBlock{
		ID:         uuid.NewString(),
		Enabled:    true,
		Label:      label,
		Conditions: conditions,
	}
}

// NewAIBlock creates an enabled, pending AI block with a fresh ID.
func NewAIBlock(prompt string) *AIBlock {
	return &AIBlock{
		ID:      uuid.NewString(),
		Enabled: true,
		Prompt:  prompt,
		Status:  AIStatusPending,
	}
}

// ============================================================================
// JSON — tagged union
// ============================================================================

// Blocks is an ordered block list with tagged-union JSON encoding.
type Blocks []LogicBlock

type blockEnvelope struct {
	Kind BlockKind `json:"kind"`
}

// MarshalJSON writes each block with its "kind" tag.
func (bs Blocks) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(bs))
	for _, b := range bs {
		raw, err := marshalBlock(b)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON dispatches on the "kind" tag.
func (bs *Blocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("decode logic blocks: %w", err)
	}
	blocks := make(Blocks, 0, len(raws))
	for i, raw := range raws {
		b, err := unmarshalBlock(raw)
		if err != nil {
			return fmt.Errorf("decode logic block %d: %w", i, err)
		}
		blocks = append(blocks, b)
	}
	*bs = blocks
	return nil
}

func marshalBlock(b LogicBlock) (json.RawMessage, error) {
	switch v := b.(type) {
	case *FilterBlock:
		return json.Marshal(struct {
			Kind BlockKind `json:"kind"`
			*FilterBlock
		}{KindFilter, v})
	case *AIBlock:
		return json.Marshal(struct {
			Kind BlockKind `json:"kind"`
			*AIBlock
		}{KindAI, v})
	default:
		return nil, fmt.Errorf("unknown logic block type %T", b)
	}
}

func unmarshalBlock(raw json.RawMessage) (LogicBlock, error) {
	var env blockEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindFilter, "":
		var fb FilterBlock
		if err := json.Unmarshal(raw, &fb); err != nil {
			return nil, err
		}
		return &fb, nil
	case KindAI:
		var ab AIBlock
		if err := json.Unmarshal(raw, &ab); err != nil {
			return nil, err
		}
		return &ab, nil
	default:
		return nil, fmt.Errorf("unknown block kind %q", env.Kind)
	}
}

// Clone deep-copies the list so callers can hold a snapshot.
func (bs Blocks) Clone() Blocks {
	out := make(Blocks, 0, len(bs))
	for _, b := range bs {
		switch v := b.(type) {
		case *FilterBlock:
			cp := *v
			cp.Conditions = append([]Condition(nil), v.Conditions...)
			out = append(out, &cp)
		case *AIBlock:
			cp := *v
			if v.CompiledRule != nil {
				cp.CompiledRule = append([]Condition(nil), v.CompiledRule...)
			}
			out = append(out, &cp)
		}
	}
	return out
}

// Index returns the position of the block with id, or -1.
func (bs Blocks) Index(id string) int {
	for i, b := range bs {
		if b.BlockID() == id {
			return i
		}
	}
	return -1
}
