// Package glossary loads the business terms the synthesizer prompt uses to
// map user vocabulary onto dataset fields. The file is read-only here; it is
// edited elsewhere and reloaded on change.
package glossary

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Term maps one phrase onto a dataset field.
type Term struct {
	Term        string   `yaml:"term" json:"term"`
	Field       string   `yaml:"field" json:"field"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Synonyms    []string `yaml:"synonyms,omitempty" json:"synonyms,omitempty"`
}

// Glossary is an immutable, ordered set of terms.
type Glossary struct {
	Terms []Term `yaml:"terms" json:"terms"`
}

// Parse decodes YAML. Terms without a term or field are dropped; duplicates
// keep the first definition.
func Parse(data []byte) (*Glossary, error) {
	var raw Glossary
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse glossary: %w", err)
	}

	seen := make(map[string]bool, len(raw.Terms))
	g := &Glossary{Terms: make([]Term, 0, len(raw.Terms))}
	for _, t := range raw.Terms {
		t.Term = strings.TrimSpace(t.Term)
		t.Field = strings.TrimSpace(t.Field)
		if t.Term == "" || t.Field == "" {
			continue
		}
		key := strings.ToLower(t.Term)
		if seen[key] {
			continue
		}
		seen[key] = true
		g.Terms = append(g.Terms, t)
	}
	return g, nil
}

// Load reads and parses a glossary file.
func Load(path string) (*Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glossary: %w", err)
	}
	return Parse(data)
}

// Len returns the number of terms. Safe on nil.
func (g *Glossary) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Terms)
}

// Lookup returns the terms whose phrase or a synonym occurs in text
// (case-insensitive), longest phrase first.
func (g *Glossary) Lookup(text string) []Term {
	if g.Len() == 0 {
		return nil
	}
	lower := strings.ToLower(text)

	type hit struct {
		term Term
		n    int
	}
	var hits []hit
	for _, t := range g.Terms {
		if n := matchLen(lower, t); n > 0 {
			hits = append(hits, hit{t, n})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].n > hits[j].n })

	out := make([]Term, len(hits))
	for i, h := range hits {
		out[i] = h.term
	}
	return out
}

func matchLen(lower string, t Term) int {
	best := 0
	for _, phrase := range append([]string{t.Term}, t.Synonyms...) {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p != "" && strings.Contains(lower, p) && len(p) > best {
			best = len(p)
		}
	}
	return best
}

// Field resolves a phrase to its field, matching the term or a synonym
// exactly (case-insensitive).
func (g *Glossary) Field(phrase string) (string, bool) {
	if g == nil {
		return "", false
	}
	p := strings.ToLower(strings.TrimSpace(phrase))
	for _, t := range g.Terms {
		if strings.ToLower(t.Term) == p {
			return t.Field, true
		}
		for _, s := range t.Synonyms {
			if strings.ToLower(strings.TrimSpace(s)) == p {
				return t.Field, true
			}
		}
	}
	return "", false
}

// Prompt renders terms as prompt lines: `- "term" → field: description`.
func Prompt(terms []Term) string {
	var b strings.Builder
	for _, t := range terms {
		fmt.Fprintf(&b, "- %q → %s", t.Term, t.Field)
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(t.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
