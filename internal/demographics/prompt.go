package demographics

import "strings"

const (
	DefaultPrefix = "professional portrait photograph of a"
	DefaultSuffix = "person, high quality, detailed, realistic, photographic style"

	// fallbackDescriptor stands in when no field contributes a phrase.
	fallbackDescriptor = "person"
)

type MapperOptions struct {
	Schema *Schema
	Prefix string
	Suffix string
}

// Mapper turns selections into a text-to-image prompt. It holds no mutable
// state and is safe for concurrent use.
type Mapper struct {
	schema *Schema
	prefix string
	suffix string
	order  []string
}

func NewMapper(opts MapperOptions) *Mapper {
	schema := opts.Schema
	if schema == nil {
		schema = DefaultSchema()
	}
	return &Mapper{
		schema: schema,
		prefix: strings.TrimSpace(opts.Prefix),
		suffix: strings.TrimSpace(opts.Suffix),
		order:  descriptorOrder(schema),
	}
}

func (m *Mapper) Schema() *Schema { return m.schema }
func (m *Mapper) Prefix() string  { return m.prefix }
func (m *Mapper) Suffix() string  { return m.suffix }

// Descriptors returns the phrases sel contributes, in canonical order.
func (m *Mapper) Descriptors(sel Selections) []string {
	out := make([]string, 0, len(m.order))
	for _, id := range m.order {
		option, ok := sel[id]
		if !ok {
			continue
		}
		if phrase, ok := m.schema.PhraseFor(id, option); ok {
			out = append(out, phrase)
		}
	}
	return out
}

func (m *Mapper) BuildPrompt(sel Selections) string {
	descriptors := m.Descriptors(sel)
	if len(descriptors) == 0 {
		descriptors = []string{fallbackDescriptor}
	}

	parts := make([]string, 0, len(descriptors)+2)
	if m.prefix != "" {
		parts = append(parts, m.prefix)
	}
	parts = append(parts, descriptors...)
	if m.suffix != "" {
		parts = append(parts, m.suffix)
	}
	return strings.Join(parts, " ")
}

// descriptorOrder is CanonicalOrder restricted to the schema, followed by the
// remaining schema fields in schema order.
func descriptorOrder(schema *Schema) []string {
	out := make([]string, 0, len(schema.fields))
	used := make(map[string]bool, len(schema.fields))
	for _, id := range CanonicalOrder {
		if _, ok := schema.index[id]; ok {
			out = append(out, id)
			used[id] = true
		}
	}
	for _, f := range schema.fields {
		if !used[f.ID] {
			out = append(out, f.ID)
		}
	}
	return out
}
