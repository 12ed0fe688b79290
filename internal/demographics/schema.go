package demographics

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrInvalidSchema = errors.New("invalid field schema")

type Field struct {
	ID      string            `json:"id" yaml:"id" toml:"id"`
	Label   string            `json:"label" yaml:"label" toml:"label"`
	Options []string          `json:"options" yaml:"options" toml:"options"`
	Phrases map[string]string `json:"phrases" yaml:"phrases" toml:"phrases"`
}

func (f Field) clone() Field {
	out := Field{
		ID:      f.ID,
		Label:   f.Label,
		Options: append([]string(nil), f.Options...),
		Phrases: make(map[string]string, len(f.Phrases)),
	}
	for k, v := range f.Phrases {
		out.Phrases[k] = v
	}
	return out
}

// Selections maps a field id to the chosen option label. Missing entries and
// the sentinel both mean "no constraint".
type Selections map[string]string

// Sparse returns a copy holding only real choices.
func (s Selections) Sparse() Selections {
	out := make(Selections, len(s))
	for k, v := range s {
		if v == "" || v == Sentinel {
			continue
		}
		out[k] = v
	}
	return out
}

func (s Selections) Clone() Selections {
	out := make(Selections, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Schema is an immutable, ordered set of fields.
type Schema struct {
	fields []Field
	index  map[string]int
}

func NewSchema(fields []Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrInvalidSchema)
	}
	s := &Schema{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		f = f.clone()
		f.ID = strings.TrimSpace(f.ID)
		if err := validateField(f); err != nil {
			return nil, err
		}
		if _, dup := s.index[f.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.ID)
		}
		s.index[f.ID] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

func validateField(f Field) error {
	if f.ID == "" {
		return fmt.Errorf("%w: field without id", ErrInvalidSchema)
	}
	if len(f.Options) == 0 || f.Options[0] != Sentinel {
		return fmt.Errorf("%w: field %q must list %q as its first option", ErrInvalidSchema, f.ID, Sentinel)
	}
	seen := make(map[string]bool, len(f.Options))
	for _, opt := range f.Options {
		if seen[opt] {
			return fmt.Errorf("%w: field %q repeats option %q", ErrInvalidSchema, f.ID, opt)
		}
		seen[opt] = true
	}
	for opt := range f.Phrases {
		if !seen[opt] {
			return fmt.Errorf("%w: field %q maps unknown option %q", ErrInvalidSchema, f.ID, opt)
		}
	}
	return nil
}

func (s *Schema) FieldIDs() []string {
	out := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, f.ID)
	}
	return out
}

func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, f.clone())
	}
	return out
}

func (s *Schema) Field(id string) (Field, bool) {
	idx, ok := s.index[id]
	if !ok {
		return Field{}, false
	}
	return s.fields[idx].clone(), true
}

// OptionsFor lists the option labels of a field, sentinel first. Unknown
// fields have no options.
func (s *Schema) OptionsFor(id string) []string {
	idx, ok := s.index[id]
	if !ok {
		return []string{}
	}
	return append([]string(nil), s.fields[idx].Options...)
}

func (s *Schema) LabelFor(id string) string {
	if idx, ok := s.index[id]; ok && s.fields[idx].Label != "" {
		return s.fields[idx].Label
	}
	// Casers carry state, so one per call.
	return cases.Title(language.English).String(strings.ReplaceAll(id, "_", " "))
}

// PhraseFor maps a selection to its prompt phrase. An option without a
// configured phrase falls back to its lowercased label.
func (s *Schema) PhraseFor(id, option string) (string, bool) {
	idx, ok := s.index[id]
	if !ok {
		return "", false
	}
	option = strings.TrimSpace(option)
	if option == "" || option == Sentinel {
		return "", false
	}
	if phrase, ok := s.fields[idx].Phrases[option]; ok && phrase != "" {
		return phrase, true
	}
	return strings.ToLower(option), true
}

func (s *Schema) ValidateSelection(id, option string) bool {
	idx, ok := s.index[id]
	if !ok {
		return false
	}
	for _, opt := range s.fields[idx].Options {
		if opt == option {
			return true
		}
	}
	return false
}

// Full expands sel so every schema field has an entry, using the sentinel
// for fields without a choice.
func (s *Schema) Full(sel Selections) Selections {
	out := make(Selections, len(s.fields))
	for _, f := range s.fields {
		v, ok := sel[f.ID]
		if !ok || v == "" {
			v = Sentinel
		}
		out[f.ID] = v
	}
	return out
}
