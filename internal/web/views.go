package web

import (
	"sync"
	"time"

	"not-you-kiosk/internal/demographics"
)

type Field struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Options  []string `json:"options"`
	Selected string   `json:"selected"`
	Active   bool     `json:"active"`
}

// Snapshot is what the kiosk page renders; it polls for it.
type Snapshot struct {
	Prompt       string            `json:"prompt"`
	Status       string            `json:"status"`
	RemixVisible bool              `json:"remix_visible"`
	HasImage     bool              `json:"has_image"`
	ImageVersion uint64            `json:"image_version"`
	GeneratedAt  *time.Time        `json:"generated_at,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
	Fields       []Field           `json:"fields"`
}

// Views is the browser side of the form and image panels. The panels write
// into it from the UI goroutine, HTTP handlers read snapshots from it.
type Views struct {
	mu      sync.RWMutex
	fields  []Field
	index   map[string]int
	image   []byte
	version uint64
	prompt  string
	status  string
	remix   bool
	at      time.Time
	errors  map[string]string
}

func NewViews() *Views {
	return &Views{
		index:  make(map[string]int),
		errors: make(map[string]string),
	}
}

func (v *Views) AddField(id, label string, options []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f := Field{ID: id, Label: label, Options: append([]string(nil), options...), Selected: demographics.Sentinel}
	if i, ok := v.index[id]; ok {
		v.fields[i] = f
		return
	}
	v.index[id] = len(v.fields)
	v.fields = append(v.fields, f)
}

func (v *Views) SetSelected(id, option string, selected bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i, ok := v.index[id]; ok {
		v.fields[i].Selected = option
		v.fields[i].Active = selected
	}
}

func (v *Views) ShowImage(png []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.image = png
	v.version++
}

func (v *Views) ShowPlaceholder() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.image = nil
	v.version++
}

func (v *Views) SetPrompt(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prompt = text
}

func (v *Views) SetStatus(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = text
}

func (v *Views) SetRemixVisible(visible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.remix = visible
}

func (v *Views) SetGeneratedAt(at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.at = at
}

func (v *Views) ShowError(component, message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errors[component] = message
}

// Image returns the portrait on display, nil while the placeholder shows.
func (v *Views) Image() ([]byte, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.image, v.version
}

func (v *Views) Fields() []Field {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.fieldsLocked()
}

func (v *Views) fieldsLocked() []Field {
	out := make([]Field, len(v.fields))
	for i, f := range v.fields {
		f.Options = append([]string(nil), f.Options...)
		out[i] = f
	}
	return out
}

func (v *Views) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s := Snapshot{
		Prompt:       v.prompt,
		Status:       v.status,
		RemixVisible: v.remix,
		HasImage:     v.image != nil,
		ImageVersion: v.version,
		Fields:       v.fieldsLocked(),
	}
	if !v.at.IsZero() {
		at := v.at
		s.GeneratedAt = &at
	}
	if len(v.errors) > 0 {
		s.Errors = make(map[string]string, len(v.errors))
		for k, msg := range v.errors {
			s.Errors[k] = msg
		}
	}
	return s
}
