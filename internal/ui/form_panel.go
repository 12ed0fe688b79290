package ui

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"not-you-kiosk/internal/appstate"
	"not-you-kiosk/internal/demographics"
	"not-you-kiosk/internal/logging"
)

var ErrInvalidSelection = errors.New("invalid selection")

// FormView is the widget side of the form: one labelled dropdown per field.
type FormView interface {
	AddField(id, label string, options []string)
	// SetSelected shows option as the field's value; selected is false for
	// the sentinel.
	SetSelected(id, option string, selected bool)
}

type FormPanelOptions struct {
	State  *appstate.State
	Mapper *demographics.Mapper
	View   FormView
	Logger *zerolog.Logger
}

// FormPanel holds the dropdown values and pushes every change into the
// application state. Its methods are meant to run on the UI goroutine.
type FormPanel struct {
	state  *appstate.State
	mapper *demographics.Mapper
	schema *demographics.Schema
	view   FormView
	logger *zerolog.Logger

	mu     sync.Mutex
	values demographics.Selections
}

func NewFormPanel(opts FormPanelOptions) (*FormPanel, error) {
	if opts.State == nil || opts.View == nil {
		return nil, errors.New("form panel: state and view are required")
	}
	mapper := opts.Mapper
	if mapper == nil {
		mapper = demographics.NewMapper(demographics.MapperOptions{
			Prefix: demographics.DefaultPrefix,
			Suffix: demographics.DefaultSuffix,
		})
	}

	p := &FormPanel{
		state:  opts.State,
		mapper: mapper,
		schema: mapper.Schema(),
		view:   opts.View,
		logger: logging.OrDiscard(opts.Logger),
	}
	p.values = p.schema.Full(nil)

	for _, f := range p.schema.Fields() {
		p.view.AddField(f.ID, p.schema.LabelFor(f.ID), p.schema.OptionsFor(f.ID))
		p.view.SetSelected(f.ID, demographics.Sentinel, false)
	}
	return p, nil
}

// Select changes one dropdown, then publishes the selections and the prompt
// built from them.
func (p *FormPanel) Select(fieldID, option string) error {
	if !p.schema.ValidateSelection(fieldID, option) {
		return fmt.Errorf("%w: %q is not an option of %q", ErrInvalidSelection, option, fieldID)
	}

	p.mu.Lock()
	p.values[fieldID] = option
	selections := p.values.Sparse()
	p.mu.Unlock()

	p.view.SetSelected(fieldID, option, option != demographics.Sentinel)
	p.logger.Debug().Str("field", fieldID).Str("option", option).Msg("form selection")

	p.state.SetFormData(selections)
	p.state.SetCurrentPrompt(p.mapper.BuildPrompt(selections))
	return nil
}

// Reset puts every dropdown back to the sentinel and clears the selections
// and the prompt.
func (p *FormPanel) Reset() {
	p.mu.Lock()
	p.values = p.schema.Full(nil)
	p.mu.Unlock()

	for _, id := range p.schema.FieldIDs() {
		p.view.SetSelected(id, demographics.Sentinel, false)
	}
	p.state.ResetFormData()
	p.state.SetCurrentPrompt("")
}

// CurrentSelections returns every field, with the sentinel for unset ones.
func (p *FormPanel) CurrentSelections() demographics.Selections {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values.Clone()
}

func (p *FormPanel) Schema() *demographics.Schema { return p.schema }
