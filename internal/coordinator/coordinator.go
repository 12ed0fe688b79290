package coordinator

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"not-you-kiosk/internal/appstate"
	"not-you-kiosk/internal/debounce"
	"not-you-kiosk/internal/demographics"
	"not-you-kiosk/internal/generation"
	"not-you-kiosk/internal/logging"
)

// formKey is the single debounce key; all form changes collapse together.
const formKey = "form"

// Generator is the part of generation.Client the coordinator drives.
type Generator interface {
	GenerateImage(prompt string, seeds generation.SeedSource, onSuccess func([]byte), onError func(error)) generation.JobID
	CancelPendingRequests() int
	Close()
}

// Publisher mirrors finished portraits somewhere outside the kiosk. Publish
// must not block.
type Publisher interface {
	Publish(image []byte, caption string)
}

type Options struct {
	State     *appstate.State
	Mapper    *demographics.Mapper
	Generator Generator
	// Debounce is the quiet period after a form change before generating.
	// Zero generates on every change.
	Debounce  time.Duration
	Publisher Publisher
	Logger    *zerolog.Logger
	Now       func() time.Time
}

// Coordinator turns form changes into prompts and generation jobs, and
// writes job results back into the state.
type Coordinator struct {
	state     *appstate.State
	mapper    *demographics.Mapper
	gen       Generator
	publisher Publisher
	logger    *zerolog.Logger
	now       func() time.Time

	debouncer *debounce.Debouncer[string]
	sub       appstate.Subscription

	// mu serializes cancel-then-submit so two triggers cannot interleave.
	mu sync.Mutex
	// generation is bumped by every trigger and every clear; a callback whose
	// number is no longer current is ignored even if its job was claimed.
	generation atomic.Uint64
	closeOnce  sync.Once
}

func New(opts Options) (*Coordinator, error) {
	if opts.State == nil || opts.Generator == nil {
		return nil, errors.New("coordinator: state and generator are required")
	}
	mapper := opts.Mapper
	if mapper == nil {
		mapper = demographics.NewMapper(demographics.MapperOptions{
			Prefix: demographics.DefaultPrefix,
			Suffix: demographics.DefaultSuffix,
		})
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Coordinator{
		state:     opts.State,
		mapper:    mapper,
		gen:       opts.Generator,
		publisher: opts.Publisher,
		logger:    logging.OrDiscard(opts.Logger),
		now:       now,
	}
	c.debouncer = debounce.New(debounce.Options[string]{
		Delay: opts.Debounce,
		OnFlush: func(_ string, prompt string) {
			c.trigger(prompt)
		},
	})
	c.sub = c.state.Bind(c.onEvent)
	return c, nil
}

func (c *Coordinator) onEvent(e appstate.Event) {
	if e.Kind != appstate.EventFormData {
		return
	}
	c.onFormData(e.FormData)
}

func (c *Coordinator) onFormData(sel demographics.Selections) {
	prompt := c.mapper.BuildPrompt(sel)
	if c.state.CurrentPrompt() != prompt {
		c.state.SetCurrentPrompt(prompt)
	}

	if len(sel.Sparse()) == 0 {
		c.debouncer.Cancel(formKey)
		c.mu.Lock()
		c.generation.Add(1)
		n := c.gen.CancelPendingRequests()
		c.mu.Unlock()
		if c.state.GeneratingImage() {
			c.state.SetAPIStatus(appstate.StatusIdle)
		}
		c.logger.Info().Int("cancelled", n).Msg("form cleared, nothing to generate")
		return
	}

	c.debouncer.Add(formKey, prompt)
}

// Remix rerolls the seed and renders the current prompt again.
func (c *Coordinator) Remix() {
	prompt := c.state.CurrentPrompt()
	if prompt == "" || !c.state.HasAnySelections() {
		c.logger.Info().Msg("remix ignored, no selections")
		return
	}
	c.debouncer.Cancel(formKey)

	seed := c.state.GenerateNewRandomSeed()
	c.logger.Info().Int64("seed", seed).Msg("remix")
	c.trigger(prompt)
}

// Regenerate renders the current prompt with the current seed. A form
// change still waiting out the debounce is sent right away instead.
func (c *Coordinator) Regenerate() {
	if c.debouncer.Flush(formKey) {
		return
	}
	if prompt := c.state.CurrentPrompt(); prompt != "" && c.state.HasAnySelections() {
		c.debouncer.Cancel(formKey)
		c.trigger(prompt)
	}
}

func (c *Coordinator) trigger(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := c.gen.CancelPendingRequests(); n > 0 {
		c.logger.Debug().Int("cancelled", n).Msg("superseded pending generations")
	}
	seq := c.generation.Add(1)
	c.state.SetGeneratingImage(true)
	id := c.gen.GenerateImage(prompt, c.state,
		func(image []byte) { c.onSuccess(seq, prompt, image) },
		func(err error) { c.onError(seq, err) },
	)
	c.logger.Info().Uint64("job", uint64(id)).Str("prompt", prompt).Msg("generation triggered")
}

// PendingChange reports whether a form change is waiting out the debounce.
func (c *Coordinator) PendingChange() bool {
	return c.debouncer.Pending() > 0
}

func (c *Coordinator) current(seq uint64) bool {
	if c.generation.Load() != seq {
		c.logger.Debug().Uint64("generation", seq).Msg("ignoring superseded result")
		return false
	}
	return true
}

func (c *Coordinator) onSuccess(seq uint64, prompt string, image []byte) {
	if !c.current(seq) {
		return
	}
	c.state.SetCurrentImage(image)
	c.state.SetLastGenerationTime(c.now())
	c.state.SetGeneratingImage(false)
	c.state.SetAPIStatus(appstate.StatusIdle)

	if c.publisher != nil {
		c.publisher.Publish(image, prompt)
	}
}

func (c *Coordinator) onError(seq uint64, err error) {
	if !c.current(seq) {
		return
	}
	c.logger.Error().Err(err).Str("kind", string(generation.KindOf(err))).Msg("portrait generation failed")
	c.state.SetGeneratingImage(false)
	c.state.SetAPIStatus(appstate.StatusError)
}

// Close stops reacting to the state and shuts the generator down.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.debouncer.Stop()
		c.state.RemoveObserver(c.sub)
		c.gen.Close()
	})
}
