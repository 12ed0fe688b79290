package ui

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"not-you-kiosk/internal/appstate"
	"not-you-kiosk/internal/generation"
	"not-you-kiosk/internal/logging"
)

const (
	StatusReady      = "Ready"
	StatusGenerating = "Generating"

	EmptyPromptText = "Select form options to generate a portrait..."
	promptLabel     = "Prompt: "

	// maxDots is the longest "Generating..." suffix before it wraps to none.
	maxDots = 3
)

// ImageView is the widget side of the portrait area.
type ImageView interface {
	ShowImage(png []byte)
	ShowPlaceholder()
	SetPrompt(text string)
	SetStatus(text string)
	SetRemixVisible(visible bool)
	SetGeneratedAt(at time.Time)
}

// Archiver persists every portrait shown.
type Archiver interface {
	Save(data []byte) (string, error)
}

type ImagePanelOptions struct {
	State     *appstate.State
	View      ImageView
	Scheduler Scheduler
	Archive   Archiver
	// Remix runs when the visitor asks for another take on the same prompt.
	Remix func()
	// Regenerate retries the current prompt with the current seed.
	Regenerate func()
	// AnimationInterval is the "Generating" dot cadence, 500ms by default.
	AnimationInterval time.Duration
	Logger            *zerolog.Logger
}

// ImagePanel mirrors the image, prompt and progress parts of the state into
// an ImageView. State events may arrive on any goroutine; every view call is
// made through the scheduler.
type ImagePanel struct {
	state     *appstate.State
	view      ImageView
	scheduler Scheduler
	archive   Archiver
	remix     func()
	regen     func()
	interval  time.Duration
	logger    *zerolog.Logger

	subs []appstate.Subscription

	mu         sync.Mutex
	animation  uint64
	stopTicker chan struct{}
	hasImage   bool
	closed     bool
}

func NewImagePanel(opts ImagePanelOptions) (*ImagePanel, error) {
	if opts.State == nil || opts.View == nil {
		return nil, errors.New("image panel: state and view are required")
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = Immediate{}
	}
	interval := opts.AnimationInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	p := &ImagePanel{
		state:     opts.State,
		view:      opts.View,
		scheduler: scheduler,
		archive:   opts.Archive,
		remix:     opts.Remix,
		regen:     opts.Regenerate,
		interval:  interval,
		logger:    logging.OrDiscard(opts.Logger),
	}

	prompt := p.state.CurrentPrompt()
	image := p.state.CurrentImage()
	generating := p.state.GeneratingImage()
	lastAt, generated := p.state.LastGenerationTime()
	p.scheduler.Post(func() {
		if generated {
			p.view.SetGeneratedAt(lastAt)
		}
		p.view.SetRemixVisible(false)
		p.view.SetPrompt(PromptText(prompt))
		if image != nil && generation.IsPNG(image) {
			p.view.ShowImage(image)
			p.markImageShown()
			p.view.SetRemixVisible(true)
		} else {
			p.view.ShowPlaceholder()
		}
	})
	p.onGenerating(generating)

	p.subs = []appstate.Subscription{
		p.state.OnImage(p.onImage),
		p.state.OnPrompt(p.onPrompt),
		p.state.OnGenerating(p.onGenerating),
		p.state.OnGenerationTime(p.onGenerationTime),
	}
	return p, nil
}

// Remix asks for a new portrait of the current prompt.
func (p *ImagePanel) Remix() {
	if p.remix == nil {
		p.logger.Warn().Msg("remix requested but no remix command is wired")
		return
	}
	p.remix()
}

// Regenerate asks for the current prompt again with the same seed.
func (p *ImagePanel) Regenerate() {
	if p.regen == nil {
		p.logger.Warn().Msg("regenerate requested but no command is wired")
		return
	}
	p.regen()
}

// Close unsubscribes from the state and stops the progress animation.
func (p *ImagePanel) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.stopAnimationLocked()
	p.mu.Unlock()

	for _, sub := range p.subs {
		p.state.RemoveObserver(sub)
	}
}

func (p *ImagePanel) onImage(data []byte) {
	if len(data) > 0 && p.archive != nil {
		if _, err := p.archive.Save(data); err != nil {
			p.logger.Error().Err(err).Msg("failed to archive portrait")
		}
	}

	valid := generation.IsPNG(data)
	if data != nil && !valid {
		p.logger.Error().Int("bytes", len(data)).Msg("portrait is not a png, showing placeholder")
	}

	p.scheduler.Post(func() {
		if !valid {
			p.view.ShowPlaceholder()
			return
		}
		p.view.ShowImage(data)
		if p.markImageShown() {
			p.view.SetRemixVisible(true)
		}
	})
}

// markImageShown reports whether this was the first image.
func (p *ImagePanel) markImageShown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	first := !p.hasImage
	p.hasImage = true
	return first
}

func (p *ImagePanel) onGenerationTime(at time.Time) {
	p.scheduler.Post(func() {
		p.view.SetGeneratedAt(at)
	})
}

func (p *ImagePanel) onPrompt(prompt string) {
	text := PromptText(prompt)
	p.scheduler.Post(func() {
		p.view.SetPrompt(text)
	})
}

func (p *ImagePanel) onGenerating(generating bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.stopAnimationLocked()
	p.animation++
	token := p.animation
	var stop chan struct{}
	if generating {
		stop = make(chan struct{})
		p.stopTicker = stop
	}
	p.mu.Unlock()

	if !generating {
		p.scheduler.Post(func() { p.setStatus(token, StatusReady) })
		return
	}

	p.scheduler.Post(func() { p.setStatus(token, GeneratingText(0)) })
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		dots := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				dots = (dots + 1) % (maxDots + 1)
				text := GeneratingText(dots)
				p.scheduler.Post(func() { p.setStatus(token, text) })
			}
		}
	}()
}

// setStatus drops updates from an animation that has since been replaced.
func (p *ImagePanel) setStatus(token uint64, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.animation == token {
		p.view.SetStatus(text)
	}
}

func (p *ImagePanel) stopAnimationLocked() {
	if p.stopTicker != nil {
		close(p.stopTicker)
		p.stopTicker = nil
	}
}

func PromptText(prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		return EmptyPromptText
	}
	return promptLabel + prompt
}

func GeneratingText(dots int) string {
	if dots < 0 {
		dots = 0
	}
	return StatusGenerating + strings.Repeat(".", dots%(maxDots+1))
}
