package appstate

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"not-you-kiosk/internal/demographics"
	"not-you-kiosk/internal/logging"
)

type APIStatus string

const (
	StatusIdle       APIStatus = "idle"
	StatusGenerating APIStatus = "generating"
	StatusError      APIStatus = "error"
)

// RandomSeed asks the image service for a fresh seed on every request.
const RandomSeed int64 = -1

// MaxSeed is the upper bound of GenerateNewRandomSeed.
const MaxSeed int64 = 4294967294

type Options struct {
	Logger *zerolog.Logger
	// Seed is the initial seed; nil means RandomSeed.
	Seed *int64
	// RandInt64N returns a value in [0, n). Defaults to math/rand/v2.
	RandInt64N func(n int64) int64
}

// State is the single store of everything the kiosk shows. Setters notify
// observers after the lock is released, on the caller's goroutine.
type State struct {
	mu sync.Mutex

	formData       demographics.Selections
	prompt         string
	image          []byte
	generating     bool
	status         APIStatus
	seed           int64
	lastGeneration time.Time

	observers      map[EventKind][]observer
	nextObserverID uint64

	randInt64N func(int64) int64
	logger     *zerolog.Logger
}

func New(opts Options) *State {
	seed := RandomSeed
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	randInt64N := opts.RandInt64N
	if randInt64N == nil {
		randInt64N = rand.Int64N
	}
	return &State{
		formData:   demographics.Selections{},
		status:     StatusIdle,
		seed:       seed,
		observers:  make(map[EventKind][]observer),
		randInt64N: randInt64N,
		logger:     logging.OrDiscard(opts.Logger),
	}
}

func (s *State) FormData() demographics.Selections {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.formData.Clone()
}

func (s *State) FormField(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.formData[id]
	return v, ok
}

// SetFormData replaces the selections. Sentinel entries are dropped.
func (s *State) SetFormData(sel demographics.Selections) {
	stored := sel.Sparse()

	s.mu.Lock()
	s.formData = stored
	s.mu.Unlock()

	s.logger.Info().Interface("form_data", stored).Msg("form data set")
	s.emit(Event{Kind: EventFormData, FormData: stored.Clone()})
}

func (s *State) ResetFormData() {
	s.SetFormData(nil)
}

// UpdateFormField sets a single selection; the sentinel removes it.
func (s *State) UpdateFormField(id, value string) {
	s.mu.Lock()
	if value == "" || value == demographics.Sentinel {
		delete(s.formData, id)
	} else {
		s.formData[id] = value
	}
	s.mu.Unlock()

	s.logger.Info().Str("field", id).Str("value", value).Msg("form field updated")
	s.emit(Event{Kind: EventFormFieldChanged, FieldID: id, Value: value})
}

func (s *State) HasAnySelections() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.formData {
		if v != demographics.Sentinel && v != "" {
			return true
		}
	}
	return false
}

func (s *State) CurrentPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

func (s *State) SetCurrentPrompt(prompt string) {
	s.mu.Lock()
	s.prompt = prompt
	s.mu.Unlock()

	s.emit(Event{Kind: EventCurrentPrompt, Prompt: prompt})
}

func (s *State) CurrentImage() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.image == nil {
		return nil
	}
	return append([]byte(nil), s.image...)
}

// SetCurrentImage stores a copy of data; nil clears the image.
func (s *State) SetCurrentImage(data []byte) {
	var stored []byte
	if data != nil {
		stored = append([]byte(nil), data...)
	}

	s.mu.Lock()
	s.image = stored
	s.mu.Unlock()

	s.logger.Info().Int("bytes", len(stored)).Msg("current image set")
	s.emit(Event{Kind: EventCurrentImage, Image: stored})
}

func (s *State) GeneratingImage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating
}

// SetGeneratingImage(true) also moves the API status to generating.
func (s *State) SetGeneratingImage(generating bool) {
	s.mu.Lock()
	s.generating = generating
	statusChanged := generating && s.status != StatusGenerating
	if statusChanged {
		s.status = StatusGenerating
	}
	s.mu.Unlock()

	events := []Event{{Kind: EventGeneratingImage, Generating: generating}}
	if statusChanged {
		events = append(events, Event{Kind: EventAPIStatus, Status: StatusGenerating})
	}
	s.emit(events...)
}

func (s *State) APIStatus() APIStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetAPIStatus stores status. Leaving the generating status while an image
// is still marked as generating clears that flag too.
func (s *State) SetAPIStatus(status APIStatus) {
	s.mu.Lock()
	s.status = status
	clearGenerating := status != StatusGenerating && s.generating
	if clearGenerating {
		s.generating = false
	}
	s.mu.Unlock()

	s.logger.Info().Str("status", string(status)).Msg("api status changed")
	events := make([]Event, 0, 2)
	if clearGenerating {
		events = append(events, Event{Kind: EventGeneratingImage, Generating: false})
	}
	events = append(events, Event{Kind: EventAPIStatus, Status: status})
	s.emit(events...)
}

func (s *State) CurrentSeed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seed
}

func (s *State) SetCurrentSeed(seed int64) {
	s.mu.Lock()
	s.seed = seed
	s.mu.Unlock()

	s.emit(Event{Kind: EventCurrentSeed, Seed: seed})
}

// GenerateNewRandomSeed picks a seed in [1, MaxSeed] different from the
// current one, stores it and returns it.
func (s *State) GenerateNewRandomSeed() int64 {
	s.mu.Lock()
	prev := s.seed
	seed := prev
	for attempt := 0; attempt < 8 && seed == prev; attempt++ {
		seed = 1 + s.randInt64N(MaxSeed)
	}
	if seed == prev {
		seed = prev%MaxSeed + 1
	}
	s.seed = seed
	s.mu.Unlock()

	s.logger.Info().Int64("seed", seed).Int64("previous", prev).Msg("new random seed")
	s.emit(Event{Kind: EventCurrentSeed, Seed: seed})
	return seed
}

func (s *State) LastGenerationTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGeneration, !s.lastGeneration.IsZero()
}

func (s *State) SetLastGenerationTime(at time.Time) {
	s.mu.Lock()
	s.lastGeneration = at
	s.mu.Unlock()

	s.emit(Event{Kind: EventLastGenerationTime, At: at})
}

type Summary struct {
	FormData           demographics.Selections `json:"form_data"`
	CurrentPrompt      string                  `json:"current_prompt"`
	APIStatus          APIStatus               `json:"api_status"`
	Generating         bool                    `json:"generating_image"`
	HasImage           bool                    `json:"has_image"`
	CurrentSeed        int64                   `json:"current_seed"`
	LastGenerationTime *time.Time              `json:"last_generation_time,omitempty"`
	HasSelections      bool                    `json:"has_selections"`
}

func (s *State) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		FormData:      s.formData.Clone(),
		CurrentPrompt: s.prompt,
		APIStatus:     s.status,
		Generating:    s.generating,
		HasImage:      s.image != nil,
		CurrentSeed:   s.seed,
		HasSelections: len(s.formData) > 0,
	}
	if !s.lastGeneration.IsZero() {
		at := s.lastGeneration
		sum.LastGenerationTime = &at
	}
	return sum
}
