package appstate

import (
	"time"

	"not-you-kiosk/internal/demographics"
)

type EventKind string

const (
	EventFormData           EventKind = "form_data"
	EventFormFieldChanged   EventKind = "form_field_changed"
	EventCurrentPrompt      EventKind = "current_prompt"
	EventCurrentImage       EventKind = "current_image"
	EventGeneratingImage    EventKind = "generating_image"
	EventAPIStatus          EventKind = "api_status"
	EventCurrentSeed        EventKind = "current_seed"
	EventLastGenerationTime EventKind = "last_generation_time"
)

// Event is a tagged change notification. Only the payload fields belonging to
// Kind are meaningful:
//
//	EventFormData           FormData
//	EventFormFieldChanged   FieldID, Value
//	EventCurrentPrompt      Prompt
//	EventCurrentImage       Image (nil when cleared)
//	EventGeneratingImage    Generating
//	EventAPIStatus          Status
//	EventCurrentSeed        Seed
//	EventLastGenerationTime At
//
// Payloads are shared between observers and must not be modified.
type Event struct {
	Kind EventKind

	FormData   demographics.Selections
	FieldID    string
	Value      string
	Prompt     string
	Image      []byte
	Generating bool
	Status     APIStatus
	Seed       int64
	At         time.Time
}

// Subscription identifies a registered observer for RemoveObserver.
type Subscription struct {
	kind EventKind
	id   uint64
}

type observer struct {
	id uint64
	fn func(Event)
}

// allEvents keys observers registered through Bind.
const allEvents EventKind = ""

func (s *State) AddObserver(kind EventKind, fn func(Event)) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextObserverID++
	id := s.nextObserverID
	s.observers[kind] = append(s.observers[kind], observer{id: id, fn: fn})
	s.logger.Debug().Str("event", string(kind)).Uint64("observer", id).Msg("observer added")
	return Subscription{kind: kind, id: id}
}

// Bind registers fn for every change, regardless of kind.
func (s *State) Bind(fn func(Event)) Subscription {
	return s.AddObserver(allEvents, fn)
}

// RemoveObserver reports whether sub was still registered.
func (s *State) RemoveObserver(sub Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.observers[sub.kind]
	for i, o := range list {
		if o.id != sub.id {
			continue
		}
		next := make([]observer, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		s.observers[sub.kind] = next
		return true
	}
	s.logger.Warn().Str("event", string(sub.kind)).Uint64("observer", sub.id).Msg("observer not found")
	return false
}

func (s *State) OnFormData(fn func(demographics.Selections)) Subscription {
	return s.AddObserver(EventFormData, func(e Event) { fn(e.FormData) })
}

func (s *State) OnFormFieldChanged(fn func(fieldID, value string)) Subscription {
	return s.AddObserver(EventFormFieldChanged, func(e Event) { fn(e.FieldID, e.Value) })
}

func (s *State) OnPrompt(fn func(string)) Subscription {
	return s.AddObserver(EventCurrentPrompt, func(e Event) { fn(e.Prompt) })
}

func (s *State) OnImage(fn func([]byte)) Subscription {
	return s.AddObserver(EventCurrentImage, func(e Event) { fn(e.Image) })
}

func (s *State) OnGenerating(fn func(bool)) Subscription {
	return s.AddObserver(EventGeneratingImage, func(e Event) { fn(e.Generating) })
}

func (s *State) OnAPIStatus(fn func(APIStatus)) Subscription {
	return s.AddObserver(EventAPIStatus, func(e Event) { fn(e.Status) })
}

func (s *State) OnSeed(fn func(int64)) Subscription {
	return s.AddObserver(EventCurrentSeed, func(e Event) { fn(e.Seed) })
}

func (s *State) OnGenerationTime(fn func(time.Time)) Subscription {
	return s.AddObserver(EventLastGenerationTime, func(e Event) { fn(e.At) })
}

// emit must be called without s.mu held.
func (s *State) emit(events ...Event) {
	for _, e := range events {
		s.mu.Lock()
		typed := append([]observer(nil), s.observers[e.Kind]...)
		general := append([]observer(nil), s.observers[allEvents]...)
		s.mu.Unlock()

		for _, o := range typed {
			s.call(o, e)
		}
		for _, o := range general {
			s.call(o, e)
		}
	}
}

func (s *State) call(o observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("event", string(e.Kind)).
				Uint64("observer", o.id).
				Interface("panic", r).
				Msg("observer failed")
		}
	}()
	o.fn(e)
}
