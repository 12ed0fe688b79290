package ui

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"not-you-kiosk/internal/appstate"
	"not-you-kiosk/internal/demographics"
)

var fakePNG = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, "IHDR"...)

type fieldCall struct {
	id, label string
	options   []string
}

type selectCall struct {
	id, option string
	selected   bool
}

type fakeFormView struct {
	fields   []fieldCall
	selected []selectCall
}

func (v *fakeFormView) AddField(id, label string, options []string) {
	v.fields = append(v.fields, fieldCall{id, label, options})
}

func (v *fakeFormView) SetSelected(id, option string, selected bool) {
	v.selected = append(v.selected, selectCall{id, option, selected})
}

type fakeImageView struct {
	mu           sync.Mutex
	images       [][]byte
	placeholders int
	prompts      []string
	statuses     []string
	remix        []bool
	generatedAt  []time.Time
}

func (v *fakeImageView) ShowImage(png []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.images = append(v.images, png)
}

func (v *fakeImageView) ShowPlaceholder() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placeholders++
}

func (v *fakeImageView) SetPrompt(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prompts = append(v.prompts, text)
}

func (v *fakeImageView) SetStatus(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses = append(v.statuses, text)
}

func (v *fakeImageView) SetGeneratedAt(at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.generatedAt = append(v.generatedAt, at)
}

func (v *fakeImageView) SetRemixVisible(visible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.remix = append(v.remix, visible)
}

func (v *fakeImageView) lastStatus() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return ""
	}
	return v.statuses[len(v.statuses)-1]
}

func (v *fakeImageView) statusSnapshot() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.statuses...)
}

type fakeArchive struct {
	saved [][]byte
	err   error
}

func (a *fakeArchive) Save(data []byte) (string, error) {
	a.saved = append(a.saved, data)
	return "portrait.png", a.err
}

func newMapper() *demographics.Mapper {
	return demographics.NewMapper(demographics.MapperOptions{
		Prefix: demographics.DefaultPrefix,
		Suffix: demographics.DefaultSuffix,
	})
}

func TestFormPanelBuildsView(t *testing.T) {
	view := &fakeFormView{}
	panel, err := NewFormPanel(FormPanelOptions{State: appstate.New(appstate.Options{}), Mapper: newMapper(), View: view})
	require.NoError(t, err)

	require.Len(t, view.fields, 6)
	assert.Equal(t, "age", view.fields[0].id)
	assert.Equal(t, "Age", view.fields[0].label)
	assert.Equal(t, demographics.Sentinel, view.fields[0].options[0])

	for _, v := range panel.CurrentSelections() {
		assert.Equal(t, demographics.Sentinel, v)
	}
	assert.Len(t, panel.CurrentSelections(), 6)
}

func TestFormPanelSelectPublishesStateAndPrompt(t *testing.T) {
	state := appstate.New(appstate.Options{})
	var order []appstate.EventKind
	state.Bind(func(e appstate.Event) { order = append(order, e.Kind) })

	view := &fakeFormView{}
	panel, err := NewFormPanel(FormPanelOptions{State: state, Mapper: newMapper(), View: view})
	require.NoError(t, err)

	require.NoError(t, panel.Select("age", "Teen"))

	assert.Equal(t, demographics.Selections{"age": "Teen"}, state.FormData())
	assert.Equal(t, "professional portrait photograph of a teenager person, high quality, detailed, realistic, photographic style", state.CurrentPrompt())
	assert.Equal(t, []appstate.EventKind{appstate.EventFormData, appstate.EventCurrentPrompt}, order)
	assert.Equal(t, selectCall{"age", "Teen", true}, view.selected[len(view.selected)-1])
	assert.Equal(t, "Teen", panel.CurrentSelections()["age"])

	require.NoError(t, panel.Select("age", demographics.Sentinel))
	assert.Empty(t, state.FormData())
	assert.Equal(t, selectCall{"age", demographics.Sentinel, false}, view.selected[len(view.selected)-1])
}

func TestFormPanelRejectsUnknownOptions(t *testing.T) {
	state := appstate.New(appstate.Options{})
	panel, err := NewFormPanel(FormPanelOptions{State: state, Mapper: newMapper(), View: &fakeFormView{}})
	require.NoError(t, err)

	assert.ErrorIs(t, panel.Select("age", "Ancient"), ErrInvalidSelection)
	assert.ErrorIs(t, panel.Select("shoe_size", "42"), ErrInvalidSelection)
	assert.Empty(t, state.FormData())
}

func TestFormPanelReset(t *testing.T) {
	state := appstate.New(appstate.Options{})
	view := &fakeFormView{}
	panel, err := NewFormPanel(FormPanelOptions{State: state, Mapper: newMapper(), View: view})
	require.NoError(t, err)

	require.NoError(t, panel.Select("gender", "Female"))
	require.NoError(t, panel.Select("income", "$200,000+"))
	panel.Reset()

	assert.Empty(t, state.FormData())
	assert.Equal(t, "", state.CurrentPrompt())
	assert.Equal(t, demographics.Sentinel, panel.CurrentSelections()["gender"])
}

func TestFormPanelRequiresStateAndView(t *testing.T) {
	_, err := NewFormPanel(FormPanelOptions{View: &fakeFormView{}})
	assert.Error(t, err)
	_, err = NewFormPanel(FormPanelOptions{State: appstate.New(appstate.Options{})})
	assert.Error(t, err)
}

func TestImagePanelInitialRender(t *testing.T) {
	view := &fakeImageView{}
	_, err := NewImagePanel(ImagePanelOptions{State: appstate.New(appstate.Options{}), View: view})
	require.NoError(t, err)

	assert.Equal(t, []string{EmptyPromptText}, view.prompts)
	assert.Equal(t, 1, view.placeholders)
	assert.Equal(t, []bool{false}, view.remix)
	assert.Equal(t, []string{StatusReady}, view.statuses)
}

func TestImagePanelShowsImageAndArchives(t *testing.T) {
	state := appstate.New(appstate.Options{})
	view := &fakeImageView{}
	arch := &fakeArchive{}
	_, err := NewImagePanel(ImagePanelOptions{State: state, View: view, Archive: arch})
	require.NoError(t, err)

	state.SetCurrentImage(fakePNG)
	state.SetCurrentImage(fakePNG)

	assert.Equal(t, [][]byte{fakePNG, fakePNG}, view.images)
	assert.Equal(t, [][]byte{fakePNG, fakePNG}, arch.saved)
	assert.Equal(t, []bool{false, true}, view.remix, "remix button appears once, after the first image")
}

func TestImagePanelInvalidImageShowsPlaceholder(t *testing.T) {
	state := appstate.New(appstate.Options{})
	view := &fakeImageView{}
	arch := &fakeArchive{err: errors.New("disk full")}
	_, err := NewImagePanel(ImagePanelOptions{State: state, View: view, Archive: arch})
	require.NoError(t, err)

	state.SetCurrentImage([]byte("GIF89a"))
	state.SetCurrentImage(nil)

	assert.Empty(t, view.images)
	assert.Equal(t, 3, view.placeholders)
	assert.Len(t, arch.saved, 1)
}

func TestImagePanelPromptText(t *testing.T) {
	state := appstate.New(appstate.Options{})
	view := &fakeImageView{}
	_, err := NewImagePanel(ImagePanelOptions{State: state, View: view})
	require.NoError(t, err)

	state.SetCurrentPrompt("a portrait")
	state.SetCurrentPrompt("")

	assert.Equal(t, []string{EmptyPromptText, "Prompt: a portrait", EmptyPromptText}, view.prompts)
}

func TestImagePanelGeneratingAnimation(t *testing.T) {
	state := appstate.New(appstate.Options{})
	view := &fakeImageView{}
	panel, err := NewImagePanel(ImagePanelOptions{
		State:             state,
		View:              view,
		Scheduler:         Immediate{},
		AnimationInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer panel.Close()

	state.SetGeneratingImage(true)
	assert.Eventually(t, func() bool { return view.lastStatus() == "Generating..." }, time.Second, 2*time.Millisecond)

	state.SetGeneratingImage(false)
	assert.Equal(t, StatusReady, view.lastStatus())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StatusReady, view.lastStatus(), "no frames after the animation stopped")

	for _, s := range view.statusSnapshot() {
		assert.Contains(t, []string{"Ready", "Generating", "Generating.", "Generating..", "Generating..."}, s)
	}
}

func TestImagePanelRemixAndClose(t *testing.T) {
	state := appstate.New(appstate.Options{})
	view := &fakeImageView{}
	var remixes atomic.Int32
	panel, err := NewImagePanel(ImagePanelOptions{State: state, View: view, Remix: func() { remixes.Add(1) }})
	require.NoError(t, err)

	panel.Remix()
	assert.Equal(t, int32(1), remixes.Load())

	panel.Close()
	panel.Close()
	state.SetCurrentPrompt("ignored")
	assert.Equal(t, []string{EmptyPromptText}, view.prompts)

	_, err = NewImagePanel(ImagePanelOptions{State: state})
	assert.Error(t, err)
}

func TestImagePanelRegenerateAndGenerationTime(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	state := appstate.New(appstate.Options{})
	state.SetLastGenerationTime(at)
	view := &fakeImageView{}
	var regens atomic.Int32
	panel, err := NewImagePanel(ImagePanelOptions{State: state, View: view, Regenerate: func() { regens.Add(1) }})
	require.NoError(t, err)
	defer panel.Close()

	later := at.Add(time.Minute)
	state.SetLastGenerationTime(later)
	assert.Equal(t, []time.Time{at, later}, view.generatedAt)

	panel.Regenerate()
	panel.Remix()
	assert.Equal(t, int32(1), regens.Load())
}

func TestGeneratingText(t *testing.T) {
	assert.Equal(t, "Generating", GeneratingText(0))
	assert.Equal(t, "Generating...", GeneratingText(3))
	assert.Equal(t, "Generating", GeneratingText(4))
	assert.Equal(t, "Prompt: x", PromptText("x"))
	assert.Equal(t, EmptyPromptText, PromptText("  "))
}

func TestLoopRunsPostedClosuresInOrder(t *testing.T) {
	loop := NewLoop(LoopOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		loop.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	loop.Post(func() { panic("boom") })

	err := Call(context.Background(), loop, func() error { return errors.New("from loop") })
	assert.EqualError(t, err, "from loop")

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	assert.ErrorIs(t, Call(context.Background(), loop, func() error { return nil }), ErrLoopStopped)
}

func TestCallHonoursContext(t *testing.T) {
	loop := NewLoop(LoopOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Call(ctx, loop, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fakeSink struct{ component, message string }

func (s *fakeSink) ShowError(component, message string) {
	s.component, s.message = component, message
}

func TestErrorView(t *testing.T) {
	sink := &fakeSink{}
	NewErrorView("image panel", errors.New("no view")).Render(sink)
	assert.Equal(t, "image panel", sink.component)
	assert.Equal(t, "image panel unavailable: no view", sink.message)
	assert.Equal(t, "form unavailable", NewErrorView("form", nil).Message())
}
