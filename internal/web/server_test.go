package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"not-you-kiosk/internal/appstate"
	"not-you-kiosk/internal/demographics"
	"not-you-kiosk/internal/ui"
)

var fakePNG = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, "IHDR"...)

type fixture struct {
	server  *Server
	state   *appstate.State
	views   *Views
	remixes *atomic.Int32
	regens  *atomic.Int32
}

func newFixture(t *testing.T, placeholder string) fixture {
	t.Helper()
	state := appstate.New(appstate.Options{})
	views := NewViews()

	form, err := ui.NewFormPanel(ui.FormPanelOptions{State: state, View: views})
	require.NoError(t, err)

	remixes, regens := &atomic.Int32{}, &atomic.Int32{}
	image, err := ui.NewImagePanel(ui.ImagePanelOptions{
		State:      state,
		View:       views,
		Remix:      func() { remixes.Add(1) },
		Regenerate: func() { regens.Add(1) },
	})
	require.NoError(t, err)
	t.Cleanup(image.Close)

	srv := New(Options{
		Views:           views,
		State:           state,
		Form:            form,
		Image:           image,
		PlaceholderPath: placeholder,
	})
	return fixture{server: srv, state: state, views: views, remixes: remixes, regens: regens}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) Snapshot {
	t.Helper()
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func TestFormListsSchemaFields(t *testing.T) {
	f := newFixture(t, "")

	rec := do(t, f.server.Handler(), http.MethodGet, "/api/form", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Fields []Field `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Fields, len(demographics.DefaultSchema().FieldIDs()))
	assert.Equal(t, "age", body.Fields[0].ID)
	assert.Equal(t, demographics.Sentinel, body.Fields[0].Selected)
	assert.False(t, body.Fields[0].Active)
	assert.Equal(t, demographics.Sentinel, body.Fields[0].Options[0])
}

func TestSelectUpdatesStateAndView(t *testing.T) {
	f := newFixture(t, "")

	rec := do(t, f.server.Handler(), http.MethodPost, "/api/form/age", `{"option":"Senior"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	snap := decodeSnapshot(t, rec)
	assert.Contains(t, snap.Prompt, "elderly")
	assert.Equal(t, "Senior", snap.Fields[0].Selected)
	assert.True(t, snap.Fields[0].Active)
	assert.Equal(t, demographics.Selections{"age": "Senior"}, f.state.FormData())
}

func TestSelectRejectsUnknownOption(t *testing.T) {
	f := newFixture(t, "")

	rec := do(t, f.server.Handler(), http.MethodPost, "/api/form/age", `{"option":"Ancient"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.state.FormData())

	rec = do(t, f.server.Handler(), http.MethodPost, "/api/form/shoe_size", `{"option":"Senior"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.server.Handler(), http.MethodPost, "/api/form/age", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetClearsSelections(t *testing.T) {
	f := newFixture(t, "")
	h := f.server.Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/form/gender", `{"option":"Male"}`).Code)
	rec := do(t, h, http.MethodPost, "/api/form/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)

	snap := decodeSnapshot(t, rec)
	assert.Equal(t, ui.EmptyPromptText, snap.Prompt)
	for _, field := range snap.Fields {
		assert.Equal(t, demographics.Sentinel, field.Selected, field.ID)
	}
	assert.Empty(t, f.state.FormData())
	assert.Empty(t, f.state.CurrentPrompt())
}

func TestRemixCallsImagePanel(t *testing.T) {
	f := newFixture(t, "")

	rec := do(t, f.server.Handler(), http.MethodPost, "/api/remix", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int32(1), f.remixes.Load())
}

func TestRegenerateCallsImagePanel(t *testing.T) {
	f := newFixture(t, "")

	rec := do(t, f.server.Handler(), http.MethodPost, "/api/regenerate", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int32(1), f.regens.Load())
	assert.Equal(t, int32(0), f.remixes.Load())
}

func TestMissingPanelsAnswerUnavailable(t *testing.T) {
	views := NewViews()
	ui.NewErrorView("image", errors.New("boom")).Render(views)
	srv := New(Options{Views: views})
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/remix", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "image unavailable: boom")

	rec = do(t, h, http.MethodPost, "/api/regenerate", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/form", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "form unavailable")

	rec = do(t, h, http.MethodGet, "/api/view", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image unavailable: boom", decodeSnapshot(t, rec).Errors["image"])
}

func TestImageEndpoint(t *testing.T) {
	f := newFixture(t, "")
	h := f.server.Handler()

	rec := do(t, h, http.MethodGet, "/api/image", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.state.SetCurrentImage(fakePNG)
	rec = do(t, h, http.MethodGet, "/api/image?v=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.True(t, bytes.Equal(fakePNG, rec.Body.Bytes()))

	snap := decodeSnapshot(t, do(t, h, http.MethodGet, "/api/view", ""))
	assert.True(t, snap.HasImage)
	assert.True(t, snap.RemixVisible)
}

func TestImageEndpointServesPlaceholder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "placeholder.png")
	require.NoError(t, os.WriteFile(path, fakePNG, 0o644))
	f := newFixture(t, path)

	rec := do(t, f.server.Handler(), http.MethodGet, "/api/image", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fakePNG, rec.Body.Bytes())
}

func TestNonPNGImageFallsBackToPlaceholder(t *testing.T) {
	f := newFixture(t, "")
	f.state.SetCurrentImage([]byte("not a png"))

	img, _ := f.views.Image()
	assert.Nil(t, img)
	assert.Equal(t, http.StatusNotFound, do(t, f.server.Handler(), http.MethodGet, "/api/image", "").Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "")
	f.state.SetFormData(demographics.Selections{"age": "Teen"})

	rec := do(t, f.server.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string           `json:"status"`
		State  appstate.Summary `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.State.HasSelections)
}

type fakeService struct{ up, ok bool }

func (f fakeService) Up() (bool, bool) { return f.up, f.ok }

type fakeGallery struct{}

func (fakeGallery) Stats() (int64, int64) { return 4, 1 }

type fakeArchive struct{ err error }

func (fakeArchive) Dir() string { return "/srv/portraits" }
func (a fakeArchive) List() ([]string, error) {
	return []string{"a.png", "b.png"}, a.err
}

type fakeJobs int

func (j fakeJobs) ActiveJobs() int { return int(j) }

type fakeChanges bool

func (c fakeChanges) PendingChange() bool { return bool(c) }

func TestHealthzReportsComponents(t *testing.T) {
	srv := New(Options{
		Service: fakeService{up: true, ok: true},
		Gallery: fakeGallery{},
		Archive: fakeArchive{},
		Jobs:    fakeJobs(2),
		Changes: fakeChanges(true),
	})

	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ServiceUp     *bool            `json:"service_up"`
		ActiveJobs    int              `json:"active_jobs"`
		PendingChange bool             `json:"pending_change"`
		Gallery       map[string]int64 `json:"gallery"`
		Archive       struct {
			Dir    string `json:"dir"`
			Images int    `json:"images"`
		} `json:"archive"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.ServiceUp)
	assert.True(t, *body.ServiceUp)
	assert.Equal(t, 2, body.ActiveJobs)
	assert.True(t, body.PendingChange)
	assert.Equal(t, map[string]int64{"sent": 4, "dropped": 1}, body.Gallery)
	assert.Equal(t, "/srv/portraits", body.Archive.Dir)
	assert.Equal(t, 2, body.Archive.Images)
}

func TestHealthzOmitsUnknownServiceAndBrokenArchive(t *testing.T) {
	srv := New(Options{
		Service: fakeService{},
		Archive: fakeArchive{err: errors.New("permission denied")},
	})

	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "service_up")
	assert.NotContains(t, body, "archive")
	assert.NotContains(t, body, "gallery")
}

func TestViewShowsGenerationTime(t *testing.T) {
	f := newFixture(t, "")
	h := f.server.Handler()

	assert.Nil(t, decodeSnapshot(t, do(t, h, http.MethodGet, "/api/view", "")).GeneratedAt)

	at := time.Date(2026, 6, 1, 12, 30, 0, 0, time.UTC)
	f.state.SetLastGenerationTime(at)

	snap := decodeSnapshot(t, do(t, h, http.MethodGet, "/api/view", ""))
	require.NotNil(t, snap.GeneratedAt)
	assert.True(t, at.Equal(*snap.GeneratedAt))
}

func TestMetricsExposeRequestCounter(t *testing.T) {
	f := newFixture(t, "")
	h := f.server.Handler()

	do(t, h, http.MethodGet, "/api/view", "")
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kiosk_http_requests_total")
	assert.Contains(t, rec.Body.String(), `path="/api/view"`)
}

func TestIndexServed(t *testing.T) {
	f := newFixture(t, "")

	rec := do(t, f.server.Handler(), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/view")
}

func TestViewsSnapshotIsACopy(t *testing.T) {
	v := NewViews()
	v.AddField("age", "Age", []string{demographics.Sentinel, "Teen"})
	v.SetSelected("age", "Teen", true)
	v.SetSelected("missing", "x", true)
	v.ShowError("form", "broken")

	snap := v.Snapshot()
	snap.Fields[0].Options[1] = "changed"
	snap.Errors["form"] = "changed"

	again := v.Snapshot()
	assert.Equal(t, "Teen", again.Fields[0].Options[1])
	assert.Equal(t, "broken", again.Errors["form"])
	assert.Equal(t, "Teen", again.Fields[0].Selected)
	assert.Len(t, again.Fields, 1)

	v.AddField("age", "Age group", []string{demographics.Sentinel})
	assert.Len(t, v.Fields(), 1)
	assert.Equal(t, "Age group", v.Fields()[0].Label)
}

func TestViewsImageVersionAdvances(t *testing.T) {
	v := NewViews()
	_, v0 := v.Image()
	v.ShowImage(fakePNG)
	img, v1 := v.Image()
	v.ShowPlaceholder()
	none, v2 := v.Image()

	assert.Equal(t, fakePNG, img)
	assert.Nil(t, none)
	assert.Less(t, v0, v1)
	assert.Less(t, v1, v2)
}
