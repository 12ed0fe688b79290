package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"not-you-kiosk/internal/appstate"
	"not-you-kiosk/internal/logging"
	"not-you-kiosk/internal/ui"
)

//go:embed static/*
var staticFS embed.FS

const (
	maxBodyBytes = 1 << 16
	callTimeout  = 5 * time.Second
)

// The interfaces below feed /healthz; each is optional.
type (
	ServiceStatus interface {
		Up() (up, ok bool)
	}
	GalleryStats interface {
		Stats() (sent, dropped int64)
	}
	ArchiveLister interface {
		Dir() string
		List() ([]string, error)
	}
	JobCounter interface {
		ActiveJobs() int
	}
	ChangeTracker interface {
		PendingChange() bool
	}
)

type Options struct {
	Addr      string
	Views     *Views
	State     *appstate.State
	Scheduler ui.Scheduler
	// Form and Image may be nil when the panel failed to build; their
	// endpoints then answer 503.
	Form            *ui.FormPanel
	Image           *ui.ImagePanel
	PlaceholderPath string
	Service         ServiceStatus
	Gallery         GalleryStats
	Archive         ArchiveLister
	Jobs            JobCounter
	Changes         ChangeTracker
	Logger          *zerolog.Logger
}

type Server struct {
	addr        string
	views       *Views
	state       *appstate.State
	scheduler   ui.Scheduler
	form        *ui.FormPanel
	image       *ui.ImagePanel
	placeholder string
	service     ServiceStatus
	gallery     GalleryStats
	archive     ArchiveLister
	jobs        JobCounter
	changes     ChangeTracker
	logger      *zerolog.Logger
	router      chi.Router
}

type apiError struct {
	Error string `json:"error"`
}

type selectRequest struct {
	Option string `json:"option"`
}

func New(opts Options) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = ":8080"
	}
	views := opts.Views
	if views == nil {
		views = NewViews()
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = ui.Immediate{}
	}

	s := &Server{
		addr:        addr,
		views:       views,
		state:       opts.State,
		scheduler:   scheduler,
		form:        opts.Form,
		image:       opts.Image,
		placeholder: opts.PlaceholderPath,
		service:     opts.Service,
		gallery:     opts.Gallery,
		archive:     opts.Archive,
		jobs:        opts.Jobs,
		changes:     opts.Changes,
		logger:      logging.OrDiscard(opts.Logger),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	r.Handle("/*", http.FileServer(http.FS(staticSub)))

	r.Route("/api", func(r chi.Router) {
		r.Get("/form", s.handleForm)
		r.Post("/form/reset", s.handleReset)
		r.Post("/form/{field}", s.handleSelect)
		r.Post("/remix", s.handleRemix)
		r.Post("/regenerate", s.handleRegenerate)
		r.Get("/view", s.handleView)
		r.Get("/image", s.handleImage)
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("kiosk web started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info().Msg("kiosk web stopped")
		return nil
	}
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	if s.form == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: s.unavailable("form")})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": s.views.Fields()})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if s.form == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: s.unavailable("form")})
		return
	}

	var req selectRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body"})
		return
	}

	field := chi.URLParam(r, "field")
	err := s.call(r.Context(), func() error { return s.form.Select(field, req.Option) })
	switch {
	case errors.Is(err, ui.ErrInvalidSelection):
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
	case err != nil:
		s.logger.Error().Err(err).Str("field", field).Msg("select failed")
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, s.views.Snapshot())
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.form == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: s.unavailable("form")})
		return
	}
	err := s.call(r.Context(), func() error {
		s.form.Reset()
		return nil
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.views.Snapshot())
}

func (s *Server) handleRemix(w http.ResponseWriter, r *http.Request) {
	s.imageAction(w, r, func(p *ui.ImagePanel) { p.Remix() })
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	s.imageAction(w, r, func(p *ui.ImagePanel) { p.Regenerate() })
}

func (s *Server) imageAction(w http.ResponseWriter, r *http.Request, fn func(*ui.ImagePanel)) {
	if s.image == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: s.unavailable("image")})
		return
	}
	err := s.call(r.Context(), func() error {
		fn(s.image)
		return nil
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, s.views.Snapshot())
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.views.Snapshot())
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	img, version := s.views.Image()
	if img != nil {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(img)))
		w.Header().Set("ETag", `"`+strconv.FormatUint(version, 10)+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(img)
		return
	}

	if s.placeholder != "" {
		http.ServeFile(w, r, s.placeholder)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.state != nil {
		resp["state"] = s.state.Summary()
	}
	if s.service != nil {
		if up, ok := s.service.Up(); ok {
			resp["service_up"] = up
		}
	}
	if s.jobs != nil {
		resp["active_jobs"] = s.jobs.ActiveJobs()
	}
	if s.changes != nil {
		resp["pending_change"] = s.changes.PendingChange()
	}
	if s.gallery != nil {
		sent, dropped := s.gallery.Stats()
		resp["gallery"] = map[string]int64{"sent": sent, "dropped": dropped}
	}
	if s.archive != nil {
		names, err := s.archive.List()
		if err != nil {
			s.logger.Warn().Err(err).Msg("list archive")
		} else {
			resp["archive"] = map[string]any{"dir": s.archive.Dir(), "images": len(names)}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) call(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return ui.Call(ctx, s.scheduler, fn)
}

func (s *Server) unavailable(component string) string {
	if msg, ok := s.views.Snapshot().Errors[component]; ok {
		return msg
	}
	return component + " unavailable"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
