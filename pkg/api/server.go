package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/openclaw/launcher/pkg/config"
	"github.com/openclaw/launcher/pkg/events"
	"github.com/openclaw/launcher/pkg/log"
	"github.com/openclaw/launcher/pkg/logstream"
	"github.com/openclaw/launcher/pkg/metrics"
	"github.com/openclaw/launcher/pkg/orchestrator"
	"github.com/openclaw/launcher/pkg/store"
	"github.com/openclaw/launcher/pkg/types"
	"github.com/openclaw/launcher/pkg/workspace"
)

// Controller is the slice of the orchestrator the handlers consume.
// *orchestrator.Orchestrator satisfies it.
type Controller interface {
	Launch(ctx context.Context, pubkey string) (types.WireInstance, error)
	Stop(ctx context.Context, pubkey string) (string, error)
	Destroy(ctx context.Context, pubkey string) (string, error)
	List(ctx context.Context) ([]types.WireInstance, error)
	StatsFor(ctx context.Context, id string) (orchestrator.StatsResult, error)
	MetricsSamples() []metrics.Sample
}

// LogTailer fetches a bounded, non-following log tail. *runtime.Docker
// satisfies it.
type LogTailer interface {
	TailLogs(ctx context.Context, name string, n int) (string, error)
}

// LogStreamer runs a live log follow onto a sink. *logstream.Streamer
// satisfies it.
type LogStreamer interface {
	Stream(ctx context.Context, name string, sink logstream.Sink) error
}

// Server is the HTTP API server.
type Server struct {
	cfg      config.Config
	ctrl     Controller
	tailer   LogTailer
	streamer LogStreamer
	files    *workspace.Provisioner
	journal  *events.Journal
	store    *store.Store
	logger   zerolog.Logger
	router   chi.Router
}

// New assembles the server. journal may be nil; the events endpoint then
// serves an empty feed.
func New(cfg config.Config, ctrl Controller, tailer LogTailer, streamer LogStreamer,
	files *workspace.Provisioner, st *store.Store, journal *events.Journal) *Server {
	s := &Server{
		cfg:      cfg,
		ctrl:     ctrl,
		tailer:   tailer,
		streamer: streamer,
		files:    files,
		journal:  journal,
		store:    st,
		logger:   log.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", metrics.Handler(s.ctrl.MetricsSamples))

	r.Route("/api", func(r chi.Router) {
		r.Use(requireToken(s.cfg.Token))

		r.Get("/instances", s.handleInstances)
		r.Post("/launch", s.handleLaunch)
		r.Post("/stop", s.handleStop)
		r.Post("/destroy", s.handleDestroy)
		r.Get("/stats/{id}", s.handleStats)
		r.Get("/logs/{id}", s.handleLogsTail)
		r.HandleFunc("/logs/{id}/stream", s.handleLogStream)
		r.Get("/files/{id}", s.handleFilesList)
		r.Get("/files/{id}/{name}", s.handleFileGet)
		r.Put("/files/{id}/{name}", s.handleFilePut)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.router,
		// No global write timeout: log streams are long-lived.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// countRequests feeds the request counter with the final status code.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
