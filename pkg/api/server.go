package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/viewcount/pkg/httputil"
	"github.com/platinummonkey/viewcount/pkg/viewstats"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ViewerHeader carries the authenticated viewer ID set by the upstream auth layer.
const ViewerHeader = "X-Viewer-ID"

// StatsSourceHeader reports which tier answered a stats read.
const StatsSourceHeader = "X-Stats-Source"

// ViewRecorder records a single view.
type ViewRecorder interface {
	RecordView(ctx context.Context, itemID string, viewer viewstats.Viewer) error
}

// StatsReader answers stats reads and reports its cache hit rate.
type StatsReader interface {
	GetStats(ctx context.Context, itemID string) (*viewstats.Stats, error)
	CacheHitRate() float64
}

// QueueSizer reports the pending-sync queue length.
type QueueSizer interface {
	QueueLength(ctx context.Context) (int64, error)
}

// Server represents our API server.
type Server struct {
	recorder ViewRecorder
	reader   StatsReader
	queue    QueueSizer
	metrics  viewstats.MetricsRecorder
	log      *logrus.Logger
	router   *mux.Router
}

// NewServer creates a new API server.
func NewServer(recorder ViewRecorder, reader StatsReader, queue QueueSizer, metrics viewstats.MetricsRecorder, log *logrus.Logger) *Server {
	if metrics == nil {
		metrics = viewstats.NopMetrics{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		recorder: recorder,
		reader:   reader,
		queue:    queue,
		metrics:  metrics,
		log:      log,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/items/{id}/views", s.recordView).Methods("POST")
	s.router.HandleFunc("/items/{id}/stats", s.getStats).Methods("GET")
	s.router.HandleFunc("/items/{id}", s.getItem).Methods("GET")

	s.router.HandleFunc("/monitoring", s.getMonitoring).Methods("GET")
}

// Use installs router-level middleware. Middleware added here runs after route
// matching, so mux.CurrentRoute is available to it.
func (s *Server) Use(mw ...mux.MiddlewareFunc) {
	s.router.Use(mw...)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped in the standard middleware stack.
func (s *Server) Handler() http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.log),
		httputil.RecoveryMiddleware,
	)
	return otelhttp.NewHandler(chain(s.router), "viewcount-api")
}

// viewerFromRequest resolves the request's viewer. A missing header is
// anonymous; a malformed one gets a 400 and ok is false.
func viewerFromRequest(w http.ResponseWriter, r *http.Request) (viewer viewstats.Viewer, ok bool) {
	id, err := httputil.ParseViewerID(r, ViewerHeader)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return viewstats.Viewer{}, false
	}
	if id == "" {
		return viewstats.Anonymous, true
	}
	return viewstats.Viewer{ID: id, Authenticated: true}, true
}
