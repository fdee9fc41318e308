package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/blake2b"

	"github.com/coffersTech/hitlog/internal/hitmap"
	"github.com/coffersTech/hitlog/internal/ingest"
	"github.com/coffersTech/hitlog/internal/logging"
	"github.com/coffersTech/hitlog/internal/metrics"
	"github.com/coffersTech/hitlog/internal/model"
	"github.com/coffersTech/hitlog/internal/registry"
	"github.com/coffersTech/hitlog/internal/storage"
)

// DefaultDensityCell is the density grid cell size when ?cell is absent.
const DefaultDensityCell = 32

// Options configures the HTTP surface.
type Options struct {
	MaxBodyBytes   int64
	AllowedOrigins []string
	ViewerFile     string // served at /hitmap
	WebDir         string // served at / when set
	RateLimit      int    // uploads per minute per IP, 0 disables
}

// IngestServer serves the upload and hitmap endpoints.
type IngestServer struct {
	store      *storage.Store
	aggregator *hitmap.Aggregator
	sources    *registry.Server
	logs       *ingest.Handler
	hits       *ingest.Handler
	opts       Options

	mu     sync.Mutex
	srv    *http.Server
	closed bool
}

func NewIngestServer(store *storage.Store, agg *hitmap.Aggregator, sources *registry.Server, opts Options) *IngestServer {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	return &IngestServer{
		store:      store,
		aggregator: agg,
		sources:    sources,
		logs:       ingest.NewHandler(model.CategoryLog, store),
		hits:       ingest.NewHandler(model.CategoryHitmap, store),
		opts:       opts,
	}
}

// Handler builds the router.
func (s *IngestServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", s.handleHealth)
	r.Get("/hitmap", s.handleViewer)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", registry.InstanceHeader},
			AllowCredentials: true,
			MaxAge:           86400,
		}))

		r.Group(func(r chi.Router) {
			if s.opts.RateLimit > 0 {
				r.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
			}
			r.Post("/upload-log", s.handleUpload(s.logs))
			r.Post("/upload-hitmap", s.handleUpload(s.hits))
		})

		r.Get("/hitmap-data", s.handleHitmapData)
		r.Get("/hitmap-density", s.handleHitmapDensity)
		r.Get("/stats", s.handleStats)
		if s.sources != nil {
			r.Get("/sources", s.sources.HandleListSources)
		}
	})

	if s.opts.WebDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.opts.WebDir)))
	}

	return r
}

// Start runs the HTTP server until Shutdown. It returns nil at once if Shutdown already ran.
func (s *IngestServer) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srv = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *IngestServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.srv
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

type uploadResponse struct {
	OK    bool `json:"ok"`
	Saved int  `json:"saved"`
}

type errorResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// handleUpload processes POST /api/upload-log and /api/upload-hitmap.
func (s *IngestServer) handleUpload(h *ingest.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeIngestError(w, r, ingest.ErrBodyTooLarge(tooLarge.Limit))
				return
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: ingest.CodeInvalidJSON, Detail: err.Error()})
			return
		}

		n, err := h.Ingest(r.Header.Get("Content-Type"), body)
		if err != nil {
			var ierr *ingest.Error
			if errors.As(err, &ierr) {
				writeIngestError(w, r, ierr)
				return
			}
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: ingest.CodeWriteFailed, Detail: err.Error()})
			return
		}

		if s.sources != nil {
			s.sources.ObserveRequest(r, h.Category().String(), n)
		}
		writeJSON(w, http.StatusOK, uploadResponse{OK: true, Saved: n})
	}
}

func writeIngestError(w http.ResponseWriter, r *http.Request, e *ingest.Error) {
	ev := logging.Warn()
	if e.Status >= http.StatusInternalServerError {
		ev = logging.Error()
	}
	ev.Str("request_id", chimiddleware.GetReqID(r.Context())).
		Str("path", r.URL.Path).
		Str("code", e.Code).
		Err(e.Err).
		Msg("upload rejected")

	writeJSON(w, e.Status, errorResponse{Error: e.Code, Detail: e.Detail()})
}

// handleHitmapData returns the aggregated view. The ETag is a blake2b digest of the body,
// so clients polling an unchanged store get 304s.
func (s *IngestServer) handleHitmapData(w http.ResponseWriter, r *http.Request) {
	recs, err := s.aggregator.Recent()
	if err != nil {
		logging.Error().Err(err).Msg("hitmap aggregation failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "read_failed", Detail: err.Error()})
		return
	}

	body := encodeRecords(recs)

	sum := blake2b.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// etagMatches reports whether an If-None-Match header value matches etag, using the weak
// comparison: "W/" prefixes are ignored and "*" matches anything.
func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}

// encodeRecords joins stored records into a JSON array without re-encoding them.
func encodeRecords(recs []model.Record) []byte {
	size := 2
	for _, rec := range recs {
		size += len(rec) + 1
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	buf.WriteByte('[')
	for i, rec := range recs {
		if i > 0 {
			buf.WriteByte(',')
		}
		if len(rec) == 0 {
			buf.WriteString("null")
			continue
		}
		buf.Write(rec)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// handleHitmapDensity returns hit counts per grid cell. GET /api/hitmap-density?cell=32
func (s *IngestServer) handleHitmapDensity(w http.ResponseWriter, r *http.Request) {
	cell := float64(DefaultDensityCell)
	if v := r.URL.Query().Get("cell"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || !(parsed > 0) || parsed > 1e9 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_cell", Detail: "cell must be a positive number"})
			return
		}
		cell = parsed
	}

	cells, err := s.aggregator.Density(cell)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "read_failed", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cells)
}

type statsResponse struct {
	storage.Stats
	HitmapMaxRecords int `json:"hitmap_max_records"`
}

// handleStats reports partition counts and sizes, and the bound of the hitmap view.
func (s *IngestServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		logging.Error().Err(err).Msg("stats failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "stats_failed", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: stats, HitmapMaxRecords: s.aggregator.MaxRecords()})
}

// handleViewer serves the static hitmap viewer page.
func (s *IngestServer) handleViewer(w http.ResponseWriter, r *http.Request) {
	if s.opts.ViewerFile == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeFile(w, r, s.opts.ViewerFile)
}

func (s *IngestServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("JSON encode error")
	}
}

// instrument logs each request and records its latency.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)

		metrics.RecordAPIRequest(r.Method, route, strconv.Itoa(status), elapsed)
		logging.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}
