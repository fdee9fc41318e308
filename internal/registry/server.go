package registry

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// InstanceHeader carries the uploading client's instance ID.
const InstanceHeader = "X-Instance-ID"

// Server exposes the registry over HTTP.
type Server struct {
	store *Store
}

// NewServer creates a new registry server.
func NewServer(store *Store) *Server {
	return &Server{
		store: store,
	}
}

// ObserveRequest records the source of a successful upload request.
func (s *Server) ObserveRequest(r *http.Request, category string, saved int) {
	id := strings.TrimSpace(r.Header.Get(InstanceHeader))
	if id == "" {
		return
	}
	if len(id) > 128 {
		id = id[:128]
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}

	s.store.Observe(Upload{
		InstanceID: id,
		IP:         ip,
		UserAgent:  r.UserAgent(),
		Category:   category,
		Saved:      saved,
	})
}

// HandleListSources returns the registered sources.
// GET /api/sources
func (s *Server) HandleListSources(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.ListSources())
}
