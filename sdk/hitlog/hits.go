package hitlog

import (
	"sync"
	"time"
)

// DefaultHitWindow is how long a HitRecorder keeps hits for local queries.
const DefaultHitWindow = 5 * time.Minute

// Hit is one recorded hit position. T is unix milliseconds.
type Hit struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t"`
}

// HitRecorder records hit positions, keeps a local sliding window for proximity queries and
// ships every hit to the hitmap endpoint.
type HitRecorder struct {
	client *Client
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits []Hit
}

// NewHitRecorder wraps c, which should target HitmapEndpoint. c may be nil for local-only use.
func NewHitRecorder(c *Client, window time.Duration) *HitRecorder {
	if window <= 0 {
		window = DefaultHitWindow
	}
	return &HitRecorder{client: c, window: window, now: time.Now}
}

// Record stores a hit at (x, y) and enqueues it for upload.
func (r *HitRecorder) Record(x, y float64) error {
	h := Hit{X: x, Y: y, T: r.now().UnixMilli()}

	r.mu.Lock()
	r.hits = append(r.hits, h)
	r.gcLocked()
	r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	return r.client.Enqueue(map[string]interface{}{"x": h.X, "y": h.Y, "t": h.T})
}

// CountNear returns the number of hits in the window within radius of (x, y).
func (r *HitRecorder) CountNear(x, y, radius float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gcLocked()

	r2 := radius * radius
	n := 0
	for _, h := range r.hits {
		dx, dy := h.X-x, h.Y-y
		if dx*dx+dy*dy <= r2 {
			n++
		}
	}
	return n
}

func (r *HitRecorder) gcLocked() {
	cutoff := r.now().Add(-r.window).UnixMilli()
	i := 0
	for i < len(r.hits) && r.hits[i].T < cutoff {
		i++
	}
	if i > 0 {
		r.hits = append(r.hits[:0], r.hits[i:]...)
	}
}
