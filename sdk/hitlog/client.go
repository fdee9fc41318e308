// Package hitlog is a Go client for the hitlog upload endpoints.
//
//	c := hitlog.NewClient(hitlog.Options{ServerURL: "http://localhost:5000"})
//	defer c.Shutdown(context.Background())
//	c.Enqueue(map[string]interface{}{"event": "spawn", "x": 10})
package hitlog

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	LogEndpoint    = "/api/upload-log"
	HitmapEndpoint = "/api/upload-hitmap"

	DefaultBatchSize     = 20
	DefaultFlushInterval = 5 * time.Second
	DefaultMaxBuffered   = 5000
)

type Options struct {
	ServerURL string
	Endpoint  string // defaults to LogEndpoint

	BatchSize     int
	FlushInterval time.Duration
	MaxBuffered   int

	HTTPClient *http.Client
	InstanceID string // defaults to the persisted ID in ~/.hitlog/id

	// OnError receives send failures. Defaults to printing on stderr.
	OnError func(error)
}

// Client buffers records and uploads them in batches.
type Client struct {
	opts       Options
	url        string
	instanceID string

	mu  sync.Mutex
	buf []json.RawMessage

	sendMu sync.Mutex // one upload at a time keeps batches in enqueue order

	flushNow chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	closed   sync.Once
}

func NewClient(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = LogEndpoint
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.MaxBuffered <= 0 {
		opts.MaxBuffered = DefaultMaxBuffered
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if opts.OnError == nil {
		opts.OnError = func(err error) { fmt.Fprintf(os.Stderr, "hitlog: %v\n", err) }
	}
	if opts.InstanceID == "" {
		opts.InstanceID = ensureInstanceID()
	}

	c := &Client{
		opts:       opts,
		url:        strings.TrimRight(opts.ServerURL, "/") + opts.Endpoint,
		instanceID: opts.InstanceID,
		flushNow:   make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	c.wg.Add(1)
	go c.runLoop()
	return c
}

// InstanceID returns the ID sent as X-Instance-ID.
func (c *Client) InstanceID() string {
	return c.instanceID
}

// Enqueue adds a record, stamping "ts" (unix ms) and "id" when absent.
// A full batch triggers an asynchronous flush.
func (c *Client) Enqueue(rec map[string]interface{}) error {
	out := make(map[string]interface{}, len(rec)+2)
	out["ts"] = time.Now().UnixMilli()
	out["id"] = uuid.NewString()
	for k, v := range rec {
		out[k] = v
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	c.mu.Lock()
	c.buf = append(c.buf, data)
	c.trimLocked()
	full := len(c.buf) >= c.opts.BatchSize
	c.mu.Unlock()

	if full {
		select {
		case c.flushNow <- struct{}{}:
		default:
		}
	}
	return nil
}

// Buffered returns the number of records waiting to be sent.
func (c *Client) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Flush sends one batch of at most BatchSize records. On failure the batch goes back to the
// head of the buffer.
func (c *Client) Flush(ctx context.Context) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	n := len(c.buf)
	if n == 0 {
		c.mu.Unlock()
		return nil
	}
	if n > c.opts.BatchSize {
		n = c.opts.BatchSize
	}
	batch := make([]json.RawMessage, n)
	copy(batch, c.buf[:n])
	c.buf = c.buf[n:]
	c.mu.Unlock()

	if err := c.send(ctx, batch); err != nil {
		c.mu.Lock()
		c.buf = append(batch, c.buf...)
		c.trimLocked()
		c.mu.Unlock()
		return err
	}
	return nil
}

// FlushAll flushes until the buffer is empty or a send fails.
func (c *Client) FlushAll(ctx context.Context) error {
	for c.Buffered() > 0 {
		if err := c.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// trimLocked drops the oldest records beyond MaxBuffered.
func (c *Client) trimLocked() {
	if over := len(c.buf) - c.opts.MaxBuffered; over > 0 {
		c.buf = c.buf[over:]
	}
}

func (c *Client) send(ctx context.Context, batch []json.RawMessage) error {
	body, err := json.Marshal(struct {
		Records []json.RawMessage `json:"records"`
	}{batch})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Instance-ID", c.instanceID)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload to %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload to %s: HTTP %d", c.url, resp.StatusCode)
	}
	return nil
}

func (c *Client) runLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if err := c.Flush(context.Background()); err != nil {
			c.opts.OnError(err)
		}
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case <-c.flushNow:
			flush()
		case <-c.done:
			return
		}
	}
}

// Shutdown stops the background loop and sends what is left.
func (c *Client) Shutdown(ctx context.Context) error {
	c.closed.Do(func() { close(c.done) })
	c.wg.Wait()
	return c.FlushAll(ctx)
}
