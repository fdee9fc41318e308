// Package ingest turns upload request bodies into record batches and hands them to the store.
package ingest

import (
	"errors"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/hitlog/internal/metrics"
	"github.com/coffersTech/hitlog/internal/model"
	"github.com/coffersTech/hitlog/internal/storage"
)

// Appender persists a batch for one category.
type Appender interface {
	Append(c model.Category, records []model.Record) (int, error)
}

// Handler ingests upload bodies for a single category.
type Handler struct {
	category model.Category
	store    Appender
	parser   fastjson.ParserPool
}

// NewHandler creates a handler bound to category c.
func NewHandler(c model.Category, store Appender) *Handler {
	return &Handler{category: c, store: store}
}

// Category returns the category this handler writes to.
func (h *Handler) Category() model.Category {
	return h.category
}

// Ingest parses body, extracts the batch and appends it. It returns the number of records saved.
// All returned errors are *Error.
func (h *Handler) Ingest(contentType string, body []byte) (int, error) {
	n, err := h.ingest(contentType, body)
	if err != nil {
		var ierr *Error
		if errors.As(err, &ierr) {
			metrics.IngestErrors.WithLabelValues(h.category.String(), ierr.Code).Inc()
		}
		return 0, err
	}
	metrics.RecordsIngested.WithLabelValues(h.category.String()).Add(float64(n))
	return n, nil
}

func (h *Handler) ingest(contentType string, body []byte) (int, error) {
	// 1. Body acquisition
	if !IsJSONContentType(contentType) {
		if len(body) == 0 {
			return 0, errEmptyBody()
		}
	}
	if !utf8.Valid(body) {
		return 0, errInvalidJSON(errors.New("body is not valid UTF-8"))
	}

	// The parser tolerates some malformed input (bad numbers, raw control characters),
	// so the whole body is validated first.
	if err := fastjson.ValidateBytes(body); err != nil {
		return 0, errInvalidJSON(err)
	}

	p := h.parser.Get()
	defer h.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return 0, errInvalidJSON(err)
	}

	// 2. Shape normalization. Values from p are only valid until Put, so records are copied out here.
	items, err := extractBatch(v)
	if err != nil {
		return 0, err
	}
	batch := make([]model.Record, len(items))
	for i, item := range items {
		batch[i] = model.Record(item.MarshalTo(nil))
	}

	// 3. Persistence
	n, err := h.store.Append(h.category, batch)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidRecord) {
			return 0, errInvalidJSON(err)
		}
		return 0, errWriteFailed(err)
	}
	return n, nil
}

// extractBatch accepts {"records": [...]} or a bare array. When "records" appears more than
// once the last occurrence wins.
func extractBatch(v *fastjson.Value) ([]*fastjson.Value, error) {
	switch v.Type() {
	case fastjson.TypeObject:
		obj, err := v.Object()
		if err != nil {
			return nil, errUnexpectedFormat()
		}
		var recs *fastjson.Value
		obj.Visit(func(key []byte, val *fastjson.Value) {
			if string(key) == "records" {
				recs = val
			}
		})
		if recs != nil && recs.Type() == fastjson.TypeArray {
			return recs.Array()
		}
	case fastjson.TypeArray:
		return v.Array()
	}
	return nil, errUnexpectedFormat()
}

// IsJSONContentType reports whether the media type is application/json or application/*+json.
func IsJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || (strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"))
}
