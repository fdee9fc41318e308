// Package hitmap builds the aggregated hitmap view served to the viewer page.
package hitmap

import (
	"math"
	"sort"

	"github.com/valyala/fastjson"
	"golang.org/x/sync/singleflight"

	"github.com/coffersTech/hitlog/internal/metrics"
	"github.com/coffersTech/hitlog/internal/model"
	"github.com/coffersTech/hitlog/internal/storage"
)

// DefaultMaxRecords bounds the aggregated view.
const DefaultMaxRecords = 5000

// Reader reads every record of a category.
type Reader interface {
	ReadAll(c model.Category, policy storage.DecodePolicy) ([]model.Record, error)
}

// Aggregator computes the aggregated hitmap view. Every call rescans the store; concurrent
// callers share one in-flight scan and nothing is kept once it completes.
type Aggregator struct {
	store      Reader
	maxRecords int
	policy     storage.DecodePolicy

	group singleflight.Group
}

// NewAggregator creates an Aggregator. maxRecords <= 0 selects DefaultMaxRecords.
func NewAggregator(store Reader, maxRecords int, policy storage.DecodePolicy) *Aggregator {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Aggregator{
		store:      store,
		maxRecords: maxRecords,
		policy:     policy,
	}
}

// MaxRecords returns the view bound.
func (a *Aggregator) MaxRecords() int {
	return a.maxRecords
}

// Recent returns the last MaxRecords hitmap records in partition then line order.
// The result is never nil. Callers must not modify it, since it may be shared.
func (a *Aggregator) Recent() ([]model.Record, error) {
	v, err, _ := a.group.Do("recent", func() (interface{}, error) {
		recs, err := a.store.ReadAll(model.CategoryHitmap, a.policy)
		if err != nil {
			return nil, err
		}
		return tail(recs, a.maxRecords), nil
	})
	if err != nil {
		return nil, err
	}
	recs := v.([]model.Record)
	metrics.HitmapViewSize.Set(float64(len(recs)))
	return recs, nil
}

func tail(recs []model.Record, n int) []model.Record {
	if recs == nil {
		return []model.Record{}
	}
	if len(recs) > n {
		return recs[len(recs)-n:]
	}
	return recs
}

// Cell is one bucket of the density grid. X and Y are the cell's lower corner.
type Cell struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Count int     `json:"count"`
}

type cellKey struct {
	x, y int64
}

// Density buckets the records of the aggregated view that carry numeric "x" and "y"
// fields into square cells of side size. Cells are ordered by row (y) then column (x).
func (a *Aggregator) Density(size float64) ([]Cell, error) {
	recs, err := a.Recent()
	if err != nil {
		return nil, err
	}
	return density(recs, size), nil
}

func density(recs []model.Record, size float64) []Cell {
	counts := make(map[cellKey]int)

	var p fastjson.Parser
	for _, r := range recs {
		v, err := p.ParseBytes(r)
		if err != nil || v.Type() != fastjson.TypeObject {
			continue
		}
		x, okX := number(v.Get("x"))
		y, okY := number(v.Get("y"))
		if !okX || !okY {
			continue
		}
		counts[cellKey{int64(math.Floor(x / size)), int64(math.Floor(y / size))}]++
	}

	cells := make([]Cell, 0, len(counts))
	for k, c := range counts {
		cells = append(cells, Cell{X: float64(k.x) * size, Y: float64(k.y) * size, Count: c})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Y != cells[j].Y {
			return cells[i].Y < cells[j].Y
		}
		return cells[i].X < cells[j].X
	})
	return cells
}

func number(v *fastjson.Value) (float64, bool) {
	if v == nil || v.Type() != fastjson.TypeNumber {
		return 0, false
	}
	f, err := v.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
