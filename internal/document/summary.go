package document

import (
	"fmt"
	"math"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/record"
)

// Summary key suffixes.
const (
	SuffixCount = "_count"
	SuffixMin   = "_min"
	SuffixMax   = "_max"
	SuffixMean  = "_mean"
	SuffixP50   = "_p50"
	SuffixP90   = "_p90"
	SuffixP99   = "_p99"
)

var quantiles = []struct {
	suffix string
	q      float64
}{
	{SuffixP50, 0.50},
	{SuffixP90, 0.90},
	{SuffixP99, 0.99},
}

// Summary describes the finite elements of an array. Complex arrays are
// summarized by magnitude.
type Summary struct {
	Count int64
	Min   float64
	Max   float64
	Mean  float64

	// Quantiles maps quantile suffixes to sketch estimates.
	Quantiles map[string]float64
}

// Summarize computes the summary of values with quantiles at the given
// relative accuracy. Non-finite values are ignored.
func Summarize(values []float64, accuracy float64) (*Summary, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil, fmt.Errorf("create sketch: %w", err)
	}

	s := &Summary{
		Min: math.MaxFloat64,
		Max: -math.MaxFloat64,
	}
	var sum float64
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if err := sketch.Add(v); err != nil {
			return nil, fmt.Errorf("add %v: %w", v, err)
		}
		s.Count++
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	if s.Count == 0 {
		return s, nil
	}

	s.Mean = sum / float64(s.Count)
	s.Quantiles = make(map[string]float64, len(quantiles))
	for _, q := range quantiles {
		v, err := sketch.GetValueAtQuantile(q.q)
		if err != nil {
			return nil, fmt.Errorf("quantile %v: %w", q.q, err)
		}
		// Sketch estimates may fall just outside the exact range.
		s.Quantiles[q.suffix] = math.Min(math.Max(v, s.Min), s.Max)
	}
	return s, nil
}

// Put writes the summary keys for name into doc. An empty summary only
// carries its count.
func (s *Summary) Put(doc catalog.Document, name string) {
	doc[name+SuffixCount] = s.Count
	if s.Count == 0 {
		return
	}
	doc[name+SuffixMin] = s.Min
	doc[name+SuffixMax] = s.Max
	doc[name+SuffixMean] = s.Mean
	for suffix, v := range s.Quantiles {
		doc[name+suffix] = v
	}
}

func (b *Builder) addSummary(doc catalog.Document, f record.Field, warn warnFunc) {
	v, err := record.EncodeArray(f.Value)
	if err != nil {
		warn(f.Name, record.ReasonSummary, err)
		return
	}
	values, ok := v.Magnitudes()
	if !ok {
		warn(f.Name, record.ReasonSummary, fmt.Errorf("%s array has no numeric summary: %w", v.DType, errors.ErrUnsupportedType))
		return
	}
	s, err := Summarize(values, b.opts.SummaryAccuracy)
	if err != nil {
		warn(f.Name, record.ReasonSummary, err)
		return
	}
	s.Put(doc, f.Name)
}
