package document

import (
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/metrics"
	"github.com/xtxerr/runstore/internal/record"
)

var buildTime = time.Date(2026, 3, 1, 13, 45, 7, 0, time.FixedZone("CET", 3600))

func newBuilder(t *testing.T, summaries bool) *Builder {
	t.Helper()
	b, err := New(Options{
		ExcludedFields:  []string{"freq_arr", "resp_arr", "pixel_i"},
		ArraySummaries:  summaries,
		SummaryAccuracy: 0.01,
		Now:             func() time.Time { return buildTime },
	})
	require.NoError(t, err)
	return b
}

func input() Input {
	return Input{Number: "00000042", Type: "resonator_scan", File: "/data/00000042_Fridge1_resonator_scan.parquet"}
}

func TestBuildAlwaysPresentFields(t *testing.T) {
	b := newBuilder(t, false)
	rec := record.New().SetScalar("device", "Fridge1")

	doc, warnings := b.Build(rec, input())
	assert.Empty(t, warnings)

	assert.Equal(t, "2026-03-01T12:45:07Z", doc[constants.DocUTCTime])
	assert.Equal(t, "00000042", doc[constants.DocNumber])
	assert.Equal(t, "resonator_scan", doc[constants.DocType])
	assert.Equal(t, "/data/00000042_Fridge1_resonator_scan.parquet", doc[constants.DocFile])
	assert.Equal(t, "Fridge1", doc[constants.DocDevice])

	for _, key := range []string{constants.DocFilter, constants.DocNotes} {
		v, ok := doc[key]
		assert.True(t, ok, "%s must be present", key)
		assert.Nil(t, v, "%s must be null when absent", key)
	}
}

func TestBuildInputTimeWins(t *testing.T) {
	b := newBuilder(t, false)
	in := input()
	in.Time = time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)

	doc, _ := b.Build(record.New().SetScalar("device", "D"), in)
	assert.Equal(t, "2025-12-31T23:59:59Z", doc[constants.DocUTCTime])
}

func TestBuildFilterAndNotes(t *testing.T) {
	b := newBuilder(t, false)
	rec := record.New().
		SetScalar("device", "Fridge1").
		SetScalar("filter", "LP-8GHz").
		SetText("notes", "after warmup")

	doc, _ := b.Build(rec, input())
	assert.Equal(t, "LP-8GHz", doc["filter"])
	assert.Equal(t, "after warmup", doc["notes"])
}

func TestBuildFitMetrics(t *testing.T) {
	b := newBuilder(t, false)
	rec := record.New().
		SetScalar("device", "Fridge1").
		SetText("fit_results", map[string]any{
			"fr":              5.1e9,
			"fr_err":          12.5,
			"Qi_dia_corr":     1e5,
			"Qi_dia_corr_err": 300.0,
			"Qc_dia_corr":     2e4,
			"absQc_err":       40.0,
			"Ql":              16666.0,
			"chi_square":      0.9,
		})

	doc, warnings := b.Build(rec, input())
	assert.Empty(t, warnings)

	assert.Equal(t, 5.1e9, doc["fit_fr"])
	assert.Equal(t, 12.5, doc["fit_fr_err"])
	assert.Equal(t, 1e5, doc["fit_Qi"])
	assert.Equal(t, 300.0, doc["fit_Qi_err"])
	assert.Equal(t, 2e4, doc["fit_Qc"])
	assert.Equal(t, 40.0, doc["fit_Qc_err"], "absQc_err is the fallback error key")
	assert.Equal(t, 16666.0, doc["fit_Ql"])
	assert.NotContains(t, doc, "fit_Ql_err")
	assert.Equal(t, 255000.0, doc["fit_kappa"])

	assert.NotContains(t, doc, "fit_results")
	assert.NotContains(t, doc, "chi_square")
}

func TestBuildFitQcErrPrefersCorrected(t *testing.T) {
	b := newBuilder(t, false)
	rec := record.New().
		SetScalar("device", "D").
		SetText("fit_results", map[string]float64{"Qc_dia_corr_err": 10, "absQc_err": 40})

	doc, _ := b.Build(rec, input())
	assert.Equal(t, 10.0, doc["fit_Qc_err"])
}

func TestBuildFitKappaGuard(t *testing.T) {
	tests := []struct {
		name string
		fit  map[string]any
	}{
		{"zero Qc", map[string]any{"fr": 5e9, "Qc_dia_corr": 0.0}},
		{"missing Qc", map[string]any{"fr": 5e9}},
		{"missing fr", map[string]any{"Qc_dia_corr": 2e4}},
		{"non-finite Qc", map[string]any{"fr": 5e9, "Qc_dia_corr": math.Inf(1)}},
	}

	b := newBuilder(t, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record.New().SetScalar("device", "D").SetText("fit_results", tt.fit)
			doc, _ := b.Build(rec, input())
			assert.NotContains(t, doc, "fit_kappa")
		})
	}
}

func TestBuildFitFromText(t *testing.T) {
	b := newBuilder(t, false)
	rec := record.New().
		SetScalar("device", "D").
		SetText("fit_results", `{"fr": 6e9, "Qc_dia_corr": 3e4}`)

	doc, warnings := b.Build(rec, input())
	assert.Empty(t, warnings)
	assert.Equal(t, 6e9, doc["fit_fr"])
	assert.Equal(t, 200000.0, doc["fit_kappa"])
}

func TestBuildFitWarnings(t *testing.T) {
	b := newBuilder(t, false)

	t.Run("not a mapping", func(t *testing.T) {
		rec := record.New().SetScalar("device", "D").SetText("fit_results", []float64{1, 2})
		doc, warnings := b.Build(rec, input())
		require.Len(t, warnings, 1)
		assert.Equal(t, "fit_results", warnings[0].Field)
		assert.Equal(t, record.ReasonExtraction, warnings[0].Reason)
		assert.NotContains(t, doc, "fit_fr")
	})

	t.Run("bad value", func(t *testing.T) {
		rec := record.New().SetScalar("device", "D").
			SetText("fit_results", map[string]any{"fr": "n/a", "Ql": math.NaN(), "Qi_dia_corr": 1e5})
		doc, warnings := b.Build(rec, input())
		require.Len(t, warnings, 2)
		assert.NotContains(t, doc, "fit_fr")
		assert.NotContains(t, doc, "fit_Ql")
		assert.Equal(t, 1e5, doc["fit_Qi"])
	})

	t.Run("nil", func(t *testing.T) {
		rec := record.New().SetScalar("device", "D").SetText("fit_results", nil)
		_, warnings := b.Build(rec, input())
		assert.Empty(t, warnings)
	})
}

func TestBuildFlattening(t *testing.T) {
	b := newBuilder(t, false)
	rec := record.New().
		SetScalar("device", "Fridge1").
		SetScalar("power", -30.0).
		SetScalar("averages", 16).
		SetScalar("attenuation", uint8(20)).
		SetScalar("calibrated", true).
		SetScalar("operator", "ana").
		SetScalar("impedance", complex(50, 1)).
		SetArray("bias", []float64{0.1, 0.2}).
		SetArray("map", [][]int{{1, 2, 3}, {4, 5, 6}}).
		SetArray("labels", []string{"a", "b"}).
		SetText("params", map[string]any{"span": 250}).
		SetScalar("_cache", "never")

	doc, warnings := b.Build(rec, input())
	assert.Empty(t, warnings)

	assert.Equal(t, -30.0, doc["power"])
	assert.Equal(t, int64(16), doc["averages"])
	assert.Equal(t, uint64(20), doc["attenuation"])
	assert.Equal(t, true, doc["calibrated"])
	assert.Equal(t, "ana", doc["operator"])
	assert.IsType(t, "", doc["impedance"], "complex values are stored as text")
	assert.Equal(t, []any{0.1, 0.2}, doc["bias"])
	assert.Equal(t, []any{
		[]any{int64(1), int64(2), int64(3)},
		[]any{int64(4), int64(5), int64(6)},
	}, doc["map"])
	assert.Equal(t, []any{"a", "b"}, doc["labels"])
	assert.Equal(t, `{"span":250}`, doc["params"])
	assert.NotContains(t, doc, "_cache")
}

func TestBuildNonFinite(t *testing.T) {
	b := newBuilder(t, false)
	before := testutil.ToFloat64(metrics.FieldWarnings.WithLabelValues("document", record.ReasonNonFinite))

	rec := record.New().
		SetScalar("device", "D").
		SetArray("trace", []float64{1, math.NaN(), math.Inf(-1), 4}).
		SetScalar("offset", math.Inf(1))

	doc, warnings := b.Build(rec, input())
	require.Len(t, warnings, 2)
	for _, w := range warnings {
		assert.Equal(t, record.ReasonNonFinite, w.Reason)
		assert.True(t, errors.IsConversion(w.Err))
	}
	assert.Equal(t, []any{1.0, nil, nil, 4.0}, doc["trace"])
	assert.Nil(t, doc["offset"])

	after := testutil.ToFloat64(metrics.FieldWarnings.WithLabelValues("document", record.ReasonNonFinite))
	assert.Equal(t, 2.0, after-before)

	_, err := catalog.Marshal(doc)
	assert.NoError(t, err, "document must be encodable")
}

func TestBuildShadowedField(t *testing.T) {
	b := newBuilder(t, false)
	rec := record.New().SetScalar("device", "D").SetScalar("number", 7)

	doc, warnings := b.Build(rec, input())
	require.Len(t, warnings, 1)
	assert.Equal(t, record.ReasonShadowed, warnings[0].Reason)
	assert.Equal(t, "00000042", doc["number"])
}

func TestBuildExcludesLargeArrays(t *testing.T) {
	rec := record.New().
		SetScalar("device", "Fridge1").
		SetArray("freq_arr", []float64{4e9, 5e9, 6e9}).
		SetArray("resp_arr", []complex128{complex(3, 4), complex(0, 1)}).
		SetArray("pixel_i", []float64{})

	t.Run("without summaries", func(t *testing.T) {
		doc, warnings := newBuilder(t, false).Build(rec, input())
		assert.Empty(t, warnings)
		for key := range doc {
			assert.NotContains(t, []string{"freq_arr", "resp_arr", "pixel_i"}, key)
			assert.NotRegexp(t, `^(freq_arr|resp_arr|pixel_i)_`, key)
		}
	})

	t.Run("with summaries", func(t *testing.T) {
		doc, warnings := newBuilder(t, true).Build(rec, input())
		assert.Empty(t, warnings)
		assert.NotContains(t, doc, "freq_arr")
		assert.NotContains(t, doc, "resp_arr")

		assert.Equal(t, int64(3), doc["freq_arr_count"])
		assert.Equal(t, 4e9, doc["freq_arr_min"])
		assert.Equal(t, 6e9, doc["freq_arr_max"])
		assert.Equal(t, 5e9, doc["freq_arr_mean"])
		assert.InEpsilon(t, 5e9, doc["freq_arr_p50"], 0.02)

		assert.Equal(t, int64(2), doc["resp_arr_count"])
		assert.Equal(t, 1.0, doc["resp_arr_min"])
		assert.Equal(t, 5.0, doc["resp_arr_max"])

		assert.Equal(t, int64(0), doc["pixel_i_count"])
		assert.NotContains(t, doc, "pixel_i_min")
	})
}

func TestBuildExcludesLargeArraysWithoutOptions(t *testing.T) {
	b, err := New(Options{})
	require.NoError(t, err)

	rec := record.New().
		SetScalar("device", "Fridge1").
		SetScalar("power", -30.0).
		SetText("fit_results", map[string]any{"fr": 5.1e9, "Qc_dia_corr": 2e4})
	for _, name := range constants.LargeArrays {
		rec.SetArray(name, []float64{1, 2})
	}

	doc, warnings := b.Build(rec, input())
	assert.Empty(t, warnings)
	for _, name := range constants.LargeArrays {
		assert.NotContains(t, doc, name)
		assert.True(t, b.Excluded(name), "%s must always be excluded", name)
	}
	assert.Equal(t, -30.0, doc["power"])
	assert.Equal(t, 255000.0, doc["fit_kappa"])
}

func TestBuildExtraExcludedFields(t *testing.T) {
	b, err := New(Options{ExcludedFields: []string{"trace"}})
	require.NoError(t, err)

	rec := record.New().
		SetScalar("device", "Fridge1").
		SetArray("trace", []float64{1, 2, 3}).
		SetArray("pixel_q", []float64{4})

	doc, _ := b.Build(rec, input())
	assert.NotContains(t, doc, "trace")
	assert.NotContains(t, doc, "pixel_q")
}

func TestBuildKeepsSubsecondTime(t *testing.T) {
	b := newBuilder(t, false)
	in := input()
	in.Time = time.Date(2026, 3, 1, 12, 45, 7, 123456000, time.UTC)

	doc, _ := b.Build(record.New().SetScalar("device", "Fridge1"), in)
	assert.Equal(t, "2026-03-01T12:45:07.123456Z", doc[constants.DocUTCTime])
}

func TestSummarize(t *testing.T) {
	values := make([]float64, 0, 1001)
	for i := 0; i <= 1000; i++ {
		values = append(values, float64(i))
	}
	values = append(values, math.NaN())

	s, err := Summarize(values, 0.01)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), s.Count)
	assert.Equal(t, 0.0, s.Min)
	assert.Equal(t, 1000.0, s.Max)
	assert.Equal(t, 500.0, s.Mean)
	assert.InEpsilon(t, 500, s.Quantiles[SuffixP50], 0.02)
	assert.InEpsilon(t, 900, s.Quantiles[SuffixP90], 0.02)
	assert.InEpsilon(t, 990, s.Quantiles[SuffixP99], 0.02)
	for _, v := range s.Quantiles {
		assert.GreaterOrEqual(t, v, s.Min)
		assert.LessOrEqual(t, v, s.Max)
	}
}

func TestNewRejectsBadAccuracy(t *testing.T) {
	_, err := New(Options{ArraySummaries: true, SummaryAccuracy: 0})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = New(Options{ArraySummaries: false})
	assert.NoError(t, err)
}
