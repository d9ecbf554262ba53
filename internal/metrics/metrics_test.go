package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/wxsmerge/internal/ingest"
	"github.com/agentic-research/wxsmerge/internal/writeback"
)

func gather(t *testing.T, r *Recorder) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := r.Registry.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestObserve(t *testing.T) {
	r := New()
	r.Observe(ingest.Stats{Directories: 3, Components: 5, Placeholders: 1, RefsKept: 5, RefsDropped: 1, Passes: 2},
		writeback.SpliceStats{Replacements: 4}, 20*time.Millisecond, nil)
	r.Observe(ingest.Stats{}, writeback.SpliceStats{}, time.Millisecond, errors.New("boom"))

	fams := gather(t, r)
	assert.Equal(t, 3.0, fams["wxsmerge_directories"].Metric[0].GetGauge().GetValue())
	assert.Equal(t, 5.0, fams["wxsmerge_components"].Metric[0].GetGauge().GetValue())
	assert.Equal(t, 2.0, fams["wxsmerge_promotion_passes"].Metric[0].GetGauge().GetValue())
	assert.Equal(t, 4.0, fams["wxsmerge_placeholder_replacements"].Metric[0].GetGauge().GetValue())
	assert.Equal(t, uint64(2), fams["wxsmerge_merge_duration_seconds"].Metric[0].GetHistogram().GetSampleCount())

	runs := map[string]float64{}
	for _, m := range fams["wxsmerge_runs_total"].Metric {
		runs[m.Label[0].GetValue()] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"success": 1, "failure": 1}, runs)
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.Observe(ingest.Stats{Directories: 7}, writeback.SpliceStats{}, time.Second, nil)

	path := filepath.Join(t.TempDir(), "wxsmerge.prom")
	require.NoError(t, r.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "wxsmerge_directories 7")
	assert.Contains(t, string(data), `wxsmerge_runs_total{outcome="success"} 1`)
}
