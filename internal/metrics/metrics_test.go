package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/grabber/internal/progress"
	"github.com/tanq16/grabber/internal/utils"
)

func TestRecorderCountsOutcomes(t *testing.T) {
	r := New("test")
	r.Publish(progress.Event{Type: progress.EventStarted, ItemID: "a"})
	r.Publish(progress.Event{Type: progress.EventStarted, ItemID: "b"})
	assert.Equal(t, 2.0, testutil.ToFloat64(r.inFlight))

	r.Publish(progress.Event{Type: progress.EventRetrying, ItemID: "b", Attempt: 2})
	r.Publish(progress.Event{Type: progress.EventFinished, ItemID: "a",
		Outcome: &utils.Outcome{ItemID: "a", Path: "/tmp/a", Bytes: 2048, Duration: time.Second}})
	r.Publish(progress.Event{Type: progress.EventFinished, ItemID: "b",
		Outcome: &utils.Outcome{ItemID: "b", Err: utils.NewError(utils.KindTimeout, "task/connect", errors.New("slow"))}})

	assert.Equal(t, 0.0, testutil.ToFloat64(r.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retriesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.downloadsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.downloadsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("timeout")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(r.bytesTotal))
	assert.Equal(t, 2, testutil.CollectAndCount(r.durationSeconds))
}

func TestWatchDrainsAggregator(t *testing.T) {
	agg := progress.NewAggregator()
	r := New("test")
	wait := r.Watch(agg)

	for range 3 {
		agg.Publish(progress.Event{Type: progress.EventRetrying, ItemID: "x"})
	}
	agg.Close()
	wait()
	assert.Equal(t, 3.0, testutil.ToFloat64(r.retriesTotal))
}

func TestWriteFile(t *testing.T) {
	r := New("grabber")
	r.Publish(progress.Event{Type: progress.EventFinished, Outcome: &utils.Outcome{Path: "/tmp/x", Bytes: 10}})

	path := filepath.Join(t.TempDir(), "grabber.prom")
	require.NoError(t, r.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `grabber_downloads_total{status="success"} 1`), text)
	assert.Contains(t, text, "grabber_published_bytes_total 10")

	assert.Error(t, r.WriteFile(filepath.Join(t.TempDir(), "missing", "x.prom")))
}
