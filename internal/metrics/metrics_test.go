package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNoopMetrics(t *testing.T) {
	var m Recorder = Noop{}
	m.IncDownload(StatusHit)
	m.ObserveDownload(time.Second)
	m.IncFileFetch(SourceLocal)
	m.IncRetry("download")
	m.AddEvicted(2)
	m.SetCacheSizeMB(10)
}

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProm("bundlehub", reg)

	m.IncDownload(StatusHit)
	m.IncDownload(StatusHit)
	m.IncDownload(StatusDownloaded)
	m.ObserveDownload(250 * time.Millisecond)
	m.IncFileFetch(SourceRemote)
	m.IncRetry("metadata")
	m.AddEvicted(3)
	m.AddEvicted(-1)
	m.SetCacheSizeMB(42)

	if got := testutil.ToFloat64(m.downloads.WithLabelValues(StatusHit)); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.fileFetches.WithLabelValues(SourceRemote)); got != 1 {
		t.Fatalf("expected 1 remote fetch, got %v", got)
	}
	if got := testutil.ToFloat64(m.retries.WithLabelValues("metadata")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.evicted); got != 3 {
		t.Fatalf("expected 3 evictions, got %v", got)
	}
	if got := testutil.ToFloat64(m.cacheSize); got != 42 {
		t.Fatalf("expected cache size 42, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, want := range []string{"bundlehub_downloads_total", "bundlehub_download_duration_seconds", "bundlehub_cache_size_megabytes"} {
		if !names[want] {
			t.Fatalf("missing metric family %s", want)
		}
	}
}
