// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftdb

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/riftdb/riftdb/internal/manifest"
)

// LevelMetrics holds the per-level counters spec.md §6's
// "leveldb.stats" property exposes.
type LevelMetrics struct {
	NumFiles     int64
	Size         uint64
	Score        float64
	BytesRead    uint64
	BytesWritten uint64
}

// WriteAmp is BytesWritten/BytesRead, the usual compaction write
// amplification figure.
func (m *LevelMetrics) WriteAmp() float64 {
	if m.BytesRead == 0 {
		return 0
	}
	return float64(m.BytesWritten) / float64(m.BytesRead)
}

// Metrics is a live, thread-safe collection of counters and histograms
// covering flushes, compactions, and the table cache, registered against
// their own prometheus registry and queryable either as a typed snapshot
// or rendered text (spec.md §6's "leveldb.stats"/"leveldb.sstables"
// properties, supplemented per SPEC_FULL.md §2).
type Metrics struct {
	registry *prometheus.Registry

	flushCount      prometheus.Counter
	compactionCount prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	writeStalls     prometheus.Counter

	mu struct {
		sync.Mutex
		levels          [manifest.NumLevels]LevelMetrics
		flushLatency    *hdrhistogram.Histogram
		commitLatency   *hdrhistogram.Histogram
		scoreHistory    [manifest.NumLevels][]float64
	}
}

// newMetrics constructs a Metrics with its own prometheus registry (never
// the global one, so multiple riftdb instances in one process don't
// collide) and histograms covering 1 microsecond to 10 minutes at 3
// significant digits, the same precision pebble's own latency histograms
// use.
func newMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.flushCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riftdb_flush_total", Help: "Total number of memtable flushes.",
	})
	m.compactionCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riftdb_compaction_total", Help: "Total number of compactions.",
	})
	m.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riftdb_table_cache_hits_total", Help: "Table cache hits.",
	})
	m.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riftdb_table_cache_misses_total", Help: "Table cache misses.",
	})
	m.writeStalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riftdb_write_stalls_total", Help: "Writes delayed by MakeRoomForWrite backpressure.",
	})
	m.registry.MustRegister(m.flushCount, m.compactionCount, m.cacheHits, m.cacheMisses, m.writeStalls)

	const lowestDiscernible, highestTrackable = 1, int64(10*time.Minute/time.Microsecond)
	m.mu.flushLatency = hdrhistogram.New(lowestDiscernible, highestTrackable, 3)
	m.mu.commitLatency = hdrhistogram.New(lowestDiscernible, highestTrackable, 3)
	return m
}

func (m *Metrics) recordFlush(d time.Duration) {
	m.flushCount.Inc()
	m.mu.Lock()
	m.mu.flushLatency.RecordValue(d.Microseconds())
	m.mu.Unlock()
}

func (m *Metrics) recordCommit(d time.Duration) {
	m.mu.Lock()
	m.mu.commitLatency.RecordValue(d.Microseconds())
	m.mu.Unlock()
}

func (m *Metrics) recordCompaction() { m.compactionCount.Inc() }

func (m *Metrics) recordCacheHit(hit bool) {
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) recordWriteStall() { m.writeStalls.Inc() }

// updateLevels refreshes the per-level snapshot and appends to each
// level's compaction-score history, trimmed to the last 120 samples — the
// asciigraph sparkline's window.
func (m *Metrics) updateLevels(v *manifest.Version) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for level := 0; level < manifest.NumLevels; level++ {
		lm := &m.mu.levels[level]
		lm.NumFiles = int64(len(v.Files[level]))
		lm.Size = manifest.TotalSize(v.Files[level])
		if level == v.CompactionLevel {
			lm.Score = v.CompactionScore
		}
		hist := append(m.mu.scoreHistory[level], lm.Score)
		if len(hist) > 120 {
			hist = hist[len(hist)-120:]
		}
		m.mu.scoreHistory[level] = hist
	}
}

func (m *Metrics) addCompactionIO(level int, bytesRead, bytesWritten uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mu.levels[level].BytesRead += bytesRead
	m.mu.levels[level].BytesWritten += bytesWritten
}

// Snapshot returns a point-in-time copy of the per-level metrics.
func (m *Metrics) Snapshot() [manifest.NumLevels]LevelMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.levels
}

// FlushLatency returns the p50/p99 memtable flush latency.
func (m *Metrics) FlushLatency() (p50, p99 time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(m.mu.flushLatency.ValueAtQuantile(50)) * time.Microsecond,
		time.Duration(m.mu.flushLatency.ValueAtQuantile(99)) * time.Microsecond
}

// CommitLatency returns the p50/p99 group-commit latency.
func (m *Metrics) CommitLatency() (p50, p99 time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(m.mu.commitLatency.ValueAtQuantile(50)) * time.Microsecond,
		time.Duration(m.mu.commitLatency.ValueAtQuantile(99)) * time.Microsecond
}

// Registry exposes the underlying prometheus registry for callers that
// want to scrape it alongside their own metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// String renders the "leveldb.stats" property: a table of per-level
// counters via tablewriter, followed by an asciigraph sparkline of level 0's
// recent compaction-score history.
func (m *Metrics) String() string {
	levels := m.Snapshot()

	var buf bytes.Buffer
	tbl := tablewriter.NewWriter(&buf)
	tbl.SetHeader([]string{"level", "files", "size", "score", "read", "written", "w-amp"})
	for level, lm := range levels {
		tbl.Append([]string{
			fmt.Sprintf("%d", level),
			fmt.Sprintf("%d", lm.NumFiles),
			fmt.Sprintf("%d", lm.Size),
			fmt.Sprintf("%.2f", lm.Score),
			fmt.Sprintf("%d", lm.BytesRead),
			fmt.Sprintf("%d", lm.BytesWritten),
			fmt.Sprintf("%.1f", lm.WriteAmp()),
		})
	}
	tbl.Render()

	m.mu.Lock()
	history := append([]float64(nil), m.mu.scoreHistory[0]...)
	m.mu.Unlock()
	if len(history) >= 2 {
		buf.WriteString("\nlevel 0 compaction score (recent):\n")
		buf.WriteString(asciigraph.Plot(history, asciigraph.Height(8), asciigraph.Width(60)))
		buf.WriteByte('\n')
	}
	return buf.String()
}
