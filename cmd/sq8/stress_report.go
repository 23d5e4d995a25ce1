package main

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"
)

// memSampler tracks peak heap usage during a stress run.
type memSampler struct {
	peak     uint64
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
}

func newMemSampler() *memSampler {
	return &memSampler{stopChan: make(chan struct{})}
}

// Start begins sampling once per interval until Stop is called.
func (m *memSampler) Start() {
	m.sample()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *memSampler) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	m.peak = max(m.peak, ms.Alloc)
	m.mu.Unlock()
}

// Stop takes a final sample and stops the background goroutine. Extra calls are no-ops.
func (m *memSampler) Stop() {
	m.stopOnce.Do(func() {
		m.sample()
		close(m.stopChan)
		m.wg.Wait()
	})
}

// Peak returns the peak heap usage in bytes.
func (m *memSampler) Peak() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// stressReport renders the collected metrics as markdown.
func stressReport(opts stressOptions, s *stressStats) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# sq8 Stress Test Report\n\n")
	fmt.Fprintf(&b, "**Date:** %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Hardware:** %s / %s / %d Cores\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	fmt.Fprintf(&b, "**Seed:** %d\n\n", opts.seed)

	fmt.Fprintf(&b, "## 1. Storage\n")
	fmt.Fprintf(&b, "* **Sequences:** %d x %d samples\n", s.Sequences, s.Length)
	fmt.Fprintf(&b, "* **Raw float32 size:** %.2f MB\n", mb(uint64(s.RawBytes)))
	fmt.Fprintf(&b, "* **Encoded size:** %.2f MB (ratio %.3f)\n", mb(uint64(s.StoredBytes)), ratio(s.RawBytes, s.StoredBytes))
	fmt.Fprintf(&b, "* **Database size on disk:** %.2f MB\n", mb(s.DiskBytes))
	fmt.Fprintf(&b, "* **Peak RAM usage:** %.2f MB\n\n", mb(s.PeakRAM))

	fmt.Fprintf(&b, "## 2. Ingestion\n")
	fmt.Fprintf(&b, "* **Total time:** %s\n", s.IngestDuration.Round(time.Millisecond))
	fmt.Fprintf(&b, "* **Throughput:** %.0f sequences/s, %.0f samples/s\n\n", s.IngestSeqPerSec, s.IngestSamplesPerSec)

	fmt.Fprintf(&b, "## 3. Latency (%d samples)\n\n", opts.queries)
	fmt.Fprintf(&b, "| Operation | P50 (ms) | P95 (ms) | P99 (ms) | Ops/sec |\n")
	fmt.Fprintf(&b, "| :--- | :--- | :--- | :--- | :--- |\n")
	for _, row := range []struct {
		name string
		l    latency
	}{
		{"Encode", s.Encode},
		{"Fetch (Badger + S2)", s.Fetch},
		{"Decode", s.Decode},
	} {
		fmt.Fprintf(&b, "| **%s** | %.3f | %.3f | %.3f | %.0f |\n", row.name, row.l.P50, row.l.P95, row.l.P99, row.l.QPS)
	}

	fmt.Fprintf(&b, "\n## 4. Accuracy\n")
	fmt.Fprintf(&b, "* **Worst error / bound:** %.4f\n", s.WorstBoundRatio)
	fmt.Fprintf(&b, "* **Bound violations:** %d\n", s.BoundViolations)
	return b.String()
}

func mb(n uint64) float64 {
	return float64(n) / (1024 * 1024)
}

func ratio(raw, stored int64) float64 {
	if stored == 0 {
		return 0
	}
	return float64(raw) / float64(stored)
}
