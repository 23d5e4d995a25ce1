package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/duynguyendang/sq8/pkg/codec"
	"github.com/duynguyendang/sq8/pkg/store"
	"github.com/spf13/cobra"
)

type stressOptions struct {
	sequences int
	length    int
	batch     int
	queries   int
	seed      int64
	dataDir   string
	report    string
}

// stressStats holds all metrics collected during a stress run.
type stressStats struct {
	Sequences   int
	Length      int
	DiskBytes   uint64
	PeakRAM     uint64
	RawBytes    int64
	StoredBytes int64

	IngestDuration      time.Duration
	IngestSeqPerSec     float64
	IngestSamplesPerSec float64

	Encode latency
	Fetch  latency
	Decode latency

	// WorstBoundRatio is the largest observed max_abs_error / bound.
	WorstBoundRatio float64
	BoundViolations int
}

// latency is a set of percentiles in milliseconds.
type latency struct {
	P50, P95, P99, QPS float64
}

func (a *app) stressCmd() *cobra.Command {
	var opts stressOptions

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Ingest synthetic sequences and benchmark encode, fetch and decode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.sequences <= 0 || opts.length <= 0 || opts.batch <= 0 || opts.queries <= 0 {
				return fmt.Errorf("--sequences, --length, --batch and --queries must be positive")
			}
			if opts.seed == 0 {
				opts.seed = time.Now().UnixNano()
			}

			dir := opts.dataDir
			if dir == "" {
				tmp, err := os.MkdirTemp("", "sq8-stress")
				if err != nil {
					return err
				}
				defer os.RemoveAll(tmp)
				dir = tmp
			} else if err := requireEmptyDir(dir); err != nil {
				return err
			}

			stats, err := runStress(cmd, opts, dir)
			if err != nil {
				return err
			}
			return writeOutput(cmd, opts.report, []byte(stressReport(opts, stats)))
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.sequences, "sequences", "n", 100_000, "number of sequences to ingest")
	f.IntVarP(&opts.length, "length", "l", 768, "samples per sequence")
	f.IntVarP(&opts.batch, "batch", "b", 256, "sequences encoded per batch")
	f.IntVarP(&opts.queries, "queries", "q", 10_000, "number of query samples for benchmarks")
	f.Int64Var(&opts.seed, "seed", 0, "generator seed (default: time based)")
	f.StringVar(&opts.dataDir, "dir", "", "empty or missing data directory to keep (default: a removed temp dir)")
	f.StringVar(&opts.report, "report", "-", "output report file (- for stdout)")
	return cmd
}

func runStress(cmd *cobra.Command, opts stressOptions, dir string) (*stressStats, error) {
	cfg := store.DefaultConfig(dir)
	cfg.Profile = store.ProfileIngestHeavy
	cfg.SyncWrites = false

	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("failed to close stress store", "error", err)
		}
	}()

	sampler := newMemSampler()
	sampler.Start()
	defer sampler.Stop()

	stats := &stressStats{Sequences: opts.sequences, Length: opts.length}
	gen := &sequenceGenerator{seed: opts.seed, length: opts.length}

	// Ingestion phase
	slog.Info("ingesting", "sequences", opts.sequences, "length", opts.length, "batch", opts.batch)
	ids := make([]string, 0, opts.sequences)
	start := time.Now()
	for done := 0; done < opts.sequences; {
		n := min(opts.batch, opts.sequences-done)
		seqs := make([][]float32, n)
		for i := range seqs {
			seqs[i] = gen.Sequence(done + i)
		}

		bufs, err := codec.EncodeBatch(cmd.Context(), seqs)
		if err != nil {
			return nil, err
		}
		for i, buf := range bufs {
			meta, err := st.Put(fmt.Sprintf("seq_%d", done+i), buf)
			if err != nil {
				return nil, err
			}
			ids = append(ids, meta.ID)
			stats.StoredBytes += int64(meta.Size)
		}
		done += n
	}
	stats.IngestDuration = time.Since(start)
	secs := stats.IngestDuration.Seconds()
	stats.IngestSeqPerSec = float64(opts.sequences) / secs
	stats.IngestSamplesPerSec = float64(opts.sequences*opts.length) / secs
	stats.RawBytes = int64(opts.sequences) * int64(opts.length) * 4
	stats.PeakRAM = sampler.Peak()

	// Query benchmarks
	slog.Info("benchmarking", "queries", opts.queries)
	rng := rand.New(rand.NewSource(opts.seed))
	encodeMs := make([]float64, opts.queries)
	fetchMs := make([]float64, opts.queries)
	decodeMs := make([]float64, opts.queries)

	for q := range opts.queries {
		idx := rng.Intn(len(ids))
		original := gen.Sequence(idx)

		t0 := time.Now()
		if _, err := codec.Encode(original); err != nil {
			return nil, err
		}
		encodeMs[q] = millis(time.Since(t0))

		t0 = time.Now()
		buf, err := st.Get(ids[idx])
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", ids[idx], err)
		}
		fetchMs[q] = millis(time.Since(t0))

		t0 = time.Now()
		_, _, decoded, err := codec.Decode(buf)
		if err != nil {
			return nil, err
		}
		decodeMs[q] = millis(time.Since(t0))

		report, err := codec.Measure(original, decoded)
		if err != nil {
			return nil, err
		}
		if report.Bound > 0 {
			stats.WorstBoundRatio = max(stats.WorstBoundRatio, report.MaxAbsError/report.Bound)
		}
		if !report.WithinBound(float64(maxMagnitude(original)) * 1e-7) {
			stats.BoundViolations++
		}
	}

	stats.Encode = percentiles(encodeMs)
	stats.Fetch = percentiles(fetchMs)
	stats.Decode = percentiles(decodeMs)

	sampler.Stop()
	stats.PeakRAM = max(stats.PeakRAM, sampler.Peak())
	stats.DiskBytes = diskUsage(dir)
	return stats, nil
}

// sequenceGenerator derives every sequence from the seed and its index, so
// originals can be regenerated for error measurement instead of kept in memory.
type sequenceGenerator struct {
	seed   int64
	length int
}

func (g *sequenceGenerator) Sequence(i int) []float32 {
	rng := rand.New(rand.NewSource(g.seed + int64(i)))
	offset := rng.NormFloat64() * 100
	scale := math.Exp(rng.Float64()*8 - 4)

	seq := make([]float32, g.length)
	for j := range seq {
		seq[j] = float32(offset + scale*rng.NormFloat64())
	}
	return seq
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

// percentiles calculates P50, P95 and P99 from a slice of values.
func percentiles(values []float64) latency {
	if len(values) == 0 {
		return latency{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	n := len(sorted)
	l := latency{
		P50: sorted[n/2],
		P95: sorted[n*95/100],
		P99: sorted[n*99/100],
	}
	if l.P50 > 0 {
		l.QPS = 1000.0 / l.P50
	}
	return l
}

// requireEmptyDir refuses to run in a directory that already holds data.
func requireEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("stress directory %s is not empty", dir)
	}
	return nil
}

// diskUsage returns the disk usage in bytes for a directory.
func diskUsage(path string) uint64 {
	var size uint64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += uint64(info.Size())
		}
		return nil
	})
	return size
}
