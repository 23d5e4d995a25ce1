package codec

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds the goroutines used by the batch helpers.
const DefaultBatchConcurrency = 10

// Frame is one decoded buffer.
type Frame struct {
	Header
	Samples []float32 `json:"samples"`
}

// EncodeBatch encodes every sequence in parallel. Output order matches input
// order. The first failure cancels the remaining work.
func EncodeBatch(ctx context.Context, batch [][]float32) ([][]byte, error) {
	if len(batch) == 0 {
		return [][]byte{}, nil
	}

	results := make([][]byte, len(batch))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultBatchConcurrency)

	for i, samples := range batch {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			buf, err := Encode(samples)
			if err != nil {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
			results[i] = buf
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// DecodeBatch decodes every buffer in parallel. Output order matches input order.
func DecodeBatch(ctx context.Context, bufs [][]byte) ([]Frame, error) {
	if len(bufs) == 0 {
		return []Frame{}, nil
	}

	results := make([]Frame, len(bufs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultBatchConcurrency)

	for i, buf := range bufs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			h, samples, err := DecodeInto(nil, buf)
			if err != nil {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
			results[i] = Frame{Header: h, Samples: samples}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
