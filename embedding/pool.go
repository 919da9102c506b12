package embedding

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// EncodeConcurrent encodes texts in batches of batchSize with up to workers
// concurrent calls. Output order matches input order. The first batch error
// cancels the remaining work.
func EncodeConcurrent(ctx context.Context, enc Encoder, texts []string, batchSize, workers int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	result := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		start := start
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, err := enc.EncodeBatch(ctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(result[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
