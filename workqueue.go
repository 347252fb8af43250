package multirepo

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run executes worker over every element of inputs with bounded concurrency,
// returning results in input order and failing fast: if any worker returns
// an error, no new workers are started and the first error is returned once
// in-flight workers complete (§4.J).
//
// limit <= 0 means unbounded concurrency, matching "default limit is
// effectively unbounded; callers pick a concrete bound for I/O-bound work."
//
// errgroup.SetLimit gives the bounding and fail-fast cancellation for free;
// the ordering guarantee (property 7, "work_queue(v,w).result[i] ==
// w(v[i])") is not something errgroup tracks on its own, so results are
// written into a preallocated, index-addressed slice -- the same discipline
// the teacher uses to keep `wt ls` output in a stable order despite
// concurrent status fetches.
func Run[In, Out any](ctx context.Context, inputs []In, limit int, worker func(ctx context.Context, in In) (Out, error)) ([]Out, error) {
	results := make([]Out, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := worker(gctx, in)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunVoid is Run specialized to workers with no result value, for fan-out
// where only success/failure matters.
func RunVoid(ctx context.Context, n int, limit int, worker func(ctx context.Context, i int) error) error {
	_, err := Run(ctx, indexRange(n), limit, func(ctx context.Context, i int) (struct{}, error) {
		return struct{}{}, worker(ctx, i)
	})
	return err
}

func indexRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
