package multirepo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRunPreservesInputOrder is a direct check of testable property 7:
// work_queue(v,w).result[i] == w(v[i]) for every i, even with concurrency.
func TestRunPreservesInputOrder(t *testing.T) {
	inputs := []int{0, 1, 2, 3, 4, 5, 6, 7}
	out, err := Run(context.Background(), inputs, 4, func(ctx context.Context, in int) (int, error) {
		return in * in, nil
	})
	require.NoError(t, err)
	for i, in := range inputs {
		require.Equal(t, in*in, out[i])
	}
}

// TestRunFailFastSurfacesExactlyOneError is the literal "Work queue
// fail-fast" §8 scenario: ["ok1", "fail", "ok2"] with a worker that errors
// on "fail" must surface exactly that one error.
func TestRunFailFastSurfacesExactlyOneError(t *testing.T) {
	inputs := []string{"ok1", "fail", "ok2"}
	_, err := Run(context.Background(), inputs, 0, func(ctx context.Context, in string) (string, error) {
		if in == "fail" {
			return "", errors.New("fail")
		}
		return in, nil
	})
	require.Error(t, err)
	require.Equal(t, "fail", err.Error())
}

func TestRunUnboundedLimitStillCompletes(t *testing.T) {
	inputs := make([]int, 50)
	for i := range inputs {
		inputs[i] = i
	}
	out, err := Run(context.Background(), inputs, -1, func(ctx context.Context, in int) (int, error) {
		return in + 1, nil
	})
	require.NoError(t, err)
	require.Len(t, out, 50)
	for i, v := range out {
		require.Equal(t, i+1, v)
	}
}

func TestRunVoidPropagatesError(t *testing.T) {
	err := RunVoid(context.Background(), 5, 2, func(ctx context.Context, i int) error {
		if i == 3 {
			return errors.New("boom")
		}
		return nil
	})
	require.Error(t, err)
}

func TestRunVoidAllSucceed(t *testing.T) {
	seen := make([]bool, 5)
	var mu sync.Mutex
	err := RunVoid(context.Background(), 5, 0, func(ctx context.Context, i int) error {
		mu.Lock()
		seen[i] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	for _, s := range seen {
		require.True(t, s)
	}
}

func TestIndexRangeProducesSequentialIndices(t *testing.T) {
	require.Equal(t, []int{0, 1, 2, 3}, indexRange(4))
	require.Equal(t, []int{}, indexRange(0))
}
