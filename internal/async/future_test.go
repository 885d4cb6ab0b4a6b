package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolve_IsDone(t *testing.T) {
	f := Resolve(42, nil)
	select {
	case <-f.Done():
	default:
		t.Fatal("resolved future must be done")
	}
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestRun_PropagatesResultAndError(t *testing.T) {
	f := Run(context.Background(), func(context.Context) (string, error) {
		return "ok", nil
	})
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", v)

	boom := errors.New("boom")
	g := Run(context.Background(), func(context.Context) (int, error) {
		return 0, boom
	})
	_, err = g.Await(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestAwait_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := Run(context.Background(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
