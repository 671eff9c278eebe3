package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryFatal},
		{"canceled", context.Canceled, CategoryFatal},
		{"eof", io.EOF, CategoryRetryable},
		{"unexpected eof", io.ErrUnexpectedEOF, CategoryRetryable},
		{"connection reset text", errors.New("read: connection reset by peer"), CategoryRetryable},
		{"timeout text", errors.New("i/o timeout"), CategoryRetryable},
		{"rate limited", errors.New("429 too many requests"), CategoryThrottled},
		{"service unavailable", errors.New("503 service unavailable"), CategoryThrottled},
		{"not found", errors.New("404 not found"), CategoryFatal},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Classify(c.err))
		})
	}
}

func TestConfigBackoffMonotonicWithinCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JitterFactor = 0
	d1 := cfg.Backoff(1)
	d5 := cfg.Backoff(5)
	assert.Greater(t, d5, d1)
	assert.LessOrEqual(t, d5, cfg.MaxDelay)
}

func TestShouldRetryRespectsMaxRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	state := &State{Attempts: 2}
	assert.False(t, cfg.ShouldRetry(state, io.EOF))

	state = &State{Attempts: 1}
	assert.True(t, cfg.ShouldRetry(state, io.EOF))
}

func TestShouldRetryNeverRetriesFatal(t *testing.T) {
	cfg := DefaultConfig()
	state := &State{}
	assert.False(t, cfg.ShouldRetry(state, errors.New("404 not found")))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond

	attempts := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnFatalError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond

	attempts := 0
	sentinel := errors.New("404 not found")
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return io.ErrUnexpectedEOF
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
