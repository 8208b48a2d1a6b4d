package memerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_ClassifiedAndWrapped(t *testing.T) {
	base := New(KindCapability, "probe", errors.New("no vector search"))

	assert.Equal(t, KindCapability, KindOf(base))
	assert.Equal(t, KindCapability, KindOf(fmt.Errorf("outer: %w", base)))
	assert.Equal(t, KindProgrammer, KindOf(errors.New("plain")))
}

func TestRemediation_SurvivesWrapping(t *testing.T) {
	err := New(KindConnection, "connect", errors.New("refused")).
		WithRemediation("start the server")

	assert.Equal(t, "start the server", Remediation(fmt.Errorf("boot: %w", err)))
	assert.Empty(t, Remediation(errors.New("plain")))
}

func TestIsCapability(t *testing.T) {
	assert.True(t, IsCapability(New(KindCapability, "x", nil)))
	assert.False(t, IsCapability(New(KindTransient, "x", nil)))
	assert.False(t, IsCapability(errors.New("plain")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "connection", KindConnection.String())
	assert.Equal(t, "integrity", KindIntegrity.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}

	// When
	err := Retry(context.Background(), fastRetry(), fn)

	// Then
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsAfterMaxRetries(t *testing.T) {
	// Given: a function that always fails
	attempts := 0
	fn := func() error {
		attempts++
		return errors.New("still broken")
	}

	// When
	err := Retry(context.Background(), fastRetry(), fn)

	// Then: initial attempt + 3 retries, last error wrapped
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.Contains(t, err.Error(), "still broken")
}

func TestRetry_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(), func() error { return errors.New("never retried") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrTryNext_Unwraps(t *testing.T) {
	err := TryNext("scoreFusion", errors.New("stage unknown"))
	assert.ErrorIs(t, err, ErrTryNext)
	assert.Contains(t, err.Error(), "scoreFusion")
}
