package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := New()
	assert.Equal(t, 500*time.Millisecond, b.Next())
	assert.Equal(t, 1*time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, MaxBackoff, b.Next(), "doubling stops advancing past the cap")
	assert.Equal(t, MaxBackoff, b.Next())
}

func TestBackoffStepCountIsLogarithmic(t *testing.T) {
	// Property 5: the number of apply+verify cycles is
	// O(log(timeout/500ms)); a 60s budget should exhaust well under 10
	// doublings before hitting MaxBackoff.
	b := New()
	steps := 0
	total := time.Duration(0)
	for total < 60*time.Second && steps < 100 {
		total += b.Next()
		steps++
	}
	assert.Less(t, steps, 20)
}

func TestFitsBefore(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(2 * time.Second)

	assert.True(t, FitsBefore(now, 1*time.Second, deadline))
	assert.True(t, FitsBefore(now, 2*time.Second, deadline), "exactly on the deadline still fits")
	assert.False(t, FitsBefore(now, 3*time.Second, deadline))
}
