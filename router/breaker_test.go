package router

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerRegistry_TripsAfterConsecutiveFailures(t *testing.T) {
	r := NewBreakerRegistry(3, 50*time.Millisecond, time.Second)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := r.Execute("dest-a", func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	err := r.Execute("dest-a", func() error { return nil })
	assert.ErrorIs(t, err, ErrBreakerOpen, "breaker should be open and refuse to even run the attempt")
	assert.Equal(t, gobreaker.StateOpen, r.State("dest-a"))
}

func TestBreakerRegistry_RecoversAfterCooldown(t *testing.T) {
	r := NewBreakerRegistry(2, 10*time.Millisecond, time.Second)
	boom := errors.New("boom")

	r.Execute("dest-b", func() error { return boom })
	r.Execute("dest-b", func() error { return boom })
	require.Equal(t, gobreaker.StateOpen, r.State("dest-b"))

	time.Sleep(20 * time.Millisecond)
	err := r.Execute("dest-b", func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, r.State("dest-b"))
}

func TestBreakerRegistry_KeysAreIndependent(t *testing.T) {
	r := NewBreakerRegistry(1, time.Second, time.Second)
	boom := errors.New("boom")

	r.Execute("dest-c", func() error { return boom })
	require.Equal(t, gobreaker.StateOpen, r.State("dest-c"))
	assert.Equal(t, gobreaker.StateClosed, r.State("dest-d"))
}
