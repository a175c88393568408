package circuitbreaker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockContentionConfigTripsAfterFiveConsecutiveFailures(t *testing.T) {
	cfg := LockContentionConfig("sess_a", 50)
	cb := New(cfg)

	for i := 0; i < 5; i++ {
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, errors.New("busy")
		})
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) {
		t.Fatal("request must not run while the breaker is open")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestLockContentionConfigResetsOnSuccess(t *testing.T) {
	cfg := LockContentionConfig("sess_b", 50)
	cb := New(cfg)

	for i := 0; i < 4; i++ {
		_, _ = cb.Execute(func() (interface{}, error) {
			return nil, errors.New("busy")
		})
	}
	_, err := cb.Execute(func() (interface{}, error) {
		return "released", nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().ConsecutiveFailures)
}

func TestManagerGetReturnsIndependentBreakersPerName(t *testing.T) {
	m := NewManager(LockContentionConfig("default", 50))
	a := m.Get("sess_a")
	b := m.Get("sess_b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, m.Get("sess_a"), "repeated Get for the same name must return the same breaker")
}
