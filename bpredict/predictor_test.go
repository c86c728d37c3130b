package bpredict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultIsWeaklyNotTaken(t *testing.T) {
	p := New(64)
	// Weakly-not-taken predicts not-taken, then a not-taken hint saturates
	// it to strongly-not-taken (no further change on repeat).
	assert.False(t, p.Predict(0, false))
	assert.False(t, p.Predict(0, false))
}

func TestSaturatesAtStronglyTaken(t *testing.T) {
	p := New(64)
	for i := 0; i < 10; i++ {
		p.Predict(0, true)
	}
	assert.True(t, p.Predict(0, true))
}

func TestSaturatesAtStronglyNotTaken(t *testing.T) {
	p := New(64)
	for i := 0; i < 10; i++ {
		p.Predict(0, false)
	}
	assert.False(t, p.Predict(0, false))
}

func TestCountersAreIndependentPerPC(t *testing.T) {
	p := New(64)
	p.Predict(0, true)
	p.Predict(0, true)
	assert.True(t, p.Predict(0, true))
	assert.False(t, p.Predict(1, false))
}

func TestDirectMappedAliasing(t *testing.T) {
	p := New(64)
	p.Predict(0, true)
	p.Predict(0, true)
	// pc=64 aliases the same slot as pc=0 under mod 64.
	assert.True(t, p.Predict(64, true))
}

func TestZeroEntriesIsDisabled(t *testing.T) {
	p := New(0)
	assert.False(t, p.Enabled())
}
