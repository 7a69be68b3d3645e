package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadyGate(t *testing.T) {
	gate := newReadyGate()

	assert.True(t, gate.AllReady(nil))
	assert.False(t, gate.AllReady([]int{2, 3}))

	gate.SetReady(2, true)
	assert.True(t, gate.IsReady(2))
	assert.False(t, gate.AllReady([]int{2, 3}))

	gate.SetReady(3, true)
	assert.True(t, gate.AllReady([]int{2, 3}))

	gate.SetReady(2, false)
	assert.False(t, gate.IsReady(2))
	assert.False(t, gate.AllReady([]int{2, 3}))

	gate.SetReady(2, true)
	gate.Remove(2)
	assert.False(t, gate.AllReady([]int{2, 3}))
}
