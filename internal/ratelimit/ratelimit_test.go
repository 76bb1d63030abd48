package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow_BlocksAfterLimit(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("alice", 3, time.Minute))
	}
	assert.False(t, l.Allow("alice", 3, time.Minute))
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := New()
	assert.True(t, l.Allow("alice", 1, time.Minute))
	assert.True(t, l.Allow("bob", 1, time.Minute))
	assert.False(t, l.Allow("alice", 1, time.Minute))
}

func TestReset_ClearsAttempts(t *testing.T) {
	l := New()
	assert.True(t, l.Allow("alice", 1, time.Minute))
	assert.False(t, l.Allow("alice", 1, time.Minute))
	l.Reset("alice")
	assert.True(t, l.Allow("alice", 1, time.Minute))
}
