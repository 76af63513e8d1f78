package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)
	assert.Equal(t, start, f.Now())

	f.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), f.Now())
}

func TestFakeSet(t *testing.T) {
	f := NewFake(time.Now())
	target := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)
	f.Set(target)
	assert.Equal(t, target, f.Now())
}

func TestRealNowAdvances(t *testing.T) {
	var r Real
	first := r.Now()
	time.Sleep(time.Millisecond)
	second := r.Now()
	assert.True(t, second.After(first) || second.Equal(first))
}
