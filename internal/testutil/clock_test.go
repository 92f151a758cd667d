package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepClock_Advances(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := NewStepClock(start, time.Second)

	assert.Equal(t, start, clock.Peek())
	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start.Add(time.Second), clock.Now())
	assert.Equal(t, start.Add(2*time.Second), clock.Peek())
}

func TestStepClock_ThreadSafe(t *testing.T) {
	start := time.Unix(0, 0)
	clock := NewStepClock(start, time.Millisecond)

	const goroutines, calls = 50, 20
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range calls {
				clock.Now()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(goroutines*calls*time.Millisecond), clock.Peek())
}
