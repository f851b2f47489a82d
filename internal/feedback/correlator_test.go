package feedback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDeliversResponse(t *testing.T) {
	c := NewCorrelator()
	defer c.Close()

	done, err := c.CreatePending("req-1", time.Second)
	require.NoError(t, err)

	ok := c.HandleUserResponse("req-1", "yes", 2, false)
	require.True(t, ok)

	out := <-done
	require.NoError(t, out.Err)
	assert.Equal(t, "yes", out.Response.Answer)
	assert.Equal(t, 2, out.Response.ChoiceIndex)
	assert.False(t, out.Response.IsCustomAnswer)
	assert.GreaterOrEqual(t, out.Response.ResponseTime, time.Duration(0))
	assert.Equal(t, 0, c.PendingCount())
}

func TestTimeoutRejects(t *testing.T) {
	c := NewCorrelator()
	defer c.Close()

	done, err := c.CreatePending("req-t", 50*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	out := <-done
	require.ErrorIs(t, out.Err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, 0, c.PendingCount())
}

func TestSecondResponseIsNoOp(t *testing.T) {
	c := NewCorrelator()
	defer c.Close()

	done, err := c.CreatePending("req-2", time.Second)
	require.NoError(t, err)

	require.True(t, c.HandleUserResponse("req-2", "first", -1, true))
	require.False(t, c.HandleUserResponse("req-2", "second", -1, true))

	out := <-done
	require.NoError(t, out.Err)
	assert.Equal(t, "first", out.Response.Answer)

	// Nothing else was delivered.
	select {
	case extra := <-done:
		t.Fatalf("unexpected second delivery: %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAnswerRacesTimeout(t *testing.T) {
	c := NewCorrelator()
	defer c.Close()

	for i := 0; i < 50; i++ {
		id := "race"
		done, err := c.CreatePending(id, time.Millisecond)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.HandleUserResponse(id, "fast", -1, false)
		}()

		out := <-done
		wg.Wait()
		// Exactly one of the two settled it; either way the entry is gone.
		if out.Err != nil {
			assert.ErrorIs(t, out.Err, ErrTimeout)
		} else {
			assert.Equal(t, "fast", out.Response.Answer)
		}
		assert.Equal(t, 0, c.PendingCount())
	}
}

func TestCancelRejects(t *testing.T) {
	c := NewCorrelator()
	defer c.Close()

	done, err := c.CreatePending("req-c", time.Minute)
	require.NoError(t, err)
	require.True(t, c.Cancel("req-c"))
	require.False(t, c.Cancel("req-c"))

	out := <-done
	assert.ErrorIs(t, out.Err, ErrCancelled)
}

func TestDuplicateIDRejected(t *testing.T) {
	c := NewCorrelator()
	defer c.Close()

	_, err := c.CreatePending("dup", time.Minute)
	require.NoError(t, err)
	_, err = c.CreatePending("dup", time.Minute)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestAwaitContextCancellation(t *testing.T) {
	c := NewCorrelator()
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Await(ctx, "req-ctx", time.Minute)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, c.PendingCount())
}

func TestCloseSettlesEverything(t *testing.T) {
	c := NewCorrelator()
	a, err := c.CreatePending("a", time.Minute)
	require.NoError(t, err)
	b, err := c.CreatePending("b", time.Minute)
	require.NoError(t, err)

	c.Close()

	assert.ErrorIs(t, (<-a).Err, ErrClosed)
	assert.ErrorIs(t, (<-b).Err, ErrClosed)

	_, err = c.CreatePending("late", time.Minute)
	assert.ErrorIs(t, err, ErrClosed)
}
