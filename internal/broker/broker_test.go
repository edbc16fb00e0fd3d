package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitBeforeAwait(t *testing.T) {
	b := New()
	_, err := b.Register("tu_1")
	require.NoError(t, err)

	require.NoError(t, b.Submit("tu_1", "drawn"))
	result, ok := b.Await(context.Background(), "tu_1", time.Second)
	assert.True(t, ok)
	assert.Equal(t, "drawn", result)
	assert.Equal(t, 0, b.Pending())
}

func TestSubmitWhileAwaiting(t *testing.T) {
	b := New()
	_, err := b.Register("tu_1")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = b.Submit("tu_1", "late but in time")
	}()

	result, ok := b.Await(context.Background(), "tu_1", 2*time.Second)
	assert.True(t, ok)
	assert.Equal(t, "late but in time", result)
}

func TestFirstSubmissionWins(t *testing.T) {
	b := New()
	_, _ = b.Register("tu_1")
	require.NoError(t, b.Submit("tu_1", "first"))
	require.NoError(t, b.Submit("tu_1", "second"))

	result, _ := b.Await(context.Background(), "tu_1", time.Second)
	assert.Equal(t, "first", result)
}

func TestTimeoutFallbackAndNoResurrection(t *testing.T) {
	b := New()
	_, _ = b.Register("tu_1")

	result, ok := b.Await(context.Background(), "tu_1", 10*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, DefaultResult, result)
	assert.Equal(t, 0, b.Pending())

	assert.ErrorIs(t, b.Submit("tu_1", "too late"), ErrUnknownCall)
	assert.Equal(t, 0, b.Pending(), "a late submission must not recreate the entry")
}

func TestAwaitHonorsContext(t *testing.T) {
	b := New()
	_, _ = b.Register("tu_1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, ok := b.Await(ctx, "tu_1", time.Minute)
	assert.False(t, ok)
	assert.Equal(t, DefaultResult, result)
	assert.Equal(t, 0, b.Pending())
}

func TestRegisterDuplicate(t *testing.T) {
	b := New()
	_, err := b.Register("tu_1")
	require.NoError(t, err)
	_, err = b.Register("tu_1")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestUnknownSubmission(t *testing.T) {
	assert.ErrorIs(t, New().Submit("nope", "x"), ErrUnknownCall)
}

func TestCancel(t *testing.T) {
	b := New()
	_, _ = b.Register("tu_1")
	b.Cancel("tu_1")
	assert.Equal(t, 0, b.Pending())
	assert.ErrorIs(t, b.Submit("tu_1", "x"), ErrUnknownCall)
}

func TestConcurrentDistinctCalls(t *testing.T) {
	b := New()
	const n = 50

	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("tu_%d", i)
		_, err := b.Register(id)
		require.NoError(t, err)

		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			results[i], _ = b.Await(context.Background(), id, 5*time.Second)
		}(i)
		go func(i int) {
			defer wg.Done()
			_ = b.Submit(id, fmt.Sprintf("result %d", i))
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("result %d", i), r)
	}
	assert.Equal(t, 0, b.Pending())
}
