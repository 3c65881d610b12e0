package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-labs/libresa/domain"
	"github.com/lattice-labs/libresa/queue"
)

func entry(isbn string) domain.QueueEntry {
	return domain.QueueEntry{ISBN: isbn, UserID: "U1", EnqueuedAt: time.Now()}
}

func TestEnqueueDrainPreservesFIFO(t *testing.T) {
	q := queue.New(10)

	require.NoError(t, q.Enqueue(entry("A")))
	require.NoError(t, q.Enqueue(entry("B")))
	require.NoError(t, q.Enqueue(entry("C")))

	drained := q.Drain(10)
	require.Len(t, drained, 3)
	assert.Equal(t, "A", drained[0].ISBN)
	assert.Equal(t, "B", drained[1].ISBN)
	assert.Equal(t, "C", drained[2].ISBN)
}

func TestEnqueueFailsFastWhenFull(t *testing.T) {
	q := queue.New(2)

	require.NoError(t, q.Enqueue(entry("A")))
	require.NoError(t, q.Enqueue(entry("B")))

	err := q.Enqueue(entry("C"))
	assert.ErrorIs(t, err, domain.ErrQueueFull)
}

func TestDrainCapsAtMaxN(t *testing.T) {
	q := queue.New(10)
	for _, isbn := range []string{"A", "B", "C", "D"} {
		require.NoError(t, q.Enqueue(entry(isbn)))
	}

	first := q.Drain(2)
	assert.Len(t, first, 2)
	assert.Equal(t, 2, q.Depth())

	rest := q.Drain(10)
	assert.Len(t, rest, 2)
	assert.Equal(t, 0, q.Depth())
}

func TestEnqueueFrontBypassesCapacityForRetries(t *testing.T) {
	q := queue.New(1)
	require.NoError(t, q.Enqueue(entry("A")))

	q.EnqueueFront(entry("RETRY"))

	drained := q.Drain(10)
	require.Len(t, drained, 2)
	assert.Equal(t, "RETRY", drained[0].ISBN)
	assert.Equal(t, "A", drained[1].ISBN)
}

func TestDepthReflectsPending(t *testing.T) {
	q := queue.New(10)
	assert.Equal(t, 0, q.Depth())

	require.NoError(t, q.Enqueue(entry("A")))
	assert.Equal(t, 1, q.Depth())
}

func TestAutoAssignsTraceID(t *testing.T) {
	q := queue.New(5)
	require.NoError(t, q.Enqueue(entry("A")))

	drained := q.Drain(1)
	require.Len(t, drained, 1)
	assert.NotEmpty(t, drained[0].TraceID)
}
