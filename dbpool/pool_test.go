package dbpool_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-labs/libresa/dbpool"
	"github.com/lattice-labs/libresa/domain"
)

func TestOpenEagerlyProvisionsMin(t *testing.T) {
	p, err := dbpool.Open(":memory:", 2, 5)
	require.NoError(t, err)
	defer p.CloseAll()

	stats := p.Stats()
	assert.Equal(t, 2, stats.TotalOpened)
	assert.Equal(t, 2, stats.Free)
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p, err := dbpool.Open(":memory:", 1, 2)
	require.NoError(t, err)
	defer p.CloseAll()

	conn, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, conn.DB)

	p.Release(conn, false)

	assert.LessOrEqual(t, p.Stats().TotalOpened, 2)
}

func TestAcquireOpensUpToMax(t *testing.T) {
	p, err := dbpool.Open(":memory:", 0, 2)
	require.NoError(t, err)
	defer p.CloseAll()

	c1, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	assert.Equal(t, 2, p.Stats().TotalOpened)

	p.Release(c1, false)
	p.Release(c2, false)
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	p, err := dbpool.Open(":memory:", 1, 1)
	require.NoError(t, err)
	defer p.CloseAll()

	held, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(context.Background(), 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)

	p.Release(held, false)
}

func TestAcquireUnblocksOnRelease(t *testing.T) {
	p, err := dbpool.Open(":memory:", 1, 1)
	require.NoError(t, err)
	defer p.CloseAll()

	held, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Release(held, false)
	}()

	conn, err := p.Acquire(context.Background(), 2*time.Second)
	require.NoError(t, err)
	p.Release(conn, false)
}

func TestBrokenConnectionIsNotReused(t *testing.T) {
	p, err := dbpool.Open(":memory:", 1, 1)
	require.NoError(t, err)
	defer p.CloseAll()

	before := p.Stats().TotalOpened

	conn, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	p.Release(conn, true) // mark broken

	after := p.Stats()
	// A replacement should have been opened to maintain min.
	assert.Equal(t, before, after.TotalOpened)
	assert.Equal(t, 1, after.Free)
}

func TestCloseAllRejectsFurtherAcquire(t *testing.T) {
	p, err := dbpool.Open(":memory:", 1, 1)
	require.NoError(t, err)

	p.CloseAll()

	_, err = p.Acquire(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrPoolClosed)
}

func TestWithConnGuaranteesRelease(t *testing.T) {
	p, err := dbpool.Open(":memory:", 1, 1)
	require.NoError(t, err)
	defer p.CloseAll()

	err = p.WithConn(context.Background(), time.Second, func(db *sql.DB) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats().Free)
}
