package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-labs/libresa/orchestrator"
)

func TestWaitHealthyReturnsErrorOnTimeout(t *testing.T) {
	// A stub instance binary that starts and exits, so Start gets past
	// launching the child and fails in the health wait.
	binDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "instance"), []byte("#!/bin/sh\nexit 0\n"), 0o755))

	o := orchestrator.New(orchestrator.Config{
		InstancePorts: []int{1}, // nothing listens on port 1
		HealthTimeout: 50 * time.Millisecond,
		BinDir:        binDir,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := o.Start(ctx)
	assert.ErrorContains(t, err, "never became healthy")
}

func TestShutdownIsSafeWithNoChildrenStarted(t *testing.T) {
	o := orchestrator.New(orchestrator.Config{BinDir: t.TempDir()})
	assert.NotPanics(t, func() { o.Shutdown() })
}

func TestSampleResourcesIsEmptyBeforeStart(t *testing.T) {
	o := orchestrator.New(orchestrator.Config{BinDir: t.TempDir()})
	assert.Empty(t, o.SampleResources())
}
