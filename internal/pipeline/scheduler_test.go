package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/logging"
)

// blockingRunner holds each run open until release is closed
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	runs    atomic.Int32
	err     error
}

func (b *blockingRunner) Run(context.Context) (*RunReport, error) {
	b.runs.Add(1)
	b.started <- struct{}{}
	<-b.release
	return &RunReport{Ingestion: &services.IngestionResult{}}, b.err
}

func TestScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler("every tuesday", &blockingRunner{}, logging.NewNopLogger())
	assert.ErrorContains(t, err, "invalid schedule")
}

func TestScheduler_SkipsTickWhileRunning(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s, err := NewScheduler("@daily", runner, logging.NewNopLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Trigger()
	}()

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never started")
	}

	// The overlap guard drops this tick without blocking.
	s.Trigger()
	assert.EqualValues(t, 1, runner.runs.Load())

	close(runner.release)
	wg.Wait()

	s.Trigger()
	<-runner.started
	assert.EqualValues(t, 2, runner.runs.Load())
}

func TestScheduler_FailedRunDoesNotStopSchedule(t *testing.T) {
	runner := &blockingRunner{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
		err:     errors.New("store unavailable"),
	}
	close(runner.release)
	s, err := NewScheduler("@every 1h", runner, logging.NewNopLogger())
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	s.Trigger()
	s.Trigger()
	assert.EqualValues(t, 2, runner.runs.Load())
}
