package runtime

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nutanix/nai-llm/pkg/logging"
	"github.com/nutanix/nai-llm/pkg/management"
)

func testLogger() logging.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestStartupTimeoutErrorMatching(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&StartupTimeoutError{Timeout: time.Minute, LastErr: cause})
	require.ErrorIs(t, err, ErrStartupTimeout)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "1m0s")
	require.Contains(t, err.Error(), "connection refused")
}

func TestLocalTargetStopWithoutStartIsNoop(t *testing.T) {
	target := NewLocalTarget(testLogger(), management.NewClient(testLogger()))
	require.NoError(t, target.Stop(context.Background()))
	require.NoError(t, target.Stop(context.Background()))
}

func TestLocalTargetHealthCheckBeforeStart(t *testing.T) {
	target := NewLocalTarget(testLogger(), management.NewClient(testLogger()))
	require.Error(t, target.HealthCheck(context.Background()))
}

func TestLocalTargetWaitWithoutStart(t *testing.T) {
	target := NewLocalTarget(testLogger(), management.NewClient(testLogger()))
	require.NoError(t, target.Wait(context.Background()))
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 1, ExitCode(errors.New("boom")))
}
