// Package runtime starts, health-checks, and stops the external serving
// runtime on a compute target, and owns the generated scratch directory that
// holds launch-time artifacts.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nutanix/nai-llm/pkg/catalog"
)

const (
	// InferencePort is the fixed port serving predictions.
	InferencePort = 8080
	// ManagementPort is the fixed port serving the management API.
	ManagementPort = 8081
	// MetricsPort is the fixed port serving Prometheus metrics.
	MetricsPort = 8082
)

// Session describes one launch of the serving runtime with a single model
// loaded as its default version.
type Session struct {
	// ModelName is the serving name of the model.
	ModelName string
	// Version is the model version loaded at startup.
	Version string
	// ArchiveName is the archive file name within the model store.
	ArchiveName string
	// ModelStore is the directory holding model archives.
	ModelStore string
	// GenDir is the scratch directory for launch-time artifacts and logs.
	GenDir string
	// GPUs is the number of GPUs the runtime may use; zero forces CPU.
	GPUs int
	// QuantizeBits requests weight quantization in the handler (4 or 8;
	// zero disables).
	QuantizeBits int
	// Registration carries the model's startup worker/batch parameters.
	Registration catalog.RegistrationParams
	// Generation carries the handler's text-generation parameters.
	Generation *catalog.GenerationParams
	// RuntimeArgs are extra arguments passed through to the runtime command
	// line.
	RuntimeArgs []string
}

// Target is the capability interface of a compute target able to run the
// serving runtime. The local-process and Kubernetes variants implement the
// same linear lifecycle: Start, HealthCheck until ready, Wait while serving,
// Stop.
type Target interface {
	// Start launches the serving runtime for the session. It returns once
	// the runtime has been spawned, before it is necessarily ready.
	Start(ctx context.Context, session *Session) error
	// HealthCheck blocks until the runtime reports the session's model
	// ready, or fails with a StartupTimeoutError.
	HealthCheck(ctx context.Context) error
	// Wait blocks while the runtime serves, returning when it exits or the
	// context is canceled.
	Wait(ctx context.Context) error
	// Stop tears the runtime down. It is idempotent: stopping a target with
	// no live session is a no-op.
	Stop(ctx context.Context) error
}

// ErrStartupTimeout is a sentinel matched by StartupTimeoutError.
var ErrStartupTimeout = errors.New("serving runtime did not become ready")

// StartupTimeoutError reports that the runtime failed to become healthy
// within the startup deadline.
type StartupTimeoutError struct {
	Timeout time.Duration
	LastErr error
}

func (e *StartupTimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("serving runtime did not become ready within %s: %v", e.Timeout, e.LastErr)
	}
	return fmt.Sprintf("serving runtime did not become ready within %s", e.Timeout)
}

// Is implements error matching against ErrStartupTimeout.
func (e *StartupTimeoutError) Is(target error) bool {
	return target == ErrStartupTimeout
}

func (e *StartupTimeoutError) Unwrap() error {
	return e.LastErr
}
