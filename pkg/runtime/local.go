package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/nutanix/nai-llm/pkg/logging"
	"github.com/nutanix/nai-llm/pkg/logtail"
	"github.com/nutanix/nai-llm/pkg/management"
	"github.com/nutanix/nai-llm/pkg/proc"
)

const (
	// DefaultBinary is the serving runtime launcher looked up on PATH.
	DefaultBinary = "torchserve"
	// defaultStartupTimeout bounds the health-check poll after launch.
	// Worker startup includes loading multi-gigabyte weights.
	defaultStartupTimeout = 20 * time.Minute
	// defaultPollInterval is the health-check poll period.
	defaultPollInterval = 15 * time.Second
	// outputTailSize is how much trailing runtime output is retained for
	// failure messages.
	outputTailSize = 2048
)

// LocalTarget runs the serving runtime as a supervised child process on the
// local host.
type LocalTarget struct {
	log            logging.Logger
	client         *management.Client
	binary         string
	startupTimeout time.Duration
	pollInterval   time.Duration

	mu      sync.Mutex
	process proc.Process
	session *Session
	tail    *logtail.Buffer
	done    chan struct{}
	exitErr error
}

// LocalOption configures a LocalTarget.
type LocalOption func(*LocalTarget)

// WithBinary overrides the runtime launcher binary.
func WithBinary(binary string) LocalOption {
	return func(t *LocalTarget) {
		if binary != "" {
			t.binary = binary
		}
	}
}

// WithStartupTimeout overrides the health-check deadline.
func WithStartupTimeout(timeout time.Duration) LocalOption {
	return func(t *LocalTarget) {
		if timeout > 0 {
			t.startupTimeout = timeout
		}
	}
}

// WithPollInterval overrides the health-check poll period.
func WithPollInterval(interval time.Duration) LocalOption {
	return func(t *LocalTarget) {
		if interval > 0 {
			t.pollInterval = interval
		}
	}
}

// NewLocalTarget creates a local compute target that reports health through
// the given management client.
func NewLocalTarget(log logging.Logger, client *management.Client, opts ...LocalOption) *LocalTarget {
	target := &LocalTarget{
		log:            log,
		client:         client,
		binary:         DefaultBinary,
		startupTimeout: defaultStartupTimeout,
		pollInterval:   defaultPollInterval,
	}
	for _, opt := range opts {
		opt(target)
	}
	return target
}

// Start implements Target.Start. The runtime is launched in the foreground
// under process supervision with its output streamed to the target's logger
// and a bounded tail buffer.
func (t *LocalTarget) Start(ctx context.Context, session *Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.process != nil {
		return errors.New("serving runtime already started")
	}

	configPath, err := WriteConfig(session)
	if err != nil {
		return err
	}

	args := t.launchArgs(session, configPath)
	t.log.Infof("Starting serving runtime: %s %v", t.binary, args)

	tail := logtail.New(outputTailSize)
	logStream := t.log.Writer()
	out := io.MultiWriter(logStream, tail)
	process, err := proc.Start(ctx, func(command *exec.Cmd) {
		command.Env = append(os.Environ(), runtimeEnv(session)...)
		command.Stdout = out
		command.Stderr = out
	}, t.binary, args...)
	if err != nil {
		logStream.Close()
		return fmt.Errorf("unable to start serving runtime: %w", err)
	}

	done := make(chan struct{})
	t.process = process
	t.session = session
	t.tail = tail
	t.done = done
	t.exitErr = nil

	go func() {
		err := process.Command().Wait()
		logStream.Close()
		t.mu.Lock()
		if err != nil {
			if output := tail.String(); output != "" {
				err = fmt.Errorf("serving runtime exit: %w\nwith output: %s", err, output)
			} else {
				err = fmt.Errorf("serving runtime exit: %w", err)
			}
		}
		t.exitErr = err
		t.mu.Unlock()
		close(done)
	}()
	return nil
}

func (t *LocalTarget) launchArgs(session *Session, configPath string) []string {
	args := []string{
		"--start",
		"--foreground",
		"--model-store", session.ModelStore,
		"--ncs",
		"--ts-config", configPath,
	}
	return append(args, session.RuntimeArgs...)
}

// runtimeEnv assembles the child environment additions: handler parameters
// plus log locations inside the scratch directory.
func runtimeEnv(session *Session) []string {
	logsDir := session.GenDir + string(os.PathSeparator) + "logs"
	env := handlerEnv(session)
	env = append(env,
		"LOG_LOCATION="+logsDir,
		"METRICS_LOCATION="+logsDir,
	)
	return env
}

// HealthCheck implements Target.HealthCheck: the runtime's ping endpoint
// must answer and every worker of the session's model must report READY.
func (t *LocalTarget) HealthCheck(ctx context.Context) error {
	t.mu.Lock()
	session, done := t.session, t.done
	t.mu.Unlock()
	if session == nil {
		return errors.New("serving runtime not started")
	}

	deadline := time.NewTimer(t.startupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return fmt.Errorf("serving runtime exited during startup: %w", t.exitError())
		case <-deadline.C:
			return &StartupTimeoutError{Timeout: t.startupTimeout, LastErr: lastErr}
		case <-ticker.C:
			if err := t.client.Ping(ctx); err != nil {
				lastErr = err
				continue
			}
			ready, err := t.client.Ready(ctx, session.ModelName)
			if err != nil {
				lastErr = err
				continue
			}
			if ready {
				t.log.Infof("Model %s registered and ready", session.ModelName)
				return nil
			}
			lastErr = errors.New("model workers not ready")
		}
	}
}

// Wait implements Target.Wait.
func (t *LocalTarget) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case <-done:
		return t.exitError()
	}
}

// Stop implements Target.Stop. Stopping an idle target is a no-op.
func (t *LocalTarget) Stop(ctx context.Context) error {
	t.mu.Lock()
	process, done := t.process, t.done
	t.process = nil
	t.session = nil
	t.mu.Unlock()
	if process == nil {
		return nil
	}

	t.log.Infoln("Stopping serving runtime")
	if err := process.Close(); err != nil {
		return fmt.Errorf("stop serving runtime: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.log.Infoln("Serving runtime stopped")
	return nil
}

func (t *LocalTarget) exitError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitErr
}

// ExitCode extracts the child process's exit code from a Wait error so the
// invoker can propagate it. Unknown errors map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}
