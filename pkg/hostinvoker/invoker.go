// Package hostinvoker is the single choke point through which the core
// runs privileged external commands (bootstrap tool, machinectl,
// iptables, file-ops helpers). It never raises on non-zero exit; every
// call returns a full Result the caller inspects. Concentrating every
// shell-out here is what lets the Provisioning Pipeline be exercised
// against a mock Invoker in tests instead of the real host.
package hostinvoker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nspawnhost/nspawnd/pkg/errs"
	"github.com/nspawnhost/nspawnd/pkg/log"
	"github.com/nspawnhost/nspawnd/pkg/metrics"
)

// Default timeouts per spec.md §4.1.
const (
	TimeoutBootstrap     = 1800 * time.Second
	TimeoutPackageInstall = 300 * time.Second
	TimeoutMachineManager = 60 * time.Second
	TimeoutFirewall       = 10 * time.Second
	TimeoutFileOp         = 5 * time.Second
)

// Spec describes one command invocation.
type Spec struct {
	Stage   string // attributed stage, for logging ("bootstrap_rootfs", "start", ...)
	Argv    []string
	Stdin   []byte
	Timeout time.Duration
	Env     []string // additional environment entries, appended to os.Environ()
}

// Result is the full outcome of a Run call. Err is only set when the
// command could not be started or was killed for timing out; a
// non-zero ExitCode from a command that ran to completion is NOT an
// error — callers inspect ExitCode themselves.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Err      error
}

// OK reports whether the command ran to completion with exit code 0.
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// RunFunc is the interface every consumer of the Host Invoker depends
// on. Concentrating all external execution behind this interface is
// what lets the Provisioning Pipeline, Lifecycle Controller, and Host
// Inspector be exercised against a mock that records calls and
// replays canned Results. RegisterSecret lets a caller hand the
// Invoker a value (root password, WireGuard key) that must never
// reach a log line or a returned error string.
type RunFunc interface {
	Run(ctx context.Context, spec Spec) Result
	RegisterSecret(value string)
}

// Invoker runs external commands with a timeout and redacts secrets
// from anything it logs. It implements RunFunc.
type Invoker struct {
	secrets []string // substrings to scrub from logged stdout/stderr/argv
}

// New creates an Invoker.
func New() *Invoker {
	return &Invoker{}
}

// RegisterSecret adds a value (root password, WireGuard private key,
// ...) that must never appear in a log line or returned error string.
// Empty strings are ignored so callers can unconditionally register an
// optional secret.
func (inv *Invoker) RegisterSecret(value string) {
	if value == "" {
		return
	}
	inv.secrets = append(inv.secrets, value)
}

// Run executes argv, waiting at most spec.Timeout. Real runner,
// production implementation of the Invoker interface.
func (inv *Invoker) Run(ctx context.Context, spec Spec) Result {
	start := time.Now()

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = TimeoutFileOp
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if len(spec.Argv) == 0 {
		return Result{Err: errs.New(errs.HostError, errReason("empty argv"))}
	}

	cmd := exec.CommandContext(runCtx, spec.Argv[0], spec.Argv[1:]...)
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	result := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   inv.redact(stdout.String()),
		Stderr:   inv.redact(stderr.String()),
		Duration: duration,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Err = errs.WithStage(errs.Timeout, spec.Stage, errReason("command timed out after %s", timeout))
	} else if runErr != nil && result.ExitCode < 0 {
		// Process never produced an exit code: failed to start, or was
		// signal-killed for a reason other than our own timeout.
		result.Err = errs.WithStage(errs.HostError, spec.Stage, runErr)
	}

	inv.log(spec, result)

	outcome := "success"
	if !result.OK() {
		outcome = "failure"
	}
	metrics.HostInvokerCommandsTotal.WithLabelValues(spec.Argv[0], outcome).Inc()

	return result
}

func (inv *Invoker) log(spec Spec, result Result) {
	entry := log.WithStage(spec.Stage).Info()
	if !result.OK() {
		entry = log.WithStage(spec.Stage).Warn()
	}
	entry.
		Str("argv0", spec.Argv[0]).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Str("stderr_tail", inv.redact(tail(result.Stderr, 2048))).
		Msg("host command")
}

// redact replaces every registered secret with a fixed placeholder so
// it can never reach a log sink or a propagated error string.
func (inv *Invoker) redact(s string) string {
	for _, secret := range inv.secrets {
		s = strings.ReplaceAll(s, secret, "***")
	}
	return s
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func errReason(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
