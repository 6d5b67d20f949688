// Package lifecycle wraps the host machine-manager (machinectl) for
// every post-creation operation: start, stop, force_stop, restart,
// delete, list, inspect. Every call is routed through the Host
// Invoker — machinectl is never shelled out to directly.
package lifecycle

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/nspawnhost/nspawnd/pkg/errs"
	"github.com/nspawnhost/nspawnd/pkg/fsmutate"
	"github.com/nspawnhost/nspawnd/pkg/hostinvoker"
	"github.com/nspawnhost/nspawnd/pkg/log"
	"github.com/nspawnhost/nspawnd/pkg/metrics"
	"github.com/nspawnhost/nspawnd/pkg/storage"
	"github.com/nspawnhost/nspawnd/pkg/types"
)

// Default graceful/forced stop timeouts, spec.md §4.6.
const (
	GracefulStopTimeout = 30 * time.Second
	ForceStopTimeout    = 10 * time.Second
)

// Controller wraps machinectl. Lifecycle operations on the same
// container serialize under a per-name lock; different containers
// proceed independently.
type Controller struct {
	invoker     hostinvoker.RunFunc
	mutator     *fsmutate.Mutator
	store       storage.Store
	fs          afero.Fs
	machinesDir string
	unitsDir    string

	namesMu sync.Mutex
	names   map[string]*sync.Mutex
}

// New builds a Controller.
func New(invoker hostinvoker.RunFunc, mutator *fsmutate.Mutator, store storage.Store, fs afero.Fs, machinesDir, unitsDir string) *Controller {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Controller{
		invoker:     invoker,
		mutator:     mutator,
		store:       store,
		fs:          fs,
		machinesDir: machinesDir,
		unitsDir:    unitsDir,
		names:       make(map[string]*sync.Mutex),
	}
}

func (c *Controller) lockFor(name string) *sync.Mutex {
	c.namesMu.Lock()
	defer c.namesMu.Unlock()
	m, ok := c.names[name]
	if !ok {
		m = &sync.Mutex{}
		c.names[name] = m
	}
	return m
}

// Start starts name if not already running; succeeds if the final
// state is running.
func (c *Controller) Start(ctx context.Context, name string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LifecycleOpDuration, "start")

	lock := c.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	result := c.invoker.Run(ctx, hostinvoker.Spec{
		Stage:   string(types.StageStart),
		Argv:    []string{"machinectl", "start", name},
		Timeout: hostinvoker.TimeoutMachineManager,
	})
	if !result.OK() {
		return errs.WithStage(errs.StartFailed, string(types.StageStart), hostErr(result))
	}

	state, err := c.state(ctx, name)
	if err != nil || state != types.ContainerRunning {
		return errs.WithStage(errs.StartFailed, string(types.StageStart), errs.Newf(errs.StartFailed, "final state %q", state))
	}
	return nil
}

// Stop performs a graceful poweroff with GracefulStopTimeout.
func (c *Controller) Stop(ctx context.Context, name string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LifecycleOpDuration, "stop")

	lock := c.lockFor(name)
	lock.Lock()
	defer lock.Unlock()
	return c.stopLocked(ctx, name, "poweroff", GracefulStopTimeout, errs.StopFailed)
}

// ForceStop sends a kill signal with ForceStopTimeout.
func (c *Controller) ForceStop(ctx context.Context, name string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LifecycleOpDuration, "force_stop")

	lock := c.lockFor(name)
	lock.Lock()
	defer lock.Unlock()
	return c.stopLocked(ctx, name, "terminate", ForceStopTimeout, errs.StopFailed)
}

func (c *Controller) stopLocked(ctx context.Context, name, subcommand string, timeout time.Duration, kind errs.Kind) error {
	result := c.invoker.Run(ctx, hostinvoker.Spec{
		Stage:   "stop",
		Argv:    []string{"machinectl", subcommand, name},
		Timeout: timeout,
	})
	if !result.OK() {
		return errs.WithStage(kind, "stop", hostErr(result))
	}

	state, err := c.state(ctx, name)
	if err != nil || state == types.ContainerRunning {
		return errs.WithStage(kind, "stop", errs.Newf(kind, "final state %q", state))
	}
	return nil
}

// Restart stops then starts name.
func (c *Controller) Restart(ctx context.Context, name string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LifecycleOpDuration, "restart")

	if err := c.Stop(ctx, name); err != nil {
		return err
	}
	return c.Start(ctx, name)
}

// Delete stops (ignoring failure if already stopped), removes the
// host unit file, and removes the root-filesystem directory. It fails
// only if the directory cannot be removed.
func (c *Controller) Delete(ctx context.Context, name string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LifecycleOpDuration, "delete")

	lock := c.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	_ = c.stopLocked(ctx, name, "poweroff", GracefulStopTimeout, errs.StopFailed)

	if err := c.mutator.RemoveHostUnitFile(c.unitsDir, name); err != nil {
		log.WithComponent("lifecycle").Warn().Err(err).Str("container_id", name).Msg("failed to remove host unit file")
	}

	if err := c.fs.RemoveAll(c.machinesDir + "/" + name); err != nil {
		return errs.WithStage(errs.DeleteFailed, "delete", err)
	}

	if c.store != nil {
		_ = c.store.DeleteContainer(name)
	}
	return nil
}

// Inspect returns a single ContainerRecord: authored fields from the
// store merged with freshly-queried observed fields.
func (c *Controller) Inspect(ctx context.Context, name string) (*types.ContainerRecord, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LifecycleOpDuration, "inspect")

	record, err := c.store.GetContainer(name)
	if err != nil {
		return nil, err
	}

	state, stateErr := c.state(ctx, name)
	if stateErr == nil {
		record.Status = state
	} else {
		record.Status = types.ContainerUnknown
	}
	record.Addresses = c.addresses(ctx, name)
	return record, nil
}

// List reconciles the on-disk machines directory with the
// machine-manager's live list, returning one ContainerRecord per
// directory entry.
func (c *Controller) List(ctx context.Context) ([]*types.ContainerRecord, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LifecycleOpDuration, "list")

	entries, err := afero.ReadDir(c.fs, c.machinesDir)
	if err != nil {
		return nil, errs.New(errs.HostError, err)
	}

	var records []*types.ContainerRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		record, err := c.Inspect(ctx, entry.Name())
		if err != nil {
			record = &types.ContainerRecord{ID: entry.Name(), Status: types.ContainerUnknown}
		}
		records = append(records, record)
	}

	byStatus := make(map[types.ContainerStatus]float64)
	for _, record := range records {
		byStatus[record.Status]++
	}
	metrics.ContainersTotal.Reset()
	for status, count := range byStatus {
		metrics.ContainersTotal.WithLabelValues(string(status)).Set(count)
	}

	return records, nil
}

var stateRE = regexp.MustCompile(`(?m)^State=(\w+)`)

func (c *Controller) state(ctx context.Context, name string) (types.ContainerStatus, error) {
	result := c.invoker.Run(ctx, hostinvoker.Spec{
		Stage:   "inspect",
		Argv:    []string{"machinectl", "show", name, "--property=State"},
		Timeout: hostinvoker.TimeoutMachineManager,
	})
	if !result.OK() {
		return types.ContainerStopped, nil
	}

	match := stateRE.FindStringSubmatch(result.Stdout)
	if match == nil {
		return types.ContainerUnknown, nil
	}

	switch match[1] {
	case "running":
		return types.ContainerRunning, nil
	case "failed":
		return types.ContainerFailed, nil
	case "stopped", "dead":
		return types.ContainerStopped, nil
	default:
		return types.ContainerUnknown, nil
	}
}

var addressRE = regexp.MustCompile(`(?m)^\s*Address:\s*(\S+)`)

func (c *Controller) addresses(ctx context.Context, name string) []string {
	result := c.invoker.Run(ctx, hostinvoker.Spec{
		Stage:   "inspect",
		Argv:    []string{"machinectl", "status", name},
		Timeout: hostinvoker.TimeoutMachineManager,
	})
	if !result.OK() {
		return nil
	}

	var addrs []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if match := addressRE.FindStringSubmatch(line); match != nil {
			addrs = append(addrs, match[1])
		}
	}
	return addrs
}

func hostErr(result hostinvoker.Result) error {
	if result.Err != nil {
		return result.Err
	}
	return errs.Newf(errs.HostError, "exit %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
}
