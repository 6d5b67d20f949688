// Package provision implements the Container Provisioning Pipeline:
// the ten-stage procedure that turns a validated ContainerSpec into a
// running container (spec.md §4.4). Stages run strictly in order in a
// for loop that short-circuits on the first failure; a deferred
// finalizer resolves the CreationJob even if a stage panics.
package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/nspawnhost/nspawnd/pkg/catalog"
	"github.com/nspawnhost/nspawnd/pkg/errs"
	"github.com/nspawnhost/nspawnd/pkg/fsmutate"
	"github.com/nspawnhost/nspawnd/pkg/hostinspect"
	"github.com/nspawnhost/nspawnd/pkg/hostinvoker"
	"github.com/nspawnhost/nspawnd/pkg/lifecycle"
	"github.com/nspawnhost/nspawnd/pkg/log"
	"github.com/nspawnhost/nspawnd/pkg/metrics"
	"github.com/nspawnhost/nspawnd/pkg/registry"
	"github.com/nspawnhost/nspawnd/pkg/storage"
	"github.com/nspawnhost/nspawnd/pkg/types"
)

// Pipeline holds every collaborator a provisioning run needs.
type Pipeline struct {
	Invoker    hostinvoker.RunFunc
	Catalog    *catalog.Catalog
	Mutator    *fsmutate.Mutator
	Inspector  *hostinspect.Inspector
	Lifecycle  *lifecycle.Controller
	Registry   *registry.Registry
	Store      storage.Store
	FS         afero.Fs
	MachinesDir string
	UnitsDir    string
	Bridge      string
}

// run carries the mutable state threaded through every stage of a
// single provisioning attempt.
type run struct {
	spec        types.ContainerSpec
	entry       catalog.Entry
	rootDir     string
	unitPath    string
	dirCreated  bool
	unitWritten bool
}

type stageFunc func(ctx context.Context, p *Pipeline, r *run) error

type stageDef struct {
	stage types.Stage
	kind  errs.Kind
	fn    stageFunc
}

func (p *Pipeline) stages() []stageDef {
	return []stageDef{
		{types.StageDetectArch, errs.Unsupported, stageDetectArch},
		{types.StagePrepareDir, errs.NameConflict, stagePrepareDir},
		{types.StageBootstrapRootfs, errs.BootstrapFailed, stageBootstrapRootfs},
		{types.StageSetRootPassword, errs.PasswordFailed, stageSetRootPassword},
		{types.StageConfigureNetwork, errs.NetworkFailed, stageConfigureNetwork},
		{types.StageInstallSSH, errs.SshFailed, stageInstallSSH},
		{types.StageConfigureWireGuard, errs.WireGuardFailed, stageConfigureWireGuard},
		{types.StageWriteHostUnit, errs.UnitFailed, stageWriteHostUnit},
		{types.StageStart, errs.StartFailed, stageStart},
	}
}

// Validate checks a ContainerSpec's name, root password length, resource
// ranges and WireGuard config, independent of any stage execution. The
// distro is checked later, by the detect_arch stage; the ipv6 mode is not
// checked against its allowed values.
func Validate(spec types.ContainerSpec) error {
	if !types.ValidName(spec.Name) {
		return errs.Newf(errs.ValidationError, "invalid container name %q", spec.Name)
	}
	if len(spec.RootPassword) < 8 {
		return errs.Newf(errs.ValidationError, "root_password must be at least 8 characters")
	}
	if spec.CPUQuotaPercent < 25 || spec.CPUQuotaPercent > 400 {
		return errs.Newf(errs.ValidationError, "cpu_quota_percent must be between 25 and 400")
	}
	if spec.MemoryMB < 256 || spec.MemoryMB > 8192 {
		return errs.Newf(errs.ValidationError, "memory_mb must be between 256 and 8192")
	}
	if spec.DiskGB < 5 || spec.DiskGB > 100 {
		return errs.Newf(errs.ValidationError, "disk_gb must be between 5 and 100")
	}
	if spec.IPv6 == types.IPv6WireGuard && strings.TrimSpace(spec.WireGuardConfig) == "" {
		return errs.Newf(errs.ValidationError, "wireguard_config is required when ipv6=wireguard")
	}
	return nil
}

// Run executes the full pipeline for spec, publishing progress to the
// registry under spec.Name. It blocks for the run's full duration; a
// caller wanting async behavior runs it in its own goroutine (this is
// exactly what the background worker per creation request, spec.md
// §5, does).
func (p *Pipeline) Run(ctx context.Context, spec types.ContainerSpec) (err error) {
	if verr := Validate(spec); verr != nil {
		return verr
	}

	if _, err := p.Registry.Register(spec.Name); err != nil {
		return err
	}

	r := &run{spec: spec}
	logger := log.WithContainerID(spec.Name)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			logger.Error().Interface("panic", rec).Msg("provisioning pipeline panicked")
		}
		if err != nil {
			p.cleanup(ctx, r)
		}
		p.Registry.Finish(spec.Name, err)
		status := "completed"
		if err != nil {
			status = "failed"
		}
		metrics.ProvisionJobsTotal.WithLabelValues(status).Inc()
	}()

	for _, def := range p.stages() {
		if p.Registry.Cancelled(spec.Name) {
			err = errs.WithStage(def.kind, string(def.stage), fmt.Errorf("cancelled"))
			return err
		}

		p.Registry.SetStage(spec.Name, def.stage)
		start := time.Now()
		stageErr := def.fn(ctx, p, r)
		metrics.ProvisionStageDuration.WithLabelValues(string(def.stage)).Observe(time.Since(start).Seconds())

		if stageErr != nil {
			logger.Error().Str("stage", string(def.stage)).Err(stageErr).Msg("stage failed")
			err = errs.WithStage(kindOf(stageErr, def.kind), string(def.stage), stageErr)
			return err
		}
	}

	return nil
}

// cleanup reverses partial progress on failure: removes the
// partially-created root-filesystem directory (only if step 2
// succeeded) and the host unit file (only if step 8 completed).
func (p *Pipeline) cleanup(ctx context.Context, r *run) {
	if r.unitWritten {
		if err := p.Mutator.RemoveHostUnitFile(p.UnitsDir, r.spec.Name); err != nil {
			log.WithContainerID(r.spec.Name).Warn().Err(err).Msg("cleanup: failed to remove host unit file")
		}
	}
	if r.dirCreated {
		if err := p.FS.RemoveAll(r.rootDir); err != nil {
			log.WithContainerID(r.spec.Name).Warn().Err(err).Msg("cleanup: failed to remove rootfs directory")
		}
	}
}

func stageDetectArch(ctx context.Context, p *Pipeline, r *run) error {
	distro, release, ok := strings.Cut(r.spec.Distro, ":")
	if !ok {
		return fmt.Errorf("distro must be of the form <name>:<release>, got %q", r.spec.Distro)
	}
	arch := p.Inspector.DetectArch()
	entry, err := p.Catalog.Lookup(distro, release, arch)
	if err != nil {
		return err
	}
	r.entry = entry
	return nil
}

func stagePrepareDir(ctx context.Context, p *Pipeline, r *run) error {
	r.rootDir = p.MachinesDir + "/" + r.spec.Name
	if exists, _ := afero.DirExists(p.FS, r.rootDir); exists {
		return fmt.Errorf("machines directory %s already exists", r.rootDir)
	}
	if err := p.FS.MkdirAll(r.rootDir, 0755); err != nil {
		return err
	}
	r.dirCreated = true
	return nil
}

func stageBootstrapRootfs(ctx context.Context, p *Pipeline, r *run) error {
	result := p.Invoker.Run(ctx, hostinvoker.Spec{
		Stage: string(types.StageBootstrapRootfs),
		Argv: []string{
			r.entry.BootstrapTool,
			"--arch=" + r.entry.Arch,
			r.entry.Suite,
			r.rootDir,
			r.entry.Mirror,
		},
		Timeout: hostinvoker.TimeoutBootstrap,
	})
	return resultErr(result)
}

func stageSetRootPassword(ctx context.Context, p *Pipeline, r *run) error {
	p.Invoker.RegisterSecret(r.spec.RootPassword)
	return p.Mutator.SetRootPassword(r.rootDir, r.spec.RootPassword)
}

func stageConfigureNetwork(ctx context.Context, p *Pipeline, r *run) error {
	if err := p.Mutator.ConfigureDNS(r.rootDir); err != nil {
		return err
	}
	return p.Mutator.ConfigureNetwork(r.rootDir, p.Bridge, r.spec.IPv6)
}

func stageInstallSSH(ctx context.Context, p *Pipeline, r *run) error {
	if !r.spec.EnableSSH {
		return nil
	}
	if err := p.Mutator.InstallSSH(r.rootDir); err != nil {
		return err
	}
	return runInGuest(ctx, p, r.rootDir, "/tmp/install_ssh.sh")
}

func stageConfigureWireGuard(ctx context.Context, p *Pipeline, r *run) error {
	if r.spec.IPv6 != types.IPv6WireGuard {
		return nil
	}
	p.Invoker.RegisterSecret(r.spec.WireGuardConfig)
	if err := p.Mutator.ConfigureWireGuard(r.rootDir, r.spec.WireGuardConfig); err != nil {
		return err
	}
	return runInGuest(ctx, p, r.rootDir, "/tmp/install_wireguard.sh")
}

func stageWriteHostUnit(ctx context.Context, p *Pipeline, r *run) error {
	path, err := p.Mutator.WriteHostUnitFile(p.UnitsDir, r.spec.Name, p.Bridge, r.spec)
	if err != nil {
		return err
	}
	r.unitPath = path
	r.unitWritten = true
	return nil
}

func stageStart(ctx context.Context, p *Pipeline, r *run) error {
	if err := p.Lifecycle.Start(ctx, r.spec.Name); err != nil {
		return err
	}
	return p.Store.CreateContainer(&types.ContainerRecord{
		ID:              r.spec.Name,
		Distro:          r.spec.Distro,
		CPUQuotaPercent: r.spec.CPUQuotaPercent,
		MemoryMB:        r.spec.MemoryMB,
		DiskGB:          r.spec.DiskGB,
		Labels:          r.spec.Labels,
		CreatedAt:       time.Now(),
	})
}

// runInGuest executes script inside rootDir through systemd-nspawn in
// non-interactive, unregistered mode, with the host's resolv.conf
// bind-mounted read-only so apt/dnf can resolve mirror hostnames.
func runInGuest(ctx context.Context, p *Pipeline, rootDir, script string) error {
	result := p.Invoker.Run(ctx, hostinvoker.Spec{
		Stage: "run_in_guest",
		Argv: []string{
			"systemd-nspawn",
			"--register=no",
			"--quiet",
			"--resolv-conf=bind-host",
			"--directory=" + rootDir,
			"/bin/sh", script,
		},
		Timeout: hostinvoker.TimeoutPackageInstall,
	})
	return resultErr(result)
}

// kindOf prefers the Kind already attached to err (e.g. from fsmutate)
// and falls back to the calling stage's default Kind for plain errors.
func kindOf(err error, fallback errs.Kind) errs.Kind {
	if kind := errs.KindOf(err); kind != errs.HostError {
		return kind
	}
	return fallback
}

func resultErr(result hostinvoker.Result) error {
	if result.Err != nil {
		return result.Err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("exit %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
