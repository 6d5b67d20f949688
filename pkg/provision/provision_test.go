package provision

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nspawnhost/nspawnd/pkg/catalog"
	"github.com/nspawnhost/nspawnd/pkg/errs"
	"github.com/nspawnhost/nspawnd/pkg/fsmutate"
	"github.com/nspawnhost/nspawnd/pkg/hostinspect"
	"github.com/nspawnhost/nspawnd/pkg/hostinvoker"
	"github.com/nspawnhost/nspawnd/pkg/lifecycle"
	"github.com/nspawnhost/nspawnd/pkg/registry"
	"github.com/nspawnhost/nspawnd/pkg/storage"
	"github.com/nspawnhost/nspawnd/pkg/types"
)

// testPipeline wires every collaborator against an in-memory
// filesystem and a BoltDB file in a temp dir, with the Host Invoker mocked so
// no real systemd-nspawn/debootstrap/machinectl command ever runs.
func testPipeline(t *testing.T, mock *hostinvoker.Mock) *Pipeline {
	t.Helper()

	cat, err := catalog.Load()
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/machines", 0755))
	require.NoError(t, fs.MkdirAll("/units", 0755))

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	invoker := &seedingInvoker{Mock: mock, fs: fs}

	mutator := fsmutate.New(fs)
	ctrl := lifecycle.New(invoker, mutator, store, fs, "/machines", "/units")
	insp := hostinspect.New(invoker, cat, "/machines")
	reg := registry.New()
	t.Cleanup(reg.Stop)

	return &Pipeline{
		Invoker:     invoker,
		Catalog:     cat,
		Mutator:     mutator,
		Inspector:   insp,
		Lifecycle:   ctrl,
		Registry:    reg,
		Store:       store,
		FS:          fs,
		MachinesDir: "/machines",
		UnitsDir:    "/units",
		Bridge:      "br-nspawn",
	}
}

func baseSpec(name string) types.ContainerSpec {
	return types.ContainerSpec{
		Name:            name,
		Distro:          "debian:bookworm",
		RootPassword:    "hunter2hunter2",
		CPUQuotaPercent: 50,
		MemoryMB:        512,
		DiskGB:          10,
		EnableSSH:       false,
		IPv6:            types.IPv6Disabled,
	}
}

// everyCommandSucceeds configures a Mock that reports success for
// every argv[0] the pipeline invokes.
func everyCommandSucceeds() *hostinvoker.Mock {
	mock := hostinvoker.NewMock()
	mock.Default = hostinvoker.Result{ExitCode: 0, Stdout: "State=running\n"}
	return mock
}

// seedingInvoker wraps a Mock and, on a successful bootstrap-tool
// call, materializes the minimal /etc/passwd a real debootstrap run
// would leave behind — the Mock itself never touches the filesystem.
type seedingInvoker struct {
	*hostinvoker.Mock
	fs afero.Fs
}

func (s *seedingInvoker) Run(ctx context.Context, spec hostinvoker.Spec) hostinvoker.Result {
	result := s.Mock.Run(ctx, spec)
	if result.OK() && len(spec.Argv) >= 4 && (spec.Argv[0] == "debootstrap" || spec.Argv[0] == "mmdebstrap") {
		rootDir := spec.Argv[3]
		_ = s.fs.MkdirAll(rootDir+"/etc", 0755)
		_ = afero.WriteFile(s.fs, rootDir+"/etc/passwd", []byte("root:x:0:0:root:/root:/bin/sh\n"), 0644)
	}
	return result
}

func TestRun_HappyPathAmd64Debian(t *testing.T) {
	mock := everyCommandSucceeds()
	p := testPipeline(t, mock)

	err := p.Run(context.Background(), baseSpec("alpha"))
	require.NoError(t, err)

	record, err := p.Store.GetContainer("alpha")
	require.NoError(t, err)
	assert.Equal(t, "debian:bookworm", record.Distro)

	exists, err := afero.Exists(p.FS, "/units/alpha")
	require.NoError(t, err)
	assert.True(t, exists)

	job, ok := p.Registry.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, types.TerminalCompleted, job.TerminalStatus)

	assert.Contains(t, mock.Secrets, "hunter2hunter2", "root password must be registered with the Host Invoker for redaction")
}

func TestRun_HappyPathUbuntuWithSSH(t *testing.T) {
	mock := everyCommandSucceeds()
	p := testPipeline(t, mock)

	spec := baseSpec("beta")
	spec.Distro = "ubuntu:22.04"
	spec.EnableSSH = true

	err := p.Run(context.Background(), spec)
	require.NoError(t, err)

	var sawInstallSSH bool
	for _, call := range mock.Calls {
		if len(call.Argv) > 0 && call.Argv[0] == "systemd-nspawn" {
			sawInstallSSH = true
		}
	}
	assert.True(t, sawInstallSSH, "expected the install_ssh.sh script to run inside the guest")
}

func TestRun_WireGuardBranchRequiresConfig(t *testing.T) {
	p := testPipeline(t, everyCommandSucceeds())

	spec := baseSpec("gamma")
	spec.IPv6 = types.IPv6WireGuard
	spec.WireGuardConfig = ""

	err := p.Run(context.Background(), spec)
	require.Error(t, err)
	assert.Equal(t, errs.ValidationError, errs.KindOf(err))
}

func TestRun_WireGuardBranchWithConfigSucceeds(t *testing.T) {
	mock := everyCommandSucceeds()
	p := testPipeline(t, mock)

	spec := baseSpec("delta")
	spec.IPv6 = types.IPv6WireGuard
	spec.WireGuardConfig = "[Interface]\nPrivateKey = abc\n"

	err := p.Run(context.Background(), spec)
	require.NoError(t, err)

	exists, err := afero.Exists(p.FS, "/machines/delta/etc/wireguard/wg0.conf")
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Contains(t, mock.Secrets, spec.WireGuardConfig, "wireguard config must be registered with the Host Invoker for redaction")
}

func TestRun_NameConflictWhenDirectoryAlreadyExists(t *testing.T) {
	p := testPipeline(t, everyCommandSucceeds())
	require.NoError(t, p.FS.MkdirAll("/machines/epsilon", 0755))

	err := p.Run(context.Background(), baseSpec("epsilon"))
	require.Error(t, err)
	assert.Equal(t, errs.NameConflict, errs.KindOf(err))
}

func TestRun_BootstrapFailureCleansUpPartialDirectory(t *testing.T) {
	mock := everyCommandSucceeds()
	mock.Results["debootstrap"] = hostinvoker.Result{ExitCode: 1, Stderr: "mirror unreachable"}
	p := testPipeline(t, mock)

	err := p.Run(context.Background(), baseSpec("zeta"))
	require.Error(t, err)
	assert.Equal(t, errs.BootstrapFailed, errs.KindOf(err))

	exists, err := afero.DirExists(p.FS, "/machines/zeta")
	require.NoError(t, err)
	assert.False(t, exists, "the partially-created rootfs directory should have been removed")
}

func TestRun_UnsupportedDistroFailsAtDetectArch(t *testing.T) {
	p := testPipeline(t, everyCommandSucceeds())

	spec := baseSpec("eta")
	spec.Distro = "arch:rolling"

	err := p.Run(context.Background(), spec)
	require.Error(t, err)
	assert.Equal(t, errs.Unsupported, errs.KindOf(err))
}

func TestRun_RejectsConcurrentProvisionOfSameName(t *testing.T) {
	p := testPipeline(t, everyCommandSucceeds())

	_, err := p.Registry.Register("theta")
	require.NoError(t, err)

	err = p.Run(context.Background(), baseSpec("theta"))
	require.Error(t, err)
	assert.Equal(t, errs.NameConflict, errs.KindOf(err))
}
