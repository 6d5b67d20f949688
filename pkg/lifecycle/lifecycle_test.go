package lifecycle

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nspawnhost/nspawnd/pkg/fsmutate"
	"github.com/nspawnhost/nspawnd/pkg/hostinvoker"
	"github.com/nspawnhost/nspawnd/pkg/storage"
	"github.com/nspawnhost/nspawnd/pkg/types"
)

func newTestController(t *testing.T, mock *hostinvoker.Mock) (*Controller, afero.Fs, storage.Store) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/machines/alpha", 0755))

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.CreateContainer(&types.ContainerRecord{ID: "alpha", Distro: "debian:bookworm"}))

	mutator := fsmutate.New(fs)
	ctrl := New(mock, mutator, store, fs, "/machines", "/units")
	return ctrl, fs, store
}

func TestStart_Success(t *testing.T) {
	mock := hostinvoker.NewMock()
	// Mock keys replies by argv[0], so the "start" call and the
	// subsequent state() "show" call share this one Result.
	mock.Results["machinectl"] = hostinvoker.Result{ExitCode: 0, Stdout: "State=running\n"}

	ctrl, _, _ := newTestController(t, mock)
	err := ctrl.Start(context.Background(), "alpha")
	require.NoError(t, err)
}

func TestStart_FailsWhenCommandFails(t *testing.T) {
	mock := hostinvoker.NewMock()
	mock.Results["machinectl"] = hostinvoker.Result{ExitCode: 1, Stderr: "unit not found"}

	ctrl, _, _ := newTestController(t, mock)
	err := ctrl.Start(context.Background(), "alpha")
	require.Error(t, err)
}

func TestDelete_RemovesRootfsDirectory(t *testing.T) {
	mock := hostinvoker.NewMock()
	mock.Results["machinectl"] = hostinvoker.Result{ExitCode: 0, Stdout: "State=stopped\n"}

	ctrl, fs, store := newTestController(t, mock)
	require.NoError(t, ctrl.Delete(context.Background(), "alpha"))

	exists, err := afero.DirExists(fs, "/machines/alpha")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.GetContainer("alpha")
	assert.Error(t, err)
}

func TestInspect_MergesAuthoredAndObservedFields(t *testing.T) {
	mock := hostinvoker.NewMock()
	mock.Results["machinectl"] = hostinvoker.Result{ExitCode: 0, Stdout: "State=running\n    Address: 10.88.0.5\n"}

	ctrl, _, _ := newTestController(t, mock)
	record, err := ctrl.Inspect(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, "debian:bookworm", record.Distro)
	assert.Equal(t, types.ContainerRunning, record.Status)
}

func TestList_ReconcilesMachinesDirectory(t *testing.T) {
	mock := hostinvoker.NewMock()
	mock.Results["machinectl"] = hostinvoker.Result{ExitCode: 0, Stdout: "State=stopped\n"}

	ctrl, _, _ := newTestController(t, mock)
	records, err := ctrl.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alpha", records[0].ID)
}
