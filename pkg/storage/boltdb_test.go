package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nspawnhost/nspawnd/pkg/errs"
	"github.com/nspawnhost/nspawnd/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestContainerCRUD(t *testing.T) {
	store := newTestStore(t)

	record := &types.ContainerRecord{ID: "alpha", Distro: "debian:bookworm", MemoryMB: 512}
	require.NoError(t, store.CreateContainer(record))

	got, err := store.GetContainer("alpha")
	require.NoError(t, err)
	assert.Equal(t, "debian:bookworm", got.Distro)

	all, err := store.ListContainers()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeleteContainer("alpha"))
	_, err = store.GetContainer("alpha")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestDeleteContainer_MissingIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.DeleteContainer("never-existed"))
}

func TestPortForwardRuleCRUD(t *testing.T) {
	store := newTestStore(t)

	rule := &types.PortForwardRule{ID: "rule-1", HostPort: 2222, ContainerID: "alpha", ContainerPort: 22, Protocol: types.ProtoTCP}
	require.NoError(t, store.CreatePortForwardRule(rule))

	got, err := store.GetPortForwardRule("rule-1")
	require.NoError(t, err)
	assert.Equal(t, 2222, got.HostPort)

	all, err := store.ListPortForwardRules()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeletePortForwardRule("rule-1"))
	_, err = store.GetPortForwardRule("rule-1")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}
