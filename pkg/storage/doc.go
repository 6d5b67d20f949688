/*
Package storage provides BoltDB-backed persistence for nspawnd's
authored state: container records and port-forward rules.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  BoltStore                                                │
	│  - File: <dataDir>/nspawnd.db                             │
	│  - Format: B+tree with MVCC                               │
	│  - Transactions: ACID with fsync                          │
	│                                                            │
	│  Buckets                                                  │
	│    containers          (Container ID)                    │
	│    port_forward_rules  (Rule ID)                          │
	│                                                            │
	│  Transaction Management                                   │
	│  - Read: db.View()   - concurrent reads                  │
	│  - Write: db.Update() - serialized writes                 │
	│                                                            │
	│  JSON Serialization                                        │
	│  - Marshal/Unmarshal Go struct <-> JSON bytes             │
	└────────────────────────────────────────────────────────┘

Only authored fields are persisted: a ContainerRecord's observed
fields (Status, Addresses, Uptime) are tagged json:"-" and re-queried
live by the Lifecycle Controller on every read. The database never
survives as the source of truth for those — it only remembers what a
container was created with.

# Usage

	store, err := storage.NewBoltStore("/var/lib/nspawnd")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	err = store.CreateContainer(&types.ContainerRecord{
		ID:     "alpha",
		Distro: "debian:bookworm",
	})

	record, err := store.GetContainer("alpha")
	records, err := store.ListContainers()
	err = store.DeleteContainer("alpha")

	err = store.CreatePortForwardRule(&types.PortForwardRule{
		ID: "rule-1", HostPort: 2222, ContainerID: "alpha",
		ContainerPort: 22, Protocol: types.ProtoTCP,
	})
	rules, err := store.ListPortForwardRules()

# Error handling

GetContainer and GetPortForwardRule return an *errs.Error tagged
errs.NotFound when the key is absent; Delete is idempotent and never
errors on a missing key.

# See Also

  - pkg/types for the persisted entity definitions
  - pkg/registry for the ephemeral (non-persisted) job state
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
