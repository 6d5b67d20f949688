package storage

import (
	"github.com/nspawnhost/nspawnd/pkg/types"
)

// Store is the persistence interface for authored state: container
// records and port-forward rules. Observed state (status, addresses,
// uptime) never lives here — it is re-queried live by the Lifecycle
// Controller and Host Inspector.
type Store interface {
	// Containers
	CreateContainer(record *types.ContainerRecord) error
	GetContainer(id string) (*types.ContainerRecord, error)
	ListContainers() ([]*types.ContainerRecord, error)
	DeleteContainer(id string) error

	// Port-forward rules
	CreatePortForwardRule(rule *types.PortForwardRule) error
	GetPortForwardRule(id string) (*types.PortForwardRule, error)
	ListPortForwardRules() ([]*types.PortForwardRule, error)
	DeletePortForwardRule(id string) error

	// Utility
	Close() error
}
