package storage

import (
	"encoding/json"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/nspawnhost/nspawnd/pkg/errs"
	"github.com/nspawnhost/nspawnd/pkg/types"
)

var (
	bucketContainers = []byte("containers")
	bucketPortRules  = []byte("port_forward_rules")
)

// BoltStore implements Store using a single BoltDB file with one
// bucket per entity.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) dataDir/nspawnd.db and
// ensures both buckets exist.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "nspawnd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, errs.New(errs.HostError, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketContainers, bucketPortRules} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errs.New(errs.HostError, err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Container operations

func (s *BoltStore) CreateContainer(record *types.ContainerRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketContainers).Put([]byte(record.ID), data)
	})
}

func (s *BoltStore) GetContainer(id string) (*types.ContainerRecord, error) {
	var record types.ContainerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContainers).Get([]byte(id))
		if data == nil {
			return errs.Newf(errs.NotFound, "container not found: %s", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListContainers() ([]*types.ContainerRecord, error) {
	var records []*types.ContainerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).ForEach(func(k, v []byte) error {
			var record types.ContainerRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) DeleteContainer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).Delete([]byte(id))
	})
}

// Port-forward rule operations

func (s *BoltStore) CreatePortForwardRule(rule *types.PortForwardRule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rule)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPortRules).Put([]byte(rule.ID), data)
	})
}

func (s *BoltStore) GetPortForwardRule(id string) (*types.PortForwardRule, error) {
	var rule types.PortForwardRule
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPortRules).Get([]byte(id))
		if data == nil {
			return errs.Newf(errs.NotFound, "port-forward rule not found: %s", id)
		}
		return json.Unmarshal(data, &rule)
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *BoltStore) ListPortForwardRules() ([]*types.PortForwardRule, error) {
	var rules []*types.PortForwardRule
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPortRules).ForEach(func(k, v []byte) error {
			var rule types.PortForwardRule
			if err := json.Unmarshal(v, &rule); err != nil {
				return err
			}
			rules = append(rules, &rule)
			return nil
		})
	})
	return rules, err
}

func (s *BoltStore) DeletePortForwardRule(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPortRules).Delete([]byte(id))
	})
}
