package domain

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/dgraph-io/badger"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// badgerKeyPrefix is the namespace of stored domains inside the database
var badgerKeyPrefix = []byte("domain:")

// BadgerStore is a domain store backed by an embedded badger database,
// meant for single-binary deployments that have no SQL server around
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerStore returns a domain store with badger used as a backend
func NewBadgerStore(db *badger.DB) (Store, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}

	// the sequence hands out fresh domain ids across restarts
	seq, err := db.GetSequence([]byte("domain__idseq"), 16)
	if err != nil {
		return nil, errors.Wrap(err, "failed to obtain domain id sequence")
	}

	return &BadgerStore{db: db, seq: seq}, nil
}

//? BEGIN ->>>----------------------------------------------------------------
//? unexported utility functions

func badgerKey(id uint32) []byte {
	key := make([]byte, len(badgerKeyPrefix)+4)
	copy(key, badgerKeyPrefix)
	binary.BigEndian.PutUint32(key[len(badgerKeyPrefix):], id)

	return key
}

func (s *BadgerStore) put(txn *badger.Txn, d Domain) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "failed to marshal domain")
	}

	return txn.Set(badgerKey(d.ID), payload)
}

//? unexported utility functions
//? END ---<<<----------------------------------------------------------------

// CreateDomain stores a new domain and returns it with the assigned id
func (s *BadgerStore) CreateDomain(ctx context.Context, d Domain) (Domain, error) {
	// if an id is not 0, then it's not considered as new
	if d.ID != 0 {
		return d, ErrNonZeroID
	}

	newID, err := s.seq.Next()
	if err != nil {
		return d, errors.Wrap(err, "failed to obtain new domain id")
	}

	// sequences start at 0 but a zero id denotes "no domain"
	d.ID = uint32(newID) + 1

	err = s.db.Update(func(txn *badger.Txn) error {
		return s.put(txn, d)
	})

	if err != nil {
		return d, errors.Wrap(err, "failed to store new domain")
	}

	return d, nil
}

// UpdateDomain updates the mutable part of an existing domain
func (s *BadgerStore) UpdateDomain(ctx context.Context, d Domain) (Domain, error) {
	if d.ID == 0 {
		return d, ErrZeroDomainID
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		stored, err := s.getTx(txn, d.ID)
		if err != nil {
			return err
		}

		stored.Name = d.Name

		return s.put(txn, stored)
	})

	return d, err
}

// MoveDomain reparents a stored domain and repairs every descendant
// path by replacing the old subtree prefix with the new one
// NOTE: a badger transaction is atomic, a reader either sees the whole
// repaired subtree or none of it
func (s *BadgerStore) MoveDomain(ctx context.Context, d Domain, oldPrefix, newPrefix string) error {
	if d.ID == 0 {
		return ErrZeroDomainID
	}

	return s.db.Update(func(txn *badger.Txn) error {
		// the moved node itself
		if err := s.put(txn, d); err != nil {
			return err
		}

		// the descendants follow by prefix substitution
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		repaired := make([]Domain, 0)

		for it.Seek(badgerKeyPrefix); it.ValidForPrefix(badgerKeyPrefix); it.Next() {
			payload, err := it.Item().ValueCopy(nil)
			if err != nil {
				return errors.Wrap(err, "failed to read stored domain")
			}

			var n Domain
			if err := json.Unmarshal(payload, &n); err != nil {
				return errors.Wrap(err, "failed to unmarshal stored domain")
			}

			if n.ID != d.ID && strings.HasPrefix(n.Path, oldPrefix) {
				n.Path = newPrefix + n.Path[len(oldPrefix):]
				repaired = append(repaired, n)
			}
		}

		// writes are deferred until iteration is over, badger forbids
		// mutating keys under an open iterator
		for _, n := range repaired {
			if err := s.put(txn, n); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *BadgerStore) getTx(txn *badger.Txn, id uint32) (d Domain, err error) {
	item, err := txn.Get(badgerKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return d, ErrDomainNotFound
		}

		return d, err
	}

	payload, err := item.ValueCopy(nil)
	if err != nil {
		return d, errors.Wrap(err, "failed to read stored domain")
	}

	if err = json.Unmarshal(payload, &d); err != nil {
		return d, errors.Wrap(err, "failed to unmarshal stored domain")
	}

	return d, nil
}

func (s *BadgerStore) FetchDomainByID(ctx context.Context, id uint32) (d Domain, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		d, err = s.getTx(txn, id)
		return err
	})

	return d, err
}

func (s *BadgerStore) FetchAllDomains(ctx context.Context) (ds []Domain, err error) {
	ds = make([]Domain, 0)

	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(badgerKeyPrefix); it.ValidForPrefix(badgerKeyPrefix); it.Next() {
			payload, err := it.Item().ValueCopy(nil)
			if err != nil {
				return errors.Wrap(err, "failed to read stored domain")
			}

			var d Domain
			if err := json.Unmarshal(payload, &d); err != nil {
				return errors.Wrap(err, "failed to unmarshal stored domain")
			}

			ds = append(ds, d)
		}

		return nil
	})

	return ds, err
}

// DeleteDomains removes a batch of domains, typically a whole subtree
func (s *BadgerStore) DeleteDomains(ctx context.Context, ids []uint32) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(badgerKey(id)); err != nil {
				return errors.Wrapf(err, "failed to delete stored domain: %d", id)
			}
		}

		return nil
	})
}
