package util

import (
	"fmt"

	"github.com/dgraph-io/badger"
)

// CreateRandomBadgerDB opens a throwaway badger database under /tmp,
// used by embedded-store tests
func CreateRandomBadgerDB() (*badger.DB, string, error) {
	dbDir := fmt.Sprintf("/tmp/testdb-%s.dat", NewULID())

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, "", err
	}

	return db, dbDir, nil
}
