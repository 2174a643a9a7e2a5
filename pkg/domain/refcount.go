package domain

import (
	"context"
	"fmt"
	"sync"

	"github.com/gocraft/dbr/v2"
)

// RefCounter reports how many external entities still reference any
// member of a candidate domain subtree; the entity records themselves
// (projects, tasks, user profiles) are owned by collaborating stores
// and are never touched here
type RefCounter interface {
	CountRefs(ctx context.Context, domainIDs []uint32) (uint64, error)
}

// refTables are the entity tables whose rows protect a domain
// from deletion while they point at it
var refTables = []string{"project", "task", "user_profile"}

// MySQLRefCounter counts referencing entities across the known
// entity tables of a shared mysql database
type MySQLRefCounter struct {
	db *dbr.Connection
}

// NewMySQLRefCounter returns a reference counter over mysql entity tables
func NewMySQLRefCounter(db *dbr.Connection) (RefCounter, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}

	return &MySQLRefCounter{db}, nil
}

// CountRefs sums live references against a set of domain ids
func (c *MySQLRefCounter) CountRefs(ctx context.Context, domainIDs []uint32) (total uint64, err error) {
	if len(domainIDs) == 0 {
		return 0, nil
	}

	sess := c.db.NewSession(nil)

	for _, table := range refTables {
		var count uint64

		err = sess.
			SelectBySql(fmt.Sprintf("SELECT COUNT(*) FROM `%s` WHERE domain_id IN ?", table), domainIDs).
			LoadOneContext(ctx, &count)

		if err != nil {
			return 0, err
		}

		total += count
	}

	return total, nil
}

// MemoryRefCounter tracks entity references in memory,
// used for testing and for embedded deployments
type MemoryRefCounter struct {
	refs map[uint32]uint64

	sync.RWMutex
}

// NewMemoryRefCounter returns an initialized in-memory reference counter
func NewMemoryRefCounter() *MemoryRefCounter {
	return &MemoryRefCounter{
		refs: make(map[uint32]uint64),
	}
}

// Attach registers an entity reference against a domain
func (c *MemoryRefCounter) Attach(domainID uint32) {
	c.Lock()
	c.refs[domainID]++
	c.Unlock()
}

// Detach drops a previously registered entity reference
func (c *MemoryRefCounter) Detach(domainID uint32) {
	c.Lock()
	if c.refs[domainID] > 0 {
		c.refs[domainID]--
	}
	c.Unlock()
}

// CountRefs sums live references against a set of domain ids
func (c *MemoryRefCounter) CountRefs(ctx context.Context, domainIDs []uint32) (total uint64, err error) {
	c.RLock()
	for _, id := range domainIDs {
		total += c.refs[id]
	}
	c.RUnlock()

	return total, nil
}
