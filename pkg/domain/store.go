package domain

import (
	"context"

	"github.com/go-sql-driver/mysql"
	"github.com/gocraft/dbr/v2"
	"github.com/pkg/errors"
)

// Store describes a storage contract for domains specifically
// NOTE: MoveDomain must persist the node along with the path repair of
// its whole former subtree as one atomic unit
type Store interface {
	CreateDomain(ctx context.Context, d Domain) (Domain, error)
	UpdateDomain(ctx context.Context, d Domain) (Domain, error)
	MoveDomain(ctx context.Context, d Domain, oldPrefix, newPrefix string) error
	FetchDomainByID(ctx context.Context, id uint32) (Domain, error)
	FetchAllDomains(ctx context.Context) ([]Domain, error)
	DeleteDomains(ctx context.Context, ids []uint32) error
}

// MySQLStore is the default domain store implementation
type MySQLStore struct {
	db *dbr.Connection
}

// NewMySQLStore returns a domain store with mysql used as a backend
func NewMySQLStore(db *dbr.Connection) (Store, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}

	return &MySQLStore{db}, nil
}

//? BEGIN ->>>----------------------------------------------------------------
//? unexported utility functions

func (s *MySQLStore) get(ctx context.Context, q string, args ...interface{}) (d Domain, err error) {
	err = s.db.NewSession(nil).
		SelectBySql(q, args...).
		LoadOneContext(ctx, &d)

	if err != nil {
		if err == dbr.ErrNotFound {
			return d, ErrDomainNotFound
		}

		return d, err
	}

	return d, nil
}

func (s *MySQLStore) getMany(ctx context.Context, q string, args ...interface{}) (ds []Domain, err error) {
	if _, err := s.db.NewSession(nil).SelectBySql(q, args...).LoadContext(ctx, &ds); err != nil {
		return nil, err
	}

	return ds, nil
}

//? unexported utility functions
//? END ---<<<----------------------------------------------------------------

// CreateDomain stores a new domain and returns it with the assigned id
func (s *MySQLStore) CreateDomain(ctx context.Context, d Domain) (Domain, error) {
	// if an id is not 0, then it's not considered as new
	if d.ID != 0 {
		return d, ErrNonZeroID
	}

	res, err := s.db.NewSession(nil).
		InsertInto("domain").
		Columns("parent_id", "name", "path").
		Record(&d).
		ExecContext(ctx)

	// error handling
	if err != nil {
		if myerr, ok := err.(*mysql.MySQLError); ok && myerr.Number == 1062 {
			return d, ErrDuplicateDomain
		}

		return d, err
	}

	// dbr assigns int64 ids only, thus obtaining the id by hand
	newID, err := res.LastInsertId()
	if err != nil {
		return d, err
	}

	d.ID = uint32(newID)

	return d, nil
}

// UpdateDomain updates an existing domain
// NOTE: only the name is mutable in place, the path is maintained
// exclusively by MoveDomain
func (s *MySQLStore) UpdateDomain(ctx context.Context, d Domain) (Domain, error) {
	if d.ID == 0 {
		return d, ErrZeroDomainID
	}

	updates := map[string]interface{}{
		"name": d.Name,
	}

	// just executing query but not refetching the updated version
	res, err := s.db.NewSession(nil).Update("domain").SetMap(updates).Where("id = ?", d.ID).ExecContext(ctx)
	if err != nil {
		return d, err
	}

	// checking whether anything was updated at all
	ra, err := res.RowsAffected()
	if err != nil {
		return d, err
	}

	// if no rows were affected then returning this as a non-critical error
	if ra == 0 {
		return d, ErrNothingChanged
	}

	return d, nil
}

// MoveDomain reparents a stored domain and repairs every descendant
// path by replacing the old subtree prefix with the new one
func (s *MySQLStore) MoveDomain(ctx context.Context, d Domain, oldPrefix, newPrefix string) error {
	if d.ID == 0 {
		return ErrZeroDomainID
	}

	sess := s.db.NewSession(nil)

	// beginning transaction
	tx, err := sess.Begin()
	if err != nil {
		return err
	}
	defer tx.RollbackUnlessCommitted()

	// the moved node itself
	if _, err = tx.Update("domain").
		SetMap(map[string]interface{}{
			"parent_id": d.ParentID,
			"path":      d.Path,
		}).
		Where("id = ?", d.ID).
		ExecContext(ctx); err != nil {
		return err
	}

	// the descendants follow by prefix substitution
	// NOTE: prefixes consist of digits and slashes only, no LIKE escaping needed
	if _, err = tx.UpdateBySql(
		"UPDATE `domain` SET path = CONCAT(?, SUBSTRING(path, ?)) WHERE path LIKE ?",
		newPrefix,
		len(oldPrefix)+1,
		oldPrefix+"%",
	).ExecContext(ctx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit database transaction")
	}

	return nil
}

func (s *MySQLStore) FetchDomainByID(ctx context.Context, id uint32) (Domain, error) {
	return s.get(ctx, "SELECT * FROM `domain` WHERE id = ? LIMIT 1", id)
}

func (s *MySQLStore) FetchAllDomains(ctx context.Context) ([]Domain, error) {
	return s.getMany(ctx, "SELECT * FROM `domain` ORDER BY path ASC, id ASC")
}

// DeleteDomains removes a batch of domains, typically a whole subtree
func (s *MySQLStore) DeleteDomains(ctx context.Context, ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}

	sess := s.db.NewSession(nil)

	// beginning transaction
	tx, err := sess.Begin()
	if err != nil {
		return err
	}
	defer tx.RollbackUnlessCommitted()

	if _, err = tx.DeleteFrom("domain").Where("id IN ?", ids).ExecContext(ctx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit database transaction")
	}

	return nil
}
