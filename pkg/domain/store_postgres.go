package domain

import (
	"context"

	"github.com/jackc/pgx"
	"github.com/pkg/errors"
)

// PostgreSQLStore is a domain store backed by postgres
type PostgreSQLStore struct {
	db *pgx.Conn
}

// NewPostgreSQLStore returns a domain store with postgres used as a backend
func NewPostgreSQLStore(db *pgx.Conn) (Store, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}

	return &PostgreSQLStore{db}, nil
}

// CreateDomain stores a new domain and returns it with the assigned id
func (s *PostgreSQLStore) CreateDomain(ctx context.Context, d Domain) (Domain, error) {
	if d.ID != 0 {
		return d, ErrNonZeroID
	}

	q := `INSERT INTO "domain"(parent_id, name, path) VALUES($1, $2, $3) RETURNING id`

	err := s.db.QueryRowEx(ctx, q, nil, d.ParentID, d.Name, d.Path).Scan(&d.ID)
	if err != nil {
		if pgerr, ok := err.(pgx.PgError); ok && pgerr.Code == "23505" {
			return d, ErrDuplicateDomain
		}

		return d, err
	}

	return d, nil
}

// UpdateDomain updates the mutable part of an existing domain
func (s *PostgreSQLStore) UpdateDomain(ctx context.Context, d Domain) (Domain, error) {
	if d.ID == 0 {
		return d, ErrZeroDomainID
	}

	tag, err := s.db.ExecEx(ctx, `UPDATE "domain" SET name = $1 WHERE id = $2`, nil, d.Name, d.ID)
	if err != nil {
		return d, err
	}

	// if no rows were affected then returning this as a non-critical error
	if tag.RowsAffected() == 0 {
		return d, ErrNothingChanged
	}

	return d, nil
}

// MoveDomain reparents a stored domain and repairs every descendant
// path by replacing the old subtree prefix with the new one
func (s *PostgreSQLStore) MoveDomain(ctx context.Context, d Domain, oldPrefix, newPrefix string) error {
	if d.ID == 0 {
		return ErrZeroDomainID
	}

	tx, err := s.db.BeginEx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin database transaction")
	}
	defer tx.Rollback()

	// the moved node itself
	if _, err = tx.ExecEx(
		ctx,
		`UPDATE "domain" SET parent_id = $1, path = $2 WHERE id = $3`,
		nil,
		d.ParentID, d.Path, d.ID,
	); err != nil {
		return err
	}

	// the descendants follow by prefix substitution
	// NOTE: prefixes consist of digits and slashes only, no LIKE escaping needed
	if _, err = tx.ExecEx(
		ctx,
		`UPDATE "domain" SET path = $1 || substring(path from $2) WHERE path LIKE $3`,
		nil,
		newPrefix, len(oldPrefix)+1, oldPrefix+"%",
	); err != nil {
		return err
	}

	if err := tx.CommitEx(ctx); err != nil {
		return errors.Wrapf(err, "failed to commit database transaction")
	}

	return nil
}

func (s *PostgreSQLStore) FetchDomainByID(ctx context.Context, id uint32) (d Domain, err error) {
	q := `SELECT id, parent_id, name, path FROM "domain" WHERE id = $1 LIMIT 1`

	err = s.db.QueryRowEx(ctx, q, nil, id).Scan(&d.ID, &d.ParentID, &d.Name, &d.Path)
	if err != nil {
		if err == pgx.ErrNoRows {
			return d, ErrDomainNotFound
		}

		return d, err
	}

	return d, nil
}

func (s *PostgreSQLStore) FetchAllDomains(ctx context.Context) (ds []Domain, err error) {
	rows, err := s.db.QueryEx(ctx, `SELECT id, parent_id, name, path FROM "domain" ORDER BY path ASC, id ASC`, nil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ds = make([]Domain, 0)

	for rows.Next() {
		var d Domain
		if err := rows.Scan(&d.ID, &d.ParentID, &d.Name, &d.Path); err != nil {
			return nil, err
		}

		ds = append(ds, d)
	}

	return ds, rows.Err()
}

// DeleteDomains removes a batch of domains, typically a whole subtree
func (s *PostgreSQLStore) DeleteDomains(ctx context.Context, ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}

	// pgx expands int arrays natively via ANY
	converted := make([]int64, 0, len(ids))
	for _, id := range ids {
		converted = append(converted, int64(id))
	}

	_, err := s.db.ExecEx(ctx, `DELETE FROM "domain" WHERE id = ANY($1)`, nil, converted)

	return err
}
