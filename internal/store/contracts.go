package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/contractworker/internal/contract"
)

// Edge is one materialized link: Verb from From to To, plus the inverse
// edge from To to From.
type Edge struct {
	LinkID  string
	Verb    string
	Inverse string
	From    string
	To      string
}

// Write is a batch committed in one transaction.
type Write struct {
	Inserts []contract.Contract
	Updates []contract.Contract
	Edges   []Edge
}

// Apply commits a batch atomically and then notifies subscribers.
//
// Inserts fail with ErrConflict on a duplicate id or (slug, version).
// Updates replace the live row by id and fail with ErrNotFound if it does
// not exist. Duplicate edges are ignored.
func (s *Store) Apply(ctx context.Context, w Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply: begin tx: %w", err)
	}
	defer tx.Rollback()

	changes := make([]Change, 0, len(w.Inserts)+len(w.Updates))

	for _, c := range w.Inserts {
		if err := insertContract(ctx, tx, c); err != nil {
			return fmt.Errorf("apply: insert %s: %w", c.Ref(), err)
		}
		changes = append(changes, Change{After: c.Clone()})
	}

	for _, c := range w.Updates {
		before, err := getByID(ctx, tx, c.ID)
		if err != nil {
			return fmt.Errorf("apply: update %s: %w", c.ID, err)
		}
		if err := updateContract(ctx, tx, c); err != nil {
			return fmt.Errorf("apply: update %s: %w", c.ID, err)
		}
		changes = append(changes, Change{Before: &before, After: c.Clone()})
	}

	for _, e := range w.Edges {
		if err := insertEdge(ctx, tx, e); err != nil {
			return fmt.Errorf("apply: link %s: %w", e.LinkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply: commit: %w", err)
	}

	for _, ch := range changes {
		s.publish(ch)
	}
	return nil
}

// Insert stores a new contract.
func (s *Store) Insert(ctx context.Context, c contract.Contract) error {
	return s.Apply(ctx, Write{Inserts: []contract.Contract{c}})
}

// Update replaces an existing contract by id.
func (s *Store) Update(ctx context.Context, c contract.Contract) error {
	return s.Apply(ctx, Write{Updates: []contract.Contract{c}})
}

// Upsert inserts c, or replaces the contract with the same (slug, version)
// keeping its id and created_at. Returns the stored contract.
func (s *Store) Upsert(ctx context.Context, c contract.Contract) (contract.Contract, error) {
	existing, err := s.GetBySlug(ctx, c.Ref())
	switch {
	case errors.Is(err, ErrNotFound):
		if err := s.Insert(ctx, c); err != nil {
			return contract.Contract{}, err
		}
		return c, nil
	case err != nil:
		return contract.Contract{}, err
	}

	c.ID = existing.ID
	c.CreatedAt = existing.CreatedAt
	if err := s.Update(ctx, c); err != nil {
		return contract.Contract{}, err
	}
	return c, nil
}

func insertContract(ctx context.Context, ex execer, c contract.Contract) error {
	if c.ID == "" || c.Slug == "" || c.Version == "" || c.Type == "" {
		return fmt.Errorf("id, slug, version and type are required")
	}
	row, err := toRow(c)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO contracts
		(id, slug, version, type, name, active, tags, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.id, row.slug, row.version, row.typ, row.name,
		row.active, row.tags, row.data, row.createdAt, row.updatedAt,
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func updateContract(ctx context.Context, ex execer, c contract.Contract) error {
	row, err := toRow(c)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, `
		UPDATE contracts
		SET slug = ?, version = ?, type = ?, name = ?, active = ?,
		    tags = ?, data = ?, updated_at = ?
		WHERE id = ?
	`,
		row.slug, row.version, row.typ, row.name, row.active,
		row.tags, row.data, row.updatedAt, row.id,
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID loads a contract by id. Links are not loaded.
func (s *Store) GetByID(ctx context.Context, id string) (contract.Contract, error) {
	c, err := getByID(ctx, s.db, id)
	if err != nil {
		return contract.Contract{}, fmt.Errorf("get %s: %w", id, err)
	}
	return c, nil
}

func getByID(ctx context.Context, ex execer, id string) (contract.Contract, error) {
	row := ex.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contract.Contract{}, ErrNotFound
	}
	return c, err
}

// GetBySlug loads a contract by "slug@version". A bare slug or
// "slug@latest" resolves to the highest semantic version.
func (s *Store) GetBySlug(ctx context.Context, ref string) (contract.Contract, error) {
	tr, err := contract.ParseTypeRef(ref)
	if err != nil {
		return contract.Contract{}, fmt.Errorf("get %s: %w", ref, err)
	}

	if !tr.IsLatest() {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+contractColumns+` FROM contracts WHERE slug = ? AND version = ?`,
			tr.Slug, tr.Version)
		c, err := scanContract(row)
		if errors.Is(err, sql.ErrNoRows) {
			return contract.Contract{}, fmt.Errorf("get %s: %w", ref, ErrNotFound)
		}
		if err != nil {
			return contract.Contract{}, fmt.Errorf("get %s: %w", ref, err)
		}
		return c, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE slug = ? ORDER BY id`, tr.Slug)
	if err != nil {
		return contract.Contract{}, fmt.Errorf("get %s: %w", ref, err)
	}
	all, err := scanContracts(rows)
	if err != nil {
		return contract.Contract{}, fmt.Errorf("get %s: %w", ref, err)
	}
	versions := make([]string, len(all))
	for i, c := range all {
		versions[i] = c.Version
	}
	idx := contract.HighestVersion(versions)
	if idx < 0 {
		return contract.Contract{}, fmt.Errorf("get %s: %w", ref, ErrNotFound)
	}
	return all[idx], nil
}
