package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/querysql"
	"github.com/roach88/contractworker/internal/schema"
)

// QueryOptions bounds a query.
type QueryOptions struct {
	// Limit caps the number of matches returned. Zero means unbounded.
	Limit int
}

// Query returns every contract satisfying the filter schema, ordered by
// creation time.
//
// The indexable part of the filter (type, id, slug, active) is pushed down
// to SQL; every candidate row is then checked against the full predicate,
// with links loaded for the verbs the filter constrains.
func (s *Store) Query(ctx context.Context, filter map[string]any, opts QueryOptions) ([]contract.Contract, error) {
	pred, err := s.schemas.Compile(filter)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	sqlStr, params, err := querysql.NewSQLCompiler().Compile(querysql.FromHints(schema.ExtractHints(filter)))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, params...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	candidates, err := scanContracts(rows)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	verbs := pred.LinkVerbs()
	var out []contract.Contract
	for _, c := range candidates {
		if len(verbs) > 0 {
			if err := s.LoadLinks(ctx, &c, verbs...); err != nil {
				return nil, fmt.Errorf("query: %w", err)
			}
		}
		if !pred.MatchContract(c) {
			continue
		}
		out = append(out, c)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// LoadLinks populates c.Links with the active contracts linked from c.
// With no verbs every verb is loaded; otherwise only the given verbs, each
// present in the map even when empty.
func (s *Store) LoadLinks(ctx context.Context, c *contract.Contract, verbs ...string) error {
	query := `
		SELECT l.verb, ` + contractColumnsAs("c") + `
		FROM links l
		JOIN contracts c ON c.id = l.to_id
		WHERE l.from_id = ? AND c.active = 1`
	args := []any{c.ID}
	if len(verbs) > 0 {
		query += ` AND l.verb IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(verbs)), ", ") + `)`
		for _, v := range verbs {
			args = append(args, v)
		}
	}
	query += ` ORDER BY l.verb, c.created_at, c.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("load links of %s: %w", c.ID, err)
	}
	defer rows.Close()

	links := make(map[string][]contract.Contract, len(verbs))
	for _, v := range verbs {
		links[v] = []contract.Contract{}
	}
	for rows.Next() {
		var verb string
		linked, err := scanContract(rows, &verb)
		if err != nil {
			return fmt.Errorf("load links of %s: %w", c.ID, err)
		}
		links[verb] = append(links[verb], linked)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load links of %s: %w", c.ID, err)
	}
	c.Links = links
	return nil
}

// LinkedIDs returns the ids linked from id by verb, including inactive ones.
func (s *Store) LinkedIDs(ctx context.Context, id, verb string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT to_id FROM links WHERE from_id = ? AND verb = ? ORDER BY to_id`, id, verb)
	if err != nil {
		return nil, fmt.Errorf("linked ids of %s: %w", id, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var to string
		if err := rows.Scan(&to); err != nil {
			return nil, fmt.Errorf("linked ids of %s: %w", id, err)
		}
		out = append(out, to)
	}
	return out, rows.Err()
}

func insertEdge(ctx context.Context, ex execer, e Edge) error {
	if e.Verb == "" || e.Inverse == "" {
		return fmt.Errorf("link verb and inverse are required")
	}
	for _, row := range [][3]string{{e.Verb, e.From, e.To}, {e.Inverse, e.To, e.From}} {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO links (link_id, verb, from_id, to_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (verb, from_id, to_id) DO NOTHING
		`, e.LinkID, row[0], row[1], row[2]); err != nil {
			return err
		}
	}
	return nil
}
