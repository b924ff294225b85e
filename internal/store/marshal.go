package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/querysql"
)

const contractColumns = querysql.Columns

// contractColumnsAs prefixes each contract column with a table alias.
func contractColumnsAs(alias string) string {
	return alias + ".id, " + alias + ".slug, " + alias + ".version, " + alias + ".type, " +
		alias + ".name, " + alias + ".active, " + alias + ".tags, " + alias + ".data, " +
		alias + ".created_at, " + alias + ".updated_at"
}

type scanner interface {
	Scan(dest ...any) error
}

// contractRow holds the column values bound for an insert or update.
type contractRow struct {
	id, slug, version, typ, name string
	active                       int
	tags, data                   string
	createdAt                    string
	updatedAt                    sql.NullString
}

func toRow(c contract.Contract) (contractRow, error) {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return contractRow{}, fmt.Errorf("marshal tags: %w", err)
	}
	data := c.Data
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := contract.MarshalCanonical(data)
	if err != nil {
		return contractRow{}, fmt.Errorf("marshal data: %w", err)
	}

	row := contractRow{
		id:        c.ID,
		slug:      c.Slug,
		version:   c.Version,
		typ:       c.Type,
		name:      c.Name,
		tags:      string(tagsJSON),
		data:      string(dataJSON),
		createdAt: contract.FormatTime(c.CreatedAt),
	}
	if c.Active {
		row.active = 1
	}
	if c.UpdatedAt != nil {
		row.updatedAt = sql.NullString{String: contract.FormatTime(*c.UpdatedAt), Valid: true}
	}
	return row, nil
}

// scanContract reads the contract columns, after any extra leading
// destinations supplied by the caller.
func scanContract(sc scanner, extra ...any) (contract.Contract, error) {
	var (
		c         contract.Contract
		active    int
		tags      string
		data      string
		createdAt string
		updatedAt sql.NullString
	)
	dest := append(extra, &c.ID, &c.Slug, &c.Version, &c.Type, &c.Name, &active, &tags, &data, &createdAt, &updatedAt)
	if err := sc.Scan(dest...); err != nil {
		return contract.Contract{}, err
	}

	c.Active = active != 0
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return contract.Contract{}, fmt.Errorf("unmarshal tags of %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(data), &c.Data); err != nil {
		return contract.Contract{}, fmt.Errorf("unmarshal data of %s: %w", c.ID, err)
	}
	if c.Data == nil {
		c.Data = map[string]any{}
	}

	t, err := contract.ParseTime(createdAt)
	if err != nil {
		return contract.Contract{}, fmt.Errorf("parse created_at of %s: %w", c.ID, err)
	}
	c.CreatedAt = t
	if updatedAt.Valid {
		u, err := contract.ParseTime(updatedAt.String)
		if err != nil {
			return contract.Contract{}, fmt.Errorf("parse updated_at of %s: %w", c.ID, err)
		}
		c.UpdatedAt = &u
	}
	return c, nil
}

func scanContracts(rows *sql.Rows) ([]contract.Contract, error) {
	defer rows.Close()
	var out []contract.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
