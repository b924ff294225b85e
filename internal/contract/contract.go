package contract

import (
	"encoding/json"
	"fmt"
	"time"
)

// Contract is the universal document type.
//
// Contracts are immutable-by-replacement: deletion flips Active to false and
// every mutation appends an immutable event next to the updated live row.
type Contract struct {
	ID        string         `json:"id"`
	Slug      string         `json:"slug"`
	Version   string         `json:"version"`
	Type      string         `json:"type"`
	Name      string         `json:"name,omitempty"`
	Active    bool           `json:"active"`
	Tags      []string       `json:"tags"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt *time.Time     `json:"updated_at"`

	// Links is the materialized view of graph edges keyed by verb.
	// Linked contracts are shallow: their own Links are never populated.
	Links map[string][]Contract `json:"links,omitempty"`
}

// Ref returns the "<slug>@<version>" reference of this contract.
func (c Contract) Ref() string {
	return c.Slug + "@" + c.Version
}

// TypeRef parses the contract's type reference.
func (c Contract) TypeRef() (TypeRef, error) {
	return ParseTypeRef(c.Type)
}

// Clone returns a deep copy. Data is copied through JSON so nested maps and
// slices are never shared between the copy and the original.
func (c Contract) Clone() Contract {
	out := c
	out.Tags = append([]string(nil), c.Tags...)
	out.Data = CloneMap(c.Data)
	if c.UpdatedAt != nil {
		t := *c.UpdatedAt
		out.UpdatedAt = &t
	}
	if c.Links != nil {
		out.Links = make(map[string][]Contract, len(c.Links))
		for verb, linked := range c.Links {
			cp := make([]Contract, len(linked))
			for i, l := range linked {
				cp[i] = l.Clone()
			}
			out.Links[verb] = cp
		}
	}
	return out
}

// Map renders the contract as a decoded JSON object, the form seen by
// template expressions, formulas and schema predicates.
//
// Timestamps are RFC 3339 with millisecond precision. Links are always
// present (possibly empty) so expressions can index them without guards.
func (c Contract) Map() map[string]any {
	m := map[string]any{
		"id":         c.ID,
		"slug":       c.Slug,
		"version":    c.Version,
		"type":       c.Type,
		"active":     c.Active,
		"tags":       stringsToAny(c.Tags),
		"data":       Normalize(c.Data),
		"created_at": FormatTime(c.CreatedAt),
		"updated_at": nil,
	}
	if c.Name != "" {
		m["name"] = c.Name
	}
	if c.UpdatedAt != nil {
		m["updated_at"] = FormatTime(*c.UpdatedAt)
	}
	if m["data"] == nil {
		m["data"] = map[string]any{}
	}

	links := make(map[string]any, len(c.Links))
	for verb, linked := range c.Links {
		arr := make([]any, len(linked))
		for i, l := range linked {
			arr[i] = l.Map()
		}
		links[verb] = arr
	}
	m["links"] = links
	return m
}

// FromMap builds a contract from its decoded JSON object form.
// Unknown top-level keys are ignored; links are not read back.
func FromMap(m map[string]any) (Contract, error) {
	var c Contract
	c.ID, _ = m["id"].(string)
	c.Slug, _ = m["slug"].(string)
	c.Version, _ = m["version"].(string)
	c.Type, _ = m["type"].(string)
	c.Name, _ = m["name"].(string)
	if active, ok := m["active"].(bool); ok {
		c.Active = active
	}
	if tags, ok := m["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				c.Tags = append(c.Tags, s)
			}
		}
	}
	switch data := m["data"].(type) {
	case map[string]any:
		c.Data = CloneMap(data)
	case nil:
		c.Data = map[string]any{}
	default:
		return Contract{}, fmt.Errorf("contract data must be an object, got %T", data)
	}
	if s, ok := m["created_at"].(string); ok && s != "" {
		t, err := ParseTime(s)
		if err != nil {
			return Contract{}, fmt.Errorf("created_at: %w", err)
		}
		c.CreatedAt = t
	}
	if s, ok := m["updated_at"].(string); ok && s != "" {
		t, err := ParseTime(s)
		if err != nil {
			return Contract{}, fmt.Errorf("updated_at: %w", err)
		}
		c.UpdatedAt = &t
	}
	return c, nil
}

// CloneMap deep-copies a decoded JSON object.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out, _ := Normalize(m).(map[string]any)
	if out == nil {
		return map[string]any{}
	}
	return out
}

// Normalize converts an arbitrary Go value into decoded-JSON form
// (map[string]any, []any, string, float64, bool, nil) by a JSON round trip.
// Values that cannot be marshaled normalize to nil.
func Normalize(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// TimeLayout is the persisted timestamp format.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts RFC 3339 timestamps with or without fractional seconds.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
