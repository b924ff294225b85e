package schema

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/contractworker/internal/contract"
)

// LinksKeyword is the top-level keyword holding per-verb link predicates.
const LinksKeyword = "$$links"

// FormulaKeyword marks a computed property.
const FormulaKeyword = "$$formula"

// Schema is a compiled predicate.
type Schema struct {
	raw      map[string]any
	hash     string
	compiled *jsonschema.Schema
	links    map[string]*Schema
}

// Compile compiles a decoded JSON Schema. A nil or empty schema matches
// everything.
func Compile(raw map[string]any) (*Schema, error) {
	raw = contract.CloneMap(raw)
	hash, err := contract.ContentHash(contract.DomainSchema, raw)
	if err != nil {
		return nil, fmt.Errorf("hash schema: %w", err)
	}

	s := &Schema{raw: raw, hash: hash}

	body := raw
	if linksRaw, ok := raw[LinksKeyword]; ok {
		linkSchemas, ok := linksRaw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s must be an object of verb to schema, got %T", LinksKeyword, linksRaw)
		}
		s.links = make(map[string]*Schema, len(linkSchemas))
		for verb, subRaw := range linkSchemas {
			sub, ok := subRaw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s[%q] must be a schema object, got %T", LinksKeyword, verb, subRaw)
			}
			compiled, err := Compile(sub)
			if err != nil {
				return nil, fmt.Errorf("%s[%q]: %w", LinksKeyword, verb, err)
			}
			s.links[verb] = compiled
		}
		body = contract.CloneMap(raw)
		delete(body, LinksKeyword)
	}

	compiled, err := compileJSONSchema(hash, body)
	if err != nil {
		return nil, err
	}
	s.compiled = compiled
	return s, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(raw map[string]any) *Schema {
	s, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func compileJSONSchema(hash string, body map[string]any) (*jsonschema.Schema, error) {
	b, err := contract.MarshalCanonical(body)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	schemaURL := fmt.Sprintf("https://contractworker.local/schema/%s.json", hash)
	if err := c.AddResource(schemaURL, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return compiled, nil
}

// Raw returns a copy of the schema as given to Compile.
func (s *Schema) Raw() map[string]any {
	return contract.CloneMap(s.raw)
}

// Hash returns the content hash of the schema.
func (s *Schema) Hash() string {
	return s.hash
}

// LinkVerbs returns the verbs constrained by $$links, sorted.
func (s *Schema) LinkVerbs() []string {
	verbs := make([]string, 0, len(s.links))
	for v := range s.links {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs
}

// Validate checks a decoded JSON value against the schema body.
// $$links is not consulted; use MatchContract for link-aware matching.
func (s *Schema) Validate(v any) error {
	if err := s.compiled.Validate(contract.Normalize(v)); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &MismatchError{Detail: ve.Error(), Err: err}
		}
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}

// Matches reports whether v satisfies the schema body.
func (s *Schema) Matches(v any) bool {
	return s.Validate(v) == nil
}

// MatchContract evaluates the predicate against c, including $$links.
// The contract's Links must already be loaded for every verb in LinkVerbs.
func (s *Schema) MatchContract(c contract.Contract) bool {
	return s.CheckContract(c) == nil
}

// CheckContract is MatchContract reporting why the contract failed.
func (s *Schema) CheckContract(c contract.Contract) error {
	if err := s.Validate(c.Map()); err != nil {
		return err
	}
	for _, verb := range s.LinkVerbs() {
		sub := s.links[verb]
		matched := false
		for _, linked := range c.Links[verb] {
			if sub.MatchContract(linked) {
				matched = true
				break
			}
		}
		if !matched {
			return &MismatchError{Detail: fmt.Sprintf("no contract linked by %q matches", verb)}
		}
	}
	return nil
}

// MismatchError reports a value that does not satisfy a schema.
type MismatchError struct {
	Detail string
	Err    error
}

func (e *MismatchError) Error() string {
	return "schema mismatch: " + e.Detail
}

func (e *MismatchError) Unwrap() error {
	return e.Err
}

// Cache memoizes compiled schemas by content hash. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Schema
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Schema)}
}

// Compile returns the cached compiled form of raw, compiling on first use.
func (c *Cache) Compile(raw map[string]any) (*Schema, error) {
	hash, err := contract.ContentHash(contract.DomainSchema, contract.CloneMap(raw))
	if err != nil {
		return nil, fmt.Errorf("hash schema: %w", err)
	}

	c.mu.RLock()
	s, ok := c.entries[hash]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err = Compile(raw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[hash] = s
	c.mu.Unlock()
	return s, nil
}

// Len returns the number of cached schemas.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
