// internal/store/store.go

// Package store is a small document-store abstraction: named collections of
// JSON documents with filtered queries, secondary indexes and single-document
// atomic updates. Memory and Postgres (JSONB) implementations are provided.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrDuplicate       = errors.New("duplicate key")
	ErrConditionFailed = errors.New("update condition not met")
	ErrInvalidField    = errors.New("invalid field name")
)

// IDField is the key holding a document's identity.
const IDField = "id"

// Document is a decoded JSON object.
type Document map[string]any

// ID returns the document identity, or "" when unset.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Op is a comparison operator for a Condition.
type Op int

const (
	// Equals matches the exact string form of the field.
	Equals Op = iota
	// ContainsFold matches a case-insensitive substring of the field.
	ContainsFold
)

// Condition compares one field against a literal.
type Condition struct {
	Field string
	Op    Op
	Value string
}

// Clause is satisfied when any of its conditions holds.
type Clause []Condition

// Filter is satisfied when every clause holds. The empty filter matches all.
type Filter []Clause

// Where is shorthand for a single-condition clause.
func Where(field string, op Op, value string) Clause {
	return Clause{{Field: field, Op: op, Value: value}}
}

// AnyOf builds a clause matching value against several fields.
func AnyOf(op Op, value string, fields ...string) Clause {
	c := make(Clause, 0, len(fields))
	for _, f := range fields {
		c = append(c, Condition{Field: f, Op: op, Value: value})
	}
	return c
}

// IndexKind distinguishes index flavours.
type IndexKind int

const (
	IndexRegular IndexKind = iota
	IndexUnique
	IndexText
)

// IndexSpec describes a secondary index over one or more fields.
type IndexSpec struct {
	Name   string
	Fields []string
	Kind   IndexKind
}

// InsertManyOptions controls bulk insert behaviour.
type InsertManyOptions struct {
	// ContinueOnError keeps inserting after a failed document.
	ContinueOnError bool
}

// BulkFailure reports one document that could not be inserted.
type BulkFailure struct {
	Index int
	Err   error
}

// BulkError is returned by InsertMany when some documents failed.
type BulkError struct {
	Failures []BulkFailure
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("%d documents failed to insert; first: %v", len(e.Failures), e.Failures[0].Err)
}

// Unwrap exposes each failure so errors.Is(err, ErrDuplicate) works.
func (e *BulkError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Collection is a set of documents sharing indexes.
// Implementations must be safe for concurrent use.
type Collection interface {
	Find(ctx context.Context, filter Filter, projection []string, skip, limit int) ([]Document, error)
	Count(ctx context.Context, filter Filter) (int, error)
	FindByID(ctx context.Context, id string) (Document, error)
	FindOne(ctx context.Context, filter Filter) (Document, error)
	Insert(ctx context.Context, doc Document) (Document, error)
	InsertMany(ctx context.Context, docs []Document, opts InsertManyOptions) ([]Document, error)
	UpdateByID(ctx context.Context, id string, patch Document) (Document, error)
	DeleteByID(ctx context.Context, id string) error
	EnsureIndex(ctx context.Context, spec IndexSpec) error
	IndexExists(ctx context.Context, name string) (bool, error)
	// DecrementField subtracts amount from a numeric field only if the
	// current value is at least amount. A negative amount adds to the field.
	DecrementField(ctx context.Context, id, field string, amount int) (Document, error)
}

// Store hands out collections by name.
type Store interface {
	Collection(name string) Collection
	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error
	Close() error
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validField(name string) error {
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidField, name)
	}
	return nil
}

func validProjection(fields []string) error {
	for _, f := range fields {
		if err := validField(f); err != nil {
			return err
		}
	}
	return nil
}

func (f Filter) validate() error {
	for _, clause := range f {
		for _, c := range clause {
			if err := validField(c.Field); err != nil {
				return err
			}
		}
	}
	return nil
}

// Matches reports whether doc satisfies the filter.
func (f Filter) Matches(doc Document) bool {
	for _, clause := range f {
		if !clause.matches(doc) {
			return false
		}
	}
	return true
}

func (c Clause) matches(doc Document) bool {
	for _, cond := range c {
		if cond.matches(doc) {
			return true
		}
	}
	return false
}

func (c Condition) matches(doc Document) bool {
	v, ok := doc[c.Field]
	if !ok || v == nil {
		return false
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	switch c.Op {
	case ContainsFold:
		return strings.Contains(strings.ToLower(s), strings.ToLower(c.Value))
	default:
		return s == c.Value
	}
}

// Project keeps only the listed fields plus the identity.
// An empty projection returns doc unchanged.
func Project(doc Document, fields []string) Document {
	if len(fields) == 0 {
		return doc
	}
	out := Document{IDField: doc[IDField]}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Encode converts a struct into a Document through its JSON form.
func Encode(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode fills v from a Document through its JSON form.
func Decode(doc Document, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

func clone(doc Document) (Document, error) {
	return Encode(doc)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
