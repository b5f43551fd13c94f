// internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Documents are deep-copied on the way in and
// out, so callers never share maps with the store.
type Memory struct {
	mu          sync.Mutex
	collections map[string]*memCollection
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

func (m *Memory) Collection(name string) Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{
			docs:    make(map[string]Document),
			indexes: make(map[string]IndexSpec),
		}
		m.collections[name] = c
	}
	return c
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

type memCollection struct {
	mu      sync.RWMutex
	order   []string
	docs    map[string]Document
	indexes map[string]IndexSpec
}

func (c *memCollection) Find(ctx context.Context, filter Filter, projection []string, skip, limit int) ([]Document, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	if err := validProjection(projection); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []Document{}
	matched := 0
	for _, id := range c.order {
		doc := c.docs[id]
		if !filter.Matches(doc) {
			continue
		}
		matched++
		if matched <= skip {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		cp, err := clone(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, Project(cp, projection))
	}
	return out, nil
}

func (c *memCollection) Count(ctx context.Context, filter Filter) (int, error) {
	if err := filter.validate(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, id := range c.order {
		if filter.Matches(c.docs[id]) {
			n++
		}
	}
	return n, nil
}

func (c *memCollection) FindByID(ctx context.Context, id string) (Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(doc)
}

func (c *memCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	docs, err := c.Find(ctx, filter, nil, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (c *memCollection) Insert(ctx context.Context, doc Document) (Document, error) {
	cp, err := clone(doc)
	if err != nil {
		return nil, err
	}
	if cp.ID() == "" {
		cp[IDField] = uuid.New().String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.docs[cp.ID()]; exists {
		return nil, fmt.Errorf("%w: id %s", ErrDuplicate, cp.ID())
	}
	if err := c.checkUnique(cp, ""); err != nil {
		return nil, err
	}
	c.docs[cp.ID()] = cp
	c.order = append(c.order, cp.ID())
	return clone(cp)
}

func (c *memCollection) InsertMany(ctx context.Context, docs []Document, opts InsertManyOptions) ([]Document, error) {
	inserted := make([]Document, 0, len(docs))
	var failures []BulkFailure
	for i, doc := range docs {
		out, err := c.Insert(ctx, doc)
		if err != nil {
			failures = append(failures, BulkFailure{Index: i, Err: err})
			if !opts.ContinueOnError {
				break
			}
			continue
		}
		inserted = append(inserted, out)
	}
	if len(failures) > 0 {
		return inserted, &BulkError{Failures: failures}
	}
	return inserted, nil
}

func (c *memCollection) UpdateByID(ctx context.Context, id string, patch Document) (Document, error) {
	p, err := clone(patch)
	if err != nil {
		return nil, err
	}
	delete(p, IDField)

	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := clone(current)
	if err != nil {
		return nil, err
	}
	for k, v := range p {
		next[k] = v
	}
	if err := c.checkUnique(next, id); err != nil {
		return nil, err
	}
	c.docs[id] = next
	return clone(next)
}

func (c *memCollection) DeleteByID(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; !ok {
		return nil
	}
	delete(c.docs, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func (c *memCollection) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	if spec.Name == "" || len(spec.Fields) == 0 {
		return fmt.Errorf("index needs a name and at least one field")
	}
	for _, f := range spec.Fields {
		if err := validField(f); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indexes[spec.Name]; ok {
		return nil
	}
	if spec.Kind == IndexUnique {
		seen := make(map[string]bool, len(c.docs))
		for _, id := range c.order {
			key := uniqueKey(c.docs[id], spec.Fields)
			if seen[key] {
				return fmt.Errorf("%w: cannot build unique index %s", ErrDuplicate, spec.Name)
			}
			seen[key] = true
		}
	}
	c.indexes[spec.Name] = spec
	return nil
}

func (c *memCollection) IndexExists(ctx context.Context, name string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.indexes[name]
	return ok, nil
}

func (c *memCollection) DecrementField(ctx context.Context, id, field string, amount int) (Document, error) {
	if err := validField(field); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	current, ok := toFloat(doc[field])
	if !ok {
		return nil, fmt.Errorf("%w: field %s is not numeric", ErrConditionFailed, field)
	}
	if current < float64(amount) {
		return nil, ErrConditionFailed
	}
	doc[field] = current - float64(amount)
	return clone(doc)
}

// checkUnique must be called with the write lock held. self is the id of the
// document being replaced, if any.
func (c *memCollection) checkUnique(doc Document, self string) error {
	for _, spec := range c.indexes {
		if spec.Kind != IndexUnique {
			continue
		}
		key := uniqueKey(doc, spec.Fields)
		for id, other := range c.docs {
			if id == self {
				continue
			}
			if uniqueKey(other, spec.Fields) == key {
				return fmt.Errorf("%w: index %s", ErrDuplicate, spec.Name)
			}
		}
	}
	return nil
}

func uniqueKey(doc Document, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprint(doc[f])
	}
	return strings.Join(parts, "\x00")
}
