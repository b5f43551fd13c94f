// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		seq BIGSERIAL NOT NULL,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body JSONB NOT NULL,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS documents_collection_seq ON documents (collection, seq);
`

// Postgres keeps every collection in one JSONB table.
type Postgres struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgres wraps an open database handle. Call Migrate before use.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		db:     db,
		tracer: otel.Tracer("recordstore/store"),
	}
}

// Migrate creates the documents table if needed.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (p *Postgres) Collection(name string) Collection {
	return &pgCollection{db: p.db, name: name, tracer: p.tracer}
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

type pgCollection struct {
	db     *sql.DB
	name   string
	tracer trace.Tracer
}

func (c *pgCollection) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("collection", c.name))
	return c.tracer.Start(ctx, "store.postgres."+op, trace.WithAttributes(attrs...))
}

// where renders filter as SQL. Arguments are numbered after the collection
// name, which is always $1.
func (c *pgCollection) where(filter Filter) (string, []any, error) {
	if err := filter.validate(); err != nil {
		return "", nil, err
	}
	args := []any{c.name}
	sb := strings.Builder{}
	sb.WriteString("collection = $1")
	for _, clause := range filter {
		if len(clause) == 0 {
			continue
		}
		ors := make([]string, 0, len(clause))
		for _, cond := range clause {
			col := "body->>" + pq.QuoteLiteral(cond.Field)
			switch cond.Op {
			case ContainsFold:
				args = append(args, "%"+escapeLike(cond.Value)+"%")
				ors = append(ors, fmt.Sprintf("%s ILIKE $%d", col, len(args)))
			default:
				args = append(args, cond.Value)
				ors = append(ors, fmt.Sprintf("%s = $%d", col, len(args)))
			}
		}
		sb.WriteString(" AND (" + strings.Join(ors, " OR ") + ")")
	}
	return sb.String(), args, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (c *pgCollection) Find(ctx context.Context, filter Filter, projection []string, skip, limit int) ([]Document, error) {
	ctx, span := c.start(ctx, "find", attribute.Int("skip", skip), attribute.Int("limit", limit))
	defer span.End()

	if err := validProjection(projection); err != nil {
		return nil, err
	}
	cond, args, err := c.where(filter)
	if err != nil {
		return nil, err
	}
	query := "SELECT body FROM documents WHERE " + cond + " ORDER BY seq ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if skip > 0 {
		args = append(args, skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		docs = append(docs, Project(doc, projection))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	span.SetAttributes(attribute.Int("documents.found", len(docs)))
	return docs, nil
}

func (c *pgCollection) Count(ctx context.Context, filter Filter) (int, error) {
	ctx, span := c.start(ctx, "count")
	defer span.End()

	cond, args, err := c.where(filter)
	if err != nil {
		return 0, err
	}
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE "+cond, args...).Scan(&n); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (c *pgCollection) FindByID(ctx context.Context, id string) (Document, error) {
	ctx, span := c.start(ctx, "find_by_id", attribute.String("document.id", id))
	defer span.End()

	var raw []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = $1 AND id = $2", c.name, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get document: %w", err)
	}
	return decodeBody(raw)
}

func (c *pgCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	docs, err := c.Find(ctx, filter, nil, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (c *pgCollection) Insert(ctx context.Context, doc Document) (Document, error) {
	ctx, span := c.start(ctx, "insert")
	defer span.End()

	cp, err := clone(doc)
	if err != nil {
		return nil, err
	}
	if cp.ID() == "" {
		cp[IDField] = uuid.New().String()
	}
	body, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		"INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3)", c.name, cp.ID(), body)
	if err != nil {
		span.RecordError(err)
		return nil, translate(err, "insert document")
	}
	span.SetAttributes(attribute.String("document.id", cp.ID()))
	return cp, nil
}

func (c *pgCollection) InsertMany(ctx context.Context, docs []Document, opts InsertManyOptions) ([]Document, error) {
	ctx, span := c.start(ctx, "insert_many", attribute.Int("documents.count", len(docs)))
	defer span.End()

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

	span.SetAttributes(
		attribute.Int("documents.inserted", len(inserted)),
		attribute.Int("documents.failed", len(failures)),
	)
	if len(failures) > 0 {
		return inserted, &BulkError{Failures: failures}
	}
	return inserted, nil
}

func (c *pgCollection) UpdateByID(ctx context.Context, id string, patch Document) (Document, error) {
	ctx, span := c.start(ctx, "update_by_id", attribute.String("document.id", id))
	defer span.End()

	p, err := clone(patch)
	if err != nil {
		return nil, err
	}
	delete(p, IDField)
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}

	var raw []byte
	err = c.db.QueryRowContext(ctx, `
		UPDATE documents SET body = body || $3::jsonb
		WHERE collection = $1 AND id = $2
		RETURNING body
	`, c.name, id, body).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, translate(err, "update document")
	}
	return decodeBody(raw)
}

func (c *pgCollection) DeleteByID(ctx context.Context, id string) error {
	ctx, span := c.start(ctx, "delete_by_id", attribute.String("document.id", id))
	defer span.End()

	if _, err := c.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = $1 AND id = $2", c.name, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// indexName scopes an index to its collection, since Postgres index names
// are unique per schema.
func (c *pgCollection) indexName(name string) string {
	return c.name + "_" + name
}

func (c *pgCollection) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	ctx, span := c.start(ctx, "ensure_index", attribute.String("index.name", spec.Name))
	defer span.End()

	if spec.Name == "" || len(spec.Fields) == 0 {
		return errors.New("index needs a name and at least one field")
	}
	if err := validField(spec.Name); err != nil {
		return err
	}
	exprs := make([]string, len(spec.Fields))
	for i, f := range spec.Fields {
		if err := validField(f); err != nil {
			return err
		}
		exprs[i] = "(body->>" + pq.QuoteLiteral(f) + ")"
	}

	name := pq.QuoteIdentifier(c.indexName(spec.Name))
	scope := "WHERE collection = " + pq.QuoteLiteral(c.name)
	var ddl string
	switch spec.Kind {
	case IndexUnique:
		ddl = fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON documents (%s) %s",
			name, strings.Join(exprs, ", "), scope)
	case IndexText:
		parts := make([]string, len(exprs))
		for i, e := range exprs {
			parts[i] = "coalesce" + e[:len(e)-1] + ", '')"
		}
		ddl = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON documents USING GIN (to_tsvector('simple', %s)) %s",
			name, strings.Join(parts, " || ' ' || "), scope)
	default:
		ddl = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON documents (%s) %s",
			name, strings.Join(exprs, ", "), scope)
	}

	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		span.RecordError(err)
		return translate(err, "create index "+spec.Name)
	}
	return nil
}

func (c *pgCollection) IndexExists(ctx context.Context, name string) (bool, error) {
	ctx, span := c.start(ctx, "index_exists", attribute.String("index.name", name))
	defer span.End()

	var exists bool
	err := c.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = $1)", c.indexName(name)).Scan(&exists)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("check index: %w", err)
	}
	return exists, nil
}

func (c *pgCollection) DecrementField(ctx context.Context, id, field string, amount int) (Document, error) {
	ctx, span := c.start(ctx, "decrement_field",
		attribute.String("document.id", id),
		attribute.String("field", field),
		attribute.Int("amount", amount),
	)
	defer span.End()

	if err := validField(field); err != nil {
		return nil, err
	}

	var raw []byte
	err := c.db.QueryRowContext(ctx, `
		UPDATE documents
		SET body = jsonb_set(body, ARRAY[$3::text], to_jsonb((body->>$3::text)::numeric - $4::numeric))
		WHERE collection = $1 AND id = $2 AND (body->>$3::text)::numeric >= $4::numeric
		RETURNING body
	`, c.name, id, field, amount).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		if _, ferr := c.FindByID(ctx, id); ferr != nil {
			return nil, ferr
		}
		span.SetAttributes(attribute.Bool("condition.failed", true))
		return nil, ErrConditionFailed
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decrement field: %w", err)
	}
	return decodeBody(raw)
}

func decodeBody(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// translate maps unique violations to ErrDuplicate.
func translate(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w", op, err)
}
