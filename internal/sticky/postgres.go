package sticky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS sticky_bucket_assignments (
	attribute_name  TEXT        NOT NULL,
	attribute_value TEXT        NOT NULL,
	assignments     JSONB       NOT NULL DEFAULT '{}'::jsonb,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (attribute_name, attribute_value)
)`

	selectDocumentSQL = `SELECT assignments FROM sticky_bucket_assignments
WHERE attribute_name = $1 AND attribute_value = $2`

	upsertDocumentSQL = `INSERT INTO sticky_bucket_assignments (attribute_name, attribute_value, assignments, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (attribute_name, attribute_value)
DO UPDATE SET assignments = EXCLUDED.assignments, updated_at = now()`
)

// pgxQuerier is the subset of *pgxpool.Pool used by PostgresService.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresService is a PostgreSQL implementation of the Service interface.
// Each document is one row keyed by (attribute_name, attribute_value) with
// the assignments in a JSONB column.
type PostgresService struct {
	pool *pgxpool.Pool
	db   pgxQuerier
}

// NewPostgresService creates a PostgreSQL-backed service. Call EnsureSchema
// once before first use.
func NewPostgresService(pool *pgxpool.Pool) *PostgresService {
	return &PostgresService{pool: pool, db: pool}
}

// EnsureSchema creates the assignments table if it does not exist.
func (p *PostgresService) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create sticky bucket table: %w", err)
	}
	return nil
}

// GetAssignments retrieves one document from the database.
func (p *PostgresService) GetAssignments(ctx context.Context, attributeName, attributeValue string) (*Document, error) {
	var raw []byte
	err := p.db.QueryRow(ctx, selectDocumentSQL, attributeName, attributeValue).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeDocument(attributeName, attributeValue, raw)
}

// SaveAssignments upserts a document.
func (p *PostgresService) SaveAssignments(ctx context.Context, doc Document) error {
	raw, err := json.Marshal(doc.Assignments)
	if err != nil {
		return err
	}
	if _, err := p.db.Exec(ctx, upsertDocumentSQL, doc.AttributeName, doc.AttributeValue, raw); err != nil {
		return fmt.Errorf("save sticky bucket document %s: %w", doc.Key(), err)
	}
	return nil
}

// GetAllAssignments fetches every requested document in a single batch.
func (p *PostgresService) GetAllAssignments(ctx context.Context, attributes map[string]string) (Docs, error) {
	type pair struct{ name, value string }
	pairs := make([]pair, 0, len(attributes))
	batch := &pgx.Batch{}
	for name, val := range attributes {
		pairs = append(pairs, pair{name, val})
		batch.Queue(selectDocumentSQL, name, val)
	}

	result := make(Docs, len(pairs))
	if len(pairs) == 0 {
		return result, nil
	}

	br := p.db.SendBatch(ctx, batch)
	defer br.Close()

	for _, pr := range pairs {
		var raw []byte
		if err := br.QueryRow().Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, err
		}
		doc, err := decodeDocument(pr.name, pr.value, raw)
		if err != nil {
			return nil, err
		}
		result[doc.Key()] = *doc
	}
	return result, nil
}

// Close closes the underlying pool.
func (p *PostgresService) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func decodeDocument(attributeName, attributeValue string, raw []byte) (*Document, error) {
	assignments := map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &assignments); err != nil {
			return nil, fmt.Errorf("decode sticky bucket assignments: %w", err)
		}
	}
	return &Document{
		AttributeName:  attributeName,
		AttributeValue: attributeValue,
		Assignments:    assignments,
	}, nil
}
