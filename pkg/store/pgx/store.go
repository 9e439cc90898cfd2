package pgx

import (
	"context"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/storyhop/storyhop/internal/util"
	"github.com/storyhop/storyhop/pkg/common"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// GraphDBStore implements the GraphStore interface on PostgreSQL. Entities
// and relations live in two plain tables partitioned by book_id; path queries
// are recursive CTEs over the relations table.
type GraphDBStore struct {
	conn pgxIConn
}

// NewGraphDBStoreWithConnection creates a GraphDBStore on an existing
// connection or pool.
func NewGraphDBStoreWithConnection(conn pgxIConn) *GraphDBStore {
	return &GraphDBStore{conn: conn}
}

// RunMigrations applies all pending migrations from sourceURL (for example
// "file://migrations") against databaseURL.
func RunMigrations(sourceURL, databaseURL string) error {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *GraphDBStore) UpsertEntities(ctx context.Context, entities []common.Entity) error {
	for _, e := range entities {
		if e.ID == "" || e.BookID == "" {
			return fmt.Errorf("entity missing id or book_id: %+v", e)
		}
		_, err := s.conn.Exec(ctx, `
			INSERT INTO entities (id, book_id, name, labels, description)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id, book_id) DO UPDATE SET
				name = EXCLUDED.name,
				labels = EXCLUDED.labels,
				description = CASE
					WHEN EXCLUDED.description = '' THEN entities.description
					ELSE EXCLUDED.description
				END
		`,
			e.ID,
			e.BookID,
			util.SanitizePostgresText(e.Name),
			e.Labels,
			util.SanitizePostgresText(e.Description),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert entity %s: %w", e.ID, err)
		}
	}
	return nil
}

func (s *GraphDBStore) UpsertRelations(ctx context.Context, relations []common.Relation) error {
	for _, r := range relations {
		if r.SourceID == "" || r.TargetID == "" || r.Type == "" || r.BookID == "" {
			return fmt.Errorf("relation missing required fields: %+v", r)
		}
		_, err := s.conn.Exec(ctx, `
			INSERT INTO relations (book_id, rel_type, source_id, target_id, description, evidence, chunk_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (book_id, rel_type, source_id, target_id, chunk_id) DO UPDATE SET
				description = EXCLUDED.description,
				evidence = EXCLUDED.evidence
		`,
			r.BookID,
			r.Type,
			r.SourceID,
			r.TargetID,
			util.SanitizePostgresText(r.Description),
			util.SanitizePostgresText(r.Evidence),
			r.ChunkID,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert relation %s-[%s]->%s: %w", r.SourceID, r.Type, r.TargetID, err)
		}
	}
	return nil
}
