package pgx

import (
	"context"
	"fmt"
	"strings"

	"github.com/storyhop/storyhop/pkg/common"
	"github.com/storyhop/storyhop/pkg/store"
)

// sampleWalkSQL enumerates edge-distinct directed walks up to a depth bound.
// $1 book_id, $2 excluded relation types, $3 depth bound.
const sampleWalkSQL = `
	WITH RECURSIVE walk AS (
		SELECT
			r.source_id AS start_id,
			r.target_id AS node_id,
			ARRAY[r.id] AS edge_ids,
			ARRAY[r.chunk_id] AS chunk_ids,
			1 AS depth
		FROM relations r
		WHERE r.book_id = $1
		  AND NOT (r.rel_type = ANY($2::text[]))
		UNION ALL
		SELECT
			w.start_id,
			r.target_id,
			w.edge_ids || r.id,
			w.chunk_ids || r.chunk_id,
			w.depth + 1
		FROM walk w
		JOIN relations r ON r.book_id = $1 AND r.source_id = w.node_id
		WHERE NOT (r.rel_type = ANY($2::text[]))
		  AND r.id <> ALL(w.edge_ids)
		  AND w.depth < $3
	)
`

func (s *GraphDBStore) SamplePaths(ctx context.Context, params store.SamplePathsParams) ([]common.CandidateRow, error) {
	if params.K < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", params.K)
	}

	query := sampleWalkSQL + `
		SELECT w.start_id, w.node_id, w.edge_ids
		FROM walk w
		JOIN entities s ON s.book_id = $1 AND s.id = w.start_id
		JOIN entities t ON t.book_id = $1 AND t.id = w.node_id
		WHERE w.depth = $3
		  AND w.start_id <> w.node_id
		  AND (cardinality($4::text[]) = 0 OR s.labels && $4::text[])
		  AND (cardinality($5::text[]) = 0 OR t.labels && $5::text[])
		  AND (SELECT count(DISTINCT c) FROM unnest(w.chunk_ids) AS c) >= $6
		ORDER BY random()
		LIMIT $7
	`

	rows, err := s.conn.Query(ctx, query,
		params.BookID,
		emptyIfNil(params.ExcludeRelTypes),
		params.K,
		emptyIfNil(params.StartLabels),
		emptyIfNil(params.EndLabels),
		params.MinDistinctChunks,
		params.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sample paths: %w", err)
	}
	defer rows.Close()

	type pathRow struct {
		startID string
		endID   string
		edgeIDs []int64
	}

	var paths []pathRow
	for rows.Next() {
		var p pathRow
		if err := rows.Scan(&p.startID, &p.endID, &p.edgeIDs); err != nil {
			return nil, fmt.Errorf("failed to scan path row: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read path rows: %w", err)
	}
	if len(paths) == 0 {
		return nil, nil
	}

	edgeIDSet := make(map[int64]bool)
	for _, p := range paths {
		for _, id := range p.edgeIDs {
			edgeIDSet[id] = true
		}
	}
	edges, err := s.fetchRelations(ctx, keysInt64(edgeIDSet))
	if err != nil {
		return nil, err
	}

	nodeIDSet := make(map[string]bool)
	for _, p := range paths {
		nodeIDSet[p.startID] = true
		for _, id := range p.edgeIDs {
			e, ok := edges[id]
			if !ok {
				continue
			}
			nodeIDSet[e.SourceID] = true
			nodeIDSet[e.TargetID] = true
		}
	}
	nodes, err := s.fetchEntities(ctx, params.BookID, keysString(nodeIDSet))
	if err != nil {
		return nil, err
	}

	out := make([]common.CandidateRow, 0, len(paths))
	for _, p := range paths {
		row, ok := buildCandidateRow(p.startID, p.endID, p.edgeIDs, edges, nodes)
		if !ok {
			// An edge or node vanished between the walk and hydration.
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

type relationRow struct {
	common.Relation
	ID int64
}

func (s *GraphDBStore) fetchRelations(ctx context.Context, ids []int64) (map[int64]relationRow, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, rel_type, source_id, target_id, description, evidence, chunk_id
		FROM relations
		WHERE id = ANY($1::bigint[])
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch relations: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]relationRow, len(ids))
	for rows.Next() {
		var r relationRow
		if err := rows.Scan(&r.ID, &r.Type, &r.SourceID, &r.TargetID, &r.Description, &r.Evidence, &r.ChunkID); err != nil {
			return nil, fmt.Errorf("failed to scan relation row: %w", err)
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

type entityRow struct {
	Name   string
	Labels []string
}

func (s *GraphDBStore) fetchEntities(ctx context.Context, bookID string, ids []string) (map[string]entityRow, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, name, labels
		FROM entities
		WHERE book_id = $1 AND id = ANY($2::text[])
	`, bookID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]entityRow, len(ids))
	for rows.Next() {
		var id string
		var e entityRow
		if err := rows.Scan(&id, &e.Name, &e.Labels); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		out[id] = e
	}
	return out, rows.Err()
}

func buildCandidateRow(
	startID, endID string,
	edgeIDs []int64,
	edges map[int64]relationRow,
	nodes map[string]entityRow,
) (common.CandidateRow, bool) {
	start, ok := nodes[startID]
	if !ok {
		return common.CandidateRow{}, false
	}
	end, ok := nodes[endID]
	if !ok {
		return common.CandidateRow{}, false
	}

	row := common.CandidateRow{
		SourceEID:    startID,
		TargetEID:    endID,
		SourceName:   start.Name,
		TargetName:   end.Name,
		SourceLabels: start.Labels,
		TargetLabels: end.Labels,
	}

	nodeID := startID
	for _, id := range edgeIDs {
		edge, ok := edges[id]
		if !ok {
			return common.CandidateRow{}, false
		}
		node, ok := nodes[nodeID]
		if !ok {
			return common.CandidateRow{}, false
		}
		row.NodeNames = append(row.NodeNames, node.Name)
		row.NodeLabels = append(row.NodeLabels, node.Labels)
		row.RelTypes = append(row.RelTypes, edge.Type)
		row.RelDescs = append(row.RelDescs, edge.Description)
		row.Evidences = append(row.Evidences, edge.Evidence)
		row.ChunkIDs = append(row.ChunkIDs, edge.ChunkID)
		nodeID = edge.TargetID
	}
	row.NodeNames = append(row.NodeNames, end.Name)
	row.NodeLabels = append(row.NodeLabels, end.Labels)
	return row, true
}

// shorterWalkSQL is the walk CTE restricted to a fixed start node.
// $1 book_id, $2 excluded relation types, $3 depth bound, $4 source id.
const shorterWalkSQL = `
	WITH RECURSIVE walk AS (
		SELECT r.target_id AS node_id, ARRAY[r.id] AS edge_ids, 1 AS depth
		FROM relations r
		WHERE r.book_id = $1
		  AND r.source_id = $4
		  AND NOT (r.rel_type = ANY($2::text[]))
		UNION ALL
		SELECT r.target_id, w.edge_ids || r.id, w.depth + 1
		FROM walk w
		JOIN relations r ON r.book_id = $1 AND r.source_id = w.node_id
		WHERE NOT (r.rel_type = ANY($2::text[]))
		  AND r.id <> ALL(w.edge_ids)
		  AND w.depth < $3
	)
`

func (s *GraphDBStore) HasShorterPath(ctx context.Context, filter store.PathFilter, maxLen int) (bool, error) {
	if maxLen < 1 {
		return false, nil
	}

	query := shorterWalkSQL + `
		SELECT EXISTS (SELECT 1 FROM walk WHERE node_id = $5)
	`

	var exists bool
	err := s.conn.QueryRow(ctx, query,
		filter.BookID,
		emptyIfNil(filter.ExcludeRelTypes),
		maxLen,
		filter.SourceEID,
		filter.TargetEID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check shorter path: %w", err)
	}
	return exists, nil
}

func (s *GraphDBStore) CountPathsOfLength(ctx context.Context, filter store.PathFilter, k int) (int, error) {
	if k < 1 {
		return 0, fmt.Errorf("k must be >= 1, got %d", k)
	}

	query := shorterWalkSQL + `
		SELECT count(*) FROM (
			SELECT 1 FROM walk WHERE depth = $3 AND node_id = $5 LIMIT 2
		) capped
	`

	var count int
	err := s.conn.QueryRow(ctx, query,
		filter.BookID,
		emptyIfNil(filter.ExcludeRelTypes),
		k,
		filter.SourceEID,
		filter.TargetEID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count paths: %w", err)
	}
	return count, nil
}

// VisualizeQuery renders the path-locating filter as directly executable SQL
// with every parameter inlined as an escaped literal.
func (s *GraphDBStore) VisualizeQuery(k int, filter store.PathFilter) string {
	return fmt.Sprintf(`WITH RECURSIVE walk AS (
	SELECT r.target_id AS node_id, ARRAY[r.id] AS edge_ids, 1 AS depth
	FROM relations r
	WHERE r.book_id = %[1]s
	  AND r.source_id = %[2]s
	  AND NOT (r.rel_type = ANY(%[4]s))
	UNION ALL
	SELECT r.target_id, w.edge_ids || r.id, w.depth + 1
	FROM walk w
	JOIN relations r ON r.book_id = %[1]s AND r.source_id = w.node_id
	WHERE NOT (r.rel_type = ANY(%[4]s))
	  AND r.id <> ALL(w.edge_ids)
	  AND w.depth < %[5]d
)
SELECT w.edge_ids FROM walk w WHERE w.depth = %[5]d AND w.node_id = %[3]s LIMIT 1`,
		sqlLiteral(filter.BookID),
		sqlLiteral(filter.SourceEID),
		sqlLiteral(filter.TargetEID),
		sqlTextArray(filter.ExcludeRelTypes),
		k,
	)
}

// sqlLiteral renders s as a Postgres escape-string literal, escaping
// backslashes and single quotes.
func sqlLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "E'" + s + "'"
}

func sqlTextArray(xs []string) string {
	if len(xs) == 0 {
		return "ARRAY[]::text[]"
	}
	quoted := make([]string, len(xs))
	for i, x := range xs {
		quoted[i] = sqlLiteral(x)
	}
	return "ARRAY[" + strings.Join(quoted, ", ") + "]::text[]"
}

func emptyIfNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

func keysInt64(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func keysString(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
