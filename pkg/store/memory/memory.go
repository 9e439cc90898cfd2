package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/storyhop/storyhop/pkg/common"
	"github.com/storyhop/storyhop/pkg/store"
)

// Store is an embedded GraphStore over adjacency maps. Path queries are
// answered by bounded depth-first enumeration, which is exact (not sampled)
// and suited to graphs that fit in memory (a single book comfortably does).
// Reads may run concurrently; writes take the exclusive lock.
type Store struct {
	mu sync.RWMutex

	// book -> entity id -> entity
	entities map[string]map[string]common.Entity
	// book -> all relations; slice index is the edge identity
	relations map[string][]common.Relation
	// book -> source entity id -> indexes into relations[book]
	adj map[string]map[string][]int

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// Params configures a memory store. Seed drives the candidate subset picked
// when more paths match than the requested limit.
type Params struct {
	Seed uint64
}

func NewStore(params Params) *Store {
	return &Store{
		entities:  make(map[string]map[string]common.Entity),
		relations: make(map[string][]common.Relation),
		adj:       make(map[string]map[string][]int),
		rnd:       rand.New(rand.NewPCG(params.Seed, params.Seed)),
	}
}

func (s *Store) UpsertEntities(ctx context.Context, entities []common.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entities {
		if e.ID == "" || e.BookID == "" {
			return fmt.Errorf("entity missing id or book_id: %+v", e)
		}
		book := s.entities[e.BookID]
		if book == nil {
			book = make(map[string]common.Entity)
			s.entities[e.BookID] = book
		}
		if prev, ok := book[e.ID]; ok && e.Description == "" {
			e.Description = prev.Description
		}
		book[e.ID] = e
	}
	return nil
}

func (s *Store) UpsertRelations(ctx context.Context, relations []common.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range relations {
		if r.SourceID == "" || r.TargetID == "" || r.Type == "" || r.BookID == "" {
			return fmt.Errorf("relation missing required fields: %+v", r)
		}

		// Exact re-extractions update in place instead of growing the graph.
		if idx, ok := s.findRelation(r); ok {
			s.relations[r.BookID][idx] = r
			continue
		}

		s.relations[r.BookID] = append(s.relations[r.BookID], r)
		adj := s.adj[r.BookID]
		if adj == nil {
			adj = make(map[string][]int)
			s.adj[r.BookID] = adj
		}
		adj[r.SourceID] = append(adj[r.SourceID], len(s.relations[r.BookID])-1)
	}
	return nil
}

func (s *Store) findRelation(r common.Relation) (int, bool) {
	for _, idx := range s.adj[r.BookID][r.SourceID] {
		have := s.relations[r.BookID][idx]
		if have.Type == r.Type && have.TargetID == r.TargetID && have.ChunkID == r.ChunkID {
			return idx, true
		}
	}
	return 0, false
}

func (s *Store) SamplePaths(ctx context.Context, params store.SamplePathsParams) ([]common.CandidateRow, error) {
	if params.K < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", params.K)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := toSet(params.ExcludeRelTypes)

	var rows []common.CandidateRow
	for startID, start := range s.entities[params.BookID] {
		if !labelsMatch(start.Labels, params.StartLabels) {
			continue
		}

		path := make([]int, 0, params.K)
		s.walk(params.BookID, startID, params.K, excluded, requireChunk, path, func(edges []int) {
			row, ok := s.buildRow(params, startID, edges)
			if ok {
				rows = append(rows, row)
			}
		})
	}

	if params.Limit > 0 && len(rows) > params.Limit {
		s.rndMu.Lock()
		s.rnd.Shuffle(len(rows), func(i, j int) {
			rows[i], rows[j] = rows[j], rows[i]
		})
		s.rndMu.Unlock()
		rows = rows[:params.Limit]
	}
	return rows, nil
}

const requireChunk = true

// walk enumerates edge-distinct directed paths of exactly k edges starting
// from node id, invoking visit with the edge index sequence of each.
func (s *Store) walk(bookID, id string, k int, excluded map[string]bool, needChunk bool, path []int, visit func([]int)) {
	if k == 0 {
		visit(path)
		return
	}
	for _, idx := range s.adj[bookID][id] {
		if contains(path, idx) {
			continue
		}
		edge := s.relations[bookID][idx]
		if excluded[edge.Type] {
			continue
		}
		if needChunk && edge.ChunkID < 0 {
			continue
		}
		s.walk(bookID, edge.TargetID, k-1, excluded, needChunk, append(path, idx), visit)
	}
}

func (s *Store) buildRow(params store.SamplePathsParams, startID string, edges []int) (common.CandidateRow, bool) {
	rels := s.relations[params.BookID]
	endID := rels[edges[len(edges)-1]].TargetID
	if endID == startID {
		return common.CandidateRow{}, false
	}

	end, ok := s.entities[params.BookID][endID]
	if !ok || !labelsMatch(end.Labels, params.EndLabels) {
		return common.CandidateRow{}, false
	}
	start := s.entities[params.BookID][startID]

	row := common.CandidateRow{
		SourceEID:    start.ID,
		TargetEID:    end.ID,
		SourceName:   start.Name,
		TargetName:   end.Name,
		SourceLabels: start.Labels,
		TargetLabels: end.Labels,
	}

	distinct := make(map[int]bool, len(edges))
	node := startID
	for _, idx := range edges {
		edge := rels[idx]
		ent, ok := s.entities[params.BookID][node]
		if !ok {
			return common.CandidateRow{}, false
		}
		row.NodeNames = append(row.NodeNames, ent.Name)
		row.NodeLabels = append(row.NodeLabels, ent.Labels)
		row.RelTypes = append(row.RelTypes, edge.Type)
		row.RelDescs = append(row.RelDescs, edge.Description)
		row.Evidences = append(row.Evidences, edge.Evidence)
		row.ChunkIDs = append(row.ChunkIDs, edge.ChunkID)
		distinct[edge.ChunkID] = true
		node = edge.TargetID
	}
	row.NodeNames = append(row.NodeNames, end.Name)
	row.NodeLabels = append(row.NodeLabels, end.Labels)

	if len(distinct) < params.MinDistinctChunks {
		return common.CandidateRow{}, false
	}
	return row, true
}

func (s *Store) HasShorterPath(ctx context.Context, filter store.PathFilter, maxLen int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := toSet(filter.ExcludeRelTypes)

	found := false
	var dfs func(id string, depth int, path []int)
	dfs = func(id string, depth int, path []int) {
		if found || depth > maxLen {
			return
		}
		if id == filter.TargetEID && depth >= 1 {
			found = true
			return
		}
		for _, idx := range s.adj[filter.BookID][id] {
			if contains(path, idx) {
				continue
			}
			edge := s.relations[filter.BookID][idx]
			if excluded[edge.Type] {
				continue
			}
			dfs(edge.TargetID, depth+1, append(path, idx))
		}
	}
	dfs(filter.SourceEID, 0, nil)
	return found, nil
}

func (s *Store) CountPathsOfLength(ctx context.Context, filter store.PathFilter, k int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := toSet(filter.ExcludeRelTypes)

	count := 0
	path := make([]int, 0, k)
	s.walk(filter.BookID, filter.SourceEID, k, excluded, !requireChunk, path, func(edges []int) {
		if count >= 2 {
			return
		}
		endID := s.relations[filter.BookID][edges[len(edges)-1]].TargetID
		if endID == filter.TargetEID {
			count++
		}
	})
	return count, nil
}

// VisualizeQuery renders a Cypher-style MATCH for the accepted path, usable
// directly when the graph is exported to a graph browser.
func (s *Store) VisualizeQuery(k int, filter store.PathFilter) string {
	return fmt.Sprintf(
		"MATCH p=(s)-[rels*%d]->(t)\n"+
			"WHERE elementId(s) = %s\n"+
			"  AND elementId(t) = %s\n"+
			"  AND ALL(r IN rels WHERE r.book_id = %s AND NOT type(r) IN %s)\n"+
			"RETURN p\nLIMIT 1",
		k,
		store.QuoteLiteral(filter.SourceEID),
		store.QuoteLiteral(filter.TargetEID),
		store.QuoteLiteral(filter.BookID),
		store.QuoteList(filter.ExcludeRelTypes),
	)
}

func labelsMatch(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func toSet(xs []string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
