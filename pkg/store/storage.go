package store

import (
	"context"

	"github.com/storyhop/storyhop/pkg/common"
)

// SamplePathsParams filters the candidate paths returned by SamplePaths.
// Empty StartLabels/EndLabels impose no endpoint label constraint.
type SamplePathsParams struct {
	K                 int
	BookID            string
	ExcludeRelTypes   []string
	StartLabels       []string
	EndLabels         []string
	MinDistinctChunks int
	Limit             int
}

// PathFilter identifies an endpoint pair inside one book partition, with the
// relation types that must not be traversed.
type PathFilter struct {
	BookID          string
	ExcludeRelTypes []string
	SourceEID       string
	TargetEID       string
}

// GraphStore defines the interface for persisting and querying the book
// graph. The sampler only uses the read side; the write side is used by
// extraction. Any engine that can answer these query shapes qualifies.
//
// SamplePaths returns up to Limit directed paths of exactly K edges within
// the book partition, excluding self-loop endpoint pairs and relation types
// in ExcludeRelTypes, requiring at least MinDistinctChunks distinct chunk ids
// along the path. Row order is unspecified; callers shuffle.
//
// HasShorterPath reports whether any directed path of length in [1, maxLen]
// connects the filter's endpoints. CountPathsOfLength counts directed k-edge
// paths between them, capped at 2 (only the one/more-than-one distinction
// matters).
//
// VisualizeQuery renders, as literal executable text, the exact filter that
// locates a specific accepted path, with all parameters inlined as escaped
// literals. Inspection aid only.
type GraphStore interface {
	SamplePaths(ctx context.Context, params SamplePathsParams) ([]common.CandidateRow, error)
	HasShorterPath(ctx context.Context, filter PathFilter, maxLen int) (bool, error)
	CountPathsOfLength(ctx context.Context, filter PathFilter, k int) (int, error)

	UpsertEntities(ctx context.Context, entities []common.Entity) error
	UpsertRelations(ctx context.Context, relations []common.Relation) error

	VisualizeQuery(k int, filter PathFilter) string
}
