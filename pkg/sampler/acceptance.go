package sampler

import (
	"context"
	"fmt"

	"github.com/storyhop/storyhop/pkg/store"
)

// Acceptance applies the structural checks a candidate endpoint pair must
// pass before a chain between them is emitted. Both checks are query-backed
// and independently toggleable.
type Acceptance struct {
	Store store.GraphStore

	// EnforceNoShorterPath rejects pairs connected by any path shorter than
	// k edges. Trivially satisfied for k=1, so the check is skipped there.
	EnforceNoShorterPath bool

	// EnforceUniqueKHop rejects pairs connected by more than one distinct
	// k-edge path.
	EnforceUniqueKHop bool
}

// Accept reports whether the endpoint pair in filter qualifies for a k-hop
// chain under the configured checks.
func (a Acceptance) Accept(ctx context.Context, filter store.PathFilter, k int) (bool, error) {
	if a.EnforceNoShorterPath && k > 1 {
		shorter, err := a.Store.HasShorterPath(ctx, filter, k-1)
		if err != nil {
			return false, fmt.Errorf("shorter-path check: %w", err)
		}
		if shorter {
			return false, nil
		}
	}

	if a.EnforceUniqueKHop {
		count, err := a.Store.CountPathsOfLength(ctx, filter, k)
		if err != nil {
			return false, fmt.Errorf("uniqueness check: %w", err)
		}
		if count != 1 {
			return false, nil
		}
	}

	return true, nil
}
