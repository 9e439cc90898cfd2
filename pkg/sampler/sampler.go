// Package sampler draws k-hop paths from a book graph and turns the accepted
// ones into chain records for multi-hop question generation.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/storyhop/storyhop/pkg/common"
	"github.com/storyhop/storyhop/pkg/logger"
	"github.com/storyhop/storyhop/pkg/store"
)

// Config controls one sampling run over one book.
type Config struct {
	BookID string `validate:"required"`

	// KList is the set of hop counts to sample, each with its own quota.
	KList []int `validate:"required,min=1,dive,min=1"`

	// NumChains is the per-k quota of newly accepted chains for this run.
	NumChains int `validate:"min=1"`

	// CandidateLimit bounds how many candidate rows one sampling query may
	// return. One query is one try.
	CandidateLimit int `validate:"min=1"`

	// MaxSamplingTries bounds the sampling queries issued per k before the
	// run gives up on that k.
	MaxSamplingTries int `validate:"min=1"`

	EnforceNoShorterPath bool
	EnforceUniqueKHop    bool

	// MinDistinctChunks requires this many distinct chunk ids along each
	// accepted path.
	MinDistinctChunks int `validate:"min=1"`

	ExcludeRelTypes []string
	StartLabels     []string
	EndLabels       []string

	// Seed drives candidate shuffling. Database-side row sampling stays
	// nondeterministic regardless.
	Seed int64

	// Parallel samples all hop counts concurrently when set.
	Parallel bool
}

// Sink receives accepted chain records. *sink.Writer satisfies it.
type Sink interface {
	Append(record any) error
}

// KResult summarizes one hop count of a run.
type KResult struct {
	K        int
	Accepted int
	Tries    int

	// Exhausted is set when a sampling query returned no candidates before
	// the quota was met.
	Exhausted bool
	QuotaMet  bool
}

// Summary aggregates a whole run.
type Summary struct {
	Results       []KResult
	TotalAccepted int
}

// Sampler runs the sampling loop against a graph store, with dedup state and
// an output sink shared across hop counts.
type Sampler struct {
	cfg   Config
	store store.GraphStore
	dedup *DedupState
	sink  Sink
}

// New wires a sampler. The dedup state must already be replayed.
func New(cfg Config, graphStore store.GraphStore, dedup *DedupState, out Sink) *Sampler {
	return &Sampler{
		cfg:   cfg,
		store: graphStore,
		dedup: dedup,
		sink:  out,
	}
}

// Run samples every configured hop count. A hop count that exhausts its
// candidates or its tries is reported, not fatal; query and write errors for
// one k do not stop the others, and all such errors are joined into the
// returned error.
func (s *Sampler) Run(ctx context.Context) (Summary, error) {
	results := make([]KResult, len(s.cfg.KList))

	var runErr error
	if s.cfg.Parallel {
		group, groupCtx := errgroup.WithContext(ctx)
		errs := make([]error, len(s.cfg.KList))
		for i, k := range s.cfg.KList {
			group.Go(func() error {
				res, err := s.runK(groupCtx, k)
				results[i] = res
				errs[i] = err
				return nil
			})
		}
		_ = group.Wait()
		runErr = errors.Join(errs...)
	} else {
		errs := make([]error, 0, len(s.cfg.KList))
		for i, k := range s.cfg.KList {
			res, err := s.runK(ctx, k)
			results[i] = res
			if err != nil {
				errs = append(errs, err)
			}
		}
		runErr = errors.Join(errs...)
	}

	summary := Summary{Results: results}
	for _, res := range results {
		summary.TotalAccepted += res.Accepted
	}
	return summary, runErr
}

// runK samples one hop count until its quota of new chains is met, the
// candidate pool is exhausted, or the try budget runs out.
func (s *Sampler) runK(ctx context.Context, k int) (KResult, error) {
	result := KResult{K: k}
	acceptance := Acceptance{
		Store:                s.store,
		EnforceNoShorterPath: s.cfg.EnforceNoShorterPath,
		EnforceUniqueKHop:    s.cfg.EnforceUniqueKHop,
	}
	rnd := rand.New(rand.NewPCG(uint64(s.cfg.Seed), uint64(k)))

	logger.Info("sampling chains",
		"book_id", s.cfg.BookID, "k", k, "quota", s.cfg.NumChains,
		"already_have", s.dedup.ReplayedCount(k))

	for result.Tries < s.cfg.MaxSamplingTries && result.Accepted < s.cfg.NumChains {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Tries++

		rows, err := s.store.SamplePaths(ctx, store.SamplePathsParams{
			K:                 k,
			BookID:            s.cfg.BookID,
			ExcludeRelTypes:   s.cfg.ExcludeRelTypes,
			StartLabels:       s.cfg.StartLabels,
			EndLabels:         s.cfg.EndLabels,
			MinDistinctChunks: s.cfg.MinDistinctChunks,
			Limit:             s.cfg.CandidateLimit,
		})
		if err != nil {
			return result, fmt.Errorf("sampling paths for k=%d: %w", k, err)
		}
		if len(rows) == 0 {
			result.Exhausted = true
			logger.Warn("no candidates left", "book_id", s.cfg.BookID, "k", k,
				"accepted", result.Accepted)
			break
		}

		rnd.Shuffle(len(rows), func(i, j int) {
			rows[i], rows[j] = rows[j], rows[i]
		})

		for _, row := range rows {
			if result.Accepted >= s.cfg.NumChains {
				break
			}
			accepted, err := s.consider(ctx, k, row, acceptance)
			if err != nil {
				return result, err
			}
			if accepted {
				result.Accepted++
			}
		}
	}

	result.QuotaMet = result.Accepted >= s.cfg.NumChains
	logger.Info("sampling finished", "book_id", s.cfg.BookID, "k", k,
		"accepted", result.Accepted, "tries", result.Tries,
		"quota_met", result.QuotaMet, "exhausted", result.Exhausted)
	return result, nil
}

// consider runs a single candidate through dedup, acceptance checks, and
// chain construction, emitting a record when everything passes.
func (s *Sampler) consider(
	ctx context.Context,
	k int,
	row common.CandidateRow,
	acceptance Acceptance,
) (bool, error) {
	if s.dedup.SeenPair(k, row.SourceEID, row.TargetEID) {
		return false, nil
	}

	filter := store.PathFilter{
		BookID:          s.cfg.BookID,
		ExcludeRelTypes: s.cfg.ExcludeRelTypes,
		SourceEID:       row.SourceEID,
		TargetEID:       row.TargetEID,
	}
	ok, err := acceptance.Accept(ctx, filter, k)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	chain, err := BuildChain(row, k)
	if err != nil {
		if errors.Is(err, ErrMalformedCandidate) {
			logger.Warn("skipping malformed candidate", "book_id", s.cfg.BookID,
				"k", k, "source", row.SourceEID, "target", row.TargetEID, "error", err)
			return false, nil
		}
		return false, err
	}

	sig := Signature(chain)
	if s.dedup.SeenSignature(k, sig) {
		return false, nil
	}

	// Register before writing so a failed write never lets the same chain
	// in twice within this run.
	s.dedup.RegisterPair(k, row.SourceEID, row.TargetEID)
	s.dedup.RegisterSignature(k, sig)

	record := common.ChainRecord{
		Task:        common.TaskKHopChain,
		BookID:      s.cfg.BookID,
		K:           k,
		ChainID:     s.dedup.NextChainID(k),
		Chain:       chain,
		FinalAnswer: row.TargetName,
		Meta: common.ChainMeta{
			SourceEID:    row.SourceEID,
			TargetEID:    row.TargetEID,
			SourceName:   row.SourceName,
			TargetName:   row.TargetName,
			SourceLabels: row.SourceLabels,
			TargetLabels: row.TargetLabels,
		},
		DebugQuery: s.store.VisualizeQuery(k, filter),
	}

	if err := s.sink.Append(record); err != nil {
		return false, fmt.Errorf("writing chain record: %w", err)
	}
	logger.Debug("accepted chain", "chain_id", record.ChainID,
		"start", chain.Start.Name, "end", chain.End.Name)
	return true, nil
}
