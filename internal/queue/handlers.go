package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storyhop/storyhop/pkg/ai"
	"github.com/storyhop/storyhop/pkg/chunker"
	"github.com/storyhop/storyhop/pkg/extract"
	"github.com/storyhop/storyhop/pkg/leaselock"
	"github.com/storyhop/storyhop/pkg/logger"
	"github.com/storyhop/storyhop/pkg/sampler"
	"github.com/storyhop/storyhop/pkg/sink"
	"github.com/storyhop/storyhop/pkg/store"
)

// ExtractJobMsg asks the worker to extract one book into the graph store.
type ExtractJobMsg struct {
	CorrelationID string `json:"correlation_id"`
	BookID        string `json:"book_id" validate:"required"`
	TextPath      string `json:"text_path" validate:"required"`
	ChunkChars    int    `json:"chunk_chars"`
	OverlapChars  int    `json:"overlap_chars"`
	LimitChunks   int    `json:"limit_chunks"`
}

// SampleJobMsg asks the worker to run one sampling pass for a book.
type SampleJobMsg struct {
	CorrelationID string `json:"correlation_id"`
	BookID        string `json:"book_id" validate:"required"`
	KList         []int  `json:"k_list" validate:"required,min=1,dive,min=1"`
	NumChains     int    `json:"num_chains" validate:"min=1"`
	OutputPath    string `json:"output_path" validate:"required"`

	CandidateLimit    int      `json:"candidate_limit"`
	MaxSamplingTries  int      `json:"max_sampling_tries"`
	MinDistinctChunks int      `json:"min_distinct_chunks"`
	ExcludeRelTypes   []string `json:"exclude_rel_types"`
	StartLabels       []string `json:"start_labels"`
	EndLabels         []string `json:"end_labels"`
	Seed              int64    `json:"seed"`
	Parallel          bool     `json:"parallel"`

	NoShorterPath bool `json:"no_shorter_path"`
	UniqueKHop    bool `json:"unique_khop"`
}

// Handler holds the shared collaborators job processing needs. One Handler
// serves all messages of a worker process.
type Handler struct {
	Pool     *pgxpool.Pool
	Store    store.GraphStore
	AIClient ai.Client
	Locks    *leaselock.Client

	validate *validator.Validate
}

// NewHandler wires a handler around a connection pool and graph store.
func NewHandler(pool *pgxpool.Pool, graphStore store.GraphStore, aiClient ai.Client) *Handler {
	return &Handler{
		Pool:     pool,
		Store:    graphStore,
		AIClient: aiClient,
		Locks:    leaselock.New(pool),
		validate: validator.New(),
	}
}

// ProcessExtractMessage handles one extract_queue delivery. The book lease
// keeps two workers from extracting the same book at once.
func (h *Handler) ProcessExtractMessage(ctx context.Context, body []byte) error {
	var msg ExtractJobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("unmarshaling extract job: %w", err)
	}
	if err := h.validate.Struct(msg); err != nil {
		return fmt.Errorf("invalid extract job: %w", err)
	}
	if msg.ChunkChars <= 0 {
		msg.ChunkChars = 1200
	}
	if msg.OverlapChars < 0 {
		msg.OverlapChars = 0
	}

	logger.Info("[Queue] Extract job received",
		"correlation_id", msg.CorrelationID, "book_id", msg.BookID, "path", msg.TextPath)

	return h.Locks.WithBookLease(ctx, msg.BookID, "extract", func(ctx context.Context) error {
		text, err := os.ReadFile(msg.TextPath)
		if err != nil {
			return fmt.Errorf("reading book text: %w", err)
		}

		chk, err := chunker.NewChunker(msg.ChunkChars, msg.OverlapChars)
		if err != nil {
			return err
		}

		extractor := extract.NewExtractor(extract.Params{
			AIClient:    h.AIClient,
			Store:       h.Store,
			Chunker:     chk,
			LimitChunks: msg.LimitChunks,
		})
		stats, err := extractor.ExtractBook(ctx, msg.BookID, string(text))
		if err != nil {
			return err
		}

		logger.Info("[Queue] Extract job done",
			"correlation_id", msg.CorrelationID, "book_id", msg.BookID,
			"entities", stats.Entities, "relations", stats.Relations)
		return nil
	})
}

// ProcessSampleMessage handles one sample_queue delivery. The book lease
// serializes sampling per book so the output file and dedup state stay
// consistent.
func (h *Handler) ProcessSampleMessage(ctx context.Context, body []byte) error {
	var msg SampleJobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("unmarshaling sample job: %w", err)
	}
	applySampleDefaults(&msg)
	if err := h.validate.Struct(msg); err != nil {
		return fmt.Errorf("invalid sample job: %w", err)
	}

	logger.Info("[Queue] Sample job received",
		"correlation_id", msg.CorrelationID, "book_id", msg.BookID,
		"k_list", msg.KList, "num_chains", msg.NumChains)

	return h.Locks.WithBookLease(ctx, msg.BookID, "sample", func(ctx context.Context) error {
		dedup := sampler.NewDedupState(msg.BookID)
		replay, err := sink.OpenReplay(msg.OutputPath)
		if err != nil {
			return fmt.Errorf("opening previous output: %w", err)
		}
		if err := dedup.Replay(replay); err != nil {
			replay.Close()
			return err
		}
		replay.Close()

		out, err := sink.NewWriter(msg.OutputPath)
		if err != nil {
			return fmt.Errorf("opening output: %w", err)
		}
		defer out.Close()

		cfg := sampler.Config{
			BookID:               msg.BookID,
			KList:                msg.KList,
			NumChains:            msg.NumChains,
			CandidateLimit:       msg.CandidateLimit,
			MaxSamplingTries:     msg.MaxSamplingTries,
			EnforceNoShorterPath: msg.NoShorterPath,
			EnforceUniqueKHop:    msg.UniqueKHop,
			MinDistinctChunks:    msg.MinDistinctChunks,
			ExcludeRelTypes:      msg.ExcludeRelTypes,
			StartLabels:          msg.StartLabels,
			EndLabels:            msg.EndLabels,
			Seed:                 msg.Seed,
			Parallel:             msg.Parallel,
		}
		summary, err := sampler.New(cfg, h.Store, dedup, out).Run(ctx)
		if err != nil {
			return err
		}

		logger.Info("[Queue] Sample job done",
			"correlation_id", msg.CorrelationID, "book_id", msg.BookID,
			"accepted", summary.TotalAccepted)
		return nil
	})
}

func applySampleDefaults(msg *SampleJobMsg) {
	if msg.NumChains <= 0 {
		msg.NumChains = 100
	}
	if msg.CandidateLimit <= 0 {
		msg.CandidateLimit = 500
	}
	if msg.MaxSamplingTries <= 0 {
		msg.MaxSamplingTries = 20
	}
	if msg.MinDistinctChunks <= 0 {
		msg.MinDistinctChunks = 2
	}
	if msg.Seed == 0 {
		msg.Seed = time.Now().UnixNano()
	}
}
