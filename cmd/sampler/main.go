package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storyhop/storyhop/internal/util"
	"github.com/storyhop/storyhop/pkg/leaselock"
	"github.com/storyhop/storyhop/pkg/logger"
	"github.com/storyhop/storyhop/pkg/logger/console"
	"github.com/storyhop/storyhop/pkg/sampler"
	"github.com/storyhop/storyhop/pkg/sink"
	pgxstore "github.com/storyhop/storyhop/pkg/store/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	cfg := sampler.Config{
		BookID:               util.GetEnv("BOOK_ID"),
		KList:                util.GetEnvIntList("K_LIST", []int{2, 3}),
		NumChains:            util.GetEnvInt("NUM_CHAINS", 100),
		CandidateLimit:       util.GetEnvInt("CANDIDATE_LIMIT", 500),
		MaxSamplingTries:     util.GetEnvInt("MAX_SAMPLING_TRIES", 20),
		EnforceNoShorterPath: util.GetEnvBool("ENFORCE_NO_SHORTER_PATH", true),
		EnforceUniqueKHop:    util.GetEnvBool("ENFORCE_UNIQUE_KHOP_PATH", true),
		MinDistinctChunks:    util.GetEnvInt("MIN_DISTINCT_CHUNKS", 2),
		ExcludeRelTypes:      util.GetEnvList("EXCLUDE_REL_TYPES", []string{"HAS_ALIAS"}),
		StartLabels:          util.GetEnvList("START_LABELS", nil),
		EndLabels:            util.GetEnvList("END_LABELS", nil),
		Seed:                 util.GetEnvInt64("SEED", time.Now().UnixNano()),
		Parallel:             util.GetEnvBool("PARALLEL", false),
	}
	if err := validator.New().Struct(cfg); err != nil {
		logger.Fatal("Invalid sampler configuration", "err", err)
	}
	outputPath := util.GetEnvString("OUTPUT_PATH", "out/"+cfg.BookID+".jsonl")

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := pgxstore.RunMigrations(util.GetEnvString("MIGRATIONS_URL", "file://migrations"), databaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}
	pgConn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	graphStore := pgxstore.NewGraphDBStoreWithConnection(pgConn)
	locks := leaselock.New(pgConn)

	err = locks.WithBookLease(ctx, cfg.BookID, "sample", func(ctx context.Context) error {
		dedup := sampler.NewDedupState(cfg.BookID)
		replay, err := sink.OpenReplay(outputPath)
		if err != nil {
			return err
		}
		if err := dedup.Replay(replay); err != nil {
			replay.Close()
			return err
		}
		replay.Close()

		out, err := sink.NewWriter(outputPath)
		if err != nil {
			return err
		}
		defer out.Close()

		summary, err := sampler.New(cfg, graphStore, dedup, out).Run(ctx)
		for _, res := range summary.Results {
			logger.Info("k summary", "k", res.K, "accepted", res.Accepted,
				"tries", res.Tries, "quota_met", res.QuotaMet, "exhausted", res.Exhausted)
		}
		logger.Info("run summary", "book_id", cfg.BookID,
			"total_accepted", summary.TotalAccepted, "output", outputPath)
		return err
	})
	if err != nil {
		logger.Fatal("Sampling failed", "book_id", cfg.BookID, "err", err)
	}
}
