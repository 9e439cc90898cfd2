package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storyhop/storyhop/internal/util"
	"github.com/storyhop/storyhop/pkg/ai/openai"
	"github.com/storyhop/storyhop/pkg/chunker"
	"github.com/storyhop/storyhop/pkg/extract"
	"github.com/storyhop/storyhop/pkg/leaselock"
	"github.com/storyhop/storyhop/pkg/logger"
	"github.com/storyhop/storyhop/pkg/logger/console"
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

	bookID := util.GetEnv("BOOK_ID")
	textPath := util.GetEnv("BOOK_PATH")

	aiClient, err := openai.NewExtractAIClient(openai.NewExtractAIClientParams{
		Model:   util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
		BaseURL: util.GetEnvString("AI_CHAT_URL", ""),
		APIKey:  util.GetEnv("AI_CHAT_KEY"),
	})
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

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

	chk, err := chunker.NewChunker(
		util.GetEnvInt("CHUNK_CHARS", 1200),
		util.GetEnvInt("OVERLAP_CHARS", 200),
	)
	if err != nil {
		logger.Fatal("Invalid chunking configuration", "err", err)
	}

	err = locks.WithBookLease(ctx, bookID, "extract", func(ctx context.Context) error {
		text, err := os.ReadFile(textPath)
		if err != nil {
			return err
		}

		extractor := extract.NewExtractor(extract.Params{
			AIClient:    aiClient,
			Store:       graphStore,
			Chunker:     chk,
			MaxTries:    util.GetEnvInt("AI_MAX_TRIES", 3),
			LimitChunks: util.GetEnvInt("LIMIT_CHUNKS", 0),
		})
		_, err = extractor.ExtractBook(ctx, bookID, string(text))
		return err
	})
	if err != nil {
		logger.Fatal("Extraction failed", "book_id", bookID, "err", err)
	}

	metrics := aiClient.GetMetrics()
	logger.Info("AI Metrics",
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"total_tokens", metrics.TotalTokens,
		"duration_ms", metrics.DurationMs,
	)
}
