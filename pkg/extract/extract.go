// Package extract turns raw book text into graph entities and relations by
// chunking the text and asking a model for structured output per chunk.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/storyhop/storyhop/internal/util"
	"github.com/storyhop/storyhop/pkg/ai"
	"github.com/storyhop/storyhop/pkg/chunker"
	"github.com/storyhop/storyhop/pkg/common"
	"github.com/storyhop/storyhop/pkg/logger"
	"github.com/storyhop/storyhop/pkg/store"
)

type extractedEntity struct {
	Name        string `json:"name" jsonschema_description:"Canonical name of the entity as it appears in the passage"`
	Type        string `json:"type" jsonschema:"enum=PERSON,enum=PLACE,enum=ORGANIZATION,enum=OBJECT,enum=EVENT,enum=TIME" jsonschema_description:"Entity type"`
	Description string `json:"description" jsonschema_description:"One-sentence description based only on this passage"`
}

type extractedRelation struct {
	Source      string `json:"source" jsonschema_description:"Exact name of the source entity"`
	Type        string `json:"type" jsonschema:"enum=MENTIONS,enum=LOCATED_IN,enum=PART_OF,enum=OWNS,enum=INTERACTS_WITH,enum=BEFORE,enum=AFTER,enum=CAUSES,enum=CAUSED_BY,enum=HAS_ATTRIBUTE,enum=HAS_ALIAS" jsonschema_description:"Relation type"`
	Target      string `json:"target" jsonschema_description:"Exact name of the target entity"`
	Description string `json:"description" jsonschema_description:"Short phrase describing the relation"`
	Evidence    string `json:"evidence" jsonschema_description:"Verbatim sentence from the passage supporting this relation"`
}

type extractResponse struct {
	Entities  []extractedEntity   `json:"entities" jsonschema_description:"All entities found in the passage"`
	Relations []extractedRelation `json:"relations" jsonschema_description:"All relations between the listed entities"`
}

// Stats summarizes one extraction run.
type Stats struct {
	Chunks           int
	Entities         int
	Relations        int
	DroppedEntities  int
	DroppedRelations int
}

// Params configures an Extractor.
type Params struct {
	AIClient ai.Client
	Store    store.GraphStore
	Chunker  *chunker.Chunker

	// MaxTries bounds model retries per chunk.
	MaxTries int

	// LimitChunks truncates the run after this many chunks when positive.
	// Useful for smoke runs over large books.
	LimitChunks int
}

// Extractor drives the per-chunk extraction loop for one or more books.
type Extractor struct {
	ai          ai.Client
	store       store.GraphStore
	chunker     *chunker.Chunker
	maxTries    int
	limitChunks int
}

// NewExtractor wires an extractor from its collaborators.
func NewExtractor(params Params) *Extractor {
	maxTries := params.MaxTries
	if maxTries <= 0 {
		maxTries = 3
	}
	return &Extractor{
		ai:          params.AIClient,
		store:       params.Store,
		chunker:     params.Chunker,
		maxTries:    maxTries,
		limitChunks: params.LimitChunks,
	}
}

// ExtractBook chunks text and persists the extracted graph under bookID.
// Chunks that keep failing after retries are skipped, not fatal; the graph
// is still useful with gaps.
func (e *Extractor) ExtractBook(ctx context.Context, bookID, text string) (Stats, error) {
	chunks := e.chunker.Chunk(text)
	if e.limitChunks > 0 && len(chunks) > e.limitChunks {
		chunks = chunks[:e.limitChunks]
	}

	stats := Stats{Chunks: len(chunks)}
	logger.Info("extracting book", "book_id", bookID, "chunks", len(chunks))

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		response, err := util.RetryWithContext(ctx, e.maxTries, func(ctx context.Context) (extractResponse, error) {
			var out extractResponse
			err := e.ai.GenerateCompletionWithFormat(
				ctx,
				"book_graph",
				"Entities and relations extracted from a passage of a novel",
				extractionPrompt(chunk.Text),
				&out,
				ai.WithSystemPrompts(extractionSystemPrompt),
			)
			return out, err
		})
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			logger.Warn("skipping chunk after repeated failures",
				"book_id", bookID, "chunk_id", chunk.ID, "error", err)
			continue
		}

		entities, relations, dropped := e.resolve(bookID, chunk.ID, response)
		stats.DroppedEntities += dropped.DroppedEntities
		stats.DroppedRelations += dropped.DroppedRelations

		if err := e.store.UpsertEntities(ctx, entities); err != nil {
			return stats, fmt.Errorf("upserting entities for chunk %d: %w", chunk.ID, err)
		}
		if err := e.store.UpsertRelations(ctx, relations); err != nil {
			return stats, fmt.Errorf("upserting relations for chunk %d: %w", chunk.ID, err)
		}
		stats.Entities += len(entities)
		stats.Relations += len(relations)

		logger.Debug("chunk extracted", "book_id", bookID, "chunk_id", chunk.ID,
			"entities", len(entities), "relations", len(relations),
			"tokens", chunk.Tokens)
	}

	logger.Info("extraction finished", "book_id", bookID,
		"chunks", stats.Chunks, "entities", stats.Entities,
		"relations", stats.Relations, "dropped_entities", stats.DroppedEntities,
		"dropped_relations", stats.DroppedRelations)
	return stats, nil
}

// EntityID builds the stable id under which an entity is stored. Identical
// (type, name) pairs from different chunks collapse into one node.
func EntityID(entityType, name string) string {
	return entityType + "::" + name
}

// resolve validates a model response against the closed vocabularies and
// resolves relation endpoints by entity name, dropping anything dangling.
func (e *Extractor) resolve(bookID string, chunkID int, response extractResponse) ([]common.Entity, []common.Relation, Stats) {
	var dropped Stats

	byName := map[string]common.Entity{}
	entities := []common.Entity{}
	for _, ent := range response.Entities {
		name := strings.TrimSpace(ent.Name)
		if name == "" || !ValidEntityType(ent.Type) {
			dropped.DroppedEntities++
			continue
		}
		if _, exists := byName[name]; exists {
			continue
		}
		entity := common.Entity{
			ID:          EntityID(ent.Type, name),
			Name:        name,
			Labels:      []string{ent.Type},
			Description: strings.TrimSpace(ent.Description),
			BookID:      bookID,
		}
		byName[name] = entity
		entities = append(entities, entity)
	}

	relations := []common.Relation{}
	for _, rel := range response.Relations {
		source, sourceOK := byName[strings.TrimSpace(rel.Source)]
		target, targetOK := byName[strings.TrimSpace(rel.Target)]
		if !sourceOK || !targetOK || !ValidRelationType(rel.Type) || source.ID == target.ID {
			dropped.DroppedRelations++
			continue
		}
		relations = append(relations, common.Relation{
			Type:        rel.Type,
			SourceID:    source.ID,
			TargetID:    target.ID,
			Description: strings.TrimSpace(rel.Description),
			Evidence:    strings.TrimSpace(rel.Evidence),
			ChunkID:     chunkID,
			BookID:      bookID,
		})
	}

	return entities, relations, dropped
}
