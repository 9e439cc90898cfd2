package extract

import "fmt"

const extractionSystemPrompt = `You extract a property graph from passages of a novel.

Read the passage and produce entities and the directed relations between them.

Entity types (use exactly these): PERSON, PLACE, ORGANIZATION, OBJECT, EVENT, TIME.
Relation types (use exactly these): MENTIONS, LOCATED_IN, PART_OF, OWNS, INTERACTS_WITH, BEFORE, AFTER, CAUSES, CAUSED_BY, HAS_ATTRIBUTE, HAS_ALIAS.

Rules:
- Use the most specific canonical name for each entity. Prefer the full name over pronouns or epithets.
- Every relation must connect two entities from your entity list, by exact name.
- For every relation, quote the single sentence from the passage that supports it as evidence, verbatim.
- Describe each entity in one short sentence based only on this passage.
- Do not invent entities or relations that the passage does not support.`

func extractionPrompt(chunkText string) string {
	return fmt.Sprintf("Extract the graph from the following passage.\n\nPassage:\n%s", chunkText)
}
