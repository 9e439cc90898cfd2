package common

// Entity represents a node in the book graph. An entity can be a person,
// place, organization, object, event, or time reference extracted from the
// source text. The ID is stable across re-extraction (TYPE::NAME), and every
// entity belongs to exactly one book partition.
type Entity struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Labels      []string `json:"labels"`
	Description string   `json:"description"`
	BookID      string   `json:"book_id"`
}

// Relation represents a directed, typed edge between two entities. Each
// relation carries the verbatim evidence sentence it was extracted from and
// the id of the source chunk, which downstream QA generation uses as the
// reference passage.
type Relation struct {
	Type        string `json:"type"`
	SourceID    string `json:"source_id"`
	TargetID    string `json:"target_id"`
	Description string `json:"description"`
	Evidence    string `json:"evidence"`
	ChunkID     int    `json:"chunk_id"`
	BookID      string `json:"book_id"`
}

// CandidateRow is the raw result of one sampled k-hop path: endpoint ids,
// names and labels, the ordered node sequence, and the ordered edge
// attributes. Rows are transient; they live for a single sampling attempt.
//
// For a path of k edges, NodeNames and NodeLabels have k+1 elements and the
// edge slices have k elements each.
type CandidateRow struct {
	SourceEID    string
	TargetEID    string
	SourceName   string
	TargetName   string
	SourceLabels []string
	TargetLabels []string

	NodeNames  []string
	NodeLabels [][]string

	RelTypes  []string
	RelDescs  []string
	Evidences []string
	ChunkIDs  []int
}

// Endpoint identifies a chain endpoint by display name and labels.
type Endpoint struct {
	Name   string   `json:"name"`
	Labels []string `json:"labels"`
}

// StepRelation is the typed edge inside a chain step.
type StepRelation struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ChainStep is one hop of a chain, 1-indexed. Target of step i equals source
// of step i+1.
type ChainStep struct {
	Hop      int          `json:"hop"`
	Source   Endpoint     `json:"source"`
	Relation StepRelation `json:"relation"`
	Target   Endpoint     `json:"target"`
	Evidence string       `json:"evidence"`
	ChunkID  int          `json:"chunk_id"`
}

// Chain is a single accepted k-hop path. RefChunks lists the distinct chunk
// ids of the steps in first-occurrence order.
type Chain struct {
	Start     Endpoint    `json:"start"`
	End       Endpoint    `json:"end"`
	Steps     []ChainStep `json:"steps"`
	RefChunks []int       `json:"ref_chunks"`
}

// ChainMeta records the endpoint identities of an accepted chain, used to
// rebuild dedup state from persisted output.
type ChainMeta struct {
	SourceEID    string   `json:"s_eid"`
	TargetEID    string   `json:"t_eid"`
	SourceName   string   `json:"s_name"`
	TargetName   string   `json:"t_name"`
	SourceLabels []string `json:"s_labels"`
	TargetLabels []string `json:"t_labels"`
}

// ChainRecord is the persisted unit, one JSON line per accepted chain.
// ChainID is globally unique per (book, k): "<book_id>::k<k>::<6-digit index>".
// FinalAnswer is always the end entity's display name.
type ChainRecord struct {
	Task        string    `json:"task"`
	BookID      string    `json:"book_id"`
	K           int       `json:"k"`
	ChainID     string    `json:"chain_id"`
	Chain       Chain     `json:"chain"`
	FinalAnswer string    `json:"final_answer"`
	Meta        ChainMeta `json:"meta"`
	DebugQuery  string    `json:"debug_query"`
}

// TaskKHopChain is the task tag written into every chain record.
const TaskKHopChain = "khop_chain"
