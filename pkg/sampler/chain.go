package sampler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/storyhop/storyhop/pkg/common"
)

// BuildChain turns a raw candidate row into a chain of k steps. Rows whose
// slices do not have the expected lengths (k+1 nodes, k edges) are rejected
// with ErrMalformedCandidate.
func BuildChain(row common.CandidateRow, k int) (common.Chain, error) {
	if len(row.NodeNames) != k+1 || len(row.NodeLabels) != k+1 ||
		len(row.RelTypes) != k || len(row.RelDescs) != k ||
		len(row.Evidences) != k || len(row.ChunkIDs) != k {
		return common.Chain{}, fmt.Errorf(
			"%w: k=%d nodes=%d labels=%d rels=%d", ErrMalformedCandidate,
			k, len(row.NodeNames), len(row.NodeLabels), len(row.RelTypes),
		)
	}

	steps := make([]common.ChainStep, 0, k)
	refChunks := []int{}
	seenChunks := map[int]bool{}
	for i := 0; i < k; i++ {
		steps = append(steps, common.ChainStep{
			Hop: i + 1,
			Source: common.Endpoint{
				Name:   row.NodeNames[i],
				Labels: row.NodeLabels[i],
			},
			Relation: common.StepRelation{
				Type:        row.RelTypes[i],
				Description: row.RelDescs[i],
			},
			Target: common.Endpoint{
				Name:   row.NodeNames[i+1],
				Labels: row.NodeLabels[i+1],
			},
			Evidence: row.Evidences[i],
			ChunkID:  row.ChunkIDs[i],
		})
		if !seenChunks[row.ChunkIDs[i]] {
			seenChunks[row.ChunkIDs[i]] = true
			refChunks = append(refChunks, row.ChunkIDs[i])
		}
	}

	return common.Chain{
		Start: common.Endpoint{
			Name:   row.SourceName,
			Labels: row.SourceLabels,
		},
		End: common.Endpoint{
			Name:   row.TargetName,
			Labels: row.TargetLabels,
		},
		Steps:     steps,
		RefChunks: refChunks,
	}, nil
}

// Signature returns the content identity of a chain: the ordered sequence of
// (source name, relation type, target name, chunk id) step tuples. Two chains
// with the same signature carry the same information regardless of which
// sampling attempt produced them.
func Signature(chain common.Chain) string {
	parts := make([]string, 0, len(chain.Steps)*4)
	for _, step := range chain.Steps {
		parts = append(parts,
			step.Source.Name,
			step.Relation.Type,
			step.Target.Name,
			strconv.Itoa(step.ChunkID),
		)
	}
	return strings.Join(parts, "\x1f")
}
