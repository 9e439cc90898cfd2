package sampler

import (
	"errors"
	"reflect"
	"testing"

	"github.com/storyhop/storyhop/pkg/common"
)

func candidateRow() common.CandidateRow {
	return common.CandidateRow{
		SourceEID:    "PERSON::A",
		TargetEID:    "PERSON::D",
		SourceName:   "A",
		TargetName:   "D",
		SourceLabels: []string{"PERSON"},
		TargetLabels: []string{"PERSON"},
		NodeNames:    []string{"A", "B", "C", "D"},
		NodeLabels:   [][]string{{"PERSON"}, {"PLACE"}, {"PERSON"}, {"PERSON"}},
		RelTypes:     []string{"INTERACTS_WITH", "LOCATED_IN", "INTERACTS_WITH"},
		RelDescs:     []string{"met at", "lies in", "talked to"},
		Evidences:    []string{"ev1", "ev2", "ev3"},
		ChunkIDs:     []int{5, 2, 5},
	}
}

func TestBuildChain(t *testing.T) {
	chain, err := BuildChain(candidateRow(), 3)
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}

	if chain.Start.Name != "A" || chain.End.Name != "D" {
		t.Errorf("endpoints = %s -> %s", chain.Start.Name, chain.End.Name)
	}
	if len(chain.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(chain.Steps))
	}

	for i, step := range chain.Steps {
		if step.Hop != i+1 {
			t.Errorf("step %d has hop %d", i, step.Hop)
		}
	}

	// Adjacent steps share a node.
	for i := 0; i < len(chain.Steps)-1; i++ {
		if chain.Steps[i].Target.Name != chain.Steps[i+1].Source.Name {
			t.Errorf("step %d target %q != step %d source %q",
				i, chain.Steps[i].Target.Name, i+1, chain.Steps[i+1].Source.Name)
		}
	}

	if chain.Steps[1].Relation.Type != "LOCATED_IN" || chain.Steps[1].Evidence != "ev2" {
		t.Errorf("step 2 = %+v", chain.Steps[1])
	}

	// Duplicate chunk 5 appears once, in first-occurrence order.
	if !reflect.DeepEqual(chain.RefChunks, []int{5, 2}) {
		t.Errorf("ref_chunks = %v, want [5 2]", chain.RefChunks)
	}
}

func TestBuildChainMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*common.CandidateRow)
		k      int
	}{
		{
			name:   "wrong k",
			mutate: func(r *common.CandidateRow) {},
			k:      2,
		},
		{
			name:   "missing node name",
			mutate: func(r *common.CandidateRow) { r.NodeNames = r.NodeNames[:3] },
			k:      3,
		},
		{
			name:   "missing evidence",
			mutate: func(r *common.CandidateRow) { r.Evidences = r.Evidences[:2] },
			k:      3,
		},
		{
			name:   "missing chunk id",
			mutate: func(r *common.CandidateRow) { r.ChunkIDs = nil },
			k:      3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := candidateRow()
			tt.mutate(&row)
			_, err := BuildChain(row, tt.k)
			if !errors.Is(err, ErrMalformedCandidate) {
				t.Errorf("err = %v, want ErrMalformedCandidate", err)
			}
		})
	}
}

func TestSignature(t *testing.T) {
	chain, err := BuildChain(candidateRow(), 3)
	if err != nil {
		t.Fatal(err)
	}
	other := chain

	if Signature(chain) != Signature(other) {
		t.Error("identical chains must share a signature")
	}

	// Same structure from a different chunk is different content.
	changed, err := BuildChain(func() common.CandidateRow {
		r := candidateRow()
		r.ChunkIDs = []int{5, 3, 5}
		return r
	}(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if Signature(chain) == Signature(changed) {
		t.Error("different chunk ids must change the signature")
	}

	// Relation descriptions do not participate in content identity.
	reworded, err := BuildChain(func() common.CandidateRow {
		r := candidateRow()
		r.RelDescs = []string{"x", "y", "z"}
		return r
	}(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if Signature(chain) != Signature(reworded) {
		t.Error("relation descriptions must not change the signature")
	}
}
