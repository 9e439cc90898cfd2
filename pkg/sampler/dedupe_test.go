package sampler

import (
	"strings"
	"testing"
)

const replayFixture = `{"task":"khop_chain","book_id":"bk1","k":3,"chain_id":"bk1::k3::000000","chain":{"start":{"name":"A","labels":["PERSON"]},"end":{"name":"D","labels":["PERSON"]},"steps":[{"hop":1,"source":{"name":"A","labels":["PERSON"]},"relation":{"type":"INTERACTS_WITH","description":""},"target":{"name":"B","labels":["PLACE"]},"evidence":"ev1","chunk_id":0},{"hop":2,"source":{"name":"B","labels":["PLACE"]},"relation":{"type":"LOCATED_IN","description":""},"target":{"name":"C","labels":["PERSON"]},"evidence":"ev2","chunk_id":1},{"hop":3,"source":{"name":"C","labels":["PERSON"]},"relation":{"type":"INTERACTS_WITH","description":""},"target":{"name":"D","labels":["PERSON"]},"evidence":"ev3","chunk_id":2}],"ref_chunks":[0,1,2]},"final_answer":"D","meta":{"s_eid":"PERSON::A","t_eid":"PERSON::D","s_name":"A","t_name":"D","s_labels":["PERSON"],"t_labels":["PERSON"]}}
{"task":"khop_chain","book_id":"bk1","k":2,"chain_id":"bk1::k2::000004","chain":{"start":{"name":"A","labels":["PERSON"]},"end":{"name":"C","labels":["PERSON"]},"steps":[{"hop":1,"source":{"name":"A","labels":["PERSON"]},"relation":{"type":"INTERACTS_WITH","description":""},"target":{"name":"B","labels":["PLACE"]},"evidence":"ev1","chunk_id":0},{"hop":2,"source":{"name":"B","labels":["PLACE"]},"relation":{"type":"LOCATED_IN","description":""},"target":{"name":"C","labels":["PERSON"]},"evidence":"ev2","chunk_id":1}],"ref_chunks":[0,1]},"final_answer":"C","meta":{"s_eid":"PERSON::A","t_eid":"PERSON::C","s_name":"A","t_name":"C","s_labels":["PERSON"],"t_labels":["PERSON"]}}
{"task":"khop_chain","book_id":"other","k":3,"chain_id":"other::k3::000009","chain":{"start":{"name":"X","labels":[]},"end":{"name":"Y","labels":[]},"steps":[],"ref_chunks":[]},"final_answer":"Y","meta":{"s_eid":"X","t_eid":"Y","s_name":"X","t_name":"Y","s_labels":[],"t_labels":[]}}
`

func TestReplay(t *testing.T) {
	d := NewDedupState("bk1")
	if err := d.Replay(strings.NewReader(replayFixture)); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if !d.SeenPair(3, "PERSON::A", "PERSON::D") {
		t.Error("replayed k=3 pair not seen")
	}
	if !d.SeenPair(2, "PERSON::A", "PERSON::C") {
		t.Error("replayed k=2 pair not seen")
	}

	// The same pair under a different k is free.
	if d.SeenPair(2, "PERSON::A", "PERSON::D") {
		t.Error("pair dedup must be scoped per k")
	}

	// Records of other books are ignored.
	if d.SeenPair(3, "X", "Y") {
		t.Error("pair from another book leaked into state")
	}

	if got := d.ReplayedCount(3); got != 1 {
		t.Errorf("replayed count k=3 = %d, want 1", got)
	}
}

func TestReplayChainIDContinuity(t *testing.T) {
	d := NewDedupState("bk1")
	if err := d.Replay(strings.NewReader(replayFixture)); err != nil {
		t.Fatal(err)
	}

	if got := d.NextChainID(3); got != "bk1::k3::000001" {
		t.Errorf("next k=3 id = %q", got)
	}
	// Replay resumes past the highest ordinal, not the record count.
	if got := d.NextChainID(2); got != "bk1::k2::000005" {
		t.Errorf("next k=2 id = %q", got)
	}
	if got := d.NextChainID(5); got != "bk1::k5::000000" {
		t.Errorf("next k=5 id = %q", got)
	}
	if got := d.NextChainID(5); got != "bk1::k5::000001" {
		t.Errorf("second k=5 id = %q", got)
	}
}

func TestReplayCorruptLine(t *testing.T) {
	d := NewDedupState("bk1")
	err := d.Replay(strings.NewReader("{not json\n"))
	if err == nil {
		t.Fatal("expected error for corrupt line")
	}
}

func TestReplaySignature(t *testing.T) {
	d := NewDedupState("bk1")
	if err := d.Replay(strings.NewReader(replayFixture)); err != nil {
		t.Fatal(err)
	}

	// Mirror the fixture's k=3 record, with rewordable fields changed.
	row := candidateRow()
	row.ChunkIDs = []int{0, 1, 2}
	row.Evidences = []string{"other", "wording", "here"}
	row.RelDescs = []string{"", "", ""}
	chain, err := BuildChain(row, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !d.SeenSignature(3, Signature(chain)) {
		t.Error("signature of replayed chain not seen")
	}
}
