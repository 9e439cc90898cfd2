package sampler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/storyhop/storyhop/pkg/common"
	"github.com/storyhop/storyhop/pkg/logger"
)

// DedupState tracks, per hop count, which endpoint pairs and which chain
// contents have already been emitted for one book. It is rebuilt at startup
// by replaying the book's existing output file, which makes the output the
// single source of truth across runs.
type DedupState struct {
	mu sync.Mutex

	bookID string

	// pairs holds directed (source eid, target eid) endpoint pairs per k.
	pairs map[int]map[[2]string]bool

	// sigs holds chain content signatures per k.
	sigs map[int]map[string]bool

	// nextIndex is the next chain id ordinal per k, one past the highest
	// ordinal seen during replay.
	nextIndex map[int]int

	// replayed counts the records recovered per k.
	replayed map[int]int
}

// NewDedupState returns an empty state for one book partition.
func NewDedupState(bookID string) *DedupState {
	return &DedupState{
		bookID:    bookID,
		pairs:     map[int]map[[2]string]bool{},
		sigs:      map[int]map[string]bool{},
		nextIndex: map[int]int{},
		replayed:  map[int]int{},
	}
}

// Replay scans previous output lines and registers every record that belongs
// to this state's book. Records for other books and non-chain tasks are
// ignored. Unparseable lines abort the replay: a corrupt output file should
// be repaired, not silently extended.
func (d *DedupState) Replay(r io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var record common.ChainRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return fmt.Errorf("replay line %d: %w", line, err)
		}
		if record.Task != common.TaskKHopChain || record.BookID != d.bookID {
			continue
		}

		d.register(record.K, [2]string{record.Meta.SourceEID, record.Meta.TargetEID})
		d.registerSig(record.K, Signature(record.Chain))
		d.observeChainID(record.K, record.ChainID)
		d.replayed[record.K]++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("replay scan: %w", err)
	}

	for k, n := range d.replayed {
		logger.Info("replayed existing chains",
			"book_id", d.bookID, "k", k, "chains", n, "next_index", d.nextIndex[k])
	}
	return nil
}

// observeChainID bumps nextIndex[k] past the ordinal encoded in id, if the
// id is well formed for this book and k.
func (d *DedupState) observeChainID(k int, id string) {
	prefix := fmt.Sprintf("%s::k%d::", d.bookID, k)
	if !strings.HasPrefix(id, prefix) {
		return
	}
	ordinal, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
	if err != nil {
		return
	}
	if ordinal+1 > d.nextIndex[k] {
		d.nextIndex[k] = ordinal + 1
	}
}

func (d *DedupState) register(k int, pair [2]string) {
	if d.pairs[k] == nil {
		d.pairs[k] = map[[2]string]bool{}
	}
	d.pairs[k][pair] = true
}

func (d *DedupState) registerSig(k int, sig string) {
	if d.sigs[k] == nil {
		d.sigs[k] = map[string]bool{}
	}
	d.sigs[k][sig] = true
}

// SeenPair reports whether the directed endpoint pair was already used for a
// k-hop chain.
func (d *DedupState) SeenPair(k int, sourceEID, targetEID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pairs[k][[2]string{sourceEID, targetEID}]
}

// RegisterPair marks a directed endpoint pair as used for k.
func (d *DedupState) RegisterPair(k int, sourceEID, targetEID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.register(k, [2]string{sourceEID, targetEID})
}

// SeenSignature reports whether a chain with this content was already
// emitted for k.
func (d *DedupState) SeenSignature(k int, sig string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sigs[k][sig]
}

// RegisterSignature marks a chain content as emitted for k.
func (d *DedupState) RegisterSignature(k int, sig string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registerSig(k, sig)
}

// NextChainID mints the next id for a k-hop chain, monotonic within
// (book, k) across runs.
func (d *DedupState) NextChainID(k int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := fmt.Sprintf("%s::k%d::%06d", d.bookID, k, d.nextIndex[k])
	d.nextIndex[k]++
	return id
}

// ReplayedCount returns how many chains were recovered for k during replay.
func (d *DedupState) ReplayedCount(k int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replayed[k]
}
