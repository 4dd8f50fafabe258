package dispatch

import (
	"errors"
	"fmt"
	"sync"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// State is the phase of one distribution run.
type State int

const (
	NotStarted State = iota
	Approving
	Distributing
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Approving:
		return "approving"
	case Distributing:
		return "distributing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Run tracks NotStarted → Approving → Distributing → Completed, with Failed reachable
// from Approving and Distributing. Nothing survives the process; a rerun starts over.
type Run struct {
	mu       sync.Mutex
	state    State
	chunk    int
	failedAt int
	partial  []ethcmn.Hash
	err      error
	log      log.Logger
}

func NewRun(logger log.Logger) *Run {
	return &Run{state: NotStarted, chunk: -1, failedAt: -1, log: logger}
}

func (r *Run) transition(to State, allowed ...State) error {
	for _, from := range allowed {
		if r.state == from {
			r.log.Debug("Run state changed", "from", r.state, "to", to)
			r.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal run transition %s -> %s", r.state, to)
}

// Approving enters the allowance step; only valid before distribution begins.
func (r *Run) Approving() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transition(Approving, NotStarted)
}

// Distributing enters (or re-enters, for the next asset) the chunk phase.
func (r *Run) Distributing() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transition(Distributing, NotStarted, Approving, Distributing); err != nil {
		return err
	}
	r.chunk = -1
	return nil
}

// Advance records that chunk index has been dispatched.
func (r *Run) Advance(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Distributing {
		r.chunk = index
	}
}

func (r *Run) Complete() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transition(Completed, Distributing)
}

// Fail records err. For a *ChunkError the failing index and partial handles are kept.
func (r *Run) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Approving && r.state != Distributing {
		r.log.Warn("Ignoring failure outside an active run", "state", r.state, "err", err)
		return
	}
	r.state = Failed
	r.err = err
	var chunkErr *ChunkError
	if errors.As(err, &chunkErr) {
		r.failedAt = chunkErr.Index
		r.partial = chunkErr.Handles
	}
	r.log.Error("Run failed", "lastDispatchedChunk", r.chunk, "failedChunk", r.failedAt, "err", err)
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastChunk is the index of the last chunk dispatched in the current phase, or -1.
func (r *Run) LastChunk() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunk
}

// Failure returns the failing chunk index (-1 when the failure was not in a chunk),
// the handles obtained before it, and the error.
func (r *Run) Failure() (int, []ethcmn.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failedAt, r.partial, r.err
}
