// Package securesum implements the additive-masking secure sum protocol used
// to aggregate count matrices across the party ring. The initiator folds a
// random mask into its contribution; every other party adds its local value
// to the masked partial sum it received; only the initiator, who kept the
// mask, can recover the true sum.
//
// Privacy holds against a single honest-but-curious party only when at least
// three parties participate. With exactly two, the non-initiating party
// learns the initiator's value by subtracting its own contribution from the
// final sum; callers must treat 2-party runs as non-private.
package securesum

import (
	"crypto/rand"
	"math/big"

	"golang.org/x/xerrors"
)

// MinPrivateParties is the smallest ring size for which no single party can
// recover another party's contribution.
const MinPrivateParties = 3

// DefaultMaskBits is the default mask width. It statistically hides small
// count values; callers needing stronger hiding must widen it.
const DefaultMaskBits = 32

// ErrProtocolState reports a contract violation: Finalize called by a
// non-initiator, or on a state that has not completed the ring. Always
// fatal.
var ErrProtocolState = xerrors.New("secure sum protocol state violation")

// NewEngine returns an engine for a ring of numParties parties (initiator
// included) using the default mask width.
func NewEngine(numParties int) *Engine {
	return &Engine{numParties: numParties, maskBits: DefaultMaskBits}
}

// NewEngineWithMaskBits returns an engine drawing masks of the given width.
func NewEngineWithMaskBits(numParties, maskBits int) *Engine {
	return &Engine{numParties: numParties, maskBits: maskBits}
}

// Engine drives secure sum computations for a fixed ring size.
type Engine struct {
	numParties int
	maskBits   int
}

// NumParties returns the ring size the engine was built for.
func (e *Engine) NumParties() int {
	return e.numParties
}

// Private reports whether the ring is large enough for the masking to hide
// individual contributions from every single party.
func (e *Engine) Private() bool {
	return e.numParties >= MinPrivateParties
}

// State is the hand-off value of one scalar secure sum. It is passed by
// value through the ring; the mask never leaves the initiator.
type State struct {
	mask    *big.Int // nil everywhere but at the initiator
	partial *big.Int
	round   int
}

// Round returns the number of parties that have contributed so far.
func (s State) Round() int {
	return s.round
}

// Partial returns the masked partial sum. Meaningless to anyone but the
// initiator.
func (s State) Partial() *big.Int {
	return new(big.Int).Set(s.partial)
}

// Initiate starts a secure sum with the initiator's local value.
func (e *Engine) Initiate(localValue int64) (State, error) {
	if localValue < 0 {
		return State{}, xerrors.Errorf("negative local value %d", localValue)
	}

	limit := new(big.Int).Lsh(big.NewInt(1), uint(e.maskBits))
	mask, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return State{}, xerrors.Errorf("failed to draw mask: %v", err)
	}

	partial := new(big.Int).Add(big.NewInt(localValue), mask)
	return State{mask: mask, partial: partial, round: 1}, nil
}

// Participate adds the caller's local value to the received state. Each of
// the remaining parties must invoke it exactly once, in ring order.
func (e *Engine) Participate(state State, localValue int64) State {
	partial := new(big.Int).Add(state.partial, big.NewInt(localValue))
	return State{mask: state.mask, partial: partial, round: state.round + 1}
}

// Finalize recovers the true sum. Only the initiator may call it, and only
// once the state has visited every party.
func (e *Engine) Finalize(state State) (int64, error) {
	if state.mask == nil {
		return 0, xerrors.Errorf("%w: finalize called by a non-initiator", ErrProtocolState)
	}
	if state.round != e.numParties {
		return 0, xerrors.Errorf("%w: ring incomplete, round %d of %d",
			ErrProtocolState, state.round, e.numParties)
	}
	sum := new(big.Int).Sub(state.partial, state.mask)
	return sum.Int64(), nil
}

// VectorState is the batched counterpart of State: one scalar state per
// position of a fixed-length vector, advanced in lockstep so an entire count
// matrix is summed in a single ring pass.
type VectorState struct {
	masks    []*big.Int // nil everywhere but at the initiator
	partials []*big.Int
	round    int
}

// Round returns the number of parties that have contributed so far.
func (s VectorState) Round() int {
	return s.round
}

// Len returns the vector length.
func (s VectorState) Len() int {
	return len(s.partials)
}

// InitiateVector starts a batched secure sum over a vector of valueCount
// values. A local slice shorter than valueCount is zero-extended.
func (e *Engine) InitiateVector(localValues []int64, valueCount int) (VectorState, error) {
	masks := make([]*big.Int, valueCount)
	partials := make([]*big.Int, valueCount)

	for i := 0; i < valueCount; i++ {
		var value int64
		if i < len(localValues) {
			value = localValues[i]
		}
		st, err := e.Initiate(value)
		if err != nil {
			return VectorState{}, err
		}
		masks[i] = st.mask
		partials[i] = st.partial
	}

	return VectorState{masks: masks, partials: partials, round: 1}, nil
}

// ParticipateVector adds the caller's local values position-wise. A local
// slice shorter than the state's vector contributes zeros past its end.
func (e *Engine) ParticipateVector(state VectorState, localValues []int64) VectorState {
	partials := make([]*big.Int, len(state.partials))
	for i := range state.partials {
		var value int64
		if i < len(localValues) {
			value = localValues[i]
		}
		partials[i] = new(big.Int).Add(state.partials[i], big.NewInt(value))
	}
	return VectorState{masks: state.masks, partials: partials, round: state.round + 1}
}

// FinalizeVector recovers the vector of true sums at the initiator.
func (e *Engine) FinalizeVector(state VectorState) ([]int64, error) {
	if state.masks == nil {
		return nil, xerrors.Errorf("%w: finalize called by a non-initiator", ErrProtocolState)
	}
	if state.round != e.numParties {
		return nil, xerrors.Errorf("%w: ring incomplete, round %d of %d",
			ErrProtocolState, state.round, e.numParties)
	}

	sums := make([]int64, len(state.partials))
	for i := range state.partials {
		sums[i] = new(big.Int).Sub(state.partials[i], state.masks[i]).Int64()
	}
	return sums, nil
}

// WirePartials encodes the masked partial sums for transport, one decimal
// string per position. The masks are deliberately excluded.
func (s VectorState) WirePartials() []string {
	out := make([]string, len(s.partials))
	for i, p := range s.partials {
		out[i] = p.Text(10)
	}
	return out
}

// VectorFromWire rebuilds a mask-less vector state from received partial
// sums, as seen by a participating party.
func VectorFromWire(partials []string, round int) (VectorState, error) {
	decoded := make([]*big.Int, len(partials))
	for i, p := range partials {
		v, ok := new(big.Int).SetString(p, 10)
		if !ok {
			return VectorState{}, xerrors.Errorf("malformed partial sum %q at position %d", p, i)
		}
		decoded[i] = v
	}
	return VectorState{partials: decoded, round: round}, nil
}

// Rebind reattaches the initiator's masks to a state that came back over the
// wire. The vector lengths must match.
func (s VectorState) Rebind(masks VectorState) (VectorState, error) {
	if len(s.partials) != len(masks.masks) {
		return VectorState{}, xerrors.Errorf("%w: vector length %d does not match mask count %d",
			ErrProtocolState, len(s.partials), len(masks.masks))
	}
	return VectorState{masks: masks.masks, partials: s.partials, round: s.round}, nil
}
