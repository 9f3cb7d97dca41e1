package securesum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// a full ring pass recovers the exact sum for various ring sizes
func Test_securesum_scalar_roundtrip(t *testing.T) {
	for _, numParties := range []int{2, 3, 4, 5} {
		engine := NewEngine(numParties)

		state, err := engine.Initiate(7)
		require.NoError(t, err)
		require.Equal(t, 1, state.Round())

		for p := 1; p < numParties; p++ {
			state = engine.Participate(state, int64(p*10))
		}

		sum, err := engine.Finalize(state)
		require.NoError(t, err)

		expected := int64(7)
		for p := 1; p < numParties; p++ {
			expected += int64(p * 10)
		}
		require.Equal(t, expected, sum)
	}
}

func Test_securesum_rejects_negative_initiation(t *testing.T) {
	engine := NewEngine(3)
	_, err := engine.Initiate(-1)
	require.Error(t, err)
}

// fewer than three ring members, the initiator included, cannot hide
// individual values: with two, the non-initiator subtracts its own
// contribution from the final sum
func Test_securesum_privacy_threshold(t *testing.T) {
	require.False(t, NewEngine(1).Private())
	require.False(t, NewEngine(2).Private())
	require.True(t, NewEngine(3).Private())
	require.True(t, NewEngine(4).Private())
}

func Test_securesum_finalize_guards(t *testing.T) {
	engine := NewEngine(3)

	state, err := engine.Initiate(1)
	require.NoError(t, err)

	// ring incomplete
	_, err = engine.Finalize(state)
	require.ErrorIs(t, err, ErrProtocolState)

	// non-initiator holds no mask
	full := engine.Participate(engine.Participate(state, 2), 3)
	stripped, err := VectorFromWire([]string{"42"}, full.Round())
	require.NoError(t, err)
	_, err = engine.FinalizeVector(stripped)
	require.ErrorIs(t, err, ErrProtocolState)
}

// the wire form drops the masks and the initiator rebinds them on return
func Test_securesum_vector_wire_roundtrip(t *testing.T) {
	engine := NewEngine(3)

	initial, err := engine.InitiateVector([]int64{1, 2, 3}, 4)
	require.NoError(t, err)
	require.Equal(t, 4, initial.Len())

	// first hop
	received, err := VectorFromWire(initial.WirePartials(), initial.Round())
	require.NoError(t, err)
	received = engine.ParticipateVector(received, []int64{10, 10, 10, 10})

	// second hop, short contribution zero-extends
	received, err = VectorFromWire(received.WirePartials(), received.Round())
	require.NoError(t, err)
	received = engine.ParticipateVector(received, []int64{100})

	// back at the initiator
	final, err := VectorFromWire(received.WirePartials(), received.Round())
	require.NoError(t, err)
	final, err = final.Rebind(initial)
	require.NoError(t, err)

	sums, err := engine.FinalizeVector(final)
	require.NoError(t, err)
	require.Equal(t, []int64{111, 12, 13, 10}, sums)
}

func Test_securesum_rebind_length_mismatch(t *testing.T) {
	engine := NewEngine(3)

	initial, err := engine.InitiateVector(nil, 2)
	require.NoError(t, err)

	other, err := VectorFromWire([]string{"1", "2", "3"}, 3)
	require.NoError(t, err)

	_, err = other.Rebind(initial)
	require.ErrorIs(t, err, ErrProtocolState)
}

func Test_securesum_malformed_wire_partial(t *testing.T) {
	_, err := VectorFromWire([]string{"12", "not-a-number"}, 2)
	require.Error(t, err)
}

// masked partials must not expose the raw local value
func Test_securesum_masking_hides_value(t *testing.T) {
	engine := NewEngine(3)

	hidden := false
	for i := 0; i < 16; i++ {
		state, err := engine.Initiate(5)
		require.NoError(t, err)
		if state.Partial().Int64() != 5 {
			hidden = true
		}
	}
	require.True(t, hidden)
}
