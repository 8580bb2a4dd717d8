package consensus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateJSON(t *testing.T) {
	decided, k := true, 2
	b, err := json.Marshal(State{X: One, Decided: &decided, K: &k})
	require.NoError(t, err)
	require.JSONEq(t, `{"killed":false,"x":1,"decided":true,"k":2}`, string(b))

	// How a faulty node reports itself.
	b, err = json.Marshal(State{X: Undefined})
	require.NoError(t, err)
	require.JSONEq(t, `{"killed":false,"x":null,"decided":null,"k":null}`, string(b))
}

func TestVoteJSON(t *testing.T) {
	var v Vote
	require.NoError(t, json.Unmarshal([]byte(`{"round":3,"phase":2,"value":0}`), &v))
	require.Equal(t, Vote{Round: 3, Phase: Phase2, Value: Zero}, v)

	require.NoError(t, json.Unmarshal([]byte(`{"round":0,"phase":1,"value":"?","from":2}`), &v))
	require.Equal(t, Undefined, v.Value)
	require.Equal(t, 2, *v.From)

	require.NoError(t, json.Unmarshal([]byte(`{"round":0,"phase":1,"value":null}`), &v))
	require.Equal(t, Undefined, v.Value)

	require.Error(t, json.Unmarshal([]byte(`{"round":0,"phase":1,"value":7}`), &v))
}

func TestParseValue(t *testing.T) {
	for in, want := range map[string]Value{"0": Zero, "1": One, "?": Undefined, "": Undefined} {
		got, err := ParseValue(in)
		require.NoError(t, err)
		require.Equal(t, want, got, "ParseValue(%q)", in)
	}
	_, err := ParseValue("2")
	require.Error(t, err)
}

func TestIdentityQuorum(t *testing.T) {
	for _, tc := range []struct {
		n, f, want int
	}{
		{4, 1, 2},
		{3, 1, 2}, // N-F-1 alone could never carry a strict majority
		{5, 1, 3},
		{7, 3, 3},
		{1, 0, 0},
		{3, 2, 0}, // past the fault limit
		{4, 2, 0},
	} {
		id := Identity{N: tc.n, F: tc.f}
		require.Equal(t, tc.want, id.Quorum(), "N=%d F=%d", tc.n, tc.f)
	}
}
