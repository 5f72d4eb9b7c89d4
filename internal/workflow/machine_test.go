package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileValidDefinition(t *testing.T) {
	m, err := Compile(testDefinition())
	require.NoError(t, err)
	require.Equal(t, stDraft, m.Initial())
	require.True(t, m.IsTerminal(stApproved))
	require.False(t, m.IsTerminal(stSubmitted))
	require.Equal(t, []State{stApproved, stCancelled, stDraft, stRejected, stSubmitted}, m.States())

	tr, ok := m.Lookup(stRejected, ActionCancel)
	require.True(t, ok)
	require.Equal(t, stCancelled, tr.To)
}

func TestCompileRejectsBrokenDefinitions(t *testing.T) {
	cases := map[string]Definition{
		"missing doc type": {Initial: stDraft},
		"missing initial":  {DocType: docTest},
		"empty transition": {DocType: docTest, Initial: stDraft, Transitions: []Transition{{Action: ActionSubmit, To: stSubmitted}}},
		"duplicate edge": {DocType: docTest, Initial: stDraft, Transitions: []Transition{
			{Action: ActionSubmit, From: States(stDraft), To: stSubmitted},
			{Action: ActionSubmit, From: States(stDraft), To: stApproved},
		}},
		"terminal with outgoing": {DocType: docTest, Initial: stDraft, Terminal: []State{stApproved}, Transitions: []Transition{
			{Action: ActionApprove, From: States(stDraft), To: stApproved},
			{Action: ActionRevise, From: States(stApproved), To: stDraft},
		}},
		"unreachable state": {DocType: docTest, Initial: stDraft, Transitions: []Transition{
			{Action: ActionSubmit, From: States(stDraft), To: stSubmitted},
			{Action: ActionApprove, From: States(stRejected), To: stApproved},
		}},
	}
	for name, def := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(def)
			require.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(testDefinition()))
	require.ErrorIs(t, reg.Register(testDefinition()), ErrInvalidDefinition)
	require.Equal(t, []DocType{docTest}, reg.DocTypes())
}
