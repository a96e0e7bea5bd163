package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matgraph/ionflow/pkg/schema"
)

func terminalOutcome(v any) BodyFunc {
	return func(ctx context.Context, inputs []any) (*Outcome, error) {
		return &Outcome{Value: v}, nil
	}
}

func TestNode_TerminalResolution(t *testing.T) {
	n := New("static 0", "static", terminalOutcome(42))

	require.True(t, n.Ready())
	require.False(t, n.Resolved())

	out, err := n.Invoke(context.Background())
	require.NoError(t, err)
	require.NoError(t, n.resolve(out))

	v, ok := n.Output().Value()
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestNode_ResolveTwiceIsSpliceViolation(t *testing.T) {
	n := New("static 0", "static", terminalOutcome(1))

	require.NoError(t, n.resolve(&Outcome{Value: 1}))
	err := n.resolve(&Outcome{Value: 2})
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeSpliceViolation, flowErr.Code)
	assert.Equal(t, "static 0", flowErr.Node)
}

func TestNode_ReplacementWithoutExitIsSpliceViolation(t *testing.T) {
	n := New("insert 0", "step", nil)

	err := n.resolve(&Outcome{Replace: &Replacement{Children: []*Node{}}})
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeSpliceViolation, flowErr.Code)
}

func TestNode_InvokeBeforeInputResolvedIsSpliceViolation(t *testing.T) {
	dep := New("static 0", "static", terminalOutcome(1))
	n := New("extract field 0", "extract", terminalOutcome(2), dep.Output())

	require.False(t, n.Ready())
	_, err := n.Invoke(context.Background())
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeSpliceViolation, flowErr.Code)
}

func TestNode_InputValuesArriveInDeclarationOrder(t *testing.T) {
	a := Terminal("a", "literal", "first")
	b := Terminal("b", "literal", "second")

	var got []any
	n := New("collect 0", "collect", func(ctx context.Context, inputs []any) (*Outcome, error) {
		got = inputs
		return &Outcome{Value: nil}, nil
	}, a.Output(), b.Output())

	require.True(t, n.Ready())
	_, err := n.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"first", "second"}, got)
}

func TestOutputRef_ChasesReplacementExitsTransitively(t *testing.T) {
	// outer expands into mid, mid expands into leaf, leaf is terminal.
	leaf := New("leaf", "static", nil)
	mid := New("mid", "step", nil)
	outer := New("outer", "step", nil)

	require.NoError(t, outer.resolve(&Outcome{Replace: &Replacement{
		Children: []*Node{mid},
		Exit:     mid.Output(),
	}}))

	// Unresolved at the exit: no effective value yet.
	_, ok := outer.Output().Value()
	assert.False(t, ok)

	require.NoError(t, mid.resolve(&Outcome{Replace: &Replacement{
		Children: []*Node{leaf},
		Exit:     leaf.Output(),
	}}))
	_, ok = outer.Output().Value()
	assert.False(t, ok)

	require.NoError(t, leaf.resolve(&Outcome{Value: "done"}))
	v, ok := outer.Output().Value()
	require.True(t, ok)
	assert.Equal(t, "done", v)
}

func TestOutputRef_LiteralAndNilTerminal(t *testing.T) {
	v, ok := Literal("fixed").Value()
	require.True(t, ok)
	assert.Equal(t, "fixed", v)

	// A nil terminal value is a valid resolution, distinct from unresolved.
	n := New("insert 0", "step", nil)
	require.NoError(t, n.resolve(&Outcome{Value: nil}))
	v, ok = n.Output().Value()
	require.True(t, ok)
	assert.Nil(t, v)
}
