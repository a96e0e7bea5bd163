package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matgraph/ionflow/pkg/schema"
)

func TestBuilder_DuplicateNameIsSpliceViolation(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Add(New("static 0", "static", nil)))

	err := b.Add(New("static 0", "static", nil))
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeSpliceViolation, flowErr.Code)
	assert.Equal(t, 1, b.Len())
}

func TestBuilder_ReadyRespectsDependencies(t *testing.T) {
	b := NewBuilder()
	a := New("a", "static", terminalOutcome(1))
	c := New("c", "extract", terminalOutcome(2), a.Output())
	require.NoError(t, b.Add(a, c))

	ready := b.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].Name)

	out, err := a.Invoke(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Resolve(a, out))

	ready = b.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "c", ready[0].Name)
}

func TestBuilder_ResolveSplicesChildrenAtomically(t *testing.T) {
	b := NewBuilder()

	leaf := New("insert 0 static", "static", terminalOutcome("v"))
	parent := New("insert 0", "step", nil)
	require.NoError(t, b.Add(parent))
	b.SetExit(parent.Output())

	require.NoError(t, b.Resolve(parent, &Outcome{Replace: &Replacement{
		Children: []*Node{leaf},
		Exit:     leaf.Output(),
	}}))

	assert.Equal(t, []string{"insert 0", "insert 0 static"}, b.Names())

	_, ok := b.ExitValue()
	assert.False(t, ok)

	out, err := leaf.Invoke(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Resolve(leaf, out))

	v, ok := b.ExitValue()
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestBuilder_ReplacementWithDuplicateChildFails(t *testing.T) {
	b := NewBuilder()
	existing := New("relax 0 (0)", "relax", nil)
	parent := New("fan out 0", "fanout", nil)
	require.NoError(t, b.Add(existing, parent))

	dup := New("relax 0 (0)", "relax", nil)
	err := b.Resolve(parent, &Outcome{Replace: &Replacement{
		Children: []*Node{dup},
		Exit:     dup.Output(),
	}})
	require.Error(t, err)
	// The parent must stay unresolved so the failure is observable.
	assert.False(t, parent.Resolved())
}

func TestBuilder_UnresolvedTracksRemainingWork(t *testing.T) {
	b := NewBuilder()
	a := New("a", "static", terminalOutcome(1))
	c := New("c", "extract", terminalOutcome(2), a.Output())
	require.NoError(t, b.Add(a, c))

	assert.Len(t, b.Unresolved(), 2)

	out, _ := a.Invoke(context.Background())
	require.NoError(t, b.Resolve(a, out))
	assert.Len(t, b.Unresolved(), 1)

	out, _ = c.Invoke(context.Background())
	require.NoError(t, b.Resolve(c, out))
	assert.Empty(t, b.Unresolved())
}
