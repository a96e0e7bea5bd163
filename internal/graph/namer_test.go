package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTag_RootQualify(t *testing.T) {
	root := RootTag()
	assert.Equal(t, 0, root.Depth())
	assert.Equal(t, "static", root.Qualify("static"))
}

func TestTag_AccumulatesThroughRecursion(t *testing.T) {
	step0 := RootTag().Child(0)
	assert.Equal(t, "static 0", step0.Qualify("static"))
	assert.Equal(t, 1, step0.Depth())

	step1 := step0.Child(1)
	assert.Equal(t, "static 0 1", step1.Qualify("static"))
	assert.Equal(t, 2, step1.Depth())

	step2 := step1.Child(2)
	assert.Equal(t, "select 0 1 2", step2.Qualify("select"))
}

func TestTag_ChildDoesNotMutateParent(t *testing.T) {
	parent := RootTag().Child(0)
	_ = parent.Child(1)
	_ = parent.Child(2)
	assert.Equal(t, "insert 0", parent.Qualify("insert"))
}

func TestRelaxName(t *testing.T) {
	step0 := RootTag().Child(0)
	assert.Equal(t, "relax 0 (2)", RelaxName(step0, 2))

	step1 := step0.Child(1)
	assert.Equal(t, "relax 0 1 (0)", RelaxName(step1, 0))
}
