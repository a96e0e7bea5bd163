package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag is the depth-qualified suffix carried by every task emitted within one
// insertion round. Tags accumulate through the recursion: a node named at
// round n below round m carries both round markers, so identically-shaped
// tasks at different depths remain distinguishable. Tags are a pure function
// of position in the graph, never of wall-clock or completion order.
type Tag struct {
	parts []string
}

// RootTag is the empty tag of the entry point, before any round has run.
func RootTag() Tag {
	return Tag{}
}

// Child derives the tag for the next recursion level from the number of
// guests inserted so far.
func (t Tag) Child(inserted int) Tag {
	parts := make([]string, len(t.parts), len(t.parts)+1)
	copy(parts, t.parts)
	return Tag{parts: append(parts, strconv.Itoa(inserted))}
}

// Depth returns how many recursion levels the tag encodes.
func (t Tag) Depth() int {
	return len(t.parts)
}

func (t Tag) String() string {
	return strings.Join(t.parts, " ")
}

// Qualify appends the tag to a base task name: "static" at the second
// round of the first branch becomes "static 0 1".
func (t Tag) Qualify(base string) string {
	if len(t.parts) == 0 {
		return base
	}
	return base + " " + t.String()
}

// RelaxName names the i-th fan-out relaxation of the round identified by t.
func RelaxName(t Tag, i int) string {
	return fmt.Sprintf("relax %s (%d)", t.String(), i)
}
