package graph

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/matgraph/ionflow/pkg/schema"
)

// BodyFunc is the work a node performs once all of its inputs resolve.
// It receives the resolved input values in declaration order and returns
// either a terminal value or a replacement subgraph, never both.
type BodyFunc func(ctx context.Context, inputs []any) (*Outcome, error)

// Outcome is the resolution of a node body. Exactly one of Value or Replace
// is meaningful: a nil Replace means the node is terminal with Value as its
// output (a nil Value is a valid terminal output).
type Outcome struct {
	Value   any
	Replace *Replacement
}

// Replacement is a deferred-expansion subgraph: the children materialized by
// a node whose continuation was unknown until its inputs resolved, plus the
// exit reference whose eventual value becomes the expanded node's output.
type Replacement struct {
	Children []*Node
	Exit     *OutputRef
}

// Node is a named unit of work in the task graph. A node is created
// unresolved, becomes resolved exactly once (terminal or expanded), and is
// never mutated afterwards.
type Node struct {
	ID   string
	Name string
	Kind string

	inputs []*OutputRef
	body   BodyFunc

	mu       sync.Mutex
	resolved bool
	value    any
	repl     *Replacement
}

// New creates an unresolved node with the given depth-qualified name.
func New(name, kind string, body BodyFunc, inputs ...*OutputRef) *Node {
	return &Node{
		ID:     uuid.New().String(),
		Name:   name,
		Kind:   kind,
		inputs: inputs,
		body:   body,
	}
}

// Terminal creates an already-resolved node carrying a fixed value.
// Used for seeding a graph with literal inputs.
func Terminal(name, kind string, value any) *Node {
	n := New(name, kind, nil)
	n.resolved = true
	n.value = value
	return n
}

// Output returns a reference to this node's eventual output.
func (n *Node) Output() *OutputRef {
	return &OutputRef{node: n}
}

// Ready reports whether every declared input has an effective value.
func (n *Node) Ready() bool {
	for _, in := range n.inputs {
		if _, ok := in.Value(); !ok {
			return false
		}
	}
	return true
}

// Resolved reports whether the node has been resolved (either way).
func (n *Node) Resolved() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resolved
}

// Expansion returns the replacement subgraph if the node resolved into one.
func (n *Node) Expansion() (*Replacement, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resolved && n.repl != nil {
		return n.repl, true
	}
	return nil, false
}

// Invoke runs the node body against the resolved input values.
// Calling Invoke on a node whose inputs are not all resolved is a splice
// violation: the scheduler must never execute a child before its declared
// dependencies.
func (n *Node) Invoke(ctx context.Context) (*Outcome, error) {
	values := make([]any, len(n.inputs))
	for i, in := range n.inputs {
		v, ok := in.Value()
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeSpliceViolation,
				"node invoked before input %d resolved", i).WithNode(n.Name)
		}
		values[i] = v
	}
	if n.body == nil {
		return &Outcome{}, nil
	}
	return n.body(ctx, values)
}

// resolve records the node outcome. A second resolution, or a replacement
// with no exit reference, is a splice violation.
func (n *Node) resolve(out *Outcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resolved {
		return schema.NewError(schema.ErrCodeSpliceViolation, "node resolved twice").WithNode(n.Name)
	}
	if out.Replace != nil {
		if out.Replace.Exit == nil {
			return schema.NewError(schema.ErrCodeSpliceViolation, "replacement subgraph has no exit reference").WithNode(n.Name)
		}
		n.repl = out.Replace
	} else {
		n.value = out.Value
	}
	n.resolved = true
	return nil
}

// OutputRef is an unresolved reference to a node's eventual output.
// A ref with no node is a literal and is always resolved.
type OutputRef struct {
	node    *Node
	literal any
}

// Literal returns an always-resolved reference carrying a fixed value.
func Literal(v any) *OutputRef {
	return &OutputRef{literal: v}
}

// Value returns the effective output of the referenced node. When the node
// resolved into a replacement subgraph, the value is chased through exit
// references transitively, however many levels of expansion occurred.
func (r *OutputRef) Value() (any, bool) {
	if r == nil {
		return nil, false
	}
	if r.node == nil {
		return r.literal, true
	}
	cur := r
	for cur != nil && cur.node != nil {
		cur.node.mu.Lock()
		resolved, repl, value := cur.node.resolved, cur.node.repl, cur.node.value
		cur.node.mu.Unlock()
		if !resolved {
			return nil, false
		}
		if repl == nil {
			return value, true
		}
		cur = repl.Exit
	}
	if cur == nil {
		return nil, false
	}
	return cur.literal, true
}
