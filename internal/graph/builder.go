package graph

import (
	"sync"

	"github.com/matgraph/ionflow/pkg/schema"
)

// Builder assembles the live graph of a run. The full graph is never known
// upfront: nodes declare replacement subgraphs as their inputs resolve and
// the builder splices the children in, keeping names unique and enforcing
// at-most-one expansion per node.
type Builder struct {
	mu    sync.Mutex
	nodes map[string]*Node
	order []string
	exit  *OutputRef
}

// NewBuilder creates an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{nodes: make(map[string]*Node)}
}

// Add registers nodes in the live graph. Duplicate depth-qualified names are
// a splice violation: naming must be a pure function of graph position.
func (b *Builder) Add(nodes ...*Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(nodes)
}

func (b *Builder) addLocked(nodes []*Node) error {
	for _, n := range nodes {
		if _, exists := b.nodes[n.Name]; exists {
			return schema.NewError(schema.ErrCodeSpliceViolation, "duplicate node name").WithNode(n.Name)
		}
	}
	for _, n := range nodes {
		b.nodes[n.Name] = n
		b.order = append(b.order, n.Name)
	}
	return nil
}

// SetExit designates the reference whose effective value is the run output.
func (b *Builder) SetExit(ref *OutputRef) {
	b.mu.Lock()
	b.exit = ref
	b.mu.Unlock()
}

// ExitValue returns the run output once the exit reference resolves.
func (b *Builder) ExitValue() (any, bool) {
	b.mu.Lock()
	ref := b.exit
	b.mu.Unlock()
	if ref == nil {
		return nil, false
	}
	return ref.Value()
}

// Resolve records a node outcome. A replacement splices its children into
// the live graph atomically with the parent's resolution, so a dependent of
// the parent transparently receives the eventual exit output.
func (b *Builder) Resolve(n *Node, out *Outcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if out.Replace != nil {
		if err := b.addLocked(out.Replace.Children); err != nil {
			return err
		}
	}
	return n.resolve(out)
}

// Ready returns the unresolved nodes whose inputs have all resolved, in
// registration order. Registration order is deterministic because splicing
// happens under the builder lock and node creation is driven by resolution
// order of the graph itself.
func (b *Builder) Ready() []*Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ready []*Node
	for _, name := range b.order {
		n := b.nodes[name]
		if !n.Resolved() && n.Ready() {
			ready = append(ready, n)
		}
	}
	return ready
}

// Unresolved reports whether any registered node has not resolved yet.
func (b *Builder) Unresolved() []*Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Node
	for _, name := range b.order {
		if n := b.nodes[name]; !n.Resolved() {
			out = append(out, n)
		}
	}
	return out
}

// Node returns a registered node by its depth-qualified name.
func (b *Builder) Node(name string) *Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nodes[name]
}

// Names returns all registered node names in registration order.
func (b *Builder) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Len returns the number of registered nodes.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes)
}
