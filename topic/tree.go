package topic

import (
	"strings"
	"sync"
)

// Node is a single node of the topic tree. A node exists because at least
// one message's topic traversed or terminated at its path. A node can be
// both a namespace prefix and a leaf: IsEndpoint marks paths at which a
// message actually terminated.
type Node struct {
	Name        string           `json:"name"`
	Path        string           `json:"path"`
	Children    map[string]*Node `json:"children,omitempty"`
	Value       string           `json:"value,omitempty"`
	LastUpdated int64            `json:"last_updated,omitempty"`
	IsEndpoint  bool             `json:"is_endpoint"`

	// childOrder preserves discovery order for stable display.
	childOrder []string
}

func newNode(name, path string) *Node {
	return &Node{
		Name:     name,
		Path:     path,
		Children: make(map[string]*Node),
	}
}

// OrderedChildren returns the node's children in discovery order.
func (n *Node) OrderedChildren() []*Node {
	out := make([]*Node, 0, len(n.childOrder))
	for _, name := range n.childOrder {
		if child, ok := n.Children[name]; ok {
			out = append(out, child)
		}
	}
	return out
}

// clone returns a deep copy of the subtree rooted at n.
func (n *Node) clone() *Node {
	cp := &Node{
		Name:        n.Name,
		Path:        n.Path,
		Value:       n.Value,
		LastUpdated: n.LastUpdated,
		IsEndpoint:  n.IsEndpoint,
		Children:    make(map[string]*Node, len(n.Children)),
		childOrder:  append([]string(nil), n.childOrder...),
	}
	for name, child := range n.Children {
		cp.Children[name] = child.clone()
	}
	return cp
}

// Tree is a mutable trie keyed by topic segment. The root has an empty
// sentinel name and path. The tree never evicts nodes: its size grows with
// the cardinality of distinct topics seen. Real deployments have a small,
// roughly fixed topic set; operators of open-cardinality sources should be
// aware of this limit.
type Tree struct {
	mu    sync.RWMutex
	root  *Node
	nodes int
}

// NewTree creates an empty topic tree.
func NewTree() *Tree {
	return &Tree{root: newNode("", "")}
}

// Update splits the topic and walks the tree from root, creating any
// missing intermediate nodes, then records payload and timestamp at the
// terminal node and marks it as an endpoint. Re-publishing an existing
// topic overwrites value and timestamp without altering tree shape.
//
// An empty or all-separator topic terminates at the root, which is a
// harmless no-op assignment.
func (t *Tree) Update(topic, payload string, ts int64) {
	segments := Split(topic)

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.root
	for _, segment := range segments {
		child, ok := current.Children[segment]
		if !ok {
			path := segment
			if current.Path != "" {
				path = current.Path + "/" + segment
			}
			child = newNode(segment, path)
			current.Children[segment] = child
			current.childOrder = append(current.childOrder, segment)
			t.nodes++
		}
		current = child
	}

	current.Value = payload
	current.LastUpdated = ts
	current.IsEndpoint = true
}

// Query returns a deep copy of the subtree rooted at the exact path, or
// false if no node exists there. An empty path returns the whole tree.
func (t *Tree) Query(path string) (*Node, bool) {
	segments := Split(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	current := t.root
	for _, segment := range segments {
		child, ok := current.Children[segment]
		if !ok {
			return nil, false
		}
		current = child
	}
	return current.clone(), true
}

// Root returns a deep copy of the whole tree for traversal by consumers.
func (t *Tree) Root() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.clone()
}

// Len returns the number of nodes in the tree, excluding the root.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes
}

// Clear resets the tree to an empty root node, discarding all state.
func (t *Tree) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = newNode("", "")
	t.nodes = 0
}

// Walk visits every node of a snapshot in depth-first discovery order.
// The callback receives the node's depth (root = 0).
func Walk(n *Node, depth int, fn func(n *Node, depth int)) {
	if n == nil {
		return
	}
	fn(n, depth)
	for _, child := range n.OrderedChildren() {
		Walk(child, depth+1, fn)
	}
}

// JoinPath joins segments into a canonical slash-delimited path.
func JoinPath(segments []string) string {
	return strings.Join(segments, "/")
}
