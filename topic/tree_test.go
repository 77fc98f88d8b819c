package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree_PrefixSharing(t *testing.T) {
	tree := NewTree()
	tree.Update("a/b/c", "1", 100)
	tree.Update("a/b/d", "2", 200)

	// Exactly one node at a/b with two children
	node, ok := tree.Query("a/b")
	require.True(t, ok)
	assert.Equal(t, "a/b", node.Path)
	assert.Len(t, node.Children, 2)
	assert.Contains(t, node.Children, "c")
	assert.Contains(t, node.Children, "d")

	// a/b was only traversed, never terminated at
	assert.False(t, node.IsEndpoint)
	assert.Empty(t, node.Value)

	// 4 nodes total: a, a/b, a/b/c, a/b/d
	assert.Equal(t, 4, tree.Len())
}

func TestTree_EndpointAndPrefix(t *testing.T) {
	tree := NewTree()
	tree.Update("a/b/c", "leaf", 100)
	tree.Update("a/b", "prefix-and-leaf", 200)

	node, ok := tree.Query("a/b")
	require.True(t, ok)
	assert.True(t, node.IsEndpoint)
	assert.Equal(t, "prefix-and-leaf", node.Value)
	assert.Equal(t, int64(200), node.LastUpdated)
	assert.Len(t, node.Children, 1)
}

func TestTree_IdempotentRepublish(t *testing.T) {
	tree := NewTree()
	tree.Update("sensors/temp", "21.5", 100)
	before := tree.Len()

	tree.Update("sensors/temp", "22.0", 200)
	assert.Equal(t, before, tree.Len(), "re-publish must not change tree shape")

	node, ok := tree.Query("sensors/temp")
	require.True(t, ok)
	assert.Equal(t, "22.0", node.Value)
	assert.Equal(t, int64(200), node.LastUpdated)
	assert.True(t, node.IsEndpoint)
}

func TestTree_LazyIntermediateNodes(t *testing.T) {
	tree := NewTree()
	tree.Update("farm/zone1/soil/moisture", "45", 100)

	for _, prefix := range []string{"farm", "farm/zone1", "farm/zone1/soil"} {
		node, ok := tree.Query(prefix)
		require.True(t, ok, "prefix %s should exist", prefix)
		assert.False(t, node.IsEndpoint, "prefix %s should not be an endpoint", prefix)
		assert.Empty(t, node.Value)
		assert.Zero(t, node.LastUpdated)
	}

	leaf, ok := tree.Query("farm/zone1/soil/moisture")
	require.True(t, ok)
	assert.True(t, leaf.IsEndpoint)
	assert.Equal(t, "45", leaf.Value)
}

func TestTree_QueryMissing(t *testing.T) {
	tree := NewTree()
	tree.Update("a/b", "1", 100)

	_, ok := tree.Query("a/x")
	assert.False(t, ok)
	_, ok = tree.Query("a/b/c")
	assert.False(t, ok)
}

func TestTree_EmptyTopicUpdatesRoot(t *testing.T) {
	tree := NewTree()

	// Must not panic; terminates at the root
	tree.Update("", "root-value", 100)
	tree.Update("///", "root-again", 200)

	root := tree.Root()
	assert.Equal(t, "root-again", root.Value)
	assert.Equal(t, 0, tree.Len())
}

func TestTree_Clear(t *testing.T) {
	tree := NewTree()
	tree.Update("a/b/c", "1", 100)
	tree.Update("x/y", "2", 200)
	require.NotZero(t, tree.Len())

	tree.Clear()
	assert.Equal(t, 0, tree.Len())
	_, ok := tree.Query("a")
	assert.False(t, ok)
	assert.Empty(t, tree.Root().Children)
}

func TestTree_QueryReturnsCopy(t *testing.T) {
	tree := NewTree()
	tree.Update("a/b", "original", 100)

	node, ok := tree.Query("a/b")
	require.True(t, ok)
	node.Value = "mutated"

	again, ok := tree.Query("a/b")
	require.True(t, ok)
	assert.Equal(t, "original", again.Value, "Query must return a copy, not internal state")
}

func TestTree_DiscoveryOrderPreserved(t *testing.T) {
	tree := NewTree()
	tree.Update("root/c", "1", 1)
	tree.Update("root/a", "2", 2)
	tree.Update("root/b", "3", 3)

	node, ok := tree.Query("root")
	require.True(t, ok)

	ordered := node.OrderedChildren()
	require.Len(t, ordered, 3)
	assert.Equal(t, "c", ordered[0].Name)
	assert.Equal(t, "a", ordered[1].Name)
	assert.Equal(t, "b", ordered[2].Name)
}

func TestWalk(t *testing.T) {
	tree := NewTree()
	tree.Update("a/b", "1", 1)
	tree.Update("a/c", "2", 2)

	var visited []string
	Walk(tree.Root(), 0, func(n *Node, depth int) {
		visited = append(visited, n.Path)
	})

	assert.Equal(t, []string{"", "a", "a/b", "a/c"}, visited)
}

func TestTree_DottedTopics(t *testing.T) {
	tree := NewTree()
	tree.Update("farm.zone1.temp", "20", 100)

	node, ok := tree.Query("farm/zone1/temp")
	require.True(t, ok)
	assert.Equal(t, "20", node.Value)
	assert.Equal(t, "farm/zone1/temp", node.Path)
}
