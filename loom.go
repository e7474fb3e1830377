package loom

import (
	"context"

	"github.com/loom-services/loom/node"
)

// StartNode creates a new node with the given name.
func StartNode(name string, opts node.Options) (node.Node, error) {
	return StartNodeWithContext(context.Background(), name, opts)
}

// StartNodeWithContext creates a new node bound to the given context; the
// node and all of its processes stop when the context is cancelled.
func StartNodeWithContext(ctx context.Context, name string, opts node.Options) (node.Node, error) {
	return node.Start(ctx, name, opts)
}
