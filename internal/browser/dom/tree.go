// internal/browser/dom/tree.go
package dom

import (
	"context"
	"fmt"
	"strings"
)

// NearestOfType walks from n through its ancestors and returns the first
// element accepted by match. The walk stops before <body>, so body and the
// document element are never returned. Returns nil when nothing matches.
func NearestOfType(ctx context.Context, tree Tree, n Node, match func(Node) bool) (Node, error) {
	body, err := tree.Body(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving body: %w", err)
	}
	for cur := n; cur != nil; {
		if body != nil && cur.Key() == body.Key() {
			return nil, nil
		}
		if match(cur) {
			return cur, nil
		}
		cur, err = tree.Parent(ctx, cur)
		if err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// HasTag returns a matcher for HTML-namespace elements with the given tag.
func HasTag(tag string) func(Node) bool {
	return func(n Node) bool {
		return n.Namespace() == NamespaceHTML && n.TagName() == tag
	}
}

// Ancestry memoises parent lookups for repeated containment checks over the
// same set of nodes. It is only valid while the DOM is not mutated.
type Ancestry struct {
	tree    Tree
	parents map[NodeKey]Node
	known   map[NodeKey]bool
}

// NewAncestry creates an empty parent cache over tree.
func NewAncestry(tree Tree) *Ancestry {
	return &Ancestry{
		tree:    tree,
		parents: make(map[NodeKey]Node),
		known:   make(map[NodeKey]bool),
	}
}

// Parent returns the cached parent of n.
func (a *Ancestry) Parent(ctx context.Context, n Node) (Node, error) {
	if a.known[n.Key()] {
		return a.parents[n.Key()], nil
	}
	p, err := a.tree.Parent(ctx, n)
	if err != nil {
		return nil, err
	}
	a.known[n.Key()] = true
	a.parents[n.Key()] = p
	return p, nil
}

// Contains reports whether inner is outer or one of its descendants.
func (a *Ancestry) Contains(ctx context.Context, outer, inner Node) (bool, error) {
	if outer == nil || inner == nil {
		return false, nil
	}
	for cur := inner; cur != nil; {
		if cur.Key() == outer.Key() {
			return true, nil
		}
		var err error
		cur, err = a.Parent(ctx, cur)
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

// InnerMost keeps the members of nodes that contain no other member.
// Order is preserved.
func InnerMost(ctx context.Context, a *Ancestry, nodes []Node) ([]Node, error) {
	return reduceContainment(ctx, a, nodes, true)
}

// OuterMost keeps the members of nodes that no other member contains.
// Order is preserved.
func OuterMost(ctx context.Context, a *Ancestry, nodes []Node) ([]Node, error) {
	return reduceContainment(ctx, a, nodes, false)
}

func reduceContainment(ctx context.Context, a *Ancestry, nodes []Node, inner bool) ([]Node, error) {
	out := make([]Node, 0, len(nodes))
	for i, n := range nodes {
		drop := false
		for j, other := range nodes {
			if i == j || n.Key() == other.Key() {
				continue
			}
			var (
				ok  bool
				err error
			)
			if inner {
				ok, err = a.Contains(ctx, n, other)
			} else {
				ok, err = a.Contains(ctx, other, n)
			}
			if err != nil {
				return nil, err
			}
			if ok {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, n)
		}
	}
	return out, nil
}

// Unique removes repeated keys, keeping the first occurrence.
func Unique(nodes []Node) []Node {
	seen := make(map[NodeKey]struct{}, len(nodes))
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := seen[n.Key()]; ok {
			continue
		}
		seen[n.Key()] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Style fetches computed properties for a single node.
func Style(ctx context.Context, layout Layout, n Node, props ...string) (map[string]string, error) {
	styles, err := layout.ComputedStyles(ctx, []Node{n}, props...)
	if err != nil {
		return nil, err
	}
	if len(styles) != 1 {
		return nil, fmt.Errorf("computed styles: expected 1 result, got %d", len(styles))
	}
	return styles[0], nil
}

var cssEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `)

// CSSString quotes s as a CSS string literal for attribute selectors.
func CSSString(s string) string {
	return `"` + cssEscaper.Replace(s) + `"`
}
